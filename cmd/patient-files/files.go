package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ehr/patientfiles/internal/domain/fileref"
	"github.com/ehr/patientfiles/internal/domain/preview"
	"github.com/ehr/patientfiles/internal/platform/apiclient"
)

func urlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "url <reference>...",
		Short: "Resolve stored file references into URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			image, _ := cmd.Flags().GetBool("image")
			out := cmd.OutOrStdout()
			for _, arg := range args {
				ref := fileref.FromString(arg)
				u := a.resolver.URL(ref)
				if image {
					u = a.resolver.ImageSource(ref)
				}
				fmt.Fprintln(out, u)
			}
			return nil
		},
	}
	cmd.Flags().Bool("image", false, "Resolve empty references to the broken-link image source")
	return cmd
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <path>...",
		Short: "Classify file references as image, pdf or other",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, arg := range args {
				fmt.Fprintf(w, "%s\t%s\n", fileref.Classify(arg), arg)
			}
			return w.Flush()
		},
	}
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <patient-id>",
		Short: "List a patient's files with resolved URLs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			pf, err := a.client.GetPatientFiles(cmd.Context(), args[0])
			if errors.Is(err, apiclient.ErrNotFound) {
				pf = &apiclient.PatientFiles{CanEdit: true}
			} else if err != nil {
				return err
			}

			items := preview.Build(a.resolver, pf.Files, nil)
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}
			if len(items) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "patient %s has no files\n", args[0])
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tFILENAME\tURL")
			for _, it := range items {
				name, u := it.Filename, it.URL
				if it.Missing {
					name, u = "(missing)", it.ImageSrc
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", it.Kind, name, u)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Bool("json", false, "Print the list as JSON")
	return cmd
}

func downloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <patient-id> <reference>",
		Short: "Download one of a patient's files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("output")

			pf, err := a.client.GetPatientFiles(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			ref, ok := findReference(pf.Files, args[1])
			if !ok {
				return fmt.Errorf("patient %s has no file %q", args[0], args[1])
			}
			name := a.resolver.Filename(ref)
			if name == "" {
				return fmt.Errorf("file reference %q has no file name", args[1])
			}

			target := filepath.Join(dir, name)
			f, err := os.Create(target)
			if err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
			n, err := a.client.Download(cmd.Context(), a.resolver.URL(ref), f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(target)
				return err
			}
			a.logger.Info().Str("file", target).Int64("bytes", n).Msg("downloaded")
			fmt.Fprintln(cmd.OutOrStdout(), target)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", ".", "Directory to write the file to")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <patient-id> <reference>",
		Short: "Delete one of a patient's files immediately",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.client.DeletePatientFile(cmd.Context(), args[0], fileref.FromString(args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[1])
			return nil
		},
	}
}

// findReference matches arg against the stored value, then the file name.
func findReference(files []fileref.Reference, arg string) (fileref.Reference, bool) {
	for _, f := range files {
		if f.Key() == arg {
			return f, true
		}
	}
	for _, f := range files {
		if fileref.Filename(f) == arg {
			return f, true
		}
	}
	return fileref.Reference{}, false
}

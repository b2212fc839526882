package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ehr/patientfiles/internal/domain/editor"
	"github.com/ehr/patientfiles/internal/domain/fileref"
	"github.com/ehr/patientfiles/internal/domain/staging"
	"github.com/ehr/patientfiles/internal/platform/apiclient"
)

func editCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit [patient-id]",
		Short: "Save a record and stage file uploads and removals in one action",
		Long: `Runs one save action: the record (when --record is given) is created or
updated first, then the staged files are submitted. If the record save fails
no files are sent. If the file submission fails the record stays saved and
the command reports the files as not saved.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			adds, _ := cmd.Flags().GetStringArray("add")
			removes, _ := cmd.Flags().GetStringArray("remove")
			kindName, _ := cmd.Flags().GetString("record")
			recordID, _ := cmd.Flags().GetString("record-id")
			sets, _ := cmd.Flags().GetStringArray("set")

			patientID := ""
			if len(args) == 1 {
				patientID = args[0]
			}

			var kind apiclient.RecordKind
			if kindName != "" {
				if kind, err = apiclient.ParseRecordKind(kindName); err != nil {
					return err
				}
			} else if recordID != "" || len(sets) > 0 {
				return errors.New("--record-id and --set need --record")
			}
			if patientID == "" && kind == "" {
				return errors.New("a patient id or a --record is required")
			}
			fields, err := parseSets(sets)
			if err != nil {
				return err
			}

			ed := editor.New(editor.Options{
				PatientID: patientID,
				UserID:    a.cfg.UserID,
				Limits:    a.limits(),
				Files:     a.client,
				Records:   a.client,
				Notifier:  a.notifier,
				Logger:    a.logger,
			})

			ctx := cmd.Context()
			if err := ed.Load(ctx, kind, recordID); err != nil {
				return err
			}

			payloads := make([]staging.Payload, 0, len(adds))
			for _, path := range adds {
				p, err := staging.PayloadFromFile(path)
				if err != nil {
					return err
				}
				payloads = append(payloads, p)
			}
			if len(payloads) > 0 {
				if err := ed.StageAdd(ctx, payloads...); err != nil {
					return err
				}
			}
			for _, r := range removes {
				if err := ed.StageRemove(fileref.FromString(r)); err != nil {
					return err
				}
			}

			var rec *apiclient.Record
			if kind != "" {
				rec = recordToSave(ed.Snapshot().Record, kind, ed.PatientID(), fields)
			}

			res, err := ed.Save(ctx, rec)
			out := cmd.OutOrStdout()
			if res.RecordSaved {
				fmt.Fprintf(out, "record saved: %s %s\n", res.Record.Kind, res.Record.ID)
			}
			if res.FilesSubmitted {
				fmt.Fprintf(out, "files saved for patient %s: %d added, %d removed\n", ed.PatientID(), res.Added, res.Removed)
			}
			if ed.Incomplete() {
				fmt.Fprintln(out, "warning: the record was saved but its files were not; run the command again to submit them")
			}
			return err
		},
	}
	cmd.Flags().StringArray("add", nil, "File to upload (repeatable)")
	cmd.Flags().StringArray("remove", nil, "Stored file reference to remove (repeatable)")
	cmd.Flags().String("record", "", "Record kind to save: patients, clinical-proformas or adl-files")
	cmd.Flags().String("record-id", "", "Id of an existing record; omit to create one")
	cmd.Flags().StringArray("set", nil, "Record field as key=value (repeatable)")
	return cmd
}

// recordToSave applies fields to the loaded record, or starts a new one.
func recordToSave(loaded *apiclient.Record, kind apiclient.RecordKind, patientID string, fields map[string]any) *apiclient.Record {
	rec := &apiclient.Record{Kind: kind, Fields: map[string]any{}}
	if loaded != nil {
		rec.ID = loaded.ID
		for k, v := range loaded.Fields {
			rec.Fields[k] = v
		}
	}
	if kind != apiclient.KindPatients && patientID != "" {
		if _, ok := rec.Fields["patient_id"]; !ok {
			rec.Fields["patient_id"] = patientID
		}
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	return rec
}

func parseSets(sets []string) (map[string]any, error) {
	fields := make(map[string]any, len(sets))
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("--set %q: want key=value", s)
		}
		fields[k] = v
	}
	return fields, nil
}

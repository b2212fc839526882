package apiclient

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/ehr/patientfiles/internal/domain/fileref"
	"github.com/ehr/patientfiles/internal/domain/staging"
)

// Multipart field names expected by the patient-files endpoints.
const (
	FieldPatientID     = "patient_id"
	FieldUserID        = "user_id"
	FieldAttachments   = "attachments[]"
	FieldFilesToRemove = "files_to_remove[]"
)

// PatientFiles is the server-held file list of a patient.
type PatientFiles struct {
	Files   []fileref.Reference `json:"files"`
	CanEdit bool                `json:"can_edit"`
}

// GetPatientFiles fetches GET /patient-files/{patient_id}.
func (c *Client) GetPatientFiles(ctx context.Context, patientID string) (*PatientFiles, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/patient-files/"+url.PathEscape(patientID), nil)
	if err != nil {
		return nil, err
	}
	var out PatientFiles
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePatientFiles posts the first attachments of a patient.
func (c *Client) CreatePatientFiles(ctx context.Context, patientID, userID string, files []staging.Payload) error {
	fields := []formField{{FieldPatientID, patientID}}
	if userID != "" {
		fields = append(fields, formField{FieldUserID, userID})
	}
	return c.sendMultipart(ctx, http.MethodPost, "/patient-files/create", fields, files)
}

// UpdatePatientFiles submits staged additions and removals in one request.
func (c *Client) UpdatePatientFiles(ctx context.Context, patientID string, sub staging.Submission) error {
	fields := make([]formField, 0, len(sub.FilesToRemove))
	for _, p := range sub.FilesToRemove {
		fields = append(fields, formField{FieldFilesToRemove, p})
	}
	return c.sendMultipart(ctx, http.MethodPut, "/patient-files/update/"+url.PathEscape(patientID), fields, sub.FilesToAdd)
}

// DeletePatientFile deletes a single file immediately, outside of staging.
func (c *Client) DeletePatientFile(ctx context.Context, patientID string, ref fileref.Reference) error {
	if ref.IsEmpty() {
		return fmt.Errorf("deleting file of patient %s: empty file reference", patientID)
	}
	target := "/patient-files/delete/" + url.PathEscape(patientID) + "/" + url.PathEscape(ref.Key())
	req, err := c.newRequest(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Download streams the file at fileURL, a URL produced by fileref, into w.
func (c *Client) Download(ctx context.Context, fileURL string, w io.Writer) (int64, error) {
	if fileURL == "" {
		return 0, fmt.Errorf("download: empty file URL")
	}
	req, err := c.newRequest(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "*/*")
	resp, err := c.send(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("downloading %s: %w", req.URL.Path, err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Multipart
// ---------------------------------------------------------------------------

type formField struct {
	name  string
	value string
}

// sendMultipart streams the form through a pipe so large attachments are
// never buffered whole.
func (c *Client) sendMultipart(ctx context.Context, method, target string, fields []formField, files []staging.Payload) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeForm(mw, fields, files))
	}()

	req, err := c.newRequest(ctx, method, target, pr)
	if err != nil {
		pr.CloseWithError(err)
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := c.do(req, nil); err != nil {
		pr.CloseWithError(err)
		return err
	}
	return nil
}

func writeForm(mw *multipart.Writer, fields []formField, files []staging.Payload) error {
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return fmt.Errorf("writing field %s: %w", f.name, err)
		}
	}
	for _, p := range files {
		if err := writeFile(mw, p); err != nil {
			return err
		}
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFile(mw *multipart.Writer, p staging.Payload) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(FieldAttachments), quoteEscaper.Replace(p.Name)))
	contentType := p.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("creating part for %s: %w", p.Name, err)
	}
	rc, err := p.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", p.Name, err)
	}
	defer rc.Close()
	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("writing %s: %w", p.Name, err)
	}
	return nil
}

package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ehr/patientfiles/internal/domain/fileref"
	"github.com/ehr/patientfiles/internal/domain/staging"
	"github.com/ehr/patientfiles/internal/platform/auth"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api", auth.Static("tok-123")), srv
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

// ---------------------------------------------------------------------------
// Patient files
// ---------------------------------------------------------------------------

func TestGetPatientFiles(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/patient-files/42" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("expected bearer token, got %q", got)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header")
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":{"files":["uploads/a.png",{"path":"/var/www/Backend/uploads/b.pdf"}],"can_edit":true}}`)
	})

	files, err := c.GetPatientFiles(context.Background(), "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !files.CanEdit {
		t.Error("expected can_edit=true")
	}
	if len(files.Files) != 2 || files.Files[1].Key() != "/var/www/Backend/uploads/b.pdf" {
		t.Errorf("unexpected files %v", files.Files)
	}
}

func TestGetPatientFiles_NotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"no files for patient"}`)
	})

	_, err := c.GetPatientFiles(context.Background(), "7")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if apiErr.Message != "no files for patient" {
		t.Errorf("expected server message, got %q", apiErr.Message)
	}
}

func TestCreatePatientFiles(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/patient-files/create" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parsing multipart: %v", err)
			return
		}
		if got := r.FormValue(FieldPatientID); got != "42" {
			t.Errorf("expected patient_id=42, got %q", got)
		}
		if got := r.FormValue(FieldUserID); got != "u-1" {
			t.Errorf("expected user_id=u-1, got %q", got)
		}
		parts := r.MultipartForm.File[FieldAttachments]
		if len(parts) != 2 {
			t.Errorf("expected 2 attachments, got %d", len(parts))
			return
		}
		if parts[0].Filename != "a.png" || parts[1].Filename != "b.pdf" {
			t.Errorf("unexpected file names %s, %s", parts[0].Filename, parts[1].Filename)
		}
		f, _ := parts[1].Open()
		data, _ := io.ReadAll(f)
		if string(data) != "%PDF" {
			t.Errorf("unexpected content %q", data)
		}
		writeData(w, http.StatusCreated, map[string]any{"files": []string{"/uploads/a.png", "/uploads/b.pdf"}})
	})

	files := []staging.Payload{
		staging.NewPayload("a.png", "", []byte("png")),
		staging.NewPayload("b.pdf", "", []byte("%PDF")),
	}
	if err := c.CreatePatientFiles(context.Background(), "42", "u-1", files); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdatePatientFiles(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/patient-files/update/42" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parsing multipart: %v", err)
			return
		}
		removed := r.MultipartForm.Value[FieldFilesToRemove]
		if len(removed) != 2 || removed[0] != "/var/www/Backend/uploads/x.png" || removed[1] != "old.pdf" {
			t.Errorf("unexpected removals %v", removed)
		}
		if got := len(r.MultipartForm.File[FieldAttachments]); got != 1 {
			t.Errorf("expected 1 attachment, got %d", got)
		}
		w.WriteHeader(http.StatusOK)
	})

	set, _ := staging.New(staging.Limits{}).StageAdd(staging.NewPayload("new.jpg", "", []byte("jpg")))
	set = set.StageRemove(fileref.FromString("/var/www/Backend/uploads/x.png"))
	set = set.StageRemove(fileref.FromString("old.pdf"))

	if err := c.UpdatePatientFiles(context.Background(), "42", set.BuildSubmission()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdatePatientFiles_ServerError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"disk full"}`)
	})

	set, _ := staging.New(staging.Limits{}).StageAdd(staging.NewPayload("a.png", "", []byte("x")))
	err := c.UpdatePatientFiles(context.Background(), "42", set.BuildSubmission())
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError || apiErr.Message != "disk full" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestDeletePatientFile_EscapesPath(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		want := "/api/patient-files/delete/42/%2Fuploads%2F2024%2Fscan%20one.jpg"
		if got := r.URL.EscapedPath(); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.DeletePatientFile(context.Background(), "42", fileref.FromString("/uploads/2024/scan one.jpg")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.DeletePatientFile(context.Background(), "42", fileref.Reference{}); err == nil {
		t.Error("expected error for empty reference")
	}
}

func TestDownload(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/uploads/2024/x.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, "image-bytes")
	})

	url := fileref.Normalize(fileref.FromString("/var/www/app/Backend/uploads/2024/x.png"), c.BaseURL())
	if !strings.HasPrefix(url, srv.URL) {
		t.Fatalf("expected URL on test server, got %s", url)
	}
	var buf bytes.Buffer
	n, err := c.Download(context.Background(), url, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != int64(len("image-bytes")) || buf.String() != "image-bytes" {
		t.Errorf("unexpected download %d %q", n, buf.String())
	}

	_, err = c.Download(context.Background(), srv.URL+"/uploads/missing.png", io.Discard)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTokenNotSentToOtherHosts(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("token leaked to third-party host: %q", got)
		}
		io.WriteString(w, "ok")
	}))
	defer other.Close()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	if _, err := c.Download(context.Background(), other.URL+"/x.png", io.Discard); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExpiredTokenFailsBeforeSending(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	failing := auth.ProviderFunc(func(context.Context) (string, error) { return "", auth.ErrTokenExpired })
	c := New(srv.URL+"/api", failing)
	_, err := c.GetPatientFiles(context.Background(), "1")
	if !errors.Is(err, auth.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
	if called {
		t.Error("request should not have been sent")
	}
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

func TestSaveRecord_CreateAndUpdate(t *testing.T) {
	var methods []string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method+" "+r.URL.Path)
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding body: %v", err)
			return
		}
		body["id"] = 17
		writeData(w, http.StatusOK, body)
	})

	rec := &Record{Kind: KindClinicalProformas, Fields: map[string]any{"patient_id": "42", "diagnosis": "F32"}}
	saved, err := c.SaveRecord(context.Background(), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.ID != "17" {
		t.Errorf("expected id 17, got %q", saved.ID)
	}
	if saved.PatientID() != "42" {
		t.Errorf("expected patient 42, got %q", saved.PatientID())
	}

	if _, err := c.SaveRecord(context.Background(), saved); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"POST /api/clinical-proformas", "PUT /api/clinical-proformas/17"}
	if len(methods) != 2 || methods[0] != want[0] || methods[1] != want[1] {
		t.Errorf("expected %v, got %v", want, methods)
	}
}

func TestSaveRecord_UnknownKind(t *testing.T) {
	c := New("http://localhost:1/api", nil)
	if _, err := c.SaveRecord(context.Background(), &Record{Kind: "notes"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestGetRecord(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/patients/42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeData(w, http.StatusOK, map[string]any{"id": "42", "name": "A. Patient"})
	})

	rec, err := c.GetRecord(context.Background(), KindPatients, "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.PatientID() != "42" || rec.Fields["name"] != "A. Patient" {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestParseRecordKind(t *testing.T) {
	for _, s := range []string{"patients", "clinical-proformas", "adl-files"} {
		if _, err := ParseRecordKind(s); err != nil {
			t.Errorf("ParseRecordKind(%q): unexpected error %v", s, err)
		}
	}
	if _, err := ParseRecordKind("prescriptions"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

// Package editor coordinates editing one clinical record together with its
// patient's file set: loading, staging uploads and removals, and the save
// action that submits both.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/patientfiles/internal/domain/fileref"
	"github.com/ehr/patientfiles/internal/domain/staging"
	"github.com/ehr/patientfiles/internal/platform/apiclient"
	"github.com/ehr/patientfiles/internal/platform/notification"
)

var (
	ErrNoPatient      = errors.New("no patient selected for file submission")
	ErrRecordNotSaved = errors.New("record was not saved")
	ErrFilesNotSaved  = errors.New("files were not saved")
	ErrReadOnly       = errors.New("file set is read-only for this user")
)

// FileAPI is the part of the API client the editor needs for files.
type FileAPI interface {
	GetPatientFiles(ctx context.Context, patientID string) (*apiclient.PatientFiles, error)
	CreatePatientFiles(ctx context.Context, patientID, userID string, files []staging.Payload) error
	UpdatePatientFiles(ctx context.Context, patientID string, sub staging.Submission) error
}

// RecordAPI is the part of the API client the editor needs for records.
type RecordAPI interface {
	GetRecord(ctx context.Context, kind apiclient.RecordKind, id string) (*apiclient.Record, error)
	SaveRecord(ctx context.Context, rec *apiclient.Record) (*apiclient.Record, error)
}

// Options configures an Editor.
type Options struct {
	PatientID string
	UserID    string
	Limits    staging.Limits
	Files     FileAPI
	Records   RecordAPI
	Notifier  notification.Notifier
	Logger    zerolog.Logger
}

// Editor holds the client-side state of one record being edited. It keeps
// no server truth beyond the last fetched file list.
type Editor struct {
	files    FileAPI
	records  RecordAPI
	notifier notification.Notifier
	logger   zerolog.Logger
	userID   string

	// saveMu serializes save actions so one staged snapshot is submitted once.
	saveMu sync.Mutex
	loadMu sync.Mutex

	mu            sync.Mutex
	loaded        bool
	patientID     string
	staged        staging.Set
	serverFiles   []fileref.Reference
	canEdit       bool
	hasFileRecord bool
	incomplete    bool
	record        *apiclient.Record
}

// New creates an Editor in the Clean state.
func New(opts Options) *Editor {
	n := opts.Notifier
	if n == nil {
		n = notification.NewLogNotifier(opts.Logger)
	}
	return &Editor{
		files:     opts.Files,
		records:   opts.Records,
		notifier:  n,
		logger:    opts.Logger.With().Str("patient_id", opts.PatientID).Logger(),
		userID:    opts.UserID,
		patientID: opts.PatientID,
		staged:    staging.New(opts.Limits),
		canEdit:   true,
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load fetches the record (when kind and id are given) and the patient's
// file list concurrently. Failures are notified and returned; the affected
// section stays empty. One failing fetch does not cancel the other.
func (e *Editor) Load(ctx context.Context, kind apiclient.RecordKind, recordID string) error {
	var g errgroup.Group

	if kind != "" && recordID != "" && e.records != nil {
		g.Go(func() error {
			rec, err := e.records.GetRecord(ctx, kind, recordID)
			if err != nil {
				e.notify(ctx, notification.LevelError, "Could not load record", err)
				return fmt.Errorf("loading %s %s: %w", kind, recordID, err)
			}
			e.mu.Lock()
			e.record = rec
			if e.patientID == "" {
				e.patientID = rec.PatientID()
			}
			e.mu.Unlock()
			return nil
		})
	}

	// A proforma or intake record names its patient; the files can only be
	// fetched once it has loaded.
	filesNow := e.PatientID() != ""
	if filesNow {
		g.Go(func() error {
			return e.Refresh(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if !filesNow && e.PatientID() != "" {
		return e.Refresh(ctx)
	}
	return nil
}

// EnsureLoaded fetches the file list unless an earlier fetch succeeded.
// Staged edits are kept when it fails, so a later call can try again.
func (e *Editor) EnsureLoaded(ctx context.Context) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	e.mu.Lock()
	loaded := e.loaded
	e.mu.Unlock()
	if loaded {
		return nil
	}
	return e.Refresh(ctx)
}

// Refresh re-fetches the server file list. It never touches staged edits.
// A 404 means the patient has no file record yet.
func (e *Editor) Refresh(ctx context.Context) error {
	patientID := e.PatientID()
	if patientID == "" {
		return ErrNoPatient
	}
	pf, err := e.files.GetPatientFiles(ctx, patientID)
	if errors.Is(err, apiclient.ErrNotFound) {
		e.mu.Lock()
		e.serverFiles = nil
		e.hasFileRecord = false
		e.canEdit = true
		e.loaded = true
		e.mu.Unlock()
		return nil
	}
	if err != nil {
		e.notify(ctx, notification.LevelError, "Could not load patient files", err)
		return fmt.Errorf("loading files of patient %s: %w", patientID, err)
	}

	e.mu.Lock()
	e.serverFiles = pf.Files
	e.canEdit = pf.CanEdit
	e.hasFileRecord = true
	e.loaded = true
	e.mu.Unlock()

	for _, f := range pf.Files {
		if f.IsEmpty() {
			e.logger.Warn().Msg("server file list contains an empty reference")
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Staging
// ---------------------------------------------------------------------------

// StageAdd stages new uploads as one batch. A refused batch is notified and
// returned, and nothing from it is staged.
func (e *Editor) StageAdd(ctx context.Context, payloads ...staging.Payload) error {
	e.mu.Lock()
	if !e.canEdit {
		e.mu.Unlock()
		return ErrReadOnly
	}
	next, err := e.staged.StageAdd(payloads...)
	e.staged = next
	e.mu.Unlock()

	if err != nil {
		e.notify(ctx, notification.LevelWarning, "Some files were not attached", err)
		return err
	}
	return nil
}

// StageRemove marks ref for deletion on the next save.
func (e *Editor) StageRemove(ref fileref.Reference) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.canEdit {
		return ErrReadOnly
	}
	e.staged = e.staged.StageRemove(ref)
	return nil
}

// Unstage drops a pending upload.
func (e *Editor) Unstage(payloadID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.staged = e.staged.Unstage(payloadID)
}

// Restore un-marks a file staged for removal.
func (e *Editor) Restore(ref fileref.Reference) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.staged = e.staged.Restore(ref)
}

// Discard drops every staged edit, as when the user navigates away.
func (e *Editor) Discard() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.staged = e.staged.Clear()
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

// Snapshot is a consistent view of the editor for rendering.
type Snapshot struct {
	PatientID  string
	Display    []fileref.Reference
	Pending    []staging.Payload
	Removed    []fileref.Reference
	State      staging.State
	CanEdit    bool
	Incomplete bool
	Record     *apiclient.Record
}

// Snapshot returns the current display state.
func (e *Editor) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		PatientID:  e.patientID,
		Display:    e.staged.DisplayList(e.serverFiles),
		Pending:    e.staged.Pending(),
		Removed:    e.staged.Removed(),
		State:      e.staged.State(),
		CanEdit:    e.canEdit,
		Incomplete: e.incomplete,
		Record:     e.record,
	}
}

// PatientID returns the patient whose files are edited.
func (e *Editor) PatientID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.patientID
}

// State returns Clean or Dirty.
func (e *Editor) State() staging.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.staged.State()
}

// Incomplete reports that a record save succeeded but its file submission
// failed and has not been retried successfully since.
func (e *Editor) Incomplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.incomplete
}

func (e *Editor) notify(ctx context.Context, level notification.Level, title string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	e.notifier.Notify(ctx, notification.New(level, e.PatientID(), title, msg))
}

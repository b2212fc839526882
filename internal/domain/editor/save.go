package editor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ehr/patientfiles/internal/domain/staging"
	"github.com/ehr/patientfiles/internal/platform/apiclient"
	"github.com/ehr/patientfiles/internal/platform/notification"
)

// SaveResult reports what one save action did.
type SaveResult struct {
	Record         *apiclient.Record
	RecordSaved    bool
	FilesSubmitted bool
	Added          int
	Removed        int
}

// Save runs one save action: the record create/update first, then the staged
// file additions and removals as a single request. A failed record save
// suppresses the file submission. A failed file submission does not roll
// back the record; the staged edits stay Dirty and the editor is flagged
// Incomplete until a later submission succeeds. Each step is notified
// separately.
//
// Save actions on one editor run one at a time; a save started while
// another is in flight only submits what the first left staged.
//
// rec may be nil to submit staged files only.
func (e *Editor) Save(ctx context.Context, rec *apiclient.Record) (*SaveResult, error) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	res := &SaveResult{}

	if rec != nil {
		saved, err := e.saveRecord(ctx, rec)
		if err != nil {
			return res, err
		}
		res.Record = saved
		res.RecordSaved = true
	}

	e.mu.Lock()
	snapshot := e.staged
	patientID := e.patientID
	hasFileRecord := e.hasFileRecord
	e.mu.Unlock()

	if snapshot.State() == staging.Clean {
		return res, nil
	}
	if patientID == "" {
		e.notify(ctx, notification.LevelError, "Files were not saved", ErrNoPatient)
		return res, ErrNoPatient
	}

	sub := snapshot.BuildSubmission()
	if err := e.submit(ctx, patientID, hasFileRecord, sub); err != nil {
		e.mu.Lock()
		if res.RecordSaved {
			e.incomplete = true
		}
		e.mu.Unlock()
		e.logger.Error().Err(err).
			Bool("record_saved", res.RecordSaved).
			Int("files_to_add", len(sub.FilesToAdd)).
			Int("files_to_remove", len(sub.FilesToRemove)).
			Msg("file submission failed")
		e.notify(ctx, notification.LevelError, "Files were not saved", err)
		return res, fmt.Errorf("%w: %w", ErrFilesNotSaved, err)
	}

	e.mu.Lock()
	e.staged = e.staged.Without(sub)
	e.incomplete = false
	e.hasFileRecord = true
	e.mu.Unlock()

	res.FilesSubmitted = true
	res.Added = len(sub.FilesToAdd)
	res.Removed = len(sub.FilesToRemove)
	e.notifier.Notify(ctx, notification.New(notification.LevelSuccess, patientID, "Files saved",
		fmt.Sprintf("%d added, %d removed", res.Added, res.Removed)))

	// The authoritative list comes from the server. A failed re-fetch is
	// notified by Refresh and does not undo the save.
	if err := e.Refresh(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("re-fetching files after save")
	}
	return res, nil
}

func (e *Editor) saveRecord(ctx context.Context, rec *apiclient.Record) (*apiclient.Record, error) {
	if e.records == nil {
		return nil, fmt.Errorf("%w: no record API configured", ErrRecordNotSaved)
	}
	saved, err := e.records.SaveRecord(ctx, rec)
	if err != nil {
		e.logger.Error().Err(err).Str("kind", string(rec.Kind)).Str("record_id", rec.ID).Msg("record save failed")
		e.notify(ctx, notification.LevelError, "Record was not saved", err)
		return nil, fmt.Errorf("%w: %w", ErrRecordNotSaved, err)
	}

	e.mu.Lock()
	e.record = saved
	if e.patientID == "" {
		e.patientID = saved.PatientID()
	}
	patientID := e.patientID
	e.mu.Unlock()

	e.notifier.Notify(ctx, notification.New(notification.LevelSuccess, patientID, "Record saved",
		fmt.Sprintf("%s %s", saved.Kind, saved.ID)))
	return saved, nil
}

// submit uses the create endpoint for a patient with no file record yet and
// the update endpoint otherwise.
func (e *Editor) submit(ctx context.Context, patientID string, hasFileRecord bool, sub staging.Submission) error {
	if !hasFileRecord && len(sub.FilesToRemove) == 0 {
		err := e.files.CreatePatientFiles(ctx, patientID, e.userID, sub.FilesToAdd)
		if !isConflict(err) {
			return err
		}
		// Someone else created the file record since the last fetch.
	}
	return e.files.UpdatePatientFiles(ctx, patientID, sub)
}

func isConflict(err error) bool {
	var apiErr *apiclient.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 409
}

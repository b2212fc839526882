package editor

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/patientfiles/internal/domain/staging"
	"github.com/ehr/patientfiles/internal/platform/notification"
)

// Registry keeps one Editor per patient for long-running frontends such as
// the preview workbench.
type Registry struct {
	mu      sync.Mutex
	editors map[string]*Editor

	userID   string
	limits   staging.Limits
	files    FileAPI
	records  RecordAPI
	notifier notification.Notifier
	logger   zerolog.Logger
}

// NewRegistry creates an empty Registry. Editors it creates share the given
// collaborators.
func NewRegistry(userID string, limits staging.Limits, files FileAPI, records RecordAPI, notifier notification.Notifier, logger zerolog.Logger) *Registry {
	return &Registry{
		editors:  make(map[string]*Editor),
		userID:   userID,
		limits:   limits,
		files:    files,
		records:  records,
		notifier: notifier,
		logger:   logger,
	}
}

// Get returns the editor of patientID, creating it on first use. Editors
// stay registered, with their staged edits, for the life of the Registry.
func (r *Registry) Get(patientID string) *Editor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.editors[patientID]; ok {
		return e
	}
	e := New(Options{
		PatientID: patientID,
		UserID:    r.userID,
		Limits:    r.limits,
		Files:     r.files,
		Records:   r.records,
		Notifier:  r.notifier,
		Logger:    r.logger,
	})
	r.editors[patientID] = e
	return e
}

// Limits returns the effective staging limits of the editors.
func (r *Registry) Limits() staging.Limits {
	return staging.New(r.limits).Limits()
}

// Len returns the number of open editors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.editors)
}

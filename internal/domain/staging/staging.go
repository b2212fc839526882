// Package staging holds the unsaved add/remove edits made to a patient's file
// set. A Set is an immutable value: every transition returns a new Set and
// leaves the receiver untouched.
package staging

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ehr/patientfiles/internal/domain/fileref"
)

const (
	DefaultMaxFiles          = 20
	DefaultMaxFileSize int64 = 10 * 1024 * 1024
)

var (
	ErrTooManyFiles = errors.New("maximum number of staged files exceeded")
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
)

// Limits bound what StageAdd accepts. Non-positive values use the defaults.
type Limits struct {
	MaxFiles    int
	MaxFileSize int64
}

func (l Limits) maxFiles() int {
	if l.MaxFiles <= 0 {
		return DefaultMaxFiles
	}
	return l.MaxFiles
}

func (l Limits) maxFileSize() int64 {
	if l.MaxFileSize <= 0 {
		return DefaultMaxFileSize
	}
	return l.MaxFileSize
}

// State of a record's staged edits.
type State int

const (
	Clean State = iota
	Dirty
)

func (s State) String() string {
	if s == Dirty {
		return "dirty"
	}
	return "clean"
}

// Reason explains why a payload was refused.
type Reason string

const (
	ReasonCountExceeded Reason = "count_exceeded"
	ReasonSizeExceeded  Reason = "size_exceeded"
)

// Rejection describes one refused payload.
type Rejection struct {
	File   string
	Reason Reason
	Size   int64
	Limit  int64
}

func (r Rejection) Error() string {
	switch r.Reason {
	case ReasonCountExceeded:
		return fmt.Sprintf("%s: at most %d files can be attached", r.File, r.Limit)
	case ReasonSizeExceeded:
		return fmt.Sprintf("%s: %d bytes exceeds the %d byte limit", r.File, r.Size, r.Limit)
	}
	return fmt.Sprintf("%s: rejected (%s)", r.File, r.Reason)
}

// Unwrap maps the rejection to its sentinel.
func (r Rejection) Unwrap() error {
	if r.Reason == ReasonCountExceeded {
		return ErrTooManyFiles
	}
	return ErrFileTooLarge
}

// RejectionError aggregates the payloads refused by one StageAdd call.
type RejectionError struct {
	Rejections []Rejection
}

func (e *RejectionError) Error() string {
	msgs := make([]string, 0, len(e.Rejections))
	for _, r := range e.Rejections {
		msgs = append(msgs, r.Error())
	}
	return "files not staged: " + strings.Join(msgs, "; ")
}

func (e *RejectionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Rejections))
	for _, r := range e.Rejections {
		errs = append(errs, r)
	}
	return errs
}

// Submission is the save-time payload: new files plus the original values
// of references to delete.
type Submission struct {
	FilesToAdd    []Payload
	FilesToRemove []string
}

// IsEmpty reports whether there is nothing to submit.
func (s Submission) IsEmpty() bool {
	return len(s.FilesToAdd) == 0 && len(s.FilesToRemove) == 0
}

// Set is the staged add/remove edits for one record.
type Set struct {
	limits   Limits
	toAdd    []Payload
	toRemove []fileref.Reference
}

// New returns an empty, clean Set.
func New(limits Limits) Set {
	return Set{limits: limits}
}

// Limits returns the effective limits.
func (s Set) Limits() Limits {
	return Limits{MaxFiles: s.limits.maxFiles(), MaxFileSize: s.limits.maxFileSize()}
}

// State is Dirty as soon as either list is non-empty.
func (s Set) State() State {
	if len(s.toAdd) > 0 || len(s.toRemove) > 0 {
		return Dirty
	}
	return Clean
}

// Pending returns the staged uploads in staging order.
func (s Set) Pending() []Payload {
	return slices.Clone(s.toAdd)
}

// Removed returns the references marked for deletion in staging order.
func (s Set) Removed() []fileref.Reference {
	return slices.Clone(s.toRemove)
}

// IsRemoved reports whether ref is marked for deletion.
func (s Set) IsRemoved(ref fileref.Reference) bool {
	return s.indexRemoved(ref) >= 0
}

func (s Set) indexRemoved(ref fileref.Reference) int {
	return slices.IndexFunc(s.toRemove, ref.Equal)
}

// StageAdd appends payloads as one batch. If any payload is over the size
// limit or would pass the count limit, the whole batch is refused, the
// receiver is returned unchanged and every offending payload is reported in a
// *RejectionError.
func (s Set) StageAdd(payloads ...Payload) (Set, error) {
	maxFiles := s.limits.maxFiles()
	maxSize := s.limits.maxFileSize()

	var rejected []Rejection
	n := len(s.toAdd)
	for _, p := range payloads {
		switch {
		case p.Size > maxSize:
			rejected = append(rejected, Rejection{File: p.Name, Reason: ReasonSizeExceeded, Size: p.Size, Limit: maxSize})
		case n >= maxFiles:
			rejected = append(rejected, Rejection{File: p.Name, Reason: ReasonCountExceeded, Size: p.Size, Limit: int64(maxFiles)})
		default:
			n++
		}
	}
	if len(rejected) > 0 {
		return s, &RejectionError{Rejections: rejected}
	}

	next := s
	next.toAdd = append(slices.Clone(s.toAdd), payloads...)
	return next, nil
}

// StageRemove marks ref for deletion. Repeated calls and empty references
// are no-ops.
func (s Set) StageRemove(ref fileref.Reference) Set {
	if ref.IsEmpty() || s.IsRemoved(ref) {
		return s
	}
	next := s
	next.toRemove = append(slices.Clone(s.toRemove), ref)
	return next
}

// Unstage drops a pending upload by payload ID.
func (s Set) Unstage(id string) Set {
	i := slices.IndexFunc(s.toAdd, func(p Payload) bool { return p.ID == id })
	if i < 0 {
		return s
	}
	next := s
	next.toAdd = slices.Delete(slices.Clone(s.toAdd), i, i+1)
	return next
}

// Restore clears a removal mark.
func (s Set) Restore(ref fileref.Reference) Set {
	i := s.indexRemoved(ref)
	if i < 0 {
		return s
	}
	next := s
	next.toRemove = slices.Delete(slices.Clone(s.toRemove), i, i+1)
	return next
}

// DisplayList filters serverFiles down to those not marked for deletion,
// preserving their order.
func (s Set) DisplayList(serverFiles []fileref.Reference) []fileref.Reference {
	out := make([]fileref.Reference, 0, len(serverFiles))
	for _, f := range serverFiles {
		if s.IsRemoved(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// BuildSubmission materializes the multipart-ready payload.
func (s Set) BuildSubmission() Submission {
	sub := Submission{FilesToAdd: slices.Clone(s.toAdd)}
	for _, r := range s.toRemove {
		sub.FilesToRemove = append(sub.FilesToRemove, r.Key())
	}
	return sub
}

// Without subtracts a submitted snapshot. Edits staged after the snapshot
// was taken stay staged.
func (s Set) Without(sub Submission) Set {
	next := s
	next.toAdd = slices.DeleteFunc(slices.Clone(s.toAdd), func(p Payload) bool {
		return slices.ContainsFunc(sub.FilesToAdd, func(q Payload) bool { return q.ID == p.ID })
	})
	next.toRemove = slices.DeleteFunc(slices.Clone(s.toRemove), func(r fileref.Reference) bool {
		return slices.Contains(sub.FilesToRemove, r.Key())
	})
	return next
}

// Clear drops every staged edit, keeping the limits.
func (s Set) Clear() Set {
	return New(s.limits)
}

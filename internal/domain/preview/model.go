// Package preview turns a patient's file list and staged uploads into
// renderable items and serves them from a small local workbench.
package preview

import (
	"github.com/ehr/patientfiles/internal/domain/fileref"
	"github.com/ehr/patientfiles/internal/domain/staging"
)

// Item is one entry of the file preview.
type Item struct {
	Key      string       `json:"key"`
	URL      string       `json:"url"`
	ImageSrc string       `json:"image_src,omitempty"`
	Kind     fileref.Kind `json:"kind"`
	Filename string       `json:"filename"`

	// Missing marks an empty reference, rendered as a "not found" panel.
	Missing bool `json:"missing,omitempty"`

	// Pending items are staged uploads not yet on the server.
	Pending   bool   `json:"pending,omitempty"`
	PayloadID string `json:"payload_id,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// Build lists the server files in order, then the staged uploads. Pending
// uploads are never merged into the server list.
func Build(r *fileref.Resolver, display []fileref.Reference, pending []staging.Payload) []Item {
	items := make([]Item, 0, len(display)+len(pending))
	for _, ref := range display {
		it := Item{
			Key:      ref.Key(),
			URL:      r.URL(ref),
			Kind:     r.Kind(ref),
			Filename: r.Filename(ref),
			Missing:  ref.IsEmpty(),
		}
		switch {
		case it.Missing:
			it.ImageSrc = r.Origin() + fileref.MissingPath
		case it.Kind == fileref.KindImage:
			it.ImageSrc = it.URL
		}
		items = append(items, it)
	}
	for _, p := range pending {
		items = append(items, Item{
			Key:       "pending:" + p.ID,
			Kind:      fileref.Classify(p.Name),
			Filename:  p.Name,
			Pending:   true,
			PayloadID: p.ID,
			Size:      p.Size,
		})
	}
	return items
}

// Truncate shortens s to at most n bytes for display, marking the cut with
// "...".
func Truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

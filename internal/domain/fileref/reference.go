package fileref

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Reference is a stored pointer to an uploaded file as the API returns it.
// Older records hold a bare string; newer ones an object with a path or url.
type Reference struct {
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`

	bare bool
}

// FromString wraps a bare string reference.
func FromString(s string) Reference {
	return Reference{Path: s, bare: true}
}

// FromStrings wraps each bare string reference.
func FromStrings(ss ...string) []Reference {
	out := make([]Reference, 0, len(ss))
	for _, s := range ss {
		out = append(out, FromString(s))
	}
	return out
}

// Key returns the original, unnormalized value. It is what the server stored
// and what removal requests must send back.
func (r Reference) Key() string {
	if r.Path != "" {
		return r.Path
	}
	return r.URL
}

// IsEmpty reports whether the reference carries no usable path.
func (r Reference) IsEmpty() bool {
	return strings.TrimSpace(r.Key()) == ""
}

// Equal compares references by their original value, ignoring shape.
func (r Reference) Equal(other Reference) bool {
	return r.Key() == other.Key()
}

func (r Reference) String() string {
	return r.Key()
}

func (r Reference) MarshalJSON() ([]byte, error) {
	if r.bare {
		return json.Marshal(r.Path)
	}
	type object Reference
	return json.Marshal(object(r))
}

func (r *Reference) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*r = Reference{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding file reference: %w", err)
		}
		*r = FromString(s)
		return nil
	case data[0] == '{':
		var obj struct {
			Path string `json:"path"`
			URL  string `json:"url"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("decoding file reference: %w", err)
		}
		*r = Reference{Path: obj.Path, URL: obj.URL}
		return nil
	default:
		return fmt.Errorf("decoding file reference: unsupported JSON value %s", truncateJSON(data))
	}
}

func truncateJSON(data []byte) string {
	if len(data) > 32 {
		return string(data[:32]) + "..."
	}
	return string(data)
}

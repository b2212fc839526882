package staging

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Payload is a new file staged for upload. The content is opened lazily at
// submission time.
type Payload struct {
	ID          string
	Name        string
	Size        int64
	ContentType string

	open func() (io.ReadCloser, error)
}

// NewPayload stages an in-memory file.
func NewPayload(name, contentType string, data []byte) Payload {
	if contentType == "" {
		contentType = contentTypeFor(name)
	}
	return Payload{
		ID:          uuid.NewString(),
		Name:        name,
		Size:        int64(len(data)),
		ContentType: contentType,
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// PayloadFromFile stages a file on disk. Only its size is read now.
func PayloadFromFile(path string) (Payload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Payload{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Payload{}, fmt.Errorf("%s is a directory", path)
	}
	name := filepath.Base(path)
	return Payload{
		ID:          uuid.NewString(),
		Name:        name,
		Size:        info.Size(),
		ContentType: contentTypeFor(name),
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// PayloadFromFileHeader stages a file received in a multipart form. The
// content is copied into memory because the form's temporary files are
// removed once the request ends.
func PayloadFromFileHeader(fh *multipart.FileHeader) (Payload, error) {
	f, err := fh.Open()
	if err != nil {
		return Payload{}, fmt.Errorf("opening form file %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return Payload{}, fmt.Errorf("reading form file %s: %w", fh.Filename, err)
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "application/octet-stream" {
		contentType = ""
	}
	return NewPayload(fh.Filename, contentType, data), nil
}

// Open returns a reader over the payload content.
func (p Payload) Open() (io.ReadCloser, error) {
	if p.open == nil {
		return nil, fmt.Errorf("payload %q has no content", p.Name)
	}
	return p.open()
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

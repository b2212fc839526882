// Package fileref resolves stored file references of historically
// inconsistent shapes into fetchable URLs and classifies them for preview.
//
// Resolution is a dispatch on the detected Shape of the reference. The order
// of detection matters because the markers overlap: a path may contain both
// /uploads/ and /Backend/uploads/, or start with /home/ and /uploads/ later on.
package fileref

import (
	"net/url"
	"path"
	"strings"
)

// DefaultAPIBaseURL is used when no API base URL is configured.
const DefaultAPIBaseURL = "http://localhost:2025/api"

// MissingPath is served as an image source for empty references so that a
// rendered page never carries a raw empty src attribute.
const MissingPath = "/uploads/__missing__"

// Shape is the detected form of a stored reference.
type Shape int

const (
	ShapeEmpty Shape = iota
	ShapeAbsoluteURL
	ShapeFilesystem
	ShapeUploads
	ShapeUploadsNoSlash
	ShapePatientRooted
	ShapeRooted
	ShapeBareRelative
)

var shapeNames = map[Shape]string{
	ShapeEmpty:          "empty",
	ShapeAbsoluteURL:    "absolute-url",
	ShapeFilesystem:     "filesystem",
	ShapeUploads:        "uploads",
	ShapeUploadsNoSlash: "uploads-no-slash",
	ShapePatientRooted:  "patient-rooted",
	ShapeRooted:         "rooted",
	ShapeBareRelative:   "bare-relative",
}

func (s Shape) String() string {
	if name, ok := shapeNames[s]; ok {
		return name
	}
	return "unknown"
}

var filesystemPrefixes = []string{"/var/", "/usr/", "/home/"}

const backendUploads = "/Backend/uploads/"

// DetectShape classifies a raw path. First match wins.
func DetectShape(p string) Shape {
	switch {
	case strings.TrimSpace(p) == "":
		return ShapeEmpty
	case strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://"):
		return ShapeAbsoluteURL
	case isFilesystemPath(p):
		return ShapeFilesystem
	case strings.HasPrefix(p, "/uploads/"):
		return ShapeUploads
	case strings.HasPrefix(p, "uploads/"):
		return ShapeUploadsNoSlash
	case strings.HasPrefix(p, "/patient_files/") || strings.HasPrefix(p, "/patients/"):
		return ShapePatientRooted
	case strings.HasPrefix(p, "/"):
		return ShapeRooted
	default:
		return ShapeBareRelative
	}
}

func isFilesystemPath(p string) bool {
	for _, prefix := range filesystemPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return strings.Contains(p, backendUploads)
}

// ---------------------------------------------------------------------------
// Per-shape resolvers. Each returns the origin-less canonical path.
// ---------------------------------------------------------------------------

// filesystemPath slices an absolute server path down to its /uploads/ part.
// /Backend/uploads/ always contains /uploads/, so the first occurrence covers
// that marker too. Paths without any uploads segment keep their file name.
func filesystemPath(p string) string {
	if i := strings.Index(p, "/uploads/"); i >= 0 {
		return p[i:]
	}
	return "/uploads/" + path.Base(p)
}

func uploadsPath(p string) string { return p }

func uploadsNoSlashPath(p string) string { return "/" + p }

func patientRootedPath(p string) string { return p }

func rootedPath(p string) string { return "/uploads" + p }

func bareRelativePath(p string) string { return "/uploads/" + p }

var resolvers = map[Shape]func(string) string{
	ShapeFilesystem:     filesystemPath,
	ShapeUploads:        uploadsPath,
	ShapeUploadsNoSlash: uploadsNoSlashPath,
	ShapePatientRooted:  patientRootedPath,
	ShapeRooted:         rootedPath,
	ShapeBareRelative:   bareRelativePath,
}

// ---------------------------------------------------------------------------
// Public API
// ---------------------------------------------------------------------------

// Origin strips a trailing /api segment from the API base URL. An empty base
// falls back to DefaultAPIBaseURL.
func Origin(apiBaseURL string) string {
	base := strings.TrimSpace(apiBaseURL)
	if base == "" {
		base = DefaultAPIBaseURL
	}
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/api")
	return strings.TrimRight(base, "/")
}

// CanonicalPath returns the origin-less path a reference resolves to.
// Absolute URLs are returned unchanged and empty references yield "".
func CanonicalPath(ref Reference) string {
	p := ref.Key()
	shape := DetectShape(p)
	switch shape {
	case ShapeEmpty:
		return ""
	case ShapeAbsoluteURL:
		return p
	}
	return resolvers[shape](p)
}

// Normalize resolves a reference into a fully-qualified URL. It never fails:
// an empty reference yields "" and the caller decides how to render it.
func Normalize(ref Reference, apiBaseURL string) string {
	p := ref.Key()
	shape := DetectShape(p)
	switch shape {
	case ShapeEmpty:
		return ""
	case ShapeAbsoluteURL:
		return p
	}
	return Origin(apiBaseURL) + resolvers[shape](p)
}

// ImageSource is Normalize for rendering: empty references resolve to a
// fully-qualified broken link instead of an empty string.
func ImageSource(ref Reference, apiBaseURL string) string {
	if u := Normalize(ref, apiBaseURL); u != "" {
		return u
	}
	return Origin(apiBaseURL) + MissingPath
}

// Filename is the suggested local name for a download: the last segment of
// the canonical path, with any query string dropped.
func Filename(ref Reference) string {
	p := CanonicalPath(ref)
	if p == "" {
		return ""
	}
	if DetectShape(p) == ShapeAbsoluteURL {
		u, err := url.Parse(p)
		if err != nil {
			return ""
		}
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	name := path.Base(p)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return name
}

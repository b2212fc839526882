package fileref

import "strings"

// Kind drives how a file is previewed.
type Kind string

const (
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
	KindOther Kind = "other"
)

var imageExtensions = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"webp": true,
}

// Classify derives the kind from the lowercased text after the last dot.
// It is total: a missing path or extension is KindOther.
func Classify(p string) Kind {
	i := strings.LastIndex(p, ".")
	if i < 0 {
		return KindOther
	}
	ext := strings.ToLower(p[i+1:])
	switch {
	case imageExtensions[ext]:
		return KindImage
	case ext == "pdf":
		return KindPDF
	default:
		return KindOther
	}
}

package fileref

import "github.com/rs/zerolog"

// Resolver binds the configured API base URL and reports references it has
// to degrade.
type Resolver struct {
	apiBaseURL string
	logger     zerolog.Logger
}

// NewResolver creates a Resolver. An empty apiBaseURL uses DefaultAPIBaseURL.
func NewResolver(apiBaseURL string, logger zerolog.Logger) *Resolver {
	if apiBaseURL == "" {
		apiBaseURL = DefaultAPIBaseURL
	}
	return &Resolver{apiBaseURL: apiBaseURL, logger: logger}
}

// Origin returns the base origin URLs are built on.
func (r *Resolver) Origin() string {
	return Origin(r.apiBaseURL)
}

// URL resolves ref, logging a diagnostic when it is empty.
func (r *Resolver) URL(ref Reference) string {
	u := Normalize(ref, r.apiBaseURL)
	if u == "" {
		r.logger.Warn().
			Str("path", ref.Path).
			Str("url", ref.URL).
			Msg("empty file reference, rendering placeholder")
		return ""
	}
	r.logger.Debug().
		Str("reference", ref.Key()).
		Stringer("shape", DetectShape(ref.Key())).
		Str("resolved", u).
		Msg("file reference resolved")
	return u
}

// ImageSource resolves ref for use as an image source. It never returns "".
func (r *Resolver) ImageSource(ref Reference) string {
	if u := r.URL(ref); u != "" {
		return u
	}
	return r.Origin() + MissingPath
}

// Kind classifies ref by its canonical path.
func (r *Resolver) Kind(ref Reference) Kind {
	return Classify(CanonicalPath(ref))
}

// Filename returns the suggested download name for ref.
func (r *Resolver) Filename(ref Reference) string {
	return Filename(ref)
}

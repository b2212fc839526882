package preview

import (
	"bytes"
	"html"
)

// placeholderURLWidth is how much of the attempted URL a panel shows.
const placeholderURLWidth = 60

// FallbackHeader is set on thumbnail responses that carry a placeholder.
const FallbackHeader = "X-Thumbnail-Fallback"

// Placeholder renders the SVG panel shown when an image cannot be loaded.
func Placeholder(title, attemptedURL string) []byte {
	var b bytes.Buffer
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="320" height="200" viewBox="0 0 320 200">`)
	b.WriteString(`<rect width="320" height="200" fill="#f3f4f6" stroke="#d1d5db"/>`)
	b.WriteString(`<text x="160" y="92" font-family="sans-serif" font-size="14" text-anchor="middle" fill="#374151">`)
	b.WriteString(html.EscapeString(title))
	b.WriteString(`</text>`)
	if attemptedURL != "" {
		b.WriteString(`<text x="160" y="120" font-family="monospace" font-size="9" text-anchor="middle" fill="#6b7280">`)
		b.WriteString(html.EscapeString(Truncate(attemptedURL, placeholderURLWidth)))
		b.WriteString(`</text>`)
	}
	b.WriteString(`</svg>`)
	return b.Bytes()
}

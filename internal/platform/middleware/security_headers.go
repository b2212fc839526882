package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets response headers for the workbench pages. Images may
// load from the workbench itself and from imageOrigins, which is where
// resolved file URLs point.
func SecurityHeaders(imageOrigins ...string) echo.MiddlewareFunc {
	imgSrc := append([]string{"'self'", "data:"}, imageOrigins...)
	csp := "default-src 'none'; img-src " + strings.Join(imgSrc, " ") +
		"; object-src 'self'; style-src 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'"

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", csp)
			h.Set("Referrer-Policy", "no-referrer")
			// Pages list patient documents.
			h.Set("Cache-Control", "no-store")
			return next(c)
		}
	}
}

package preview

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/patientfiles/internal/domain/editor"
	"github.com/ehr/patientfiles/internal/domain/fileref"
	"github.com/ehr/patientfiles/internal/domain/staging"
	"github.com/ehr/patientfiles/internal/platform/apiclient"
	"github.com/ehr/patientfiles/internal/platform/notification"
)

// Downloader fetches a resolved file URL.
type Downloader interface {
	Download(ctx context.Context, fileURL string, w io.Writer) (int64, error)
}

// History returns the notifications raised so far.
type History interface {
	All() []notification.Notification
	For(subject string) []notification.Notification
}

var errThumbTooLarge = errors.New("file exceeds the thumbnail size limit")

// ---------------------------------------------------------------------------
// HTTP handler
// ---------------------------------------------------------------------------

// view is the JSON form of one patient's workbench state.
type view struct {
	PatientID     string                      `json:"patient_id"`
	State         string                      `json:"state"`
	CanEdit       bool                        `json:"can_edit"`
	Incomplete    bool                        `json:"incomplete"`
	Items         []Item                      `json:"items"`
	Removed       []fileref.Reference         `json:"removed"`
	Notifications []notification.Notification `json:"notifications,omitempty"`
}

// Handler serves the workbench over a registry of editors.
type Handler struct {
	editors    *editor.Registry
	resolver   *fileref.Resolver
	downloader Downloader
	history    History
	logger     zerolog.Logger
}

// NewHandler creates a Handler. history may be nil.
func NewHandler(editors *editor.Registry, resolver *fileref.Resolver, downloader Downloader, history History, logger zerolog.Logger) *Handler {
	return &Handler{
		editors:    editors,
		resolver:   resolver,
		downloader: downloader,
		history:    history,
		logger:     logger,
	}
}

// RegisterRoutes mounts the workbench routes on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/patients/:id/files", h.handlePage)
	e.GET("/patients/:id/files.json", h.handleJSON)
	e.POST("/patients/:id/files/stage", h.handleStage)
	e.POST("/patients/:id/files/unstage", h.handleUnstage)
	e.POST("/patients/:id/files/remove", h.handleRemove)
	e.POST("/patients/:id/files/restore", h.handleRestore)
	e.POST("/patients/:id/files/discard", h.handleDiscard)
	e.POST("/patients/:id/files/save", h.handleSave)
	e.GET("/notifications", h.handleNotifications)
	e.GET("/thumb", h.handleThumb)
}

// editorFor returns the patient's editor, fetching its file list until a
// fetch succeeds. Routes that stage or submit edits pass requireLoaded and
// fail while the list is unavailable; the editor and its staged edits stay
// registered either way.
func (h *Handler) editorFor(c echo.Context, requireLoaded bool) (*editor.Editor, error) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "patient id is required")
	}
	ed := h.editors.Get(id)
	if err := ed.EnsureLoaded(c.Request().Context()); err != nil {
		h.logger.Warn().Err(err).Str("patient_id", id).Msg("loading workbench editor")
		if requireLoaded {
			return nil, editorError(err)
		}
	}
	return ed, nil
}

func (h *Handler) buildView(ed *editor.Editor) view {
	snap := ed.Snapshot()
	v := view{
		PatientID:  snap.PatientID,
		State:      snap.State.String(),
		CanEdit:    snap.CanEdit,
		Incomplete: snap.Incomplete,
		Items:      Build(h.resolver, snap.Display, snap.Pending),
		Removed:    snap.Removed,
	}
	if v.Removed == nil {
		v.Removed = []fileref.Reference{}
	}
	if h.history != nil {
		v.Notifications = h.history.For(snap.PatientID)
	}
	return v
}

func (h *Handler) handlePage(c echo.Context) error {
	ed, err := h.editorFor(c, false)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, h.buildView(ed)); err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

func (h *Handler) handleJSON(c echo.Context) error {
	ed, err := h.editorFor(c, false)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.buildView(ed))
}

func (h *Handler) handleStage(c echo.Context) error {
	ed, err := h.editorFor(c, true)
	if err != nil {
		return err
	}
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart form with attachments[] is required")
	}
	headers := form.File["attachments[]"]
	if len(headers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no attachments[] in form")
	}
	payloads := make([]staging.Payload, 0, len(headers))
	for _, fh := range headers {
		p, err := staging.PayloadFromFileHeader(fh)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		payloads = append(payloads, p)
	}

	// A refused batch is notified and shown on the page.
	err = ed.StageAdd(c.Request().Context(), payloads...)
	var rej *staging.RejectionError
	if err != nil && !errors.As(err, &rej) {
		return editorError(err)
	}
	return h.back(c, ed)
}

func (h *Handler) handleUnstage(c echo.Context) error {
	ed, err := h.editorFor(c, false)
	if err != nil {
		return err
	}
	id := c.FormValue("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id is required")
	}
	ed.Unstage(id)
	return h.back(c, ed)
}

func (h *Handler) handleRemove(c echo.Context) error {
	ed, err := h.editorFor(c, true)
	if err != nil {
		return err
	}
	ref := fileref.FromString(c.FormValue("path"))
	if ref.IsEmpty() {
		return echo.NewHTTPError(http.StatusBadRequest, "path is required")
	}
	if err := ed.StageRemove(ref); err != nil {
		return editorError(err)
	}
	return h.back(c, ed)
}

func (h *Handler) handleRestore(c echo.Context) error {
	ed, err := h.editorFor(c, false)
	if err != nil {
		return err
	}
	ref := fileref.FromString(c.FormValue("path"))
	if ref.IsEmpty() {
		return echo.NewHTTPError(http.StatusBadRequest, "path is required")
	}
	ed.Restore(ref)
	return h.back(c, ed)
}

func (h *Handler) handleDiscard(c echo.Context) error {
	ed, err := h.editorFor(c, false)
	if err != nil {
		return err
	}
	ed.Discard()
	return h.back(c, ed)
}

func (h *Handler) handleSave(c echo.Context) error {
	ed, err := h.editorFor(c, true)
	if err != nil {
		return err
	}
	// Failures are notified by the editor and rendered with the page.
	if _, err := ed.Save(c.Request().Context(), nil); err != nil {
		h.logger.Warn().Err(err).Str("patient_id", ed.PatientID()).Msg("workbench save failed")
	}
	return h.back(c, ed)
}

// back answers a form post with a redirect to the page, or with the JSON
// view when the client asked for JSON.
func (h *Handler) back(c echo.Context, ed *editor.Editor) error {
	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON) {
		return c.JSON(http.StatusOK, h.buildView(ed))
	}
	return c.Redirect(http.StatusSeeOther, "/patients/"+url.PathEscape(ed.PatientID())+"/files")
}

func (h *Handler) handleNotifications(c echo.Context) error {
	items := []notification.Notification{}
	if h.history != nil {
		items = append(items, h.history.All()...)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": items})
}

// cappedBuffer refuses writes past limit bytes.
type cappedBuffer struct {
	bytes.Buffer
	limit int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if int64(b.Len())+int64(len(p)) > b.limit {
		return 0, errThumbTooLarge
	}
	return b.Buffer.Write(p)
}

// handleThumb proxies an image or PDF from the API origin. Any failure is
// answered with a 200 placeholder panel so one broken file never breaks the
// page. Files larger than the upload size limit are not proxied.
func (h *Handler) handleThumb(c echo.Context) error {
	src := c.QueryParam("src")
	if src == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "src is required")
	}

	origin := h.resolver.Origin()
	switch {
	case !strings.HasPrefix(src, origin+"/"):
		return placeholderResponse(c, "External file not proxied", src)
	case strings.TrimPrefix(src, origin) == fileref.MissingPath:
		return placeholderResponse(c, "File not found", "")
	}

	buf := &cappedBuffer{limit: h.editors.Limits().MaxFileSize}
	if _, err := h.downloader.Download(c.Request().Context(), src, buf); err != nil {
		h.logger.Warn().Err(err).Str("src", src).Msg("thumbnail fetch failed")
		return placeholderResponse(c, "Image could not be loaded", src)
	}

	ct := mime.TypeByExtension(path.Ext(fileref.Filename(fileref.FromString(src))))
	if ct == "" {
		ct = http.DetectContentType(buf.Bytes())
	}
	return c.Blob(http.StatusOK, ct, buf.Bytes())
}

func placeholderResponse(c echo.Context, title, attempted string) error {
	c.Response().Header().Set(FallbackHeader, "1")
	return c.Blob(http.StatusOK, "image/svg+xml", Placeholder(title, attempted))
}

func editorError(err error) error {
	switch {
	case errors.Is(err, editor.ErrReadOnly):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, editor.ErrNoPatient):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, apiclient.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusBadGateway, "the API rejected the configured credentials: "+err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}

// ---------------------------------------------------------------------------
// Page
// ---------------------------------------------------------------------------

var pageTemplate = template.Must(template.New("page").Funcs(template.FuncMap{
	"thumb": func(src string) string { return "/thumb?src=" + url.QueryEscape(src) },
}).Parse(pageHTML))

const pageHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Files of patient {{.PatientID}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
.grid { display: flex; flex-wrap: wrap; gap: 1em; }
.card { width: 320px; border: 1px solid #d1d5db; padding: .5em; }
.card img, .card object { width: 320px; height: 200px; }
.pending { border-style: dashed; }
.note-error { color: #b91c1c; }
.note-warning { color: #b45309; }
.note-success { color: #15803d; }
</style>
</head>
<body>
<h1>Files of patient {{.PatientID}}</h1>
<p>State: {{.State}}{{if not .CanEdit}} (read-only){{end}}</p>
{{if .Incomplete}}<p class="note-error">The record was saved but its files were not. Save again to submit them.</p>{{end}}
{{range .Notifications}}<p class="note-{{.Level}}">{{.Title}}{{if .Message}}: {{.Message}}{{end}}</p>
{{end}}
<div class="grid">
{{range .Items}}<div class="card{{if .Pending}} pending{{end}}">
{{if .Pending}}<p>{{.Filename}} (pending upload, {{.Size}} bytes)</p>
<form method="post" action="files/unstage"><input type="hidden" name="id" value="{{.PayloadID}}"><button>Remove</button></form>
{{else if .Missing}}<img src="{{thumb .ImageSrc}}" alt="File not found">
{{else if eq .Kind "image"}}<img src="{{thumb .ImageSrc}}" alt="{{.Filename}}" loading="lazy">
<p>{{.Filename}}</p>
{{else if eq .Kind "pdf"}}<object data="{{thumb .URL}}" type="application/pdf"><a href="{{.URL}}">{{.Filename}}</a></object>
<p>{{.Filename}}</p>
{{else}}<p>&#128196; <a href="{{.URL}}">{{.Filename}}</a></p>
{{end}}
{{if and (not .Pending) $.CanEdit}}<form method="post" action="files/remove"><input type="hidden" name="path" value="{{.Key}}"><button>Remove</button></form>{{end}}
</div>
{{else}}<p>No files.</p>
{{end}}
</div>
{{if .Removed}}<h2>Staged for removal</h2>
<ul>{{range .Removed}}<li>{{.Key}} <form method="post" action="files/restore" style="display:inline"><input type="hidden" name="path" value="{{.Key}}"><button>Restore</button></form></li>{{end}}</ul>
{{end}}
{{if .CanEdit}}<form method="post" action="files/stage" enctype="multipart/form-data">
<input type="file" name="attachments[]" multiple>
<button>Attach</button>
</form>
<form method="post" action="files/save"><button>Save</button></form>
<form method="post" action="files/discard"><button>Discard changes</button></form>
{{end}}
</body>
</html>
`

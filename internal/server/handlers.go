package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/ZacxDev/video-editor/internal/cloud"
	"github.com/ZacxDev/video-editor/internal/config"
	"github.com/ZacxDev/video-editor/internal/editor"
	"github.com/ZacxDev/video-editor/internal/format"
	"github.com/ZacxDev/video-editor/internal/reconcile"
	"github.com/ZacxDev/video-editor/internal/retry"
	"github.com/ZacxDev/video-editor/internal/transform"
	"github.com/ZacxDev/video-editor/pkg/types"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// multipartMemory is how much of an upload is buffered in memory; the
// rest spills to a temp file.
const multipartMemory = 32 << 20

// Prober checks whether a delivery URL is being served.
type Prober interface {
	Probe(ctx context.Context, url string) (retry.ProbeResult, error)
}

// Downloader streams a delivery URL into a writer.
type Downloader interface {
	Download(ctx context.Context, url string, w io.Writer, progress func(sent, total int64)) (int64, error)
}

// Handler serves the editor API.
type Handler struct {
	sessions       *editor.Service
	prober         Prober
	downloader     Downloader
	logger         *zap.Logger
	maxUploadBytes int64
	deliveryPrefix string
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Sessions       *editor.Service
	Prober         Prober
	Downloader     Downloader
	Logger         *zap.Logger
	MaxUploadBytes int64

	// CloudName and DeliveryBaseURL bound which URLs /probe will fetch.
	CloudName       string
	DeliveryBaseURL string
}

// NewHandler creates the API handler
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.DeliveryBaseURL == "" {
		d.DeliveryBaseURL = config.DefaultDeliveryBaseURL
	}
	prefix := strings.TrimSuffix(d.DeliveryBaseURL, "/")
	if d.CloudName != "" {
		prefix += "/" + d.CloudName
	}
	return &Handler{
		sessions:       d.Sessions,
		prober:         d.Prober,
		downloader:     d.Downloader,
		logger:         d.Logger,
		maxUploadBytes: d.MaxUploadBytes,
		deliveryPrefix: prefix,
	}
}

// UploadVideo accepts a multipart "file" and opens a session for it.
func (h *Handler) UploadVideo(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		// Leave room for the multipart envelope so the client sees our size error.
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeJSONError(w, "Failed to parse multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, "Failed to get file from form", http.StatusBadRequest)
		return
	}
	defer file.Close()

	h.logger.Debug("Received upload",
		zap.String("filename", header.Filename),
		zap.Int64("size", header.Size))

	view, err := h.sessions.Upload(r.Context(), cloud.UploadRequest{
		Reader:   file,
		Name:     header.Filename,
		Size:     header.Size,
		PublicID: r.FormValue("public_id"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// GetSession returns the session snapshot.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type applyResponse struct {
	Decision reconcile.Decision `json:"decision"`
	Session  *editor.View       `json:"session"`
}

// ApplyTransformation replaces the session's transformation state.
func (h *Handler) ApplyTransformation(w http.ResponseWriter, r *http.Request) {
	var state transform.State
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	d, view, err := h.sessions.Apply(mux.Vars(r)["id"], state)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, applyResponse{Decision: d, Session: view})
}

// UpdatePlayback records where the browser's playhead is.
func (h *Handler) UpdatePlayback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentTime float64 `json:"current_time"`
		Paused      bool    `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if body.CurrentTime < 0 {
		writeJSONError(w, "current_time must not be negative", http.StatusBadRequest)
		return
	}

	view, err := h.sessions.UpdatePlayback(mux.Vars(r)["id"], body.CurrentTime, body.Paused)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ReportError starts recovery after the browser saw a playback failure.
func (h *Handler) ReportError(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	kind, ok := types.ParseFailureKind(body.Kind)
	if !ok {
		writeJSONError(w, fmt.Sprintf("unknown failure kind %q", body.Kind), http.StatusBadRequest)
		return
	}

	rec, err := h.sessions.ReportError(r.Context(), mux.Vars(r)["id"], kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Download streams the exported video as an attachment.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	formatName := r.URL.Query().Get("format")
	if formatName == "" {
		formatName = editor.DefaultDownloadFormat
	}
	f, err := format.Get(formatName)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := mux.Vars(r)["id"]
	url, err := h.sessions.DownloadURL(id, formatName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.downloader == nil || r.URL.Query().Get("redirect") == "true" {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	view, err := h.sessions.Get(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// Headers are only committed once the first byte arrives, so an
	// upstream failure can still be reported as JSON.
	cw := &committingWriter{w: w, header: func(h http.Header) {
		h.Set("Content-Type", f.GetMimeType())
		h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q",
			path.Base(view.Asset.PublicID)+"."+f.GetExtension()))
	}}
	if _, err := h.downloader.Download(r.Context(), url, cw, nil); err != nil {
		if cw.committed {
			h.logger.Error("Download interrupted", zap.String("session", id), zap.Error(err))
			return
		}
		h.writeError(w, err)
		return
	}
	// An empty body still gets the attachment headers.
	cw.commit()
}

type buildURLRequest struct {
	Asset    transform.Asset `json:"asset"`
	State    transform.State `json:"state"`
	Format   string          `json:"format,omitempty"`
	Download bool            `json:"download,omitempty"`
}

type buildURLResponse struct {
	URL            string `json:"url"`
	Transformation string `json:"transformation"`
}

// BuildURL renders a delivery URL without opening a session.
func (h *Handler) BuildURL(w http.ResponseWriter, r *http.Request) {
	var req buildURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Asset.CloudName == "" || req.Asset.PublicID == "" {
		writeJSONError(w, "asset needs a cloud name and public id", http.StatusBadRequest)
		return
	}
	if err := req.State.Validate(); err != nil {
		h.writeError(w, err)
		return
	}

	opts := transform.PreviewOptions()
	if req.Download {
		if req.Format == "" {
			req.Format = editor.DefaultDownloadFormat
		}
		opts = transform.DownloadOptions(req.Format)
	} else {
		opts.Format = req.Format
	}
	if opts.Format != "" {
		if _, err := format.Get(opts.Format); err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	writeJSON(w, http.StatusOK, buildURLResponse{
		URL:            transform.BuildURL(req.Asset, req.State, opts),
		Transformation: transform.BuildTransformation(req.State, opts),
	})
}

// Probe reports whether a delivery URL is currently served.
func (h *Handler) Probe(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeJSONError(w, "url query parameter is required", http.StatusBadRequest)
		return
	}
	if !h.isDeliveryURL(url) {
		writeJSONError(w, "url is not a delivery url of this cloud", http.StatusBadRequest)
		return
	}
	res, err := h.prober.Probe(r.Context(), url)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// isDeliveryURL reports whether raw points at this cloud's video delivery
// path, so probes never reach arbitrary hosts.
func (h *Handler) isDeliveryURL(raw string) bool {
	du, err := transform.ParseURL(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(du.Base, h.deliveryPrefix)
}

// Formats lists the delivery formats downloads can use.
func (h *Handler) Formats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"formats": format.GetSupportedFormats()})
}

// DeleteSession destroys the remote asset and closes the session.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSONError(w, err.Error(), status)
}

func statusFor(err error) int {
	var apiErr *cloud.APIError
	switch cause := errors.Cause(err); {
	case cause == editor.ErrSessionNotFound, cause == cloud.ErrNotFound:
		return http.StatusNotFound
	case cause == transform.ErrInvalidTransformation:
		return http.StatusUnprocessableEntity
	case cause == cloud.ErrFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case cause == cloud.ErrUnsupportedType:
		return http.StatusUnsupportedMediaType
	case cause == retry.ErrNoFallbackAvailable, errors.As(err, &apiErr):
		return http.StatusBadGateway
	case cause == context.Canceled, cause == context.DeadlineExceeded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// committingWriter sets the response headers just before the first write.
type committingWriter struct {
	w         http.ResponseWriter
	header    func(http.Header)
	committed bool
}

func (c *committingWriter) Write(b []byte) (int, error) {
	c.commit()
	return c.w.Write(b)
}

func (c *committingWriter) commit() {
	if c.committed {
		return
	}
	c.header(c.w.Header())
	c.w.WriteHeader(http.StatusOK)
	c.committed = true
}

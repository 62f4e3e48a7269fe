package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"hls-packager/internal/platform/logger"
	"hls-packager/internal/platform/metrics"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	// UploadField is the multipart field carrying the video file.
	UploadField = "video"

	// DefaultMaxUploadBytes bounds an upload when no limit is configured.
	DefaultMaxUploadBytes int64 = 2 << 30

	multipartOverhead int64 = 1 << 20
)

// AllowedExtensions lists the accepted source container extensions.
var AllowedExtensions = map[string]struct{}{
	".mp4": {}, ".m4v": {}, ".mov": {}, ".mkv": {}, ".webm": {},
	".avi": {}, ".mpeg": {}, ".mpg": {}, ".ts": {},
}

// HandlerConfig configures the upload boundary.
type HandlerConfig struct {
	UploadDir      string
	MaxUploadBytes int64
	// StreamPrefix is the URL prefix the read path is mounted on ("/stream").
	StreamPrefix string
}

// Handler exposes the upload and job status endpoints using go-chi.
type Handler struct {
	svc       *Service
	uploadDir string
	maxBytes  int64
	prefix    string
	newID     func() string
	log       *slog.Logger
	metrics   *metrics.Metrics
}

type uploadResponse struct {
	Message            string `json:"message"`
	AssetID            string `json:"assetId"`
	MasterPlaylistPath string `json:"masterPlaylistPath"`
}

type errorResponse struct {
	Error   string `json:"error"`
	AssetID string `json:"assetId,omitempty"`
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, cfg HandlerConfig, log *slog.Logger, m *metrics.Metrics) *Handler {
	maxBytes := cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	uploadDir := cfg.UploadDir
	if uploadDir == "" {
		uploadDir = os.TempDir()
	}
	prefix := cfg.StreamPrefix
	if prefix == "" {
		prefix = "/stream"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		svc:       svc,
		uploadDir: uploadDir,
		maxBytes:  maxBytes,
		prefix:    prefix,
		newID:     uuid.NewString,
		log:       log,
		metrics:   m,
	}
}

// Upload handles POST /upload with a single multipart field "video". The
// request blocks until the package is published or the job failed.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	sourcePath, err := h.receiveSource(r)
	if err != nil {
		h.rejectUpload(w, err)
		return
	}

	src := SourceAsset{ID: h.newID(), StoragePath: sourcePath, CreatedAt: time.Now().UTC()}
	h.log.Info("upload accepted",
		slog.String("asset_id", src.ID),
		slog.String("request_id", logger.RequestIDFromContext(r.Context())))

	asset, err := h.svc.Transcode(r.Context(), src)
	if err != nil {
		status := http.StatusInternalServerError
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			status = http.StatusBadRequest
		case errors.Is(err, ErrAssetBusy), errors.Is(err, ErrAssetExists), errors.Is(err, ErrJobExists):
			status = http.StatusConflict
		}
		writeJSON(w, status, errorResponse{Error: err.Error(), AssetID: src.ID})
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Message:            "Video uploaded and processed",
		AssetID:            asset.ID,
		MasterPlaylistPath: path.Join(h.prefix, asset.ID, MasterPlaylistName),
	})
}

// GetJob handles GET /jobs/{assetId}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetId")
	if !nameAllowed.MatchString(assetID) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	job, err := h.svc.Job(r.Context(), assetID)
	if errors.Is(err, ErrJobNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("get job failed", slog.String("asset_id", assetID), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// receiveSource streams the "video" part to a temp file in the upload dir.
// Extension and size are validated before and while writing; nothing is left
// on disk when validation fails.
func (h *Handler) receiveSource(r *http.Request) (string, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return "", &ValidationError{Field: "body", Reason: "expected multipart/form-data"}
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", multipartError(err)
		}
		if part.FormName() != UploadField || part.FileName() == "" {
			_ = part.Close()
			continue
		}
		return h.saveSource(part)
	}
	return "", &ValidationError{Field: UploadField, Reason: "missing file field"}
}

func (h *Handler) saveSource(part *multipart.Part) (string, error) {
	defer part.Close()

	ext := strings.ToLower(filepath.Ext(part.FileName()))
	if _, ok := AllowedExtensions[ext]; !ok {
		return "", &ValidationError{Field: UploadField, Reason: fmt.Sprintf("unsupported container extension %q", ext)}
	}
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	tmp, err := os.CreateTemp(h.uploadDir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	written, err := io.Copy(tmp, io.LimitReader(part, h.maxBytes+1))
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && written > h.maxBytes {
		err = h.tooLarge()
	}
	if err == nil && written == 0 {
		err = &ValidationError{Field: UploadField, Reason: "empty file"}
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		var verr *ValidationError
		if errors.As(err, &verr) {
			return "", err
		}
		return "", multipartError(err)
	}
	return tmp.Name(), nil
}

func (h *Handler) tooLarge() error {
	return &ValidationError{
		Field:    UploadField,
		Reason:   "file exceeds " + humanize.Bytes(uint64(h.maxBytes)),
		TooLarge: true,
	}
}

func multipartError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return &ValidationError{Field: UploadField, Reason: "request body too large", TooLarge: true}
	}
	return &ValidationError{Field: "body", Reason: err.Error()}
}

func (h *Handler) rejectUpload(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		h.log.Error("stage upload failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not store upload"})
		return
	}
	if h.metrics != nil {
		h.metrics.IncUploadsRejected()
	}
	h.log.Info("upload rejected", slog.String("field", verr.Field), slog.String("reason", verr.Reason))
	status := http.StatusBadRequest
	if verr.TooLarge {
		status = http.StatusRequestEntityTooLarge
	}
	writeJSON(w, status, errorResponse{Error: verr.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

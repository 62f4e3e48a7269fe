package stream

import (
	"log/slog"
	"net/http"

	"hls-packager/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the read-only streaming endpoints using go-chi.
type Handler struct {
	resolver *Resolver
	delivery *Delivery
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewHandler returns a Handler. Metrics may be nil to disable metric recording.
func NewHandler(res *Resolver, del *Delivery, log *slog.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{resolver: res, delivery: del, log: log, metrics: m}
}

// Routes returns the router to mount under the stream prefix (e.g. "/stream").
// HEAD is served by the same handlers; Delivery omits the body.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	for _, method := range []string{http.MethodGet, http.MethodHead} {
		r.Method(method, "/{assetId}/master.m3u8", http.HandlerFunc(h.Master))
		r.Method(method, "/{assetId}/{quality}/index.m3u8", http.HandlerFunc(h.Variant))
		r.Method(method, "/{assetId}/{quality}/{segment}", http.HandlerFunc(h.Segment))
	}
	return r
}

// Master handles GET /{assetId}/master.m3u8.
func (h *Handler) Master(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, chi.URLParam(r, "assetId"), "", "")
}

// Variant handles GET /{assetId}/{quality}/index.m3u8.
func (h *Handler) Variant(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, chi.URLParam(r, "assetId"), chi.URLParam(r, "quality"), "")
}

// Segment handles GET /{assetId}/{quality}/{segment}, honoring Range.
func (h *Handler) Segment(w http.ResponseWriter, r *http.Request) {
	segment := chi.URLParam(r, "segment")
	if segment == "" {
		http.Error(w, Message(ErrInvalidSegment), http.StatusBadRequest)
		return
	}
	h.serve(w, r, chi.URLParam(r, "assetId"), chi.URLParam(r, "quality"), segment)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, assetID, quality, filename string) {
	f, err := h.resolver.Resolve(assetID, quality, filename)
	if err != nil {
		status := StatusCode(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("resolve failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		} else {
			h.log.Debug("resolve rejected", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		}
		http.Error(w, Message(err), status)
		return
	}
	defer f.Close()

	n, err := h.delivery.Serve(w, r, f)
	if h.metrics != nil {
		h.metrics.AddBytesServed(f.Kind.String(), n)
	}
	if err != nil {
		// Headers are already sent; usually the client went away.
		h.log.Debug("delivery interrupted",
			slog.String("path", r.URL.Path),
			slog.Int64("written", n),
			slog.String("error", err.Error()))
	}
}

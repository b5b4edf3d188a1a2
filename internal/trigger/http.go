package trigger

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/vodpipeline/internal/pipeline"
)

// HTTPOptions configures the HTTP trigger. With a nil Handler only the
// operational routes are served.
type HTTPOptions struct {
	Handler      PayloadHandler
	Logger       *zap.Logger
	MaxBodyBytes int64
	Timeout      time.Duration
	Metrics      http.Handler
}

// HTTPHandler receives webhook notifications and serves health and metrics.
type HTTPHandler struct {
	handler      PayloadHandler
	logger       *zap.Logger
	maxBodyBytes int64
	router       chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(opts HTTPOptions) *HTTPHandler {
	logr := opts.Logger
	if logr == nil {
		logr = zap.NewNop()
	}
	h := &HTTPHandler{
		handler:      opts.Handler,
		logger:       logr,
		maxBodyBytes: opts.MaxBodyBytes,
	}
	h.buildRouter(opts)
	return h
}

func (h *HTTPHandler) buildRouter(opts HTTPOptions) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}
	if h.handler != nil {
		r.Group(func(r chi.Router) {
			if opts.Timeout > 0 {
				r.Use(middleware.Timeout(opts.Timeout))
			}
			r.Post("/events", h.handleEvent)
		})
	}

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HTTPHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	if h.maxBodyBytes > 0 {
		if r.ContentLength > h.maxBodyBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	report, err := h.handler.HandlePayload(r.Context(), payload)
	logReport(h.logger, "http "+middleware.GetReqID(r.Context()), report, err)
	if err != nil {
		if errors.Is(err, pipeline.ErrMalformedEvent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "event handling failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"stage":     report.Stage,
		"total":     report.Total,
		"succeeded": report.Succeeded,
		"skipped":   report.Skipped,
		"failed":    len(report.Failures),
		"abandoned": report.Abandoned,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

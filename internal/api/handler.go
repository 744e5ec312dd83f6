package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/benjspriggs/chooser/internal/manifest"
	"github.com/benjspriggs/chooser/internal/picker"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Service exposes the background roulette operations the handlers need.
type Service interface {
	Respond(ctx context.Context) (manifest.Image, error)
	Images() ([]manifest.Image, error)
	Refresh(ctx context.Context) error
}

// Handler wires the chooser service into HTTP handlers.
type Handler struct {
	service Service

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(service Service, opts ...HandlerOption) *Handler {
	h := &Handler{
		service: service,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleBackground(w http.ResponseWriter, r *http.Request) {
	img, err := h.service.Respond(r.Context())
	if err != nil {
		if errors.Is(err, picker.ErrEmptyList) {
			writeJSON(w, http.StatusNotFound, envelope{Status: "failure"})
			return
		}
		writeInternalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Status: "success", Data: img})
}

func (h *Handler) handleImages(w http.ResponseWriter, r *http.Request) {
	_ = r
	images, err := h.service.Images()
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if images == nil {
		images = []manifest.Image{}
	}

	writeJSON(w, http.StatusOK, envelope{Status: "success", Data: images})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Refresh(r.Context()); err != nil {
		writeInternalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Status: "success"})
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// envelope is the response shape consumed by the blog frontend.
type envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{
		Error:   message,
		Details: details,
	})
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}

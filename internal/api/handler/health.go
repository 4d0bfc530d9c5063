package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/daap14/blueprints/internal/api/middleware"
	"github.com/daap14/blueprints/internal/api/response"
)

// pingTimeout bounds the store check of a health request.
const pingTimeout = 2 * time.Second

// StorePinger reports whether the blueprint store is reachable.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles the GET /health endpoint.
type HealthHandler struct {
	store   StorePinger
	backend string
	version string
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(store StorePinger, backend, version string) *HealthHandler {
	return &HealthHandler{
		store:   store,
		backend: backend,
		version: version,
	}
}

type storeStatus struct {
	Backend   string `json:"backend"`
	Connected bool   `json:"connected"`
}

type healthData struct {
	Status  string      `json:"status"`
	Version string      `json:"version"`
	Store   storeStatus `json:"store"`
}

// ServeHTTP handles the health check request.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	connected := h.store.Ping(ctx) == nil

	status := "healthy"
	if !connected {
		status = "degraded"
	}

	data := healthData{
		Status:  status,
		Version: h.version,
		Store: storeStatus{
			Backend:   h.backend,
			Connected: connected,
		},
	}

	response.Success(w, http.StatusOK, data, requestID)
}

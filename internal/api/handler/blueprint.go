package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/daap14/blueprints/internal/api/middleware"
	"github.com/daap14/blueprints/internal/api/response"
	"github.com/daap14/blueprints/internal/api/validation"
	"github.com/daap14/blueprints/internal/blueprint"
)

// maxBodyBytes bounds request bodies on write endpoints.
const maxBodyBytes = 1 << 20

// BlueprintService is the subset of service.BlueprintService the handler uses.
type BlueprintService interface {
	GetAll(ctx context.Context) ([]blueprint.Blueprint, error)
	GetByAuthor(ctx context.Context, author string) ([]blueprint.Blueprint, error)
	Get(ctx context.Context, author, name string) (*blueprint.Blueprint, error)
	Create(ctx context.Context, bp *blueprint.Blueprint) error
	AddPoint(ctx context.Context, author, name string, p blueprint.Point) error
	Update(ctx context.Context, author, name string, bp *blueprint.Blueprint) error
	Delete(ctx context.Context, author, name string) error
}

// pointRequest is a point as received in request bodies. Pointers let
// validation tell a missing coordinate from zero.
type pointRequest struct {
	X *int `json:"x"`
	Y *int `json:"y"`
}

// blueprintRequest is the request body for POST /blueprints and
// PUT /blueprints/{author}/{name}.
type blueprintRequest struct {
	Author string         `json:"author"`
	Name   string         `json:"name"`
	Points []pointRequest `json:"points"`
}

type pointResponse struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// blueprintResponse is the API representation of a blueprint.
type blueprintResponse struct {
	Author    string          `json:"author"`
	Name      string          `json:"name"`
	Points    []pointResponse `json:"points"`
	CreatedAt string          `json:"createdAt,omitempty"`
	UpdatedAt string          `json:"updatedAt,omitempty"`
}

// authorBlueprintsResponse is the body of GET /blueprints/{author}.
type authorBlueprintsResponse struct {
	Author      string              `json:"author"`
	Blueprints  []blueprintResponse `json:"blueprints"`
	TotalPoints int                 `json:"totalPoints"`
}

func toBlueprintResponse(bp *blueprint.Blueprint) blueprintResponse {
	points := make([]pointResponse, len(bp.Points))
	for i, p := range bp.Points {
		points[i] = pointResponse{X: p.X, Y: p.Y}
	}
	resp := blueprintResponse{
		Author: bp.Author,
		Name:   bp.Name,
		Points: points,
	}
	if !bp.CreatedAt.IsZero() {
		resp.CreatedAt = bp.CreatedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	if !bp.UpdatedAt.IsZero() {
		resp.UpdatedAt = bp.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	return resp
}

func toBlueprintResponses(bps []blueprint.Blueprint) []blueprintResponse {
	items := make([]blueprintResponse, 0, len(bps))
	for i := range bps {
		items = append(items, toBlueprintResponse(&bps[i]))
	}
	return items
}

// BlueprintHandler handles blueprint CRUD endpoints.
type BlueprintHandler struct {
	svc BlueprintService
}

// NewBlueprintHandler creates a new BlueprintHandler.
func NewBlueprintHandler(svc BlueprintService) *BlueprintHandler {
	return &BlueprintHandler{svc: svc}
}

// List handles GET /blueprints.
func (h *BlueprintHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	blueprints, err := h.svc.GetAll(r.Context())
	if err != nil {
		writeStoreError(w, err, "list blueprints", requestID)
		return
	}

	items := toBlueprintResponses(blueprints)
	response.SuccessList(w, http.StatusOK, items, len(items), requestID)
}

// ListByAuthor handles GET /blueprints/{author}.
func (h *BlueprintHandler) ListByAuthor(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	author, ok := pathParam(w, r, "author", requestID)
	if !ok {
		return
	}

	blueprints, err := h.svc.GetByAuthor(r.Context(), author)
	if err != nil {
		writeStoreError(w, err, "list blueprints by author", requestID)
		return
	}

	total := 0
	for i := range blueprints {
		total += len(blueprints[i].Points)
	}

	response.Success(w, http.StatusOK, authorBlueprintsResponse{
		Author:      author,
		Blueprints:  toBlueprintResponses(blueprints),
		TotalPoints: total,
	}, requestID)
}

// Get handles GET /blueprints/{author}/{name}.
func (h *BlueprintHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	author, name, ok := keyParams(w, r, requestID)
	if !ok {
		return
	}

	bp, err := h.svc.Get(r.Context(), author, name)
	if err != nil {
		writeStoreError(w, err, "get blueprint", requestID)
		return
	}

	response.Success(w, http.StatusOK, toBlueprintResponse(bp), requestID)
}

// Create handles POST /blueprints.
func (h *BlueprintHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	bp, ok := decodeBlueprint(w, r, requestID)
	if !ok {
		return
	}

	if err := h.svc.Create(r.Context(), bp); err != nil {
		writeStoreError(w, err, "create blueprint", requestID)
		return
	}

	response.Success(w, http.StatusCreated, toBlueprintResponse(bp), requestID)
}

// AddPoint handles PUT /blueprints/{author}/{name}/points.
func (h *BlueprintHandler) AddPoint(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	author, name, ok := keyParams(w, r, requestID)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req pointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", requestID)
		return
	}

	if fieldErrors := validation.ValidatePoint(validation.PointInput{X: req.X, Y: req.Y}); len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	p := blueprint.Point{X: *req.X, Y: *req.Y}
	if err := h.svc.AddPoint(r.Context(), author, name, p); err != nil {
		writeStoreError(w, err, "add point", requestID)
		return
	}

	response.Accepted(w, pointResponse{X: p.X, Y: p.Y}, requestID)
}

// Update handles PUT /blueprints/{author}/{name}. The body carries the
// possibly new author and name plus the complete replacement point list.
func (h *BlueprintHandler) Update(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	author, name, ok := keyParams(w, r, requestID)
	if !ok {
		return
	}

	bp, ok := decodeBlueprint(w, r, requestID)
	if !ok {
		return
	}

	if err := h.svc.Update(r.Context(), author, name, bp); err != nil {
		writeStoreError(w, err, "update blueprint", requestID)
		return
	}

	response.Success(w, http.StatusOK, toBlueprintResponse(bp), requestID)
}

// Delete handles DELETE /blueprints/{author}/{name}.
func (h *BlueprintHandler) Delete(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	author, name, ok := keyParams(w, r, requestID)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), author, name); err != nil {
		writeStoreError(w, err, "delete blueprint", requestID)
		return
	}

	response.NoContent(w)
}

// decodeBlueprint reads and validates a blueprint request body.
func decodeBlueprint(w http.ResponseWriter, r *http.Request, requestID string) (*blueprint.Blueprint, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req blueprintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", requestID)
		return nil, false
	}

	req.Author = strings.TrimSpace(req.Author)
	req.Name = strings.TrimSpace(req.Name)

	inputs := make([]validation.PointInput, len(req.Points))
	for i, p := range req.Points {
		inputs[i] = validation.PointInput{X: p.X, Y: p.Y}
	}
	fieldErrors := validation.ValidateBlueprintRequest(validation.BlueprintRequest{
		Author: req.Author,
		Name:   req.Name,
		Points: inputs,
	})
	if len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return nil, false
	}

	points := make([]blueprint.Point, len(req.Points))
	for i, p := range req.Points {
		points[i] = blueprint.Point{X: *p.X, Y: *p.Y}
	}
	return blueprint.New(req.Author, req.Name, points...), true
}

// pathParam returns the decoded, non-blank URL parameter key. chi matches on
// r.URL.RawPath when it is set, leaving segments escaped; otherwise they are
// already decoded and must not be unescaped a second time.
func pathParam(w http.ResponseWriter, r *http.Request, key, requestID string) (string, bool) {
	value := chi.URLParam(r, key)
	if r.URL.RawPath != "" {
		var err error
		value, err = url.PathUnescape(value)
		if err != nil {
			response.Err(w, http.StatusBadRequest, "INVALID_PATH", fmt.Sprintf("%s is not a valid path segment", key), requestID)
			return "", false
		}
	}
	if strings.TrimSpace(value) == "" {
		response.Err(w, http.StatusBadRequest, "INVALID_PATH", fmt.Sprintf("%s must not be blank", key), requestID)
		return "", false
	}
	return value, true
}

func keyParams(w http.ResponseWriter, r *http.Request, requestID string) (string, string, bool) {
	author, ok := pathParam(w, r, "author", requestID)
	if !ok {
		return "", "", false
	}
	name, ok := pathParam(w, r, "name", requestID)
	if !ok {
		return "", "", false
	}
	return author, name, true
}

// writeStoreError maps a store error kind to its HTTP response.
func writeStoreError(w http.ResponseWriter, err error, action, requestID string) {
	switch {
	case errors.Is(err, blueprint.ErrNotFound):
		response.Err(w, http.StatusNotFound, "NOT_FOUND", userMessage(err), requestID)
	case errors.Is(err, blueprint.ErrDuplicateKey):
		response.Err(w, http.StatusConflict, "DUPLICATE_BLUEPRINT", userMessage(err), requestID)
	case errors.Is(err, blueprint.ErrInvalidPoint):
		response.Err(w, http.StatusBadRequest, "VALIDATION_ERROR", "Point coordinates must be 32-bit integers", requestID)
	case errors.Is(err, blueprint.ErrBackendFailure):
		slog.Error("blueprint store unavailable", "action", action, "error", err, "requestId", requestID)
		response.Err(w, http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", fmt.Sprintf("Failed to %s: storage unavailable", action), requestID)
	default:
		slog.Error("unexpected blueprint error", "action", action, "error", err, "requestId", requestID)
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", fmt.Sprintf("Failed to %s", action), requestID)
	}
}

// userMessage renders a not-found or duplicate error for API clients.
func userMessage(err error) string {
	var storeErr *blueprint.Error
	if !errors.As(err, &storeErr) {
		return err.Error()
	}
	target := storeErr.Author
	if storeErr.Name != "" {
		target += "/" + storeErr.Name
	}
	if errors.Is(err, blueprint.ErrDuplicateKey) {
		return fmt.Sprintf("A blueprint %q already exists", target)
	}
	if storeErr.Name == "" {
		return fmt.Sprintf("No blueprints found for author %q", target)
	}
	return fmt.Sprintf("Blueprint %q not found", target)
}

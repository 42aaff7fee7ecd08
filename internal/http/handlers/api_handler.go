package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedboard/backend/internal/auth"
	"github.com/feedboard/backend/internal/core"
	"github.com/feedboard/backend/internal/provider"
	"github.com/feedboard/backend/internal/repo"
	"github.com/feedboard/backend/pkg/events"
)

// IntegrationManager is the registry surface the API exposes
type IntegrationManager interface {
	CreateIntegration(ctx context.Context, input core.CreateIntegrationInput) (repo.Integration, error)
	UpdateIntegration(ctx context.Context, id uuid.UUID, tenantID int64, input core.UpdateIntegrationInput) (repo.Integration, error)
	DeleteIntegration(ctx context.Context, id uuid.UUID, tenantID int64, cleanupInboundPosts bool) (core.DeleteResult, error)
	GetIntegration(ctx context.Context, id uuid.UUID, tenantID int64) (repo.Integration, error)
	ListIntegrations(ctx context.Context, tenantID int64) ([]repo.Integration, error)
	TestConnection(ctx context.Context, id uuid.UUID, tenantID int64) (provider.ConnectionResult, error)
	ListSyncLogs(ctx context.Context, id uuid.UUID, tenantID int64, limit int32) ([]repo.SyncLogEntry, error)
	ListSyncRuns(ctx context.Context, id uuid.UUID, tenantID int64, limit int32) ([]repo.SyncLogEntry, error)
	ListConflicts(ctx context.Context, id uuid.UUID, tenantID int64) ([]repo.IntegrationMapping, error)
}

// SyncRunner runs syncs and resolves conflicts
type SyncRunner interface {
	TriggerSync(ctx context.Context, integrationID uuid.UUID, tenantID int64, tenantURL string) (core.SyncResult, error)
	ResolveConflict(ctx context.Context, mappingID uuid.UUID, resolution string, tenantID int64, tenantURL string) error
}

// EventStreamer streams the notifications published on a subject to a WebSocket client
type EventStreamer interface {
	Serve(w http.ResponseWriter, r *http.Request, subject string)
}

// APIHandler handles HTTP API requests
type APIHandler struct {
	integrations IntegrationManager
	syncs        SyncRunner
	streams      EventStreamer
	jwtConfig    *auth.JWTConfig
	logger       *zap.Logger
	timeout      time.Duration
}

// NewAPIHandler creates a new API handler. streams may be nil when notifications are disabled.
func NewAPIHandler(integrations IntegrationManager, syncs SyncRunner, streams EventStreamer, jwtConfig *auth.JWTConfig, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		integrations: integrations,
		syncs:        syncs,
		streams:      streams,
		jwtConfig:    jwtConfig,
		logger:       logger.Named("api_handler"),
	}
}

// WithRequestTimeout bounds every request except the event stream
func (h *APIHandler) WithRequestTimeout(d time.Duration) *APIHandler {
	h.timeout = d
	return h
}

func (h *APIHandler) requestTimeout(next http.Handler) http.Handler {
	if h.timeout <= 0 {
		return next
	}
	return middleware.Timeout(h.timeout)(next)
}

// Routes returns the HTTP routes
func (h *APIHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Public routes
	r.Get("/health", h.GetHealth)

	// Tenant-scoped routes
	r.Group(func(r chi.Router) {
		r.Use(h.jwtConfig.ChiMiddleware())

		r.Route("/integrations", func(r chi.Router) {
			r.With(h.requestTimeout).Get("/", h.ListIntegrations)
			r.With(h.requestTimeout).Post("/", h.CreateIntegration)

			r.Route("/{integration_id}", func(r chi.Router) {
				// Hijacked by the websocket upgrade, so no request timeout
				r.Get("/events", h.StreamEvents)

				r.Group(func(r chi.Router) {
					r.Use(h.requestTimeout)
					r.Get("/", h.GetIntegration)
					r.Patch("/", h.UpdateIntegration)
					r.Delete("/", h.DeleteIntegration)
					r.Post("/test-connection", h.TestConnection)
					r.Post("/sync", h.RunSync)
					r.Get("/logs", h.ListSyncLogs)
					r.Get("/runs", h.ListSyncRuns)
					r.Get("/conflicts", h.ListConflicts)
				})
			})
		})

		r.With(h.requestTimeout).Post("/mappings/{mapping_id}/resolve", h.ResolveConflict)
	})

	return r
}

// GetHealth handles health check requests
func (h *APIHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}

	h.writeJSON(w, http.StatusOK, response)
}

// ListIntegrations lists the integrations of the caller's tenant
func (h *APIHandler) ListIntegrations(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}

	integrations, err := h.integrations.ListIntegrations(r.Context(), claims.TenantID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	views := make([]integrationView, len(integrations))
	for i, integration := range integrations {
		views[i] = newIntegrationView(integration)
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"integrations": views})
}

// CreateIntegration creates an integration after a successful connection test
func (h *APIHandler) CreateIntegration(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}

	var input core.CreateIntegrationInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	input.TenantID = claims.TenantID

	integration, err := h.integrations.CreateIntegration(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.logger.Info("Integration created via API",
		zap.String("integration_id", integration.ID.String()),
		zap.Int64("tenant_id", claims.TenantID))

	h.writeJSON(w, http.StatusCreated, newIntegrationView(integration))
}

// GetIntegration returns one integration
func (h *APIHandler) GetIntegration(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.integrationRequest(w, r)
	if !ok {
		return
	}

	integration, err := h.integrations.GetIntegration(r.Context(), id, claims.TenantID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newIntegrationView(integration))
}

// UpdateIntegration applies a partial update
func (h *APIHandler) UpdateIntegration(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.integrationRequest(w, r)
	if !ok {
		return
	}

	var input core.UpdateIntegrationInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	integration, err := h.integrations.UpdateIntegration(r.Context(), id, claims.TenantID, input)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newIntegrationView(integration))
}

// DeleteIntegration removes an integration, optionally with the posts it created
func (h *APIHandler) DeleteIntegration(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.integrationRequest(w, r)
	if !ok {
		return
	}

	cleanup := false
	if raw := r.URL.Query().Get("cleanupInboundPosts"); raw != "" {
		var err error
		cleanup, err = strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid cleanupInboundPosts parameter", err)
			return
		}
	}

	result, err := h.integrations.DeleteIntegration(r.Context(), id, claims.TenantID, cleanup)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// TestConnection re-tests the stored credentials
func (h *APIHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.integrationRequest(w, r)
	if !ok {
		return
	}

	result, err := h.integrations.TestConnection(r.Context(), id, claims.TenantID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// RunSync runs one sync pass now and returns its tally
func (h *APIHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.integrationRequest(w, r)
	if !ok {
		return
	}

	result, err := h.syncs.TriggerSync(r.Context(), id, claims.TenantID, claims.TenantURL)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ListSyncLogs returns recent sync log entries
func (h *APIHandler) ListSyncLogs(w http.ResponseWriter, r *http.Request) {
	h.listEntries(w, r, h.integrations.ListSyncLogs, "logs")
}

// ListSyncRuns returns recent run summaries
func (h *APIHandler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	h.listEntries(w, r, h.integrations.ListSyncRuns, "runs")
}

func (h *APIHandler) listEntries(w http.ResponseWriter, r *http.Request, list func(context.Context, uuid.UUID, int64, int32) ([]repo.SyncLogEntry, error), key string) {
	claims, id, ok := h.integrationRequest(w, r)
	if !ok {
		return
	}

	limit := int32(0)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limitInt, err := strconv.Atoi(raw)
		if err != nil || limitInt < 1 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit parameter", err)
			return
		}
		limit = int32(min(limitInt, 1000))
	}

	entries, err := list(r.Context(), id, claims.TenantID, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	views := make([]syncLogView, len(entries))
	for i, entry := range entries {
		views[i] = newSyncLogView(entry)
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{key: views})
}

// ListConflicts returns mappings waiting for resolution
func (h *APIHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.integrationRequest(w, r)
	if !ok {
		return
	}

	mappings, err := h.integrations.ListConflicts(r.Context(), id, claims.TenantID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	views := make([]mappingView, len(mappings))
	for i, mapping := range mappings {
		views[i] = newMappingView(mapping)
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"conflicts": views})
}

// StreamEvents upgrades to a WebSocket that receives the integration's run notifications
func (h *APIHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	claims, id, ok := h.integrationRequest(w, r)
	if !ok {
		return
	}

	if h.streams == nil {
		h.writeError(w, http.StatusServiceUnavailable, "Event streaming is disabled", nil)
		return
	}

	if _, err := h.integrations.GetIntegration(r.Context(), id, claims.TenantID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.streams.Serve(w, r, events.IntegrationSubject(id.String()))
}

// ResolveConflict forces one side of a conflicted mapping to win
func (h *APIHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}

	mappingID, err := uuid.Parse(chi.URLParam(r, "mapping_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid mapping_id", err)
		return
	}

	var req struct {
		Resolution string `json:"resolution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	if err := h.syncs.ResolveConflict(r.Context(), mappingID, req.Resolution, claims.TenantID, claims.TenantURL); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.logger.Info("Conflict resolved via API",
		zap.String("mapping_id", mappingID.String()),
		zap.String("resolution", req.Resolution))

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"mapping_id": mappingID,
		"resolution": req.Resolution,
		"status":     "resolved",
	})
}

func (h *APIHandler) claims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, err := auth.GetClaimsFromContext(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "Unauthorized", err)
		return nil, false
	}
	return claims, true
}

func (h *APIHandler) integrationRequest(w http.ResponseWriter, r *http.Request) (*auth.Claims, uuid.UUID, bool) {
	claims, ok := h.claims(w, r)
	if !ok {
		return nil, uuid.Nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "integration_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid integration_id", err)
		return nil, uuid.Nil, false
	}
	return claims, id, true
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	var providerErr *core.ProviderError
	switch {
	case errors.Is(err, core.ErrIntegrationNotFound),
		errors.Is(err, core.ErrMappingNotFound),
		errors.Is(err, core.ErrPostNotFound),
		errors.Is(err, core.ErrRemotePageNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidConfig),
		errors.Is(err, core.ErrInvalidResolution),
		errors.Is(err, core.ErrConnectionTestFailed),
		errors.Is(err, core.ErrMissingTitleMapping),
		errors.Is(err, core.ErrIntegrationDisabled):
		return http.StatusUnprocessableEntity
	case errors.As(err, &providerErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.writeError(w, status, "Internal server error", err)
		return
	}
	h.writeError(w, status, err.Error(), nil)
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, status int, message string, err error) {
	fields := []zap.Field{
		zap.String("message", message),
		zap.Error(err),
		zap.Int("status", status),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("API error", fields...)
	} else {
		h.logger.Warn("API error", fields...)
	}

	response := map[string]interface{}{
		"error":     message,
		"timestamp": time.Now().UTC(),
	}

	// Internal failures are logged, not echoed
	if err != nil && status < http.StatusInternalServerError {
		response["details"] = err.Error()
	}

	h.writeJSON(w, status, response)
}

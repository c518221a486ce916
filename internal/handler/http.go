// Package handler provides the HTTP API for stat mutations and reads.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gamestats-service/internal/domain"
	"github.com/gamestats-service/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// StatMutator applies one bounded mutation
type StatMutator interface {
	ApplyEvent(ctx context.Context, event domain.StatMutationEvent) (*domain.PlayerGameStat, error)
}

// StatReader reads stat configuration and current values
type StatReader interface {
	GetStatByName(ctx context.Context, gameID, internalName string) (*domain.GameStat, error)
	GetAlias(ctx context.Context, aliasID string) (*domain.PlayerAlias, error)
	GetPlayerStat(ctx context.Context, playerID, statID string) (*domain.PlayerGameStat, error)
}

// ValueCache reads cached committed values
type ValueCache interface {
	GetStatValue(ctx context.Context, statID, playerID string) (float64, bool, error)
}

// AggregateReader serves analytics aggregates over snapshot history
type AggregateReader interface {
	AggregateStat(ctx context.Context, statID string) (*domain.StatAggregates, error)
}

// Handler provides HTTP handlers for the stats API
type Handler struct {
	mutator    StatMutator
	reader     StatReader
	cache      ValueCache
	aggregates AggregateReader
	hub        *websocket.Hub
	logger     *slog.Logger
}

// NewHandler creates a new HTTP handler. cache and aggregates may be nil
// when the backing stores are disabled.
func NewHandler(
	mutator StatMutator,
	reader StatReader,
	cache ValueCache,
	aggregates AggregateReader,
	hub *websocket.Hub,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		mutator:    mutator,
		reader:     reader,
		cache:      cache,
		aggregates: aggregates,
		hub:        hub,
		logger:     logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/games/{gameID}/stats/{statName}", func(r chi.Router) {
			r.Get("/", h.GetStatConfig)
			r.Get("/aggregates", h.GetStatAggregates)

			r.Route("/players/{aliasID}", func(r chi.Router) {
				r.Put("/", h.MutateStat)
				r.Get("/", h.GetPlayerStatValue)
			})
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeMutationError maps a mutation failure to its HTTP status
func (h *Handler) writeMutationError(w http.ResponseWriter, err error) {
	var rl *domain.RateLimitedError
	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", rl.RetryAfter.Seconds()))
		h.writeError(w, http.StatusTooManyRequests, err)
	case domain.IsValidationError(err):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	default:
		h.logger.Error("failed to apply mutation", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// mutationRequest is the body of a stat mutation
type mutationRequest struct {
	Change float64 `json:"change"`
}

// MutateStat applies one bounded change to a player's stat value
func (h *Handler) MutateStat(w http.ResponseWriter, r *http.Request) {
	var req mutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	event := domain.StatMutationEvent{
		GameID:        chi.URLParam(r, "gameID"),
		StatName:      chi.URLParam(r, "statName"),
		PlayerAliasID: chi.URLParam(r, "aliasID"),
		Change:        req.Change,
	}

	row, err := h.mutator.ApplyEvent(r.Context(), event)
	if err != nil {
		h.writeMutationError(w, err)
		return
	}

	h.writeSuccess(w, row)
}

// GetPlayerStatValue returns a player's current value for a stat,
// preferring the cache over the relational store
func (h *Handler) GetPlayerStatValue(w http.ResponseWriter, r *http.Request) {
	stat, alias, err := h.resolve(r)
	if err != nil {
		h.writeMutationError(w, err)
		return
	}

	if h.cache != nil {
		value, ok, err := h.cache.GetStatValue(r.Context(), stat.ID, alias.PlayerID)
		if err != nil {
			h.logger.Warn("cache read failed, falling back to store", "error", err)
		} else if ok {
			h.writeSuccess(w, map[string]interface{}{
				"stat_name": stat.InternalName,
				"player_id": alias.PlayerID,
				"value":     value,
			})
			return
		}
	}

	row, err := h.reader.GetPlayerStat(r.Context(), alias.PlayerID, stat.ID)
	if err != nil {
		if errors.Is(err, domain.ErrPlayerStatNotFound) {
			// No mutation yet: the player sits at the default.
			h.writeSuccess(w, map[string]interface{}{
				"stat_name": stat.InternalName,
				"player_id": alias.PlayerID,
				"value":     stat.DefaultValue,
			})
			return
		}
		h.logger.Error("failed to read player stat", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"stat_name": stat.InternalName,
		"player_id": alias.PlayerID,
		"value":     row.Value,
	})
}

// GetStatConfig returns a stat's configuration, including the global
// aggregate for global stats
func (h *Handler) GetStatConfig(w http.ResponseWriter, r *http.Request) {
	stat, err := h.reader.GetStatByName(r.Context(), chi.URLParam(r, "gameID"), chi.URLParam(r, "statName"))
	if err != nil {
		h.writeMutationError(w, err)
		return
	}
	h.writeSuccess(w, stat)
}

// GetStatAggregates returns value aggregates over the stat's snapshot
// history
func (h *Handler) GetStatAggregates(w http.ResponseWriter, r *http.Request) {
	if h.aggregates == nil {
		h.writeError(w, http.StatusNotFound, errors.New("analytics store disabled"))
		return
	}

	stat, err := h.reader.GetStatByName(r.Context(), chi.URLParam(r, "gameID"), chi.URLParam(r, "statName"))
	if err != nil {
		h.writeMutationError(w, err)
		return
	}

	aggregates, err := h.aggregates.AggregateStat(r.Context(), stat.ID)
	if err != nil {
		h.logger.Error("failed to aggregate stat", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}
	h.writeSuccess(w, aggregates)
}

// resolve loads the stat and alias addressed by the request path
func (h *Handler) resolve(r *http.Request) (*domain.GameStat, *domain.PlayerAlias, error) {
	stat, err := h.reader.GetStatByName(r.Context(), chi.URLParam(r, "gameID"), chi.URLParam(r, "statName"))
	if err != nil {
		return nil, nil, err
	}
	alias, err := h.reader.GetAlias(r.Context(), chi.URLParam(r, "aliasID"))
	if err != nil {
		return nil, nil, err
	}
	if alias.GameID != stat.GameID {
		return nil, nil, fmt.Errorf("alias %s does not belong to game %s: %w", alias.ID, stat.GameID, domain.ErrInvalidRequest)
	}
	return stat, alias, nil
}

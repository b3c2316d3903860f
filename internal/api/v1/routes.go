// Package v1 provides the read-only compose status API.
package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relengtools/composer/internal/api/common"
	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/store"
	"github.com/relengtools/composer/internal/versions"
)

// ComposeResponse describes one compose and the updates it owns
type ComposeResponse struct {
	Release      string             `json:"release"`
	Request      string             `json:"request"`
	ContentType  string             `json:"content_type"`
	State        string             `json:"state"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Checkpoints  models.Checkpoints `json:"checkpoints"`
	Security     bool               `json:"security"`
	Updates      []string           `json:"updates"`
	DateCreated  time.Time          `json:"date_created"`
	StateDate    time.Time          `json:"state_date"`
}

// ComposeListResponse is the body of GET /api/v1/composes
type ComposeListResponse struct {
	Composes []ComposeResponse `json:"composes"`
}

// Routes serves compose status from the store
type Routes struct {
	store store.Store
}

// Router creates the router for the compose API
func Router(s store.Store) http.Handler {
	routes := &Routes{store: s}

	r := chi.NewRouter()
	r.Get("/composes", routes.listComposes)
	r.Get("/composes/{release}/{request}", routes.getCompose)
	return r
}

func (rr *Routes) listComposes(w http.ResponseWriter, r *http.Request) {
	composes, err := rr.store.ListComposes(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list composes", "error", err)
		common.WriteErrorResponse(w, "Failed to list composes", http.StatusInternalServerError)
		return
	}

	resp := ComposeListResponse{Composes: make([]ComposeResponse, 0, len(composes))}
	for _, c := range composes {
		item, err := rr.describe(r, c)
		if err != nil {
			slog.ErrorContext(r.Context(), "Failed to load compose updates", "compose", c.Key(), "error", err)
			common.WriteErrorResponse(w, "Failed to list composes", http.StatusInternalServerError)
			return
		}
		resp.Composes = append(resp.Composes, item)
	}
	common.WriteJSONResponse(w, resp, http.StatusOK)
}

func (rr *Routes) getCompose(w http.ResponseWriter, r *http.Request) {
	release, request, err := common.ComposeParams(r)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := rr.store.GetCompose(r.Context(), release, request)
	if errors.Is(err, store.ErrComposeNotFound) {
		common.WriteErrorResponse(w, "Compose not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to get compose", "error", err)
		common.WriteErrorResponse(w, "Failed to get compose", http.StatusInternalServerError)
		return
	}

	item, err := rr.describe(r, c)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to load compose updates", "compose", c.Key(), "error", err)
		common.WriteErrorResponse(w, "Failed to get compose", http.StatusInternalServerError)
		return
	}
	common.WriteJSONResponse(w, item, http.StatusOK)
}

func (rr *Routes) describe(r *http.Request, c *models.Compose) (ComposeResponse, error) {
	updates, err := rr.store.ComposeUpdates(r.Context(), c)
	if err != nil {
		return ComposeResponse{}, err
	}
	item := ComposeResponse{
		Release:      c.ReleaseName,
		Request:      string(c.Request),
		ContentType:  string(c.ContentType),
		State:        string(c.State),
		ErrorMessage: c.ErrorMessage,
		Checkpoints:  c.Checkpoints,
		Updates:      make([]string, 0, len(updates)),
		DateCreated:  c.DateCreated,
		StateDate:    c.StateDate,
	}
	for _, u := range updates {
		item.Updates = append(item.Updates, u.Alias)
		item.Security = item.Security || u.IsSecurity()
	}
	return item, nil
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(s store.Store) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(s))
	r.Get("/version", versionHandler)

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, map[string]string{"status": "healthy"}, http.StatusOK)
}

// readinessHandler reports ready once the store answers queries
func readinessHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.ListComposes(r.Context()); err != nil {
			common.WriteErrorResponse(w, "Store not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		common.WriteJSONResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
	}
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()
	common.WriteJSONResponse(w, map[string]string{
		"version":    info.Version,
		"commit":     info.Commit,
		"build_date": info.BuildDate,
		"go_version": info.GoVersion,
		"platform":   info.Platform,
	}, http.StatusOK)
}

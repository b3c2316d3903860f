package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/relengtools/composer/internal/api"
	v1 "github.com/relengtools/composer/internal/api/v1"
	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/store"
	"github.com/relengtools/composer/internal/store/mocks"
)

var created = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func seededStore(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.SaveUpdate(ctx, &models.Update{
		Alias: "FEDORA-2024-a", ReleaseName: "F40", Request: models.RequestStable,
		Type: models.TypeSecurity, Locked: true, DateSubmitted: created,
		Builds: []*models.Build{{NVR: "bash-5.2-1.fc40", Type: models.ContentRPM}},
	}))
	stable := models.NewCompose("F40", models.RequestStable, models.ContentRPM, created)
	stable.SetState(models.ComposeFailed, created.Add(time.Hour))
	stable.ErrorMessage = "punging: compose tool exited with status 1"
	stable.Checkpoints.Mark("gating")
	require.NoError(t, s.CreateCompose(ctx, stable))
	require.NoError(t, s.CreateCompose(ctx, models.NewCompose("F39", models.RequestTesting, models.ContentRPM, created.Add(time.Minute))))
	return s
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	rr := get(t, api.NewServer(store.NewMemoryStore()), "/health")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var response map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "healthy", response["status"])
}

func TestReadinessEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedKey    string
	}{
		{name: "store ready", expectedStatus: http.StatusOK, expectedKey: "status"},
		{name: "store unavailable", err: errors.New("connection refused"), expectedStatus: http.StatusServiceUnavailable, expectedKey: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			mockStore := mocks.NewMockStore(ctrl)
			mockStore.EXPECT().ListComposes(gomock.Any()).Return(nil, tt.err)

			rr := get(t, api.NewServer(mockStore), "/readiness")

			assert.Equal(t, tt.expectedStatus, rr.Code)
			var response map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
			assert.Contains(t, response, tt.expectedKey)
		})
	}
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()

	rr := get(t, api.NewServer(store.NewMemoryStore()), "/version")

	assert.Equal(t, http.StatusOK, rr.Code)
	var response map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	for _, key := range []string{"version", "commit", "build_date", "go_version", "platform"} {
		assert.Contains(t, response, key)
	}
}

func TestListComposes(t *testing.T) {
	t.Parallel()

	rr := get(t, api.NewServer(seededStore(t)), "/api/v1/composes")
	require.Equal(t, http.StatusOK, rr.Code)

	var body v1.ComposeListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Composes, 2)

	stable := body.Composes[0]
	assert.Equal(t, "F40", stable.Release)
	assert.Equal(t, "stable", stable.Request)
	assert.Equal(t, "failed", stable.State)
	assert.Equal(t, "punging: compose tool exited with status 1", stable.ErrorMessage)
	assert.Equal(t, []string{"FEDORA-2024-a"}, stable.Updates)
	assert.True(t, stable.Security)
	assert.Equal(t, true, stable.Checkpoints["gating"])

	requested := body.Composes[1]
	assert.Equal(t, "requested", requested.State)
	assert.Empty(t, requested.Updates)
	assert.False(t, requested.Security)
}

func TestGetCompose(t *testing.T) {
	t.Parallel()

	server := api.NewServer(seededStore(t))

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{name: "existing", path: "/api/v1/composes/F40/stable", status: http.StatusOK},
		{name: "missing", path: "/api/v1/composes/F38/stable", status: http.StatusNotFound},
		{name: "unknown request", path: "/api/v1/composes/F40/nightly", status: http.StatusBadRequest},
		{name: "obsolete is not a compose", path: "/api/v1/composes/F40/obsolete", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rr := get(t, server, tt.path)
			assert.Equal(t, tt.status, rr.Code)
		})
	}

	var c v1.ComposeResponse
	require.NoError(t, json.Unmarshal(get(t, server, "/api/v1/composes/F40/stable").Body.Bytes(), &c))
	assert.Equal(t, "rpm", c.ContentType)
	assert.Equal(t, []string{"FEDORA-2024-a"}, c.Updates)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("composer_push_composes_total 1\n"))
	})

	rr := get(t, api.NewServer(store.NewMemoryStore(), api.WithMetricsHandler(metrics)), "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "composer_push_composes_total")

	rr = get(t, api.NewServer(store.NewMemoryStore()), "/metrics")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	rr := get(t, api.NewServer(store.NewMemoryStore(), api.WithMiddlewares(api.LoggingMiddleware)), "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
}

// ABOUTME: Tests for gateway construction, health endpoints and shutdown
// ABOUTME: Uses real SQLite files under t.TempDir() and httptest recorders

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/forgestate/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "state.db")
	return cfg
}

func newTestGateway(t *testing.T, mutate func(*config.Config)) *Gateway {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	gw, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

func serve(gw *Gateway, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := serve(gw, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReady(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := serve(gw, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, gw.docs.Close())
	rec = serve(gw, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDPropagated(t *testing.T) {
	gw := newTestGateway(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := serve(gw, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	gw := newTestGateway(t, nil)

	// one read creates the default record and sets the progress gauge
	serve(gw, httptest.NewRequest(http.MethodGet, "/api/project-state", nil))

	rec := serve(gw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "forgestate_checklist_total_steps 300")
	assert.Contains(t, rec.Body.String(), `forgestate_state_writes_total{op="create",result="success"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	gw := newTestGateway(t, func(c *config.Config) { c.Metrics.Enabled = false })

	rec := serve(gw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNew_CustomStepTable(t *testing.T) {
	steps := filepath.Join(t.TempDir(), "steps.toml")
	require.NoError(t, os.WriteFile(steps, []byte(`
[[sequence]]
category = "Lab"
count = 4
chain = true
`), 0o644))

	gw := newTestGateway(t, func(c *config.Config) { c.Checklist.StepsFile = steps })

	st, err := gw.service.GetState(context.Background())
	require.NoError(t, err)
	assert.Len(t, st.Checklist, 4)
}

func TestNew_BadStepTable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Checklist.StepsFile = filepath.Join(t.TempDir(), "missing.toml")

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading step table")
}

func TestNew_CustomCodexCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- id: lab-notes
  title: Lab notes
  category: Reference
  complexity: low
  description: "Keep *everything*."
`), 0o644))

	gw := newTestGateway(t, func(c *config.Config) { c.Codex.CatalogFile = path })

	items := gw.service.Codex(context.Background())
	require.Len(t, items, 1)
	assert.Equal(t, "lab-notes", items[0].ID)
	assert.True(t, strings.Contains(items[0].DescriptionHTML, "<em>everything</em>"))
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "postgres"

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestNew_RejectsBadMetricsPath(t *testing.T) {
	for _, path := range []string{"", "metrics"} {
		cfg := testConfig(t)
		cfg.Metrics.Path = path

		_, err := New(context.Background(), cfg, nil)
		require.Error(t, err, "path %q", path)
		assert.Contains(t, err.Error(), "metrics.path")
		// nothing was opened, so the database file must not exist
		_, statErr := os.Stat(cfg.Database.Path)
		assert.True(t, os.IsNotExist(statErr), "path %q", path)
	}
}

func TestNew_GRPCOnlyWhenConfigured(t *testing.T) {
	gw := newTestGateway(t, nil)
	assert.Nil(t, gw.grpcServer)

	gw = newTestGateway(t, func(c *config.Config) { c.Server.GRPCAddr = "127.0.0.1:0" })
	assert.NotNil(t, gw.grpcServer)
}

func TestRun_ServesUntilCanceled(t *testing.T) {
	gw := newTestGateway(t, func(c *config.Config) {
		c.Server.HTTPAddr = "127.0.0.1:0"
		c.Server.GRPCAddr = "127.0.0.1:0"
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	cancel()
	require.NoError(t, <-done)
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	require.Error(t, err)

	key, err := resolveTailscaleAuthKey("tskey-configured")
	require.NoError(t, err)
	assert.Equal(t, "tskey-configured", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/srv/ts")
	require.NoError(t, err)
	assert.Equal(t, "/srv/ts", dir)

	t.Setenv("HOME", "/home/forge")
	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/forge", ".local", "share", "forgestate", "tailscale"), dir)
}

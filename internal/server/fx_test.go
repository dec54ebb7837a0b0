package server

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-validator/internal/config"
	"github.com/JakeFAU/link-validator/internal/links"
	"github.com/JakeFAU/link-validator/internal/service"
)

func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 8080, ShutdownTimeout: 2 * time.Second},
		API:     config.APIConfig{RequestTimeout: 5 * time.Second, MaxPageSize: 100},
		Store:   config.StoreConfig{Driver: config.StoreMemory},
		Channel: config.ChannelConfig{Driver: config.ChannelMemory, Name: "link-validation", Capacity: 64},
		Worker:  config.WorkerConfig{Concurrency: 2, StoreRetries: 1, RestartDelay: 10 * time.Millisecond},
		Probe:   config.ProbeConfig{Timeout: 2 * time.Second, ConnectTimeout: time.Second, UserAgent: "link-validator-test"},
		Reconciler: config.ReconcilerConfig{
			Enabled:    true,
			Schedule:   "@every 1h",
			StaleAfter: time.Minute,
			BatchSize:  10,
		},
		Telemetry: config.TelemetryConfig{ServiceName: "link-validator-test", SampleRatio: 1},
	}
}

func targetServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// runApp starts the worker roles and returns a func that stops them and
// reports Run's error.
func runApp(t *testing.T, app *App, roles Roles) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx, roles) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("app did not stop")
			return nil
		}
	}
}

func waitForStatus(t *testing.T, app *App, id string, want links.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		link, err := app.Service().Get(context.Background(), id)
		return err == nil && link.Status == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBuildWithMemoryDrivers(t *testing.T) {
	target := targetServer(t)
	ctx := context.Background()

	app, err := Build(ctx, testConfig(), zap.NewNop())
	require.NoError(t, err)
	stop := runApp(t, app, Roles{Workers: true, Reconciler: true})

	ok, err := app.Service().Submit(ctx, service.Input{URL: target.URL + "/ok"})
	require.NoError(t, err)
	missing, err := app.Service().Submit(ctx, service.Input{URL: target.URL + "/missing"})
	require.NoError(t, err)

	waitForStatus(t, app, ok.ID, links.StatusValidated)
	waitForStatus(t, app, missing.ID, links.StatusBroken)

	require.NoError(t, stop())
	require.NoError(t, app.Close(ctx))
}

func TestHandlerServesAPI(t *testing.T) {
	ctx := context.Background()
	app, err := Build(ctx, testConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	req := httptest.NewRequest(http.MethodPost, "/api/links", bytes.NewBufferString(`{"url":"https://example.com"}`))
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildWithSQLiteAndRedisStream(t *testing.T) {
	target := targetServer(t)
	mr := miniredis.RunT(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.Store = config.StoreConfig{Driver: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "links.db")}
	cfg.Channel.Driver = config.ChannelRedisStream
	cfg.Channel.Redis = config.RedisConfig{
		Addr:         mr.Addr(),
		Group:        "test-workers",
		Block:        50 * time.Millisecond,
		BatchSize:    5,
		ClaimMinIdle: time.Minute,
	}

	app, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	stop := runApp(t, app, Roles{Workers: true})

	link, err := app.Service().Submit(ctx, service.Input{URL: target.URL + "/ok"})
	require.NoError(t, err)
	waitForStatus(t, app, link.ID, links.StatusValidated)

	require.NoError(t, stop())
	require.NoError(t, app.Close(ctx))
}

func TestBuildRejectsUnknownDrivers(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	cfg.Store.Driver = "mongo"
	_, err := Build(ctx, cfg, zap.NewNop())
	require.ErrorContains(t, err, "unsupported store driver")

	cfg = testConfig()
	cfg.Channel.Driver = "kafka"
	_, err = Build(ctx, cfg, zap.NewNop())
	require.ErrorContains(t, err, "unsupported channel driver")
}

func TestBuildRejectsBadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Reconciler.Schedule = "whenever"
	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "reconciler init failed")
}

func TestRunReportsListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	cfg := testConfig()
	cfg.Server.Port = ln.Addr().(*net.TCPAddr).Port

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	err = app.Run(context.Background(), Roles{API: true, Workers: true})
	require.ErrorContains(t, err, "http server")
}

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robometrics/robometrics/pkg/analytics"
	"github.com/robometrics/robometrics/pkg/archive"
	"github.com/robometrics/robometrics/pkg/config"
	"github.com/robometrics/robometrics/pkg/ingest"
	"github.com/robometrics/robometrics/pkg/parser"
	"github.com/robometrics/robometrics/pkg/store"
)

func setupRateLimitedServer(t *testing.T, requestsPerMinute int) (*server, http.Handler) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	historyDir := t.TempDir()

	st, err := store.New(log, historyDir)
	require.NoError(t, err)

	service := ingest.NewService(
		log,
		parser.New(log),
		st,
		archive.New(log, t.TempDir(), historyDir),
	)

	srv := &server{
		log: log,
		cfg: &config.ServerConfig{
			Listen: ":0",
			RateLimit: config.RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: requestsPerMinute,
			},
		},
		service: service,
		engine:  analytics.NewEngine(st),
	}

	return srv, srv.buildRouter()
}

func TestRateLimitMiddleware_ExceedingBurstIsRejected(t *testing.T) {
	srv, router := setupRateLimitedServer(t, 2)
	t.Cleanup(srv.limiter.stop)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimitMiddleware_PerIP(t *testing.T) {
	srv, router := setupRateLimitedServer(t, 1)
	t.Cleanup(srv.limiter.stop)

	first := httptest.NewRequest(http.MethodGet, "/health", nil)
	first.RemoteAddr = "10.0.0.1:1000"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	// The first client is now exhausted; a second client is not.
	exhausted := httptest.NewRequest(http.MethodGet, "/health", nil)
	exhausted.RemoteAddr = "10.0.0.1:1001"
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, exhausted)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	other := httptest.NewRequest(http.MethodGet, "/health", nil)
	other.RemoteAddr = "10.0.0.2:1000"
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterMap_StopTerminatesCleanup(t *testing.T) {
	rl := newRateLimiterMap(60)

	// The cleanup goroutine exits once done is closed; a second stop
	// would panic, so Stop must be the single owner of the channel.
	rl.stop()

	select {
	case <-rl.done:
	default:
		t.Fatal("done channel not closed")
	}

	// The limiter map itself keeps working after stop.
	assert.NotNil(t, rl.getLimiter("10.0.0.1"))
}

func TestServerStop_WithoutStart(t *testing.T) {
	srv, _ := setupRateLimitedServer(t, 1)

	// Stop before Start: no listener, but the limiter built by the
	// router still gets shut down.
	require.NoError(t, srv.Stop())
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		expected   string
	}{
		{name: "host port", remoteAddr: "192.0.2.1:1234", expected: "192.0.2.1"},
		{name: "no port", remoteAddr: "192.0.2.1", expected: "192.0.2.1"},
		{name: "forwarded single", remoteAddr: "10.0.0.1:80", forwarded: "203.0.113.9", expected: "203.0.113.9"},
		{name: "forwarded chain", remoteAddr: "10.0.0.1:80", forwarded: "203.0.113.9, 10.0.0.2", expected: "203.0.113.9"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr

			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}

			assert.Equal(t, tc.expected, extractIP(req))
		})
	}
}

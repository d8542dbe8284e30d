// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quiet = slog.New(slog.DiscardHandler)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code, rec.Body.String()
}

func stop(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s := NewServer("127.0.0.1:0", quiet, nil)
	s.Metrics().RequestsTotal.WithLabelValues("/login", "POST", "200").Inc()

	code, body := get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, "process_")
	assert.Contains(t, body, `sessionauth_http_requests_total{method="POST",route="/login",status="200"} 1`)
}

func TestServer_RegistryAcceptsCollectors(t *testing.T) {
	s := NewServer("127.0.0.1:0", quiet, nil)
	m := NewHTTPMetrics(prometheus.WrapRegistererWithPrefix("extra_", s.Registry()))
	m.RequestDuration.WithLabelValues("/me").Observe(0.01)

	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration))
	_, body := get(t, s.Handler(), "/metrics")
	assert.Contains(t, body, "extra_sessionauth_http_request_duration_seconds")
}

func TestServer_Liveness(t *testing.T) {
	code, body := get(t, NewServer("127.0.0.1:0", quiet, nil).Handler(), "/healthz/liveness")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name  string
		check ReadinessCheck
		code  int
		body  string
	}{
		{"no check", nil, http.StatusOK, "ok"},
		{"ready", func(context.Context) error { return nil }, http.StatusOK, "ok"},
		{"postgres down", func(context.Context) error { return errors.New("dial tcp: refused") }, http.StatusServiceUnavailable, "not ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := get(t, NewServer("127.0.0.1:0", quiet, tt.check).Handler(), "/healthz/readiness")
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.body, strings.TrimSpace(body))
		})
	}
}

func TestServer_ReadinessCheckHasDeadline(t *testing.T) {
	var hasDeadline bool
	s := NewServer("127.0.0.1:0", quiet, func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	})
	get(t, s.Handler(), "/healthz/readiness")
	assert.True(t, hasDeadline)
}

func TestServer_StartStop(t *testing.T) {
	s := NewServer("127.0.0.1:0", quiet, nil)
	errCh, err := s.Start()
	require.NoError(t, err)
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/healthz/liveness")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "ok\n", string(body))

	_, err = s.Start()
	assert.Error(t, err, "double start")

	stop(t, s)
	stop(t, s)

	select {
	case err, ok := <-errCh:
		assert.False(t, ok && err != nil, "unexpected serve error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("error channel not closed after stop")
	}
	http.DefaultClient.CloseIdleConnections()
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	s := NewServer("127.0.0.1:0", quiet, nil)
	errCh, err := s.Start()
	require.NoError(t, err)

	require.NoError(t, s.listener.Close())

	select {
	case serveErr := <-errCh:
		assert.Error(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("serve error not reported")
	}
	stop(t, s)
}

func TestServer_StopWithoutStart(t *testing.T) {
	stop(t, NewServer("127.0.0.1:0", quiet, nil))
}

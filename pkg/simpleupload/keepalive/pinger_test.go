package keepalive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DisabledWithoutURL(t *testing.T) {
	p := New(Config{})
	assert.Nil(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.NoError(t, p.Run(ctx))
}

func TestPinger_PingsOnInterval(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := New(Config{URL: server.URL + "/ping", Interval: 10 * time.Millisecond})
	require.NotNil(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	assert.Eventually(t, func() bool { return hits.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, 0.0, testutil.ToFloat64(p.failures))
}

func TestPinger_FailuresAreCountedAndLoopContinues(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := New(Config{URL: server.URL, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	assert.Eventually(t, func() bool { return testutil.ToFloat64(p.failures) >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, hits.Load(), int32(2))
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			_, _ = w.Write([]byte("OK"))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	assert.NoError(t, Ping(context.Background(), nil, server.URL+"/ping", time.Second))
	assert.Error(t, Ping(context.Background(), nil, server.URL+"/missing", time.Second))
	assert.Error(t, Ping(context.Background(), nil, "http://127.0.0.1:1/ping", time.Second))
}

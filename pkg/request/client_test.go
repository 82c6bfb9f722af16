package request

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airmap/pkg/cache"
	"airmap/pkg/tracker"
)

func testConfig() ClientConfig {
	return ClientConfig{
		Retries:   3,
		Timeout:   2 * time.Second,
		BaseDelay: time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
	}
}

func host(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Host
}

func TestGet_Retry(t *testing.T) {
	var attempts atomic.Int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("success"))
	}))
	defer svr.Close()

	tr := tracker.New()
	client := New(nil, tr, testConfig())

	body, err := client.Get(context.Background(), svr.URL, "")
	require.NoError(t, err)
	assert.Equal(t, "success", string(body))
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, int64(1), tr.Snapshot()[host(t, svr.URL)].APISuccess)
}

func TestGet_MaxRetries(t *testing.T) {
	var attempts atomic.Int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer svr.Close()

	tr := tracker.New()
	client := New(nil, tr, testConfig())

	_, err := client.Get(context.Background(), svr.URL, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetries)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, int32(3), attempts.Load())

	fc, _ := client.backoff.GetState(host(t, svr.URL))
	assert.Equal(t, 1, fc)
	assert.Equal(t, int64(1), tr.Snapshot()[host(t, svr.URL)].APIFailures)
}

func TestGet_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Map layer not found"}`))
	}))
	defer svr.Close()

	client := New(nil, nil, testConfig())
	_, err := client.Get(context.Background(), svr.URL, "")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.JSONEq(t, `{"detail":"Map layer not found"}`, string(se.Body))
	assert.Equal(t, int32(1), attempts.Load())

	fc, _ := client.backoff.GetState(host(t, svr.URL))
	assert.Equal(t, 0, fc, "client errors do not trip the backoff gate")
}

func TestGet_Cache(t *testing.T) {
	var attempts atomic.Int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	defer svr.Close()

	tr := tracker.New()
	client := New(cache.NewLRU(8, time.Minute), tr, testConfig())

	for i := 0; i < 3; i++ {
		body, err := client.Get(context.Background(), svr.URL, "airspace:100")
		require.NoError(t, err)
		assert.Contains(t, string(body), "FeatureCollection")
	}

	assert.Equal(t, int32(1), attempts.Load())
	s := tr.Snapshot()[host(t, svr.URL)]
	assert.Equal(t, int64(2), s.CacheHits)
	assert.Equal(t, int64(1), s.CacheMisses)
}

func TestGet_Headers(t *testing.T) {
	ids := make(chan string, 2)
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids <- r.Header.Get("X-Request-ID")
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Contains(t, r.Header.Get("User-Agent"), "airmap/")
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		_, _ = w.Write([]byte("{}"))
	}))
	defer svr.Close()

	client := New(nil, nil, testConfig())
	for i := 0; i < 2; i++ {
		_, err := client.GetWithHeaders(context.Background(), svr.URL, map[string]string{"X-Test": "yes"}, "")
		require.NoError(t, err)
	}

	first, second := <-ids, <-ids
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}

func TestGet_Cancelled(t *testing.T) {
	release := make(chan struct{})
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer svr.Close()
	defer close(release)

	tr := tracker.New()
	client := New(nil, tr, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := client.Get(ctx, svr.URL, "")
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("request was not aborted")
	}
	assert.Equal(t, int64(1), tr.Snapshot()[host(t, svr.URL)].APICancelled)
}

func TestGet_InvalidURL(t *testing.T) {
	client := New(nil, nil, testConfig())
	_, err := client.Get(context.Background(), "://bad", "")
	assert.Error(t, err)
}

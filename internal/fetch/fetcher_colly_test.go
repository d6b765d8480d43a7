package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testFetchConfig() Config {
	return Config{
		UserAgent:      "harvester-test/1.0",
		Timeout:        5 * time.Second,
		RetryAttempts:  1,
		RetryBaseDelay: time.Millisecond,
	}
}

func TestCollyFetcherFetch(t *testing.T) {
	var gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.UserAgent()
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>finance</body></html>"))
	}))
	defer srv.Close()

	f, err := NewCollyFetcher(testFetchConfig(), zap.NewNop())
	require.NoError(t, err)

	page, err := f.Fetch(context.Background(), srv.URL+"/finance/")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/finance/", page.URL)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Contains(t, string(page.Body), "finance")
	assert.Equal(t, "harvester-test/1.0", gotAgent)
	assert.NotEmpty(t, page.Headers["Content-Type"])
}

func TestCollyFetcherRevisitsSameURL(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f, err := NewCollyFetcher(testFetchConfig(), zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, hits)
}

func TestCollyFetcherHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f, err := NewCollyFetcher(testFetchConfig(), zap.NewNop())
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.False(t, Transient(err))
}

func TestCollyFetcherUnreachable(t *testing.T) {
	// Reserve a port and close it so the connection is refused.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	f, err := NewCollyFetcher(testFetchConfig(), zap.NewNop())
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "http://"+addr+"/")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreachable) || errors.Is(err, ErrTimeout))
	assert.True(t, Transient(err))
}

func TestCollyFetcherTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	cfg := testFetchConfig()
	cfg.Timeout = 200 * time.Millisecond
	f, err := NewCollyFetcher(cfg, zap.NewNop())
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), srv.URL+"/slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	// A client timeout also satisfies errors.Is(err, context.DeadlineExceeded);
	// it must still be treated as retryable.
	assert.True(t, Transient(err))
}

func TestRetryingFetcherRetriesRealTimeout(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			time.Sleep(time.Second)
			return
		}
		w.Write([]byte("<html>finance</html>"))
	}))
	defer srv.Close()

	cfg := testFetchConfig()
	cfg.Timeout = 200 * time.Millisecond
	inner, err := NewCollyFetcher(cfg, zap.NewNop())
	require.NoError(t, err)
	f := NewRetryingFetcher(inner, &ExponentialRetryPolicy{
		maxAttempts: 3,
		baseDelay:   time.Millisecond,
		maxDelay:    5 * time.Millisecond,
	}, zap.NewNop())

	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 200, page.StatusCode)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestClassifyFetchError(t *testing.T) {
	err := classifyFetchError("http://x", nil, &net.OpError{Op: "dial", Err: errors.New("connection refused")})
	assert.ErrorIs(t, err, ErrUnreachable)

	err = classifyFetchError("http://x", nil, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrTimeout)
}

// Package fetch retrieves raw finance-page content over HTTP(S) and FTP.
// It defines the fetcher interfaces, the error taxonomy the pipeline branches
// on, and a retrying wrapper for transient failures.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors for the network layer. HTTP status failures carry the code
// in an HTTPError instead.
var (
	// ErrUnreachable marks DNS and connection failures.
	ErrUnreachable = errors.New("host unreachable")
	// ErrTimeout marks requests that exceeded the configured deadline.
	ErrTimeout = errors.New("request timed out")
)

// HTTPError is a non-2xx response surfaced as an error.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d fetching %s", e.Status, e.URL)
}

// Transient reports whether the error is worth retrying: timeouts, connection
// failures and 5xx responses. 4xx responses are final. The sentinel checks
// come first: an http client timeout also satisfies
// errors.Is(err, context.DeadlineExceeded), and checking the context sentinels
// before ErrTimeout would make every real timeout look final. Caller
// cancellation carries neither sentinel and falls through to false; the
// retrying wrappers additionally consult ctx.Err() before waiting.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnreachable) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status >= 500
	}
	return false
}

// Page is the raw result of fetching one URL.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    map[string][]string
	Body       []byte
}

// Listing is the uniform result of listing an FTP directory.
type Listing struct {
	DirURL string
	Names  []string
}

// Fetcher retrieves a page over HTTP(S).
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Lister retrieves a directory listing over FTP.
type Lister interface {
	ListDir(ctx context.Context, rawURL string) (Listing, error)
}

// Config holds the settings for the fetch layer.
// This struct is decoupled from Viper, making the fetchers easier to test.
type Config struct {
	UserAgent      string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// LoadConfig builds a fetch Config from the given Viper instance.
func LoadConfig(v *viper.Viper) Config {
	cfg := Config{
		UserAgent:      v.GetString("harvester.user_agent"),
		Timeout:        time.Duration(v.GetInt("http.timeout_seconds")) * time.Second,
		RetryAttempts:  v.GetInt("http.retry_attempts"),
		RetryBaseDelay: v.GetDuration("http.retry_base_delay"),
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	return cfg
}

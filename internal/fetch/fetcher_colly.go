package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/munifin/harvester/internal/metrics"
	"go.uber.org/zap"
)

// CollyFetcher implements the Fetcher interface using the Colly collector.
type CollyFetcher struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewCollyFetcher constructs a configured Colly-based Fetcher.
func NewCollyFetcher(cfg Config, logger *zap.Logger) (*CollyFetcher, error) {
	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
		colly.IgnoreRobotsTxt(),
	)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)

	return &CollyFetcher{
		baseCollector: base,
		logger:        logger,
	}, nil
}

// Fetch retrieves a page via the configured Colly collector.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		headers := map[string][]string{}
		if r.Headers != nil {
			for k, v := range *r.Headers {
				cp := make([]string, len(v))
				copy(cp, v)
				headers[k] = cp
			}
		}
		page := Page{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte{}, r.Body...),
		}
		send(fetchResult{page: page})
	})

	collector.OnError(func(r *colly.Response, err error) {
		send(fetchResult{err: classifyFetchError(rawURL, r, err)})
	})

	if err := collector.Visit(rawURL); err != nil {
		metrics.FetchErrors.Inc()
		return Page{}, classifyFetchError(rawURL, nil, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return Page{}, err
		}
		if res.err != nil {
			metrics.FetchErrors.Inc()
			return Page{}, res.err
		}
		metrics.PagesFetched.Inc()
		return res.page, nil
	default:
		return Page{}, errors.New("colly fetch produced no result")
	}
}

type fetchResult struct {
	page Page
	err  error
}

// classifyFetchError maps transport failures onto the package error taxonomy.
func classifyFetchError(rawURL string, r *colly.Response, err error) error {
	if r != nil && r.StatusCode >= 400 {
		return &HTTPError{Status: r.StatusCode, URL: rawURL}
	}
	if err == nil {
		return errors.New("unknown colly error")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Join(ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "no such host") || strings.Contains(msg, "connection refused") {
		return errors.Join(ErrUnreachable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Join(ErrUnreachable, err)
	}
	return err
}

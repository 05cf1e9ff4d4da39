package logstore

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPFetcher reads logs from the build system's download server
type HTTPFetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	logger    *zap.Logger
	topURL    string
	maxBytes  int64
	userAgent string
}

// NewHTTPFetcher creates a fetcher rooted at opts.TopURL
func NewHTTPFetcher(opts Options, logger *zap.Logger) *HTTPFetcher {
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "channel-validator/1.0"
	}

	return &HTTPFetcher{
		client:    createHTTPClient(opts.Timeout),
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger,
		topURL:    strings.TrimSuffix(opts.TopURL, "/"),
		maxBytes:  maxBytes,
		userAgent: userAgent,
	}
}

// createHTTPClient creates the client shared by every log download
func createHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		// Overall request timeout (connection + headers + body read)
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// URL returns the absolute location of a relative log path
func (f *HTTPFetcher) URL(path string) string {
	return f.topURL + "/" + strings.TrimPrefix(path, "/")
}

// Fetch downloads one log. A 404 is reported as ErrLogNotFound.
func (f *HTTPFetcher) Fetch(ctx context.Context, path string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	logURL := f.URL(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	f.logger.Debug("Fetching log", zap.String("url", logURL))

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", logURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return "", fmt.Errorf("%s: %w", logURL, ErrLogNotFound)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, logURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", logURL, err)
	}
	if int64(len(data)) > f.maxBytes {
		f.logger.Warn("Log exceeds size limit, truncating",
			zap.String("url", logURL),
			zap.Int64("max_bytes", f.maxBytes))
		data = data[:f.maxBytes]
	}

	return string(data), nil
}

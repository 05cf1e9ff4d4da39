// Package logstore retrieves build log text by its path relative to the
// build system's top directory, either over HTTP or from a local mirror.
package logstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// ErrLogNotFound is returned when the store has no log at the requested path.
// Callers treat it as "no data for this architecture", not as a failure.
var ErrLogNotFound = errors.New("log not found")

// DefaultMaxBytes caps how much of a single log is read
const DefaultMaxBytes = 4 * 1024 * 1024

// Fetcher retrieves log text by relative path
type Fetcher interface {
	Fetch(ctx context.Context, path string) (string, error)
}

// Options configures a Fetcher
type Options struct {
	// TopURL is the base the relative log paths hang off. http and https
	// URLs are fetched over the network, file URLs and plain paths are read
	// from disk.
	TopURL string

	Timeout time.Duration

	// MaxBytes caps each read; larger logs are truncated
	MaxBytes int64

	// RateLimit is the maximum number of HTTP requests per second, 0 for no
	// limit. Burst defaults to 1.
	RateLimit float64
	Burst     int

	UserAgent string
}

// New returns the Fetcher matching the scheme of opts.TopURL
func New(opts Options, logger *zap.Logger) (Fetcher, error) {
	if opts.TopURL == "" {
		return nil, fmt.Errorf("log store top url is required")
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}

	u, err := url.Parse(opts.TopURL)
	if err != nil {
		return nil, fmt.Errorf("invalid log store url %q: %w", opts.TopURL, err)
	}

	switch u.Scheme {
	case "http", "https":
		return NewHTTPFetcher(opts, logger), nil
	case "file":
		return NewDirFetcher(u.Path, opts.MaxBytes, logger)
	case "":
		return NewDirFetcher(opts.TopURL, opts.MaxBytes, logger)
	default:
		return nil, fmt.Errorf("unsupported log store scheme: %s", u.Scheme)
	}
}

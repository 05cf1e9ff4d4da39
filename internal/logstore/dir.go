package logstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// DirFetcher reads logs from a local mirror of the build system's top
// directory (an NFS mount, or a fixture tree in tests)
type DirFetcher struct {
	root     string
	maxBytes int64
	logger   *zap.Logger
}

// NewDirFetcher creates a fetcher rooted at dir
func NewDirFetcher(dir string, maxBytes int64, logger *zap.Logger) (*DirFetcher, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid log root %q: %w", dir, err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &DirFetcher{root: filepath.Clean(root), maxBytes: maxBytes, logger: logger}, nil
}

// resolve maps a relative log path into the root, refusing anything that
// would escape it
func (f *DirFetcher) resolve(path string) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(path, "/"))
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == ".." {
			return "", fmt.Errorf("log path escapes root: %s", path)
		}
	}

	full := filepath.Clean(filepath.Join(f.root, rel))
	if full != f.root && !strings.HasPrefix(full, f.root+string(filepath.Separator)) {
		return "", fmt.Errorf("log path escapes root: %s", path)
	}
	return full, nil
}

// Fetch reads one log. A missing file is reported as ErrLogNotFound.
func (f *DirFetcher) Fetch(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	full, err := f.resolve(path)
	if err != nil {
		return "", err
	}

	file, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", path, ErrLogNotFound)
		}
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		return "", fmt.Errorf("%s is a directory: %w", path, ErrLogNotFound)
	}

	data, err := io.ReadAll(io.LimitReader(file, f.maxBytes))
	if err != nil {
		return "", fmt.Errorf("error reading file: %w", err)
	}
	if stat.Size() > f.maxBytes {
		f.logger.Warn("Log exceeds size limit, truncating",
			zap.String("path", full),
			zap.Int64("max_bytes", f.maxBytes))
	}

	return string(data), nil
}

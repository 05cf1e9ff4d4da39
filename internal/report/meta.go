package report

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"
)

// NewMeta describes the machine running the audit. Host lookups that fail
// only leave fields empty.
func NewMeta(ctx context.Context, version, hubURL string, logger *zap.Logger) Meta {
	meta := Meta{
		GeneratedAt: timestamp(time.Now()),
		Version:     version,
		HubURL:      hubURL,
	}

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		logger.Warn("Failed to collect host info", zap.Error(err))
		if name, err := os.Hostname(); err == nil {
			meta.Hostname = name
		}
		return meta
	}

	meta.Hostname = info.Hostname
	meta.Platform = strings.TrimSpace(strings.Join([]string{info.Platform, info.PlatformVersion}, " "))
	return meta
}

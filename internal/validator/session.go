package validator

import (
	"context"

	"github.com/stone-age-io/channel-validator/internal/buildsys"
)

// ChannelLister is the part of the build hub the collector needs
type ChannelLister interface {
	ListChannels(ctx context.Context) ([]buildsys.Channel, error)
	ListHosts(ctx context.Context, channelID int) ([]buildsys.Host, error)
}

// TaskLookup is the part of the build hub the aggregator needs
type TaskLookup interface {
	ListTasks(ctx context.Context, hostID int, limit int) ([]buildsys.Task, error)
	GetBuild(ctx context.Context, buildID int) (*buildsys.Build, error)
}

// LogFetcher returns the raw text of one log, by path relative to the build
// system's top directory
type LogFetcher interface {
	Fetch(ctx context.Context, path string) (string, error)
}

// Session is the full read-only hub surface. *buildsys.Session implements it.
type Session interface {
	ChannelLister
	TaskLookup
}

var _ Session = (*buildsys.Session)(nil)

package validator

import (
	"context"
	"fmt"

	"github.com/stone-age-io/channel-validator/internal/buildsys"
	"go.uber.org/zap"
)

// CollectChannels returns every channel on the hub, in hub order, each with
// its host list populated and fingerprints left empty. Any hub error aborts
// the collection.
func CollectChannels(ctx context.Context, lister ChannelLister, logger *zap.Logger) ([]*Channel, error) {
	records, err := lister.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return collectHosts(ctx, lister, records, logger)
}

// CollectNamed is CollectChannels restricted to the named channels. The
// result keeps hub order, not the order of names. Unknown names are an error.
func CollectNamed(ctx context.Context, lister ChannelLister, names []string, logger *zap.Logger) ([]*Channel, error) {
	if len(names) == 0 {
		return CollectChannels(ctx, lister, logger)
	}

	records, err := lister.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	var selected []buildsys.Channel
	for _, rec := range records {
		if wanted[rec.Name] {
			selected = append(selected, rec)
			delete(wanted, rec.Name)
		}
	}
	for _, name := range names {
		if wanted[name] {
			return nil, fmt.Errorf("unknown channel: %s", name)
		}
	}

	return collectHosts(ctx, lister, selected, logger)
}

func collectHosts(ctx context.Context, lister ChannelLister, records []buildsys.Channel, logger *zap.Logger) ([]*Channel, error) {
	channels := make([]*Channel, 0, len(records))

	for _, rec := range records {
		hosts, err := lister.ListHosts(ctx, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list hosts of channel %s: %w", rec.Name, err)
		}

		channel := NewChannel(rec)
		channel.Hosts = make([]*Host, 0, len(hosts))
		for _, h := range hosts {
			channel.Hosts = append(channel.Hosts, NewHost(h))
		}

		logger.Debug("Collected channel",
			zap.String("channel", channel.Name),
			zap.Int("channel_id", channel.ID),
			zap.Int("hosts", len(channel.Hosts)))

		channels = append(channels, channel)
	}

	return channels, nil
}

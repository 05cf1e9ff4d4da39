package nats

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stone-age-io/channel-validator/internal/report"
	"go.uber.org/zap"
)

// Publisher publishes raw messages; Client implements it
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ChannelMessage is the payload published for one channel and returned by
// the audit command
type ChannelMessage struct {
	Meta    report.Meta          `json:"meta"`
	Channel report.ChannelReport `json:"channel"`
}

// ReportSubject returns the subject a channel's report is published on.
// Runes outside [A-Za-z0-9_-] become "_", so distinct names such as "rhel.8"
// and "rhel_8" share a subject; consumers tell them apart by the channel
// name in the payload.
func ReportSubject(prefix, channel string) string {
	return fmt.Sprintf("%s.channels.%s.report", prefix, subjectToken(channel))
}

// subjectToken maps a channel name onto a single subject token. Channel
// names may contain dots, which would otherwise split the token.
func subjectToken(name string) string {
	if name == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// PublishReport publishes every channel of r on its own subject. A failed
// channel does not stop the others; all failures are returned together.
// Channels whose names map to the same subject are still published, with a
// warning.
func PublishReport(p Publisher, prefix string, r *report.Report, logger *zap.Logger) error {
	var errs []error
	owners := make(map[string]string, len(r.Channels))
	for _, ch := range r.Channels {
		subject := ReportSubject(prefix, ch.Name)
		if other, ok := owners[subject]; ok {
			logger.Warn("Channels share a report subject",
				zap.String("subject", subject),
				zap.String("channel", ch.Name),
				zap.String("other", other))
		} else {
			owners[subject] = ch.Name
		}

		data, err := json.Marshal(ChannelMessage{Meta: r.Meta, Channel: ch})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to encode report for %s: %w", ch.Name, err))
			continue
		}
		if err := p.Publish(subject, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

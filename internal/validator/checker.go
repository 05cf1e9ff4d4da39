package validator

import "github.com/stone-age-io/channel-validator/internal/fingerprint"

// ConfigCheck partitions the channel's hosts into config groups by exact
// fingerprint equality. Groups appear in first-seen order and keep host
// order within each group, so unchanged input always yields the same
// partition. Hosts with no fingerprint data share one Unknown group that is
// never merged with a populated one.
//
// ConfigCheck only partitions. Deciding which groups are outliers is left to
// the caller.
func ConfigCheck(channel *Channel) {
	channel.ConfigGroups = Partition(channel.Hosts)
}

// Partition is ConfigCheck over a bare host list
func Partition(hosts []*Host) []*ConfigGroup {
	var groups []*ConfigGroup
	byFingerprint := make(map[fingerprint.Fingerprint]*ConfigGroup)
	var unknown *ConfigGroup

	for _, host := range hosts {
		if host.Fingerprint.Empty() {
			if unknown == nil {
				unknown = &ConfigGroup{Unknown: true}
				groups = append(groups, unknown)
			}
			unknown.Hosts = append(unknown.Hosts, host)
			continue
		}

		group, ok := byFingerprint[host.Fingerprint]
		if !ok {
			group = &ConfigGroup{Key: host.Fingerprint.Key(), Fingerprint: host.Fingerprint}
			byFingerprint[host.Fingerprint] = group
			groups = append(groups, group)
		}
		group.Hosts = append(group.Hosts, host)
	}

	return groups
}

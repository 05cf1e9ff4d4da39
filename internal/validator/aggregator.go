package validator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/stone-age-io/channel-validator/internal/buildsys"
	"github.com/stone-age-io/channel-validator/internal/fingerprint"
	"github.com/stone-age-io/channel-validator/internal/logstore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// probeLogName is the base name of the hardware-probe log uploaded by every
// buildArch task
const probeLogName = "hw_info"

// AggregatorOptions tunes how hard the aggregator looks for probe logs
type AggregatorOptions struct {
	// TaskLimit caps how many recent tasks are listed and scanned per host
	TaskLimit int

	// FetchConcurrency caps parallel log downloads for a single host
	FetchConcurrency int
}

// Aggregator derives one fingerprint per host from the probe logs of the
// host's most recent build. It keeps no per-host state and may be shared by
// concurrent callers working on different hosts.
type Aggregator struct {
	tasks       TaskLookup
	logs        LogFetcher
	logger      *zap.Logger
	taskLimit   int
	concurrency int
}

// NewAggregator creates an aggregator over the given collaborators
func NewAggregator(logger *zap.Logger, tasks TaskLookup, logs LogFetcher, opts AggregatorOptions) *Aggregator {
	if opts.TaskLimit <= 0 {
		opts.TaskLimit = 10
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 4
	}
	return &Aggregator{
		tasks:       tasks,
		logs:        logs,
		logger:      logger,
		taskLimit:   opts.TaskLimit,
		concurrency: opts.FetchConcurrency,
	}
}

// archResult is the extracted fingerprint of one architecture's probe log
type archResult struct {
	arch string
	fp   fingerprint.Fingerprint
}

// Populate fills host.Fingerprint and extends host.Arches. A missing probe
// log is not an error: such a host falls back to its description and, failing
// that, stays empty. Hub and log store failures are returned. Populate is a
// no-op for a host that has already been populated.
func (a *Aggregator) Populate(ctx context.Context, host *Host) error {
	if host.populated {
		return nil
	}

	if host.Tasks == nil {
		tasks, err := a.tasks.ListTasks(ctx, host.ID, a.taskLimit)
		if err != nil {
			return fmt.Errorf("failed to list tasks for host %s: %w", host.Name, err)
		}
		host.Tasks = tasks
	}

	results, buildID, err := a.findProbeLogs(ctx, host)
	if err != nil {
		return err
	}

	var fp fingerprint.Fingerprint
	if len(results) > 0 {
		fp = a.fold(host, results)
		host.BuildID = buildID
	}

	desc := fingerprint.ParseDescription(host.Description)
	switch {
	case !fp.Empty():
		// Kernel and OS are rarely in the probe log itself
		if fp.Kernel == "" {
			fp.Kernel = desc.Kernel
		}
		if fp.OperatingSystem == "" {
			fp.OperatingSystem = desc.OperatingSystem
		}
		host.Source = SourceTaskLog
	case !desc.Empty():
		fp = desc
		host.Source = SourceDescription
	default:
		host.Source = SourceNone
	}

	host.Fingerprint = fp
	host.populated = true

	a.logger.Debug("Populated host",
		zap.String("host", host.Name),
		zap.String("source", string(host.Source)),
		zap.Int("build_id", host.BuildID),
		zap.Strings("arches", host.Arches),
		zap.Int("anomalies", len(host.Anomalies)))

	return nil
}

// findProbeLogs scans the host's tasks newest first and returns the probe
// log fingerprints of the first build that has any
func (a *Aggregator) findProbeLogs(ctx context.Context, host *Host) ([]archResult, int, error) {
	tasks := host.Tasks
	if len(tasks) > a.taskLimit {
		tasks = tasks[:a.taskLimit]
	}

	for _, task := range tasks {
		if task.Build == nil || task.Build.ID == 0 {
			continue
		}

		build, err := a.tasks.GetBuild(ctx, task.Build.ID)
		if errors.Is(err, buildsys.ErrBuildNotFound) {
			a.logger.Debug("Build vanished, trying next task",
				zap.String("host", host.Name),
				zap.Int("task_id", task.ID),
				zap.Int("build_id", task.Build.ID))
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to get build %d for host %s: %w", task.Build.ID, host.Name, err)
		}

		logs := probeLogs(build.Logs, host.Arches)
		if len(logs) == 0 {
			continue
		}

		results, err := a.fetchAll(ctx, host, logs)
		if err != nil {
			return nil, 0, err
		}
		if len(results) > 0 {
			return results, build.ID, nil
		}
	}

	a.logger.Debug("No probe log found", zap.String("host", host.Name), zap.Int("tasks", len(tasks)))
	return nil, 0, nil
}

// probeLogs selects one hw_info log per relevant arch directory, sorted by
// arch. With no configured arches every directory is relevant.
func probeLogs(logs []buildsys.BuildLog, arches []string) []buildsys.BuildLog {
	relevant := make(map[string]bool, len(arches))
	for _, arch := range arches {
		relevant[arch] = true
	}

	seen := make(map[string]bool)
	var selected []buildsys.BuildLog
	for _, l := range logs {
		if !isProbeLog(l.Name) || seen[l.Dir] {
			continue
		}
		if len(relevant) > 0 && !relevant[l.Dir] {
			continue
		}
		seen[l.Dir] = true
		selected = append(selected, l)
	}

	sort.Slice(selected, func(i, j int) bool { return selected[i].Dir < selected[j].Dir })
	return selected
}

func isProbeLog(name string) bool {
	return name == probeLogName || name == probeLogName+path.Ext(name)
}

// fetchAll downloads and extracts the given logs in parallel. Results keep
// the order of logs; missing logs are dropped.
func (a *Aggregator) fetchAll(ctx context.Context, host *Host, logs []buildsys.BuildLog) ([]archResult, error) {
	found := make([]*archResult, len(logs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, l := range logs {
		g.Go(func() error {
			text, err := a.logs.Fetch(gctx, l.Path)
			if errors.Is(err, logstore.ErrLogNotFound) {
				a.logger.Debug("Probe log missing",
					zap.String("host", host.Name),
					zap.String("arch", l.Dir),
					zap.String("path", l.Path))
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to fetch %s probe log for host %s: %w", l.Dir, host.Name, err)
			}
			found[i] = &archResult{arch: l.Dir, fp: fingerprint.Extract(text)}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]archResult, 0, len(found))
	for _, r := range found {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results, nil
}

// fold merges per-arch fingerprints into one. The first arch to report an
// arch-invariant field owns it; later disagreement becomes an Anomaly. CPU
// count is the maximum seen, with per-arch counts kept on the host.
func (a *Aggregator) fold(host *Host, results []archResult) fingerprint.Fingerprint {
	var merged fingerprint.Fingerprint
	owner := make(map[string]string)

	for _, r := range results {
		host.addArch(r.arch)

		if r.fp.CPUCount > 0 {
			if host.ArchCPUs == nil {
				host.ArchCPUs = make(map[string]int)
			}
			host.ArchCPUs[r.arch] = r.fp.CPUCount
		}

		for _, d := range fingerprint.Diff(merged, r.fp) {
			host.Anomalies = append(host.Anomalies, Anomaly{
				Arch:      r.arch,
				Reference: owner[d.Field],
				Field:     d.Field,
				Want:      d.Want,
				Got:       d.Got,
			})
			a.logger.Warn("Architectures disagree",
				zap.String("host", host.Name),
				zap.String("field", d.Field),
				zap.String("reference_arch", owner[d.Field]),
				zap.String("want", d.Want),
				zap.String("arch", r.arch),
				zap.String("got", d.Got))
		}

		claim(owner, fingerprint.FieldRAM, merged.RAM == 0 && r.fp.RAM > 0, r.arch)
		claim(owner, fingerprint.FieldDisk, merged.Disk == "" && r.fp.Disk != "", r.arch)
		claim(owner, fingerprint.FieldKernel, merged.Kernel == "" && r.fp.Kernel != "", r.arch)
		claim(owner, fingerprint.FieldOperatingSystem, merged.OperatingSystem == "" && r.fp.OperatingSystem != "", r.arch)

		merged.FillFrom(r.fp)
		if r.fp.CPUCount > merged.CPUCount {
			merged.CPUCount = r.fp.CPUCount
		}
	}

	return merged
}

func claim(owner map[string]string, field string, fills bool, arch string) {
	if fills {
		owner[field] = arch
	}
}

package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stone-age-io/channel-validator/internal/buildsys"
	"github.com/stone-age-io/channel-validator/internal/logstore"
	"go.uber.org/zap"
)

// fakeSession serves canned hub responses. Lookups for ids it has no data for
// return empty results, the way the hub does.
type fakeSession struct {
	mu sync.Mutex

	channels []buildsys.Channel
	hosts    map[int][]buildsys.Host
	tasks    map[int][]buildsys.Task
	builds   map[int]*buildsys.Build

	err   error // returned by every call when set
	calls map[string]int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		hosts:  make(map[int][]buildsys.Host),
		tasks:  make(map[int][]buildsys.Task),
		builds: make(map[int]*buildsys.Build),
		calls:  make(map[string]int),
	}
}

func (s *fakeSession) record(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	return s.err
}

func (s *fakeSession) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *fakeSession) ListChannels(ctx context.Context) ([]buildsys.Channel, error) {
	if err := s.record("listChannels"); err != nil {
		return nil, err
	}
	return s.channels, nil
}

func (s *fakeSession) ListHosts(ctx context.Context, channelID int) ([]buildsys.Host, error) {
	if err := s.record("listHosts"); err != nil {
		return nil, err
	}
	return s.hosts[channelID], nil
}

func (s *fakeSession) ListTasks(ctx context.Context, hostID int, limit int) ([]buildsys.Task, error) {
	if err := s.record("listTasks"); err != nil {
		return nil, err
	}
	tasks := s.tasks[hostID]
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (s *fakeSession) GetBuild(ctx context.Context, buildID int) (*buildsys.Build, error) {
	if err := s.record("getBuild"); err != nil {
		return nil, err
	}
	build, ok := s.builds[buildID]
	if !ok {
		return nil, fmt.Errorf("build %d: %w", buildID, buildsys.ErrBuildNotFound)
	}
	return build, nil
}

// loadJSON decodes testdata/calls/<name> into v. It reports whether the
// fixture exists.
func loadJSON(t *testing.T, name string, v interface{}) bool {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "calls", name))
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("failed to decode fixture %s: %v", name, err)
	}
	return true
}

// loadFixtureSession builds a session from the recorded hub responses under
// testdata/calls
func loadFixtureSession(t *testing.T) *fakeSession {
	t.Helper()
	s := newFakeSession()

	loadJSON(t, "listChannels.json", &s.channels)

	for _, ch := range s.channels {
		var hosts []buildsys.Host
		if loadJSON(t, fmt.Sprintf("listHosts/%d.json", ch.ID), &hosts) {
			s.hosts[ch.ID] = hosts
		}
		for _, h := range hosts {
			var tasks []buildsys.Task
			if loadJSON(t, fmt.Sprintf("listTasks/%d.json", h.ID), &tasks) {
				s.tasks[h.ID] = tasks
			}
			for _, task := range tasks {
				if task.Build == nil {
					continue
				}
				var build buildsys.Build
				if !loadJSON(t, fmt.Sprintf("getBuild/%d.json", task.Build.ID), &build) {
					continue
				}
				loadJSON(t, fmt.Sprintf("getBuildLogs/%d.json", task.Build.ID), &build.Logs)
				s.builds[build.ID] = &build
			}
		}
	}

	return s
}

// fixtureLogs reads probe logs from the mirrored artifact tree in testdata
func fixtureLogs(t *testing.T) LogFetcher {
	t.Helper()
	f, err := logstore.NewDirFetcher(filepath.Join("testdata", "brewroot"), 0, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDirFetcher() error = %v", err)
	}
	return f
}

// memoryLogs serves log text from a map keyed by path
type memoryLogs struct {
	mu      sync.Mutex
	logs    map[string]string
	err     error
	fetched []string
}

func (m *memoryLogs) Fetch(ctx context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, path)
	if m.err != nil {
		return "", m.err
	}
	text, ok := m.logs[path]
	if !ok {
		return "", fmt.Errorf("%s: %w", path, logstore.ErrLogNotFound)
	}
	return text, nil
}

// probeLog renders a minimal hw_info log
func probeLog(cpus int, ramKiB int64, disk string, extra ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CPU info:\nCPU(s):              %d\nNUMA node(s):        1\n\n", cpus)
	b.WriteString("Memory:\n              total        used        free      shared  buff/cache   available\n")
	fmt.Fprintf(&b, "Mem:       %d     1062144    16829376      158912     6159040    22675264\n\n", ramKiB)
	b.WriteString("Storage:\nFilesystem             Size  Used Avail Use% Mounted on\n")
	fmt.Fprintf(&b, "/dev/mapper/rhel-root  %s  6.3G  192G   4%% /\n", disk)
	for _, line := range extra {
		b.WriteString(line + "\n")
	}
	return b.String()
}

// Package buildsys is the read-only client for the build hub's XML-RPC API.
// It lists channels, hosts and tasks, and resolves builds together with
// their per-architecture log listings.
package buildsys

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kolo/xmlrpc"
	"go.uber.org/zap"
)

var (
	// ErrBuildNotFound is returned by GetBuild when the hub has no such build
	ErrBuildNotFound = errors.New("build not found")

	// ErrHostNotFound is returned by GetHost when the hub has no such host
	ErrHostNotFound = errors.New("host not found")
)

// Options configures a Session
type Options struct {
	HubURL string

	// Timeout bounds connection setup and the wait for response headers of
	// each call
	Timeout time.Duration

	// TaskMethod selects which task method is listed per host (buildArch
	// tasks are the ones that upload hw_info logs)
	TaskMethod string
}

// Session is a hub API client. It holds no mutable state beyond the
// underlying HTTP connection pool and is safe for concurrent use.
type Session struct {
	client     *xmlrpc.Client
	logger     *zap.Logger
	hubURL     string
	taskMethod string
}

// NewSession creates a hub client. No call is made until the first query.
func NewSession(opts Options, logger *zap.Logger) (*Session, error) {
	if opts.HubURL == "" {
		return nil, fmt.Errorf("hub url is required")
	}
	if opts.TaskMethod == "" {
		opts.TaskMethod = "buildArch"
	}

	client, err := xmlrpc.NewClient(opts.HubURL, createTransport(opts.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create hub client: %w", err)
	}

	return &Session{
		client:     client,
		logger:     logger,
		hubURL:     opts.HubURL,
		taskMethod: opts.TaskMethod,
	}, nil
}

// createTransport builds the HTTP transport shared by all hub calls
func createTransport(timeout time.Duration) *http.Transport {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}

// Close releases the client's connections
func (s *Session) Close() error {
	return s.client.Close()
}

// kwargs marks a struct argument as Python-style keyword arguments, the way
// the hub expects optional parameters to be passed
func kwargs(values map[string]interface{}) map[string]interface{} {
	values["__starstar"] = true
	return values
}

// call performs one XML-RPC call. The xmlrpc client has no context support,
// so the call runs in its own goroutine and the caller stops waiting when ctx
// is done. reply must not be read after a context error.
func (s *Session) call(ctx context.Context, method string, args []interface{}, reply interface{}) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	s.logger.Debug("Calling hub", zap.String("method", method))

	done := make(chan error, 1)
	go func() {
		done <- s.client.Call(method, args, reply)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// ListChannels returns every channel defined on the hub, in hub order
func (s *Session) ListChannels(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	if err := s.call(ctx, "listChannels", nil, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

// ListHosts returns the hosts assigned to a channel, in hub order
func (s *Session) ListHosts(ctx context.Context, channelID int) ([]Host, error) {
	var hosts []Host
	args := []interface{}{kwargs(map[string]interface{}{"channelID": channelID})}
	if err := s.call(ctx, "listHosts", args, &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

// GetHost looks a host up by name, or by id when nameOrID is numeric
func (s *Session) GetHost(ctx context.Context, nameOrID string) (*Host, error) {
	var key interface{} = nameOrID
	if id, err := strconv.Atoi(nameOrID); err == nil {
		key = id
	}

	var host Host
	if err := s.call(ctx, "getHost", []interface{}{key}, &host); err != nil {
		return nil, err
	}
	if host.ID == 0 {
		return nil, fmt.Errorf("%s: %w", nameOrID, ErrHostNotFound)
	}
	return &host, nil
}

// ListTasks returns up to limit of the host's most recent closed tasks,
// newest first. Each task's Build is resolved through its parent task.
func (s *Session) ListTasks(ctx context.Context, hostID int, limit int) ([]Task, error) {
	opts := map[string]interface{}{
		"host_id": hostID,
		"method":  s.taskMethod,
		"state":   []int{TaskStateClosed},
	}
	queryOpts := map[string]interface{}{
		"order": "-id",
		"limit": limit,
	}

	var tasks []Task
	if err := s.call(ctx, "listTasks", []interface{}{opts, queryOpts}, &tasks); err != nil {
		return nil, err
	}

	for i := range tasks {
		if tasks[i].ParentID == 0 {
			continue
		}
		build, err := s.buildForTask(ctx, tasks[i].ParentID)
		if err != nil {
			return nil, err
		}
		tasks[i].Build = build
	}

	return tasks, nil
}

// buildForTask returns the build produced by a parent task, or nil
func (s *Session) buildForTask(ctx context.Context, taskID int) (*Build, error) {
	var builds []Build
	args := []interface{}{kwargs(map[string]interface{}{"taskID": taskID})}
	if err := s.call(ctx, "listBuilds", args, &builds); err != nil {
		return nil, err
	}
	if len(builds) == 0 {
		return nil, nil
	}
	return &builds[0], nil
}

// GetBuild returns a build together with its log listing
func (s *Session) GetBuild(ctx context.Context, buildID int) (*Build, error) {
	var build Build
	if err := s.call(ctx, "getBuild", []interface{}{buildID}, &build); err != nil {
		return nil, err
	}
	if build.ID == 0 {
		return nil, fmt.Errorf("build %d: %w", buildID, ErrBuildNotFound)
	}

	var logs []BuildLog
	if err := s.call(ctx, "getBuildLogs", []interface{}{buildID}, &logs); err != nil {
		return nil, err
	}
	build.Logs = logs

	return &build, nil
}

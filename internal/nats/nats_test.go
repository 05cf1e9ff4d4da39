package nats

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/channel-validator/internal/audit"
	"github.com/stone-age-io/channel-validator/internal/config"
	"github.com/stone-age-io/channel-validator/internal/fingerprint"
	"github.com/stone-age-io/channel-validator/internal/report"
	"github.com/stone-age-io/channel-validator/internal/validator"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestReportSubject(t *testing.T) {
	tests := []struct {
		prefix  string
		channel string
		want    string
	}{
		{"channel-validator", "rhel9", "channel-validator.channels.rhel9.report"},
		{"koji.validator", "dummy-rhel8", "koji.validator.channels.dummy-rhel8.report"},
		{"channel-validator", "rhel-8.4.0-build", "channel-validator.channels.rhel-8_4_0-build.report"},
		{"channel-validator", "odd name*>", "channel-validator.channels.odd_name__.report"},
		{"channel-validator", "", "channel-validator.channels._.report"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := ReportSubject(tt.prefix, tt.channel); got != tt.want {
				t.Errorf("ReportSubject(%q, %q) = %q, want %q", tt.prefix, tt.channel, got, tt.want)
			}
		})
	}
}

type fakePublisher struct {
	published map[string][]byte
	fail      string
	calls     int
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.calls++
	if subject == p.fail {
		return errors.New("nats: timeout")
	}
	if p.published == nil {
		p.published = make(map[string][]byte)
	}
	p.published[subject] = data
	return nil
}

func testReport() *report.Report {
	return &report.Report{
		Meta: report.Meta{Version: "1.0.0", GeneratedAt: "2026-10-16T00:00:00Z"},
		Channels: []report.ChannelReport{
			{ID: 11, Name: "rhel9", Hosts: 3, Consistent: true},
			{ID: 21, Name: "dummy-rhel8", Hosts: 2, Outliers: []string{"ppc-017"}},
		},
	}
}

func TestPublishReport(t *testing.T) {
	p := &fakePublisher{}
	if err := PublishReport(p, "channel-validator", testReport(), zap.NewNop()); err != nil {
		t.Fatalf("PublishReport() error = %v", err)
	}

	if len(p.published) != 2 {
		t.Fatalf("published %d messages, want 2", len(p.published))
	}

	data, ok := p.published["channel-validator.channels.dummy-rhel8.report"]
	if !ok {
		t.Fatalf("no message on dummy-rhel8 subject: %v", p.published)
	}
	var msg ChannelMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("message does not decode: %v", err)
	}
	if msg.Meta.Version != "1.0.0" || msg.Channel.ID != 21 || msg.Channel.Outliers[0] != "ppc-017" {
		t.Errorf("message = %+v", msg)
	}
}

func TestPublishReportContinuesAfterFailure(t *testing.T) {
	p := &fakePublisher{fail: "channel-validator.channels.rhel9.report"}

	err := PublishReport(p, "channel-validator", testReport(), zap.NewNop())
	if err == nil {
		t.Fatal("PublishReport() error = nil, want the rhel9 failure")
	}
	if _, ok := p.published["channel-validator.channels.dummy-rhel8.report"]; !ok {
		t.Error("failure on one channel stopped the others")
	}
}

func TestPublishReportSharedSubject(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := &report.Report{Channels: []report.ChannelReport{
		{ID: 8, Name: "rhel.8"},
		{ID: 9, Name: "rhel_8"},
		{ID: 10, Name: "rhel-9"},
	}}

	p := &fakePublisher{}
	if err := PublishReport(p, "channel-validator", r, zap.New(core)); err != nil {
		t.Fatalf("PublishReport() error = %v", err)
	}
	if p.calls != 3 {
		t.Errorf("published %d messages, want 3", p.calls)
	}

	warnings := logs.FilterMessage("Channels share a report subject").All()
	if len(warnings) != 1 {
		t.Fatalf("got %d shared subject warnings, want 1", len(warnings))
	}
	fields := warnings[0].ContextMap()
	if fields["subject"] != "channel-validator.channels.rhel_8.report" || fields["channel"] != "rhel_8" || fields["other"] != "rhel.8" {
		t.Errorf("warning fields = %v", fields)
	}
}

type fakeAuditor struct {
	channels []*validator.Channel
	err      error
	names    []string
	stats    *audit.Stats
}

func (a *fakeAuditor) Run(ctx context.Context, names []string) (*audit.Result, error) {
	a.names = names
	if a.err != nil {
		a.stats.RecordFailure(a.err)
		return nil, a.err
	}
	res := &audit.Result{Channels: a.channels, Started: time.Now(), Finished: time.Now(), HostsAudited: 2}
	a.stats.RecordRun(res)
	return res, nil
}

func (a *fakeAuditor) Stats() *audit.Stats { return a.stats }

func newTestHandlers(a *fakeAuditor) *CommandHandlers {
	h := NewCommandHandlers(context.Background(), zap.NewNop(), "channel-validator", a, "1.0.0", "https://koji.example.com/kojihub")
	h.meta = func(ctx context.Context) report.Meta {
		return report.Meta{Version: "1.0.0", GeneratedAt: "2026-10-16T00:00:00Z"}
	}
	return h
}

func auditedChannel() *validator.Channel {
	fp := fingerprint.Fingerprint{CPUCount: 8, RAM: 24050560, Disk: "198G", Kernel: "4.18.0", OperatingSystem: "RedHat 8.2"}
	ch := &validator.Channel{ID: 21, Name: "dummy-rhel8"}
	for i, name := range []string{"ppc-016", "ppc-017"} {
		ch.Hosts = append(ch.Hosts, &validator.Host{ID: 94 + i, Name: name, Enabled: true, Fingerprint: fp})
	}
	validator.ConfigCheck(ch)
	return ch
}

func TestHandleAudit(t *testing.T) {
	a := &fakeAuditor{channels: []*validator.Channel{auditedChannel()}, stats: audit.NewStats()}
	h := newTestHandlers(a)

	resp, ok := h.audit(context.Background(), []byte(`{"channel": "dummy-rhel8"}`)).(auditResponse)
	if !ok {
		t.Fatalf("audit() did not succeed")
	}
	if len(a.names) != 1 || a.names[0] != "dummy-rhel8" {
		t.Errorf("auditor ran for %v", a.names)
	}
	if resp.Status != "success" || resp.Report.Channel.Name != "dummy-rhel8" || !resp.Report.Channel.Consistent {
		t.Errorf("response = %+v", resp)
	}
	if resp.Report.Meta.Version != "1.0.0" {
		t.Errorf("Meta = %+v", resp.Report.Meta)
	}
}

func TestHandleAuditErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		err     error
		wantErr string
	}{
		{name: "invalid json", data: `{channel`, wantErr: "Invalid request format"},
		{name: "missing channel", data: `{}`, wantErr: "channel is required"},
		{name: "unknown channel", data: `{"channel": "nope"}`, err: errors.New("unknown channel: nope"), wantErr: "unknown channel: nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandlers(&fakeAuditor{err: tt.err, stats: audit.NewStats()})

			resp, ok := h.audit(context.Background(), []byte(tt.data)).(errorResponse)
			if !ok {
				t.Fatalf("audit() succeeded, want error")
			}
			if resp.Status != "error" || !strings.Contains(resp.Error, tt.wantErr) {
				t.Errorf("response = %+v, want error containing %q", resp, tt.wantErr)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	a := &fakeAuditor{channels: []*validator.Channel{auditedChannel()}, stats: audit.NewStats()}
	h := newTestHandlers(a)

	if got := h.health(); got.Status != "healthy" || got.Audits.Runs != 0 {
		t.Errorf("health() before runs = %+v", got)
	}

	h.audit(context.Background(), []byte(`{"channel": "dummy-rhel8"}`))
	got := h.health()
	if got.Status != "healthy" || got.Audits.Runs != 1 || got.Audits.HostsAudited != 2 || got.Version != "1.0.0" {
		t.Errorf("health() after run = %+v", got)
	}

	a.err = errors.New("hub unreachable")
	h.audit(context.Background(), []byte(`{"channel": "dummy-rhel8"}`))
	if got := h.health(); got.Status != "degraded" || got.Audits.LastError != "hub unreachable" {
		t.Errorf("health() after failure = %+v", got)
	}
}

func TestPing(t *testing.T) {
	h := newTestHandlers(&fakeAuditor{stats: audit.NewStats()})
	if got := h.ping(); got.Status != "pong" || got.Version != "1.0.0" {
		t.Errorf("ping() = %+v", got)
	}
}

func TestSubjects(t *testing.T) {
	h := newTestHandlers(&fakeAuditor{stats: audit.NewStats()})
	subjects := h.Subjects()

	want := map[string]string{
		"ping":   "channel-validator.cmd.ping",
		"audit":  "channel-validator.cmd.audit",
		"health": "channel-validator.cmd.health",
	}
	for name, subject := range want {
		if subjects[name] != subject {
			t.Errorf("Subjects()[%s] = %q, want %q", name, subjects[name], subject)
		}
	}
}

func TestHandleWithRecovery(t *testing.T) {
	h := newTestHandlers(&fakeAuditor{stats: audit.NewStats()})

	called := false
	wrapped := h.handleWithRecovery("boom", func(msg *nats.Msg) {
		called = true
		panic("boom")
	})

	// An unbound message cannot be answered; the recovery must still hold
	wrapped(&nats.Msg{Subject: "channel-validator.cmd.boom"})

	if !called {
		t.Error("handler was not called")
	}
}

func TestAuthOption(t *testing.T) {
	tests := []struct {
		name    string
		auth    config.AuthConfig
		wantNil bool
		wantErr bool
	}{
		{name: "none", auth: config.AuthConfig{Type: "none"}, wantNil: true},
		{name: "token", auth: config.AuthConfig{Type: "token", Token: "secret"}},
		{name: "userpass", auth: config.AuthConfig{Type: "userpass", Username: "u", Password: "p"}},
		{name: "creds", auth: config.AuthConfig{Type: "creds", CredsFile: "validator.creds"}},
		{name: "invalid", auth: config.AuthConfig{Type: "pocketbase"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, err := authOption(&tt.auth, zap.NewNop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("authOption() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (opt == nil) != tt.wantNil {
				t.Errorf("authOption() nil = %v, want %v", opt == nil, tt.wantNil)
			}
		})
	}
}

func TestCreateTLSConfig(t *testing.T) {
	dir := t.TempDir()
	badCA := filepath.Join(dir, "ca.pem")
	os.WriteFile(badCA, []byte("not a certificate"), 0644)

	cfg, err := createTLSConfig(&config.TLSConfig{Enabled: true, InsecureSkipVerify: true}, zap.NewNop())
	if err != nil {
		t.Fatalf("createTLSConfig() error = %v", err)
	}
	if cfg.MinVersion == 0 || !cfg.InsecureSkipVerify || cfg.RootCAs != nil {
		t.Errorf("createTLSConfig() = %+v", cfg)
	}

	if _, err := createTLSConfig(&config.TLSConfig{Enabled: true, CAFile: badCA}, zap.NewNop()); err == nil {
		t.Error("createTLSConfig() accepted an unparseable CA")
	}
	if _, err := createTLSConfig(&config.TLSConfig{Enabled: true, CAFile: filepath.Join(dir, "missing.pem")}, zap.NewNop()); err == nil {
		t.Error("createTLSConfig() accepted a missing CA")
	}
	if _, err := createTLSConfig(&config.TLSConfig{Enabled: true, CertFile: badCA, KeyFile: badCA}, zap.NewNop()); err == nil {
		t.Error("createTLSConfig() accepted an invalid key pair")
	}
}

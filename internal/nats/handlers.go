package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/channel-validator/internal/audit"
	"github.com/stone-age-io/channel-validator/internal/report"
	"go.uber.org/zap"
)

// auditTimeout bounds an on-demand channel audit
const auditTimeout = 10 * time.Minute

// Auditor runs audits on request
type Auditor interface {
	Run(ctx context.Context, names []string) (*audit.Result, error)
	Stats() *audit.Stats
}

// CommandHandlers manages all command subscriptions and handlers
type CommandHandlers struct {
	ctx           context.Context
	logger        *zap.Logger
	subjectPrefix string
	auditor       Auditor
	version       string
	meta          func(ctx context.Context) report.Meta
}

// NewCommandHandlers creates a new command handler manager. ctx cancels
// in-flight audits on shutdown.
func NewCommandHandlers(ctx context.Context, logger *zap.Logger, subjectPrefix string, auditor Auditor, version, hubURL string) *CommandHandlers {
	return &CommandHandlers{
		ctx:           ctx,
		logger:        logger,
		subjectPrefix: subjectPrefix,
		auditor:       auditor,
		version:       version,
		meta: func(ctx context.Context) report.Meta {
			return report.NewMeta(ctx, version, hubURL, logger)
		},
	}
}

// handleWithRecovery wraps a command handler with panic recovery so one
// bad request cannot take the process down
func (h *CommandHandlers) handleWithRecovery(name string, handler nats.MsgHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("Panic recovered in command handler",
					zap.String("handler", name),
					zap.String("subject", msg.Subject),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())))

				h.respond(msg, newErrorResponse(fmt.Sprintf("Internal error: handler panicked: %v", r)))
			}
		}()

		handler(msg)
	}
}

// Subjects returns the command subjects keyed by handler name
func (h *CommandHandlers) Subjects() map[string]string {
	return map[string]string{
		"ping":   h.subjectPrefix + ".cmd.ping",
		"audit":  h.subjectPrefix + ".cmd.audit",
		"health": h.subjectPrefix + ".cmd.health",
	}
}

// SubscribeAll subscribes to all command subjects
func (h *CommandHandlers) SubscribeAll(client *Client) error {
	handlers := map[string]nats.MsgHandler{
		"ping":   h.handlePing,
		"audit":  h.handleAudit,
		"health": h.handleHealth,
	}

	for name, subject := range h.Subjects() {
		if _, err := client.Subscribe(subject, h.handleWithRecovery(name, handlers[name])); err != nil {
			return err
		}
	}
	return nil
}

// Response structures

type pingResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

type auditRequest struct {
	Channel string `json:"channel"`
}

type auditResponse struct {
	Status    string          `json:"status"`
	Report    *ChannelMessage `json:"report"`
	Timestamp string          `json:"timestamp"`
}

type healthResponse struct {
	Status    string              `json:"status"`
	Version   string              `json:"version"`
	Audits    audit.StatsSnapshot `json:"audits"`
	Timestamp string              `json:"timestamp"`
}

type errorResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

func newErrorResponse(msg string) errorResponse {
	return errorResponse{Status: "error", Error: msg, Timestamp: now()}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (h *CommandHandlers) handlePing(msg *nats.Msg) {
	h.logger.Debug("Received ping command")
	h.respond(msg, h.ping())
}

func (h *CommandHandlers) ping() pingResponse {
	return pingResponse{Status: "pong", Version: h.version, Timestamp: now()}
}

// handleAudit audits one channel and replies with its report
func (h *CommandHandlers) handleAudit(msg *nats.Msg) {
	h.logger.Debug("Received audit command")

	ctx, cancel := context.WithTimeout(h.ctx, auditTimeout)
	defer cancel()

	h.respond(msg, h.audit(ctx, msg.Data))
}

func (h *CommandHandlers) audit(ctx context.Context, data []byte) interface{} {
	var req auditRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Error("Failed to parse audit request", zap.Error(err))
		return newErrorResponse("Invalid request format")
	}
	if req.Channel == "" {
		return newErrorResponse("channel is required")
	}

	h.logger.Info("Auditing channel on request", zap.String("channel", req.Channel))

	res, err := h.auditor.Run(ctx, []string{req.Channel})
	if err != nil {
		h.logger.Error("Audit failed", zap.String("channel", req.Channel), zap.Error(err))
		return newErrorResponse(err.Error())
	}
	if len(res.Channels) != 1 {
		return newErrorResponse(fmt.Sprintf("audit returned %d channels", len(res.Channels)))
	}

	r := report.New(h.meta(ctx), res.Channels)
	h.logger.Info("Audit succeeded",
		zap.String("channel", req.Channel),
		zap.Bool("consistent", r.Channels[0].Consistent))

	return auditResponse{
		Status:    "success",
		Report:    &ChannelMessage{Meta: r.Meta, Channel: r.Channels[0]},
		Timestamp: now(),
	}
}

// handleHealth returns the auditor's run statistics
func (h *CommandHandlers) handleHealth(msg *nats.Msg) {
	h.logger.Debug("Received health check command")
	h.respond(msg, h.health())
}

func (h *CommandHandlers) health() healthResponse {
	snapshot := h.auditor.Stats().Snapshot()

	status := "healthy"
	if snapshot.LastError != "" && snapshot.LastErrorTime >= snapshot.LastRun {
		status = "degraded"
	}

	return healthResponse{
		Status:    status,
		Version:   h.version,
		Audits:    snapshot,
		Timestamp: now(),
	}
}

func (h *CommandHandlers) respond(msg *nats.Msg, v interface{}) {
	responseBytes, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode response", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if err := msg.Respond(responseBytes); err != nil {
		h.logger.Warn("Failed to send response", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

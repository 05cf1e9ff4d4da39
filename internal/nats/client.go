// Package nats publishes audit reports to JetStream and serves the
// validator's request/reply commands over core NATS.
package nats

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/channel-validator/internal/config"
	"go.uber.org/zap"
)

// Client is a NATS connection with a JetStream context for report publishing
type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
	closed chan struct{}
}

// NewClient connects to the configured servers and checks that JetStream is
// available
func NewClient(cfg *config.NATSConfig, logger *zap.Logger) (*Client, error) {
	c := &Client{logger: logger, closed: make(chan struct{})}

	opts, err := c.connectOptions(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("Connecting to NATS", zap.Strings("urls", cfg.URLs))
	conn, err := nats.Connect(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	c.conn = conn

	logger.Info("Connected to NATS",
		zap.String("url", conn.ConnectedUrl()),
		zap.String("server_id", conn.ConnectedServerId()),
		zap.Bool("tls", conn.TLSRequired()))

	// Publish failures surface here rather than per message
	js, err := conn.JetStream(nats.PublishAsyncErrHandler(func(_ nats.JetStream, msg *nats.Msg, err error) {
		logger.Warn("Failed to publish report", zap.String("subject", msg.Subject), zap.Error(err))
	}))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if _, err := js.AccountInfo(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("JetStream not available on NATS server (is JetStream enabled?): %w", err)
	}
	c.js = js

	return c, nil
}

// connectOptions translates the configuration into connect options
func (c *Client) connectOptions(cfg *config.NATSConfig) ([]nats.Option, error) {
	logger := c.logger
	opts := []nats.Option{
		nats.Name("channel-validator"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DrainTimeout(cfg.DrainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("Lost connection to NATS", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("NATS connection closed")
			close(c.closed)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			logger.Error("NATS async error", fields...)
		}),
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := createTLSConfig(&cfg.TLS, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}

	authOpt, err := authOption(&cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	if authOpt != nil {
		opts = append(opts, authOpt)
	}

	return opts, nil
}

// authOption maps the configured auth type to a connect option. It returns
// nil for "none".
func authOption(cfg *config.AuthConfig, logger *zap.Logger) (nats.Option, error) {
	logger.Info("NATS authentication", zap.String("type", cfg.Type))

	switch cfg.Type {
	case "creds":
		return nats.UserCredentials(cfg.CredsFile), nil
	case "token":
		return nats.Token(cfg.Token), nil
	case "userpass":
		return nats.UserInfo(cfg.Username, cfg.Password), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid auth type: %s", cfg.Type)
	}
}

// createTLSConfig builds the client TLS configuration. A CA file replaces
// the system roots; a cert/key pair enables mutual TLS.
func createTLSConfig(cfg *config.TLSConfig, logger *zap.Logger) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("NATS TLS certificate verification is disabled")
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	logger.Info("TLS enabled for NATS connection",
		zap.Bool("client_cert", len(tlsConfig.Certificates) > 0),
		zap.Bool("ca_cert", tlsConfig.RootCAs != nil))

	return tlsConfig, nil
}

// Publish queues a JetStream publish. Acks are collected in the background;
// use Flush to wait for them.
func (c *Client) Publish(subject string, data []byte) error {
	if _, err := c.js.PublishAsync(subject, data); err != nil {
		return fmt.Errorf("failed to queue publish to %s: %w", subject, err)
	}
	c.logger.Debug("Queued publish", zap.String("subject", subject), zap.Int("bytes", len(data)))
	return nil
}

// Flush waits until every queued publish has been acknowledged or failed
func (c *Client) Flush(timeout time.Duration) error {
	select {
	case <-c.js.PublishAsyncComplete():
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%d publishes still pending after %v", c.js.PublishAsyncPending(), timeout)
	}
}

// Subscribe creates a core NATS subscription for request/reply commands
func (c *Client) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.logger.Info("Subscribed to subject", zap.String("subject", subject))
	return sub, nil
}

// Drain stops the subscriptions, lets in-flight messages finish and closes
// the connection. The server-side drain is bounded by the configured drain
// timeout; timeout bounds the wait here.
func (c *Client) Drain(timeout time.Duration) error {
	if c.conn.IsClosed() {
		return nil
	}

	c.logger.Info("Draining NATS connection", zap.Duration("timeout", timeout))
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}

	select {
	case <-c.closed:
		return nil
	case <-time.After(timeout):
		c.conn.Close()
		return fmt.Errorf("drain timeout after %v", timeout)
	}
}

// Close immediately closes the connection
func (c *Client) Close() {
	c.conn.Close()
}

// IsConnected reports whether the connection is currently up
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"harvester/config"
	"harvester/metrics"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// jetStreamPublisher is the part of nats.JetStreamContext the connector uses
type jetStreamPublisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATS wraps a NATS connection with JetStream enabled
type NATS struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext
}

// NewNATS connects to url and makes sure stream captures subject.>
func NewNATS(cfg *config.Config, tlsConfig *tls.Config, logger *zap.SugaredLogger) (*NATS, error) {
	opts := []nats.Option{
		nats.Name("harvester"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnw("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infow("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if tlsConfig != nil {
		opts = append(opts, nats.Secure(tlsConfig))
	}
	if cfg.Indexer.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Indexer.Username, cfg.Indexer.Password))
	}

	nc, err := nats.Connect(cfg.Indexer.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open JetStream: %w", err)
	}

	stream := cfg.Indexer.NATS.Stream
	if _, err := js.StreamInfo(stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			nc.Close()
			return nil, fmt.Errorf("failed to look up stream %s: %w", stream, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     stream,
			Subjects: []string{cfg.Indexer.NATS.Subject + ".>"},
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream %s: %w", stream, err)
		}
		logger.Infow("Created JetStream stream", "stream", stream)
	}

	logger.Infow("Connected to NATS", "url", nc.ConnectedUrl())
	return &NATS{Conn: nc, JS: js}, nil
}

// Close drains the connection
func (n *NATS) Close() {
	if err := n.Conn.Drain(); err != nil {
		n.Conn.Close()
	}
}

// NATSConnector publishes every message to <subject>.<index> on JetStream
type NATSConnector struct {
	js      jetStreamPublisher
	subject string
	ping    func(ctx context.Context) error
	logger  *zap.SugaredLogger
}

// NewNATSConnector publishes index messages under subject with a shared connection
func NewNATSConnector(n *NATS, subject, index string, logger *zap.SugaredLogger) *NATSConnector {
	c := newNATSConnector(n.JS, subject, index, logger)
	c.ping = n.Conn.FlushWithContext
	return c
}

func newNATSConnector(js jetStreamPublisher, subject, index string, logger *zap.SugaredLogger) *NATSConnector {
	return &NATSConnector{js: js, subject: subject + "." + index, logger: logger}
}

func (c *NATSConnector) Publish(ctx context.Context, message string) error {
	msg, err := ParseMessage(message)
	if err != nil {
		return err
	}

	out := nats.NewMsg(c.subject)
	out.Header.Set(operationHeader, msg.Operation)
	out.Data = []byte(message)
	if _, err := c.js.PublishMsg(out, nats.Context(ctx)); err != nil {
		metrics.PublishErrors.WithLabelValues(config.ConnectorNATS).Inc()
		return fmt.Errorf("nats publish to %s: %w", c.subject, err)
	}

	metrics.DocumentsPublished.WithLabelValues(config.ConnectorNATS, msg.Operation).Inc()
	return nil
}

// Subject returns the subject messages are published to
func (c *NATSConnector) Subject() string { return c.subject }

func (c *NATSConnector) Ping(ctx context.Context) error {
	if c.ping == nil {
		return nil
	}
	return c.ping(ctx)
}

// Close is a no-op, the connection is shared between indices
func (c *NATSConnector) Close() error {
	return nil
}

// Package jetstream provides a publish-only NATS JetStream transport for
// meshflow. Translated documents are archived in a stream so consumers can
// replay them; the subject is the stream name followed by the topic.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/drblury/meshflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

// HeaderUUID carries the Watermill message UUID.
const HeaderUUID = "meshflow_uuid"

// DefaultMaxAge bounds how long the stream keeps archived documents.
const DefaultMaxAge = 7 * 24 * time.Hour

var errPublishOnly = errors.New("nats-jetstream is publish-only; use it with --mirror")

// StreamClient is the subset of nats.JetStreamContext the publisher uses.
type StreamClient interface {
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// ClientFactory allows overriding the connection for testing. The returned
// func closes the underlying connection.
var ClientFactory = func(url string) (StreamClient, func(), error) {
	nc, err := nats.Connect(url, nats.Name("meshflow"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return js, nc.Close, nil
}

func init() {
	Register()
}

// Register registers the JetStream transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.JetStreamCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.JetStreamCapabilities
}

// Config holds JetStream-specific configuration.
type Config struct {
	URL        string
	StreamName string
	// MaxAge bounds retention. Zero uses DefaultMaxAge.
	MaxAge time.Duration
	// AckWait bounds the wait for the stream's PubAck. Zero waits for the
	// message context only.
	AckWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = "MESHFLOW"
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	return c
}

// Build creates a JetStream publisher. PublishSubscribe is rejected.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter, mode transport.Mode) (transport.Transport, error) {
	if mode != transport.PublishOnly {
		return transport.Transport{}, errPublishOnly
	}
	pub, err := NewPublisher(Config{
		URL:        cfg.GetNATSURL(),
		StreamName: cfg.GetJetStreamStream(),
		AckWait:    cfg.GetPublishTimeout(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: pub}, nil
}

// Publisher writes messages to a JetStream stream and waits for the PubAck.
type Publisher struct {
	js      StreamClient
	closeFn func()
	config  Config
	logger  watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

var _ message.Publisher = (*Publisher)(nil)

// NewPublisher connects and ensures the stream exists.
func NewPublisher(cfg Config, logger watermill.LoggerAdapter) (*Publisher, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	js, closeFn, err := ClientFactory(cfg.URL)
	if err != nil {
		return nil, err
	}
	if closeFn == nil {
		closeFn = func() {}
	}

	p := &Publisher{js: js, closeFn: closeFn, config: cfg, logger: logger}
	if err := p.ensureStream(); err != nil {
		closeFn()
		return nil, err
	}
	return p, nil
}

func (p *Publisher) streamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      p.config.StreamName,
		Subjects:  []string{p.config.StreamName + ".>"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    p.config.MaxAge,
	}
}

func (p *Publisher) ensureStream() error {
	streamCfg := p.streamConfig()
	_, err := p.js.AddStream(streamCfg)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("add stream %s: %w", streamCfg.Name, err)
	}
	if _, err := p.js.UpdateStream(streamCfg); err != nil {
		return fmt.Errorf("update stream %s: %w", streamCfg.Name, err)
	}
	p.logger.Info("Updated existing JetStream stream", watermill.LogFields{"stream": streamCfg.Name})
	return nil
}

// Subject returns the subject topic is archived under.
func (p *Publisher) Subject(topic string) string {
	return p.config.StreamName + "." + topic
}

// Publish stores each message in the stream and returns once the stream
// acknowledged it.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.New("publisher is closed")
	}

	subject := p.Subject(topic)
	for _, msg := range messages {
		header := nats.Header{}
		for k, v := range msg.Metadata {
			header.Set(k, v)
		}
		header.Set(HeaderUUID, msg.UUID)

		ctx := msg.Context()
		if p.config.AckWait > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.config.AckWait)
			defer cancel()
		}

		if _, err := p.js.PublishMsg(&nats.Msg{Subject: subject, Data: msg.Payload, Header: header}, nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish to %s: %w", subject, err)
		}
	}
	return nil
}

// Close closes the connection. It is safe to call more than once.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.closeFn()
	return nil
}

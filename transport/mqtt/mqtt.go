// Package mqtt provides an MQTT 3.1.1 transport for meshflow built on the
// Eclipse Paho client. Publisher and subscriber share one client connection.
//
// The initial connect is retried with exponential backoff until it succeeds or
// the build context ends; afterwards Paho reconnects on its own and every
// subscription is restored from the OnConnect handler.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/cenkalti/backoff/v5"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/drblury/meshflow/internal/runtime/ids"
	"github.com/drblury/meshflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "mqtt"

const (
	// ClientIDPrefix prefixes generated client IDs.
	ClientIDPrefix = "meshflow"

	defaultConnectTimeout = 10 * time.Second
	disconnectQuiesce     = 250 // ms
)

var errConnectTimeout = errors.New("connect timed out")

// ClientFactory allows overriding the Paho client creation for testing.
var ClientFactory = func(opts *paho.ClientOptions) paho.Client {
	return paho.NewClient(opts)
}

// ConnectBackOff returns the policy used between initial connect attempts.
var ConnectBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	return b
}

func init() {
	Register()
}

// Register registers the MQTT transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.MQTTCapabilities)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.MQTTCapabilities
}

// Build connects to the broker and returns a transport over the connection.
// It blocks until the first connect succeeds or ctx ends.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter, mode transport.Mode) (transport.Transport, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	conn := newConnection(cfg, logger)
	pub := &Publisher{conn: conn, qos: cfg.GetMQTTQoS(), timeout: cfg.GetPublishTimeout()}
	tr := transport.Transport{Publisher: pub}
	conn.refs = 1
	if mode == transport.PublishSubscribe {
		conn.subscriber = &Subscriber{conn: conn}
		conn.refs = 2
		tr.Subscriber = conn.subscriber
	}

	if err := conn.connect(ctx); err != nil {
		return transport.Transport{}, err
	}
	return tr, nil
}

// BrokerURL returns the tcp:// URL for host and port.
func BrokerURL(host string, port int) string {
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// ClientOptions translates cfg into Paho options. Handlers are attached by
// the caller.
func ClientOptions(cfg transport.Config) *paho.ClientOptions {
	clientID := cfg.GetMQTTClientID()
	if clientID == "" {
		clientID = ids.NewClientID(ClientIDPrefix)
	}
	connectTimeout := cfg.GetMQTTConnectTimeout()
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	opts := paho.NewClientOptions().
		AddBroker(BrokerURL(cfg.GetMQTTHost(), cfg.GetMQTTPort())).
		SetClientID(clientID).
		SetKeepAlive(cfg.GetMQTTKeepAlive()).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOrderMatters(true)
	if username := cfg.GetMQTTUsername(); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(cfg.GetMQTTPassword())
	}
	return opts
}

type connection struct {
	client         paho.Client
	logger         watermill.LoggerAdapter
	broker         string
	qos            byte
	connectTimeout time.Duration

	subscriber *Subscriber

	mu   sync.Mutex
	refs int
}

func newConnection(cfg transport.Config, logger watermill.LoggerAdapter) *connection {
	c := &connection{
		logger: logger,
		broker: BrokerURL(cfg.GetMQTTHost(), cfg.GetMQTTPort()),
		qos:    cfg.GetMQTTQoS(),
	}
	opts := ClientOptions(cfg)
	c.connectTimeout = opts.ConnectTimeout
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		logger.Debug("Reconnecting to MQTT broker", watermill.LogFields{"broker": c.broker})
	})
	c.client = ClientFactory(opts)
	return c
}

func (c *connection) connect(ctx context.Context) error {
	fields := watermill.LogFields{"broker": c.broker}
	attempt := func() (struct{}, error) {
		token := c.client.Connect()
		if !token.WaitTimeout(c.connectTimeout) {
			return struct{}{}, errConnectTimeout
		}
		return struct{}{}, token.Error()
	}

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(ConnectBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Error("Failed to connect to MQTT broker, will retry", err, fields.Add(watermill.LogFields{"retry_in": next.String()}))
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.broker, err)
	}
	return nil
}

func (c *connection) onConnect(client paho.Client) {
	c.logger.Info("Connected to MQTT broker", watermill.LogFields{"broker": c.broker})
	if c.subscriber != nil {
		c.subscriber.resubscribe()
	}
}

func (c *connection) onConnectionLost(_ paho.Client, err error) {
	c.logger.Error("Disconnected from MQTT broker, will try to reconnect", err, watermill.LogFields{"broker": c.broker})
}

// release drops one reference and disconnects when none remain.
func (c *connection) release() {
	c.mu.Lock()
	c.refs--
	last := c.refs == 0
	c.mu.Unlock()
	if last {
		c.client.Disconnect(disconnectQuiesce)
		c.logger.Info("Disconnected from MQTT broker", watermill.LogFields{"broker": c.broker})
	}
}

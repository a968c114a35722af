// Package transport defines the core interfaces and types for meshflow transports.
// Each transport implementation (mqtt, nats, kafka, etc.) lives in its own
// sub-package and registers itself with the transport registry.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// MetadataKeyTopic carries the concrete topic of an inbound message. Transports
// whose subscriptions accept wildcards set it so consumers see the topic the
// message was actually published on.
const MetadataKeyTopic = "meshflow_topic"

// Mode selects which halves of a transport a builder must create.
type Mode int

const (
	// PublishSubscribe builds both publisher and subscriber.
	PublishSubscribe Mode = iota
	// PublishOnly builds only the publisher; Transport.Subscriber stays nil.
	PublishOnly
)

func (m Mode) String() string {
	if m == PublishOnly {
		return "publish-only"
	}
	return "publish-subscribe"
}

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both halves, returning the first error.
func (t Transport) Close() error {
	var firstErr error
	if t.Subscriber != nil {
		if err := t.Subscriber.Close(); err != nil {
			firstErr = err
		}
	}
	if t.Publisher != nil {
		if err := t.Publisher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Builder is the function signature for creating a transport from config.
// Each transport package provides a Builder function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter, mode Mode) (Transport, error)

// Config provides the configuration values needed by transports.
// This interface allows transports to access only the config they need
// without depending on the full config package.
type Config interface {
	// MQTT
	GetMQTTHost() string
	GetMQTTPort() int
	GetMQTTKeepAlive() time.Duration
	GetMQTTClientID() string
	GetMQTTUsername() string
	GetMQTTPassword() string
	GetMQTTQoS() byte
	GetMQTTConnectTimeout() time.Duration

	// GetPublishTimeout bounds how long a publisher waits for the broker to
	// acknowledge a message. Zero waits indefinitely.
	GetPublishTimeout() time.Duration

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string
	GetJetStreamStream() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

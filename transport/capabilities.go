package transport

import "strings"

// Capabilities describes the features supported by a transport backend.
type Capabilities struct {
	// SupportsOrdering indicates the transport delivers messages from one
	// publisher on one topic in publish order.
	SupportsOrdering bool

	// SupportsTracing indicates the transport propagates tracing headers natively.
	SupportsTracing bool

	// SupportsAck indicates the publisher learns whether the broker accepted a message.
	SupportsAck bool

	// SupportsWildcards indicates subscriptions may use topic filters rather
	// than literal names. Such transports set MetadataKeyTopic on inbound messages.
	SupportsWildcards bool

	// RestrictedTopicNames indicates topic names cannot contain '/' or '!'.
	// Topics are passed through SanitizeTopic before publishing. Such a
	// transport cannot carry the bridge's input stream because the marker
	// segments would not survive.
	RestrictedTopicNames bool

	// PublishOnly indicates the transport has no subscriber half.
	PublishOnly bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the transport.
	Name string
}

// TopicName returns the name topic must be published under on this transport.
func (c Capabilities) TopicName(topic string) string {
	if !c.RestrictedTopicNames {
		return topic
	}
	return SanitizeTopic(topic)
}

// CanCarryInput reports whether the transport can serve as the bridge's
// primary transport.
func (c Capabilities) CanCarryInput() bool {
	return !c.RestrictedTopicNames && !c.PublishOnly
}

// SanitizeTopic replaces every character outside [A-Za-z0-9_-] with '_'.
func SanitizeTopic(topic string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, topic)
}

// Predefined capability sets for the built-in transports.
var (
	// MQTTCapabilities for an MQTT 3.1.1 broker.
	MQTTCapabilities = Capabilities{
		Name:              "mqtt",
		SupportsOrdering:  true,
		SupportsAck:       true,
		SupportsWildcards: true,
		MaxMessageSize:    268435455,
	}

	// ChannelCapabilities for in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
	}

	// KafkaCapabilities for Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsAck:          true,
		RestrictedTopicNames: true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
	}

	// NATSCapabilities for NATS Core transport.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576, // Default 1MB
	}

	// JetStreamCapabilities for the NATS JetStream archive. Subjects are
	// prefixed with the stream name.
	JetStreamCapabilities = Capabilities{
		Name:             "nats-jetstream",
		SupportsOrdering: true,
		SupportsTracing:  true,
		SupportsAck:      true,
		PublishOnly:      true,
		MaxMessageSize:   1048576,
	}

	// AWSCapabilities for AWS SNS/SQS transport.
	AWSCapabilities = Capabilities{
		Name:                 "aws",
		SupportsOrdering:     true,
		SupportsTracing:      true,
		SupportsAck:          true,
		RestrictedTopicNames: true,
		MaxMessageSize:       262144, // 256KB
	}

	// HTTPCapabilities for HTTP-based transport.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
		SupportsAck:     true,
	}

	// IOCapabilities for file-based I/O transport.
	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Returns a zero Capabilities struct if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}

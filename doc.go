// Package meshflow bridges Meshtastic MQTT traffic: it subscribes to the
// binary ServiceEnvelope stream published under ".../e/..." topics, decodes
// each envelope and republishes it as a JSON document under the matching
// ".../json/..." topic.
//
// Decoding dispatches on the packet's port number through a closed table.
// Text and range-test payloads become {"text": ...} and {"range_test": ...};
// node info, position and telemetry payloads are decoded as protobuf
// messages and converted with proto field names, omitting default values.
// Every document carries packet.decoded.size, the length of the raw
// envelope in bytes. Packets without a decoded section (encrypted traffic)
// and unknown ports are dropped with a warning.
//
// Service runs the bridge. Inbound messages are only enqueued by the
// transport; a single worker translates them in arrival order and waits for
// the broker to acknowledge each publish. Failures are logged once and the
// message is dropped; nothing is retried.
//
// # Transports
//
// The primary transport must keep '/' in topic names:
//   - mqtt: Eclipse Paho client with reconnect and resubscribe (default)
//   - channel: In-memory Go channels for testing
//   - rabbitmq: AMQP topic exchange
//   - nats: NATS core subjects
//   - http: webhook publisher and listener
//   - io: JSON-lines file
//
// Kafka and AWS SNS/SQS restrict topic names and can only be used as
// mirrors, which receive a copy of every translated document under a
// sanitised topic name.
//
// When metrics are enabled the service serves Prometheus metrics on
// /metrics and a JSON health report on /healthz.
package meshflow

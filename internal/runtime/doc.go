/*
Package runtime runs the meshflow bridge: it receives binary Meshtastic
service envelopes from a transport, translates them to JSON and republishes
them under the matching /json/ topic.

# Pipeline

Transport subscriptions only enqueue. Service.OnMessage copies each inbound
message into the translation queue and returns immediately. A single Worker
pops entries in arrival order and for each one:

  - derives the output topic (every "/e/" becomes "/json/");
  - decodes the envelope with the envelope package;
  - encodes the document and publishes it, waiting for the broker ack;
  - copies the document to every configured mirror.

A failure at any step drops the entry with one warning log line and a
messages_dropped_total increment. Nothing is retried.

# Shutdown

Start returns when its context ends. Subscriptions are stopped first, then
the stop sentinel is queued behind every pending entry, the worker drains
the queue and the transports are closed. A ShutdownError cause or plain
cancellation counts as a clean stop.

# Observability

When metrics are enabled the service registers the bridge collectors and
decorates the primary publisher and subscriber with Watermill's Prometheus
metrics, then serves /metrics and /healthz on the configured port. Each
entry is traced with an OpenTelemetry span named TranslateMessage.
*/
package runtime

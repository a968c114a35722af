package runtime

import (
	"context"
	"encoding/hex"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/meshflow/internal/runtime/envelope"
	errspkg "github.com/drblury/meshflow/internal/runtime/errors"
	"github.com/drblury/meshflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/meshflow/internal/runtime/logging"
	"github.com/drblury/meshflow/internal/runtime/queue"
	"github.com/drblury/meshflow/transport"
)

// WorkerState is the lifecycle state of a Worker.
type WorkerState int32

const (
	WorkerRunning WorkerState = iota
	WorkerStopped
)

func (s WorkerState) String() string {
	if s == WorkerStopped {
		return "STOPPED"
	}
	return "RUNNING"
}

// Mirror is a publish-only transport that receives a copy of every document
// the primary transport acknowledged.
type Mirror struct {
	Name         string
	Publisher    message.Publisher
	Capabilities transport.Capabilities
}

// Worker drains the translation queue on a single goroutine: decode, derive
// the output topic, encode and publish, one entry at a time.
type Worker struct {
	queue     *queue.Queue
	decoder   envelope.Decoder
	publisher message.Publisher
	mirrors   []Mirror
	logger    loggingpkg.ServiceLogger
	metrics   *Metrics
	tracer    trace.Tracer

	state atomic.Int32
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithMirrors adds mirror publishers.
func WithMirrors(mirrors ...Mirror) WorkerOption {
	return func(w *Worker) { w.mirrors = append(w.mirrors, mirrors...) }
}

// WithMetrics records worker activity in m.
func WithMetrics(m *Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// WithDecoder replaces the default envelope decoder.
func WithDecoder(d envelope.Decoder) WorkerOption {
	return func(w *Worker) {
		if d != nil {
			w.decoder = d
		}
	}
}

// NewWorker returns a worker reading from q and publishing on publisher.
func NewWorker(q *queue.Queue, publisher message.Publisher, logger loggingpkg.ServiceLogger, opts ...WorkerOption) (*Worker, error) {
	if q == nil {
		return nil, errors.New("translation queue is required")
	}
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	w := &Worker{
		queue:     q,
		decoder:   envelope.DefaultDecoder{},
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("meshflow-bridge-tracer"),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.state.Store(int32(WorkerStopped))
	return w, nil
}

// State reports whether Run is active.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Run processes entries until the stop sentinel is popped, in which case it
// returns nil. A corrupted queue or the end of ctx is returned as an error.
// Per-entry failures are logged and dropped.
func (w *Worker) Run(ctx context.Context) error {
	w.state.Store(int32(WorkerRunning))
	defer w.state.Store(int32(WorkerStopped))

	w.logger.Debug("Translation worker started", nil)
	for {
		entry, err := w.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, errspkg.ErrQueueStopped) {
				w.logger.Debug("Translation worker stopped", nil)
				return nil
			}
			if errspkg.IsFatal(err) {
				w.logger.Error("Translation queue is corrupted, stopping worker", err, nil)
			}
			return err
		}
		w.metrics.SetQueueDepth(w.queue.Len())
		_ = w.Process(ctx, entry)
	}
}

// Process translates a single entry. The returned error is the reason the
// entry was dropped; it has already been logged and counted.
func (w *Worker) Process(ctx context.Context, entry queue.Entry) error {
	ctx, span := w.tracer.Start(ctx, "TranslateMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("mqtt.topic", entry.Topic),
		attribute.Int("message.size", len(entry.Payload)),
	)

	port, err := w.translate(ctx, entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errspkg.Reason(err))
		w.drop(entry, err)
		return err
	}
	span.SetAttributes(attribute.String("meshtastic.port", port))
	return nil
}

func (w *Worker) translate(ctx context.Context, entry queue.Entry) (string, error) {
	outTopic, err := OutputTopic(entry.Topic)
	if err != nil {
		return "", err
	}

	doc, err := w.decoder.Decode(entry.Payload)
	if err != nil {
		return "", err
	}
	port := portLabel(doc)

	payload, err := jsoncodec.Marshal(doc)
	if err != nil {
		return port, &errspkg.PublishError{Topic: outTopic, Err: err}
	}

	started := time.Now()
	uuid, err := PublishDocument(ctx, w.publisher, outTopic, payload)
	if err != nil {
		return port, &errspkg.PublishError{Topic: outTopic, Err: err}
	}
	w.metrics.RecordPublished(port, time.Since(started))
	w.logger.Info("Published translated message", loggingpkg.LogFields{
		"topic":        outTopic,
		"port":         port,
		"size":         len(entry.Payload),
		"message_uuid": uuid,
	})

	w.mirror(ctx, outTopic, payload)
	return port, nil
}

func (w *Worker) mirror(ctx context.Context, topic string, payload []byte) {
	for _, m := range w.mirrors {
		name := m.Capabilities.TopicName(topic)
		if _, err := PublishDocument(ctx, m.Publisher, name, payload); err != nil {
			w.metrics.RecordMirrorFailure(m.Name)
			w.logger.Warn("Failed to publish to mirror", err, loggingpkg.LogFields{
				"mirror": m.Name,
				"topic":  name,
			})
		}
	}
}

func (w *Worker) drop(entry queue.Entry, err error) {
	w.metrics.RecordDropped(err)
	w.logger.Warn("Dropping message", err, loggingpkg.LogFields{
		"topic":  entry.Topic,
		"size":   len(entry.Payload),
		"reason": errspkg.Reason(err),
	})
	if errors.Is(err, errspkg.ErrDecode) || errors.Is(err, errspkg.ErrUnsupportedType) {
		w.logger.Debug("Dropped payload", loggingpkg.LogFields{
			"topic":   entry.Topic,
			"payload": hex.EncodeToString(entry.Payload),
		})
	}
}

func portLabel(doc envelope.Document) string {
	packet, _ := doc["packet"].(map[string]any)
	decoded, _ := packet["decoded"].(map[string]any)
	if name, ok := decoded["portnum"].(string); ok {
		return name
	}
	return "UNKNOWN"
}

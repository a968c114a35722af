package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/meshflow/internal/runtime/config"
	"github.com/drblury/meshflow/internal/runtime/envelope"
	errspkg "github.com/drblury/meshflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/meshflow/internal/runtime/logging"
	"github.com/drblury/meshflow/internal/runtime/queue"
	transportpkg "github.com/drblury/meshflow/internal/runtime/transport"
	"github.com/drblury/meshflow/transport"
)

const shutdownTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the defaults.
type ServiceDependencies struct {
	TransportFactory transportpkg.Factory
	Decoder          envelope.Decoder
	// Registerer receives the bridge and pub/sub collectors when metrics are
	// enabled. Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Service wires the primary transport, mirrors, translation queue and worker.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	mirrors    []Mirror
	closers    []transport.Transport

	queue   *queue.Queue
	worker  *Worker
	metrics *Metrics

	gatherer        prometheus.Gatherer
	resourceTracker *resourceTracker

	started   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewService constructs a Service for the supplied configuration. It panics
// when the service cannot be built; use TryNewService to handle the error.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) *Service {
	s, err := TryNewService(ctx, conf, log, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService validates conf, builds the transports and prepares the worker.
// Nothing is subscribed until Start.
func TryNewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	caps := factory.Capabilities(conf.Transport)
	if !caps.CanCarryInput() {
		return nil, fmt.Errorf("transport %q cannot carry %q topics; use it as a mirror", conf.Transport, InputMarker)
	}

	log.Info("Creating bridge service", loggingpkg.LogFields{
		"transport": conf.Transport,
		"topics":    conf.Topics,
		"mirrors":   conf.Mirrors,
		"config":    conf.String(),
	})

	s := &Service{
		Conf:            conf,
		Logger:          log,
		gatherer:        gatherer,
		resourceTracker: newResourceTracker(),
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	primary, err := factory.Build(ctx, conf.Transport, conf, wmLogger, transport.PublishSubscribe)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, primary)
	if primary.Publisher == nil || primary.Subscriber == nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: %s did not provide a publisher and subscriber", errspkg.ErrTransportRequired, conf.Transport)
	}
	s.publisher = primary.Publisher
	s.subscriber = primary.Subscriber

	for _, name := range conf.Mirrors {
		mirror, err := factory.Build(ctx, name, conf, wmLogger, transport.PublishOnly)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("mirror %s: %w", name, err)
		}
		s.closers = append(s.closers, mirror)
		s.mirrors = append(s.mirrors, Mirror{
			Name:         name,
			Publisher:    mirror.Publisher,
			Capabilities: factory.Capabilities(name),
		})
	}

	if conf.MetricsEnabled {
		s.metrics = NewMetrics(registerer)
		if err := s.metrics.Register(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		if err := s.decoratePubSub(registerer); err != nil {
			_ = s.Close()
			return nil, err
		}
	} else {
		s.metrics = NewMetrics(prometheus.NewRegistry())
	}

	s.queue, err = s.newQueue()
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	s.worker, err = NewWorker(s.queue, s.publisher, log,
		WithDecoder(deps.Decoder),
		WithMetrics(s.metrics),
		WithMirrors(s.mirrors...),
	)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *Service) decoratePubSub(registerer prometheus.Registerer) error {
	builder := metrics.NewPrometheusMetricsBuilder(registerer, metricsNamespace, s.Conf.Transport)

	pub, err := builder.DecoratePublisher(s.publisher)
	if err != nil {
		return fmt.Errorf("decorate publisher: %w", err)
	}
	sub, err := builder.DecorateSubscriber(s.subscriber)
	if err != nil {
		return fmt.Errorf("decorate subscriber: %w", err)
	}
	s.publisher = pub
	s.subscriber = sub
	return nil
}

func (s *Service) newQueue() (*queue.Queue, error) {
	policy, err := queue.ParsePolicy(s.Conf.QueueOverflow)
	if err != nil {
		return nil, err
	}
	return queue.New(
		queue.WithCapacity(s.Conf.QueueCapacity, policy),
		queue.WithEvictHandler(func(e queue.Entry) {
			s.dropQueued(e, fmt.Errorf("%w: evicted oldest entry", errspkg.ErrQueueFull))
		}),
	), nil
}

// OnMessage enqueues an inbound envelope for translation. It never decodes or
// publishes.
func (s *Service) OnMessage(ctx context.Context, topic string, payload []byte) error {
	entry := queue.NewEntry(topic, payload)
	if err := s.queue.Push(ctx, entry); err != nil {
		if errors.Is(err, errspkg.ErrQueueFull) {
			s.dropQueued(entry, err)
		}
		return err
	}
	s.metrics.RecordReceived()
	s.metrics.SetQueueDepth(s.queue.Len())
	return nil
}

func (s *Service) dropQueued(e queue.Entry, err error) {
	s.metrics.RecordDropped(err)
	s.Logger.Warn("Dropping message", err, loggingpkg.LogFields{
		"topic":  e.Topic,
		"size":   len(e.Payload),
		"reason": errspkg.Reason(err),
	})
}

// Start subscribes every configured topic filter and runs the bridge until
// ctx ends. It returns nil when ctx was cancelled by the operator (a
// ShutdownError cause or plain cancellation) and the cause otherwise.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("service already started")
	}

	stopHTTP, err := s.startHTTPServer()
	if err != nil {
		_ = s.Close()
		return err
	}
	defer stopHTTP()

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- s.worker.Run(context.WithoutCancel(ctx))
	}()

	pumpCtx, stopPumps := context.WithCancel(ctx)
	defer stopPumps()

	var pumps sync.WaitGroup
	for _, filter := range s.Conf.Topics {
		msgs, err := s.subscriber.Subscribe(pumpCtx, filter)
		if err != nil {
			stopPumps()
			pumps.Wait()
			s.stopWorker(workerDone)
			_ = s.Close()
			return fmt.Errorf("subscribe %s: %w", filter, err)
		}
		s.Logger.Info("Subscribed", loggingpkg.LogFields{"topic": filter})

		pumps.Add(1)
		go func(filter string) {
			defer pumps.Done()
			s.pump(pumpCtx, filter, msgs)
		}(filter)
	}

	s.Logger.Info("Bridge started", loggingpkg.LogFields{
		"transport": s.Conf.Transport,
		"topics":    s.Conf.Topics,
	})

	var workerErr error
	workerFinished := false
	select {
	case <-ctx.Done():
	case workerErr = <-workerDone:
		workerFinished = true
	}

	cause := context.Cause(ctx)
	s.Logger.Info("Shutting down bridge", loggingpkg.LogFields{"cause": fmt.Sprint(cause)})

	stopPumps()
	pumps.Wait()
	if !workerFinished {
		workerErr = s.stopWorker(workerDone)
	}
	closeErr := s.Close()

	s.Logger.Info("Bridge stopped", loggingpkg.LogFields{"stats": s.Stats()})

	switch {
	case workerErr != nil:
		return workerErr
	case cause != nil && !isOperatorShutdown(cause):
		return cause
	case closeErr != nil:
		s.Logger.Warn("Failed to close transports", closeErr, nil)
	}
	return nil
}

// stopWorker enqueues the stop sentinel behind every pending entry and
// waits for the worker to drain them.
func (s *Service) stopWorker(done <-chan error) error {
	s.queue.Close()
	return <-done
}

func (s *Service) pump(ctx context.Context, filter string, msgs <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			topic := msg.Metadata.Get(transport.MetadataKeyTopic)
			if topic == "" {
				topic = filter
			}
			if err := s.OnMessage(ctx, topic, msg.Payload); err != nil && !errors.Is(err, errspkg.ErrQueueFull) {
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}
}

// Close closes the primary transport and every mirror. It is called by Start
// on shutdown and is safe to call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i].Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Stats returns a snapshot of the bridge counters and queue state.
func (s *Service) Stats() Stats {
	stats := s.metrics.Snapshot()
	stats.QueueDepth = s.queue.Len()
	stats.WorkerState = s.worker.State().String()
	stats.Resources = s.resourceTracker.Snapshot()
	return stats
}

// Handler serves /metrics and /healthz.
func (s *Service) Handler() http.Handler {
	return newBridgeMux(s)
}

func (s *Service) startHTTPServer() (func(), error) {
	if !s.Conf.MetricsEnabled {
		return func() {}, nil
	}

	addr := fmt.Sprintf(":%d", s.Conf.MetricsPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("HTTP server failed", err, loggingpkg.LogFields{"address": addr})
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			s.Logger.Warn("Failed to stop HTTP server", err, loggingpkg.LogFields{"address": addr})
		}
	}, nil
}

func isOperatorShutdown(cause error) bool {
	return errors.Is(cause, errspkg.ErrShutdownRequested) || errors.Is(cause, context.Canceled)
}


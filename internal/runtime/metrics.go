package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	errspkg "github.com/drblury/meshflow/internal/runtime/errors"
)

// Stats is a point-in-time view of the bridge counters.
type Stats struct {
	Received       uint64            `json:"received"`
	Published      uint64            `json:"published"`
	Dropped        map[string]uint64 `json:"dropped"`
	MirrorFailures map[string]uint64 `json:"mirror_failures"`
	QueueDepth     int               `json:"queue_depth"`
	WorkerState    string            `json:"worker_state"`
	Resources      ResourceUsage     `json:"resources"`
	CollectedAt    time.Time         `json:"collected_at"`
}

// Metrics tracks bridge throughput in Prometheus collectors and in-process
// counters. A nil *Metrics discards every record.
type Metrics struct {
	mu sync.RWMutex

	received       uint64
	published      uint64
	dropped        map[string]uint64
	mirrorFailures map[string]uint64

	receivedTotal       prometheus.Counter
	publishedTotal      *prometheus.CounterVec
	droppedTotal        *prometheus.CounterVec
	mirrorFailuresTotal *prometheus.CounterVec
	queueDepth          prometheus.Gauge
	publishDuration     prometheus.Histogram

	registerer prometheus.Registerer
	registered bool
}

const (
	metricsNamespace = "meshflow"
	metricsSubsystem = "bridge"
)

func newBridgeCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the bridge collectors. They are not registered until
// Register is called.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		dropped:        make(map[string]uint64),
		mirrorFailures: make(map[string]uint64),
		registerer:     registerer,
		receivedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "messages_received_total",
			Help:      "Total number of envelopes accepted into the translation queue",
		}),
		publishedTotal:      newBridgeCounterVec("messages_published_total", "Total number of translated documents acknowledged by the primary transport", []string{"port"}),
		droppedTotal:        newBridgeCounterVec("messages_dropped_total", "Total number of envelopes dropped, by reason", []string{"reason"}),
		mirrorFailuresTotal: newBridgeCounterVec("mirror_failures_total", "Total number of failed publishes to mirror transports", []string{"transport"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "queue_depth",
			Help:      "Number of envelopes waiting for translation",
		}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "publish_duration_seconds",
			Help:      "Time from publish call to broker acknowledgement on the primary transport",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),
	}
}

// Register registers the Prometheus collectors, adopting any that another
// Metrics already registered on the same registerer. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	var err error
	if m.receivedTotal, err = registerOrReuse(m.registerer, m.receivedTotal); err != nil {
		return err
	}
	if m.publishedTotal, err = registerOrReuse(m.registerer, m.publishedTotal); err != nil {
		return err
	}
	if m.droppedTotal, err = registerOrReuse(m.registerer, m.droppedTotal); err != nil {
		return err
	}
	if m.mirrorFailuresTotal, err = registerOrReuse(m.registerer, m.mirrorFailuresTotal); err != nil {
		return err
	}
	if m.queueDepth, err = registerOrReuse(m.registerer, m.queueDepth); err != nil {
		return err
	}
	if m.publishDuration, err = registerOrReuse(m.registerer, m.publishDuration); err != nil {
		return err
	}

	m.registered = true
	return nil
}

// registerOrReuse registers c, or returns the collector already registered
// under the same descriptor so updates land in the series /metrics serves.
func registerOrReuse[T prometheus.Collector](r prometheus.Registerer, c T) (T, error) {
	err := r.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	return c, err
}

// RecordReceived counts an envelope accepted into the queue.
func (m *Metrics) RecordReceived() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.received++
	m.mu.Unlock()
	m.receivedTotal.Inc()
}

// RecordPublished counts a document acknowledged by the primary transport.
func (m *Metrics) RecordPublished(port string, took time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.published++
	m.mu.Unlock()
	m.publishedTotal.WithLabelValues(port).Inc()
	m.publishDuration.Observe(took.Seconds())
}

// RecordDropped counts a dropped envelope under the reason derived from err.
func (m *Metrics) RecordDropped(err error) {
	if m == nil {
		return
	}
	reason := errspkg.Reason(err)
	if reason == "" {
		reason = errspkg.ReasonUnknown
	}
	m.mu.Lock()
	m.dropped[reason]++
	m.mu.Unlock()
	m.droppedTotal.WithLabelValues(reason).Inc()
}

// RecordMirrorFailure counts a failed publish to the named mirror.
func (m *Metrics) RecordMirrorFailure(transport string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.mirrorFailures[transport]++
	m.mu.Unlock()
	m.mirrorFailuresTotal.WithLabelValues(transport).Inc()
}

// SetQueueDepth reports the current queue length.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// Snapshot copies the in-process counters.
func (m *Metrics) Snapshot() Stats {
	stats := Stats{
		Dropped:        make(map[string]uint64),
		MirrorFailures: make(map[string]uint64),
		CollectedAt:    time.Now(),
	}
	if m == nil {
		return stats
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats.Received = m.received
	stats.Published = m.published
	for reason, n := range m.dropped {
		stats.Dropped[reason] = n
	}
	for name, n := range m.mirrorFailures {
		stats.MirrorFailures[name] = n
	}
	return stats
}

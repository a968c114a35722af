package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/meshflow/internal/runtime/config"
	errspkg "github.com/drblury/meshflow/internal/runtime/errors"
	"github.com/drblury/meshflow/internal/runtime/queue"
	transportpkg "github.com/drblury/meshflow/internal/runtime/transport"
	"github.com/drblury/meshflow/transport"
	channeltransport "github.com/drblury/meshflow/transport/channel"
	kafkatransport "github.com/drblury/meshflow/transport/kafka"
	"github.com/drblury/meshflow/transport/transporttest"
)

const outputTopic = "msh/US/2/json/LongFast/!abcd1234"

type fakeFactory struct {
	mu         sync.Mutex
	transports map[string]transport.Transport
	caps       map[string]transport.Capabilities
	modes      map[string]transport.Mode
	errs       map[string]error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		transports: map[string]transport.Transport{},
		caps:       map[string]transport.Capabilities{},
		modes:      map[string]transport.Mode{},
		errs:       map[string]error{},
	}
}

func (f *fakeFactory) Build(_ context.Context, name string, _ *configpkg.Config, _ watermill.LoggerAdapter, mode transport.Mode) (transport.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes[name] = mode
	if err := f.errs[name]; err != nil {
		return transport.Transport{}, err
	}
	return f.transports[name], nil
}

func (f *fakeFactory) Capabilities(name string) transport.Capabilities {
	f.mu.Lock()
	defer f.mu.Unlock()
	if caps, ok := f.caps[name]; ok {
		return caps
	}
	return transport.Capabilities{Name: name}
}

type bridgeFixture struct {
	conf    *configpkg.Config
	factory *fakeFactory
	pub     *transporttest.Publisher
	sub     *transporttest.Subscriber
	logger  *recordingLogger
}

func newBridgeFixture() *bridgeFixture {
	conf := configpkg.Default()
	conf.Transport = "fake"
	conf.Topics = []string{"msh/US/2/e/LongFast/!abcd1234"}

	f := &bridgeFixture{
		conf:    &conf,
		factory: newFakeFactory(),
		pub:     &transporttest.Publisher{},
		sub:     &transporttest.Subscriber{},
		logger:  newRecordingLogger(),
	}
	f.factory.transports["fake"] = transport.Transport{Publisher: f.pub, Subscriber: f.sub}
	return f
}

func (f *bridgeFixture) service(t *testing.T) *Service {
	t.Helper()
	s, err := TryNewService(context.Background(), f.conf, f.logger, ServiceDependencies{
		TransportFactory: f.factory,
		Registerer:       prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	return s
}

// start runs the service and waits until every topic filter is subscribed.
func (f *bridgeFixture) start(t *testing.T, s *Service) (context.CancelCauseFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancelCause(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		return len(f.sub.Topics()) == len(f.conf.Topics)
	}, 5*time.Second, 5*time.Millisecond)
	return cancel, done
}

func waitStart(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
		return nil
	}
}

func TestTryNewServiceValidation(t *testing.T) {
	_, err := TryNewService(context.Background(), nil, newRecordingLogger(), ServiceDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	f := newBridgeFixture()
	_, err = TryNewService(context.Background(), f.conf, nil, ServiceDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)

	f.conf.Topics = nil
	_, err = TryNewService(context.Background(), f.conf, f.logger, ServiceDependencies{TransportFactory: f.factory})
	var validation errspkg.ConfigValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestTryNewServiceRejectsRestrictedPrimary(t *testing.T) {
	f := newBridgeFixture()
	f.factory.caps["fake"] = transport.Capabilities{Name: "fake", RestrictedTopicNames: true}

	_, err := TryNewService(context.Background(), f.conf, f.logger, ServiceDependencies{TransportFactory: f.factory})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use it as a mirror")
	assert.Empty(t, f.factory.modes, "nothing is built for a rejected transport")
}

func TestTryNewServiceRequiresSubscriber(t *testing.T) {
	f := newBridgeFixture()
	f.factory.transports["fake"] = transport.Transport{Publisher: f.pub}

	_, err := TryNewService(context.Background(), f.conf, f.logger, ServiceDependencies{TransportFactory: f.factory})
	assert.ErrorIs(t, err, errspkg.ErrTransportRequired)
	assert.True(t, f.pub.Closed())
}

func TestTryNewServiceMirrorFailureClosesPrimary(t *testing.T) {
	f := newBridgeFixture()
	f.conf.Mirrors = []string{"archive"}
	f.factory.errs["archive"] = errors.New("unreachable")

	_, err := TryNewService(context.Background(), f.conf, f.logger, ServiceDependencies{TransportFactory: f.factory})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mirror archive")
	assert.True(t, f.pub.Closed())
}

func TestServiceTranslatesAndShutsDownCleanly(t *testing.T) {
	f := newBridgeFixture()
	s := f.service(t)
	cancel, done := f.start(t, s)

	const m = 20
	for i := 0; i < m; i++ {
		msg := message.NewMessage(fmt.Sprintf("in-%d", i), textEnvelope(t, fmt.Sprintf("msg-%02d", i)))
		require.True(t, f.sub.Send(f.conf.Topics[0], msg))
	}
	require.Eventually(t, func() bool { return s.Stats().Received == m }, 5*time.Second, 5*time.Millisecond)

	cancel(&errspkg.ShutdownError{Signal: syscall.SIGINT})
	require.NoError(t, waitStart(t, done))

	published := f.pub.Messages()
	require.Len(t, published, m, "every entry enqueued before shutdown is published")
	for i, p := range published {
		assert.Equal(t, outputTopic, p.Topic)
		assert.Contains(t, string(p.Payload), fmt.Sprintf(`"text":"msg-%02d"`, i))
	}
	assert.True(t, f.pub.Closed())
	assert.Equal(t, WorkerStopped, s.worker.State())
	assert.Equal(t, uint64(m), s.Stats().Published)
}

func TestServiceUsesConcreteTopicFromMetadata(t *testing.T) {
	f := newBridgeFixture()
	f.conf.Topics = []string{"msh/+/2/e/#"}
	s := f.service(t)
	cancel, done := f.start(t, s)

	msg := message.NewMessage("wild", textEnvelope(t, "hi"))
	msg.Metadata.Set(transport.MetadataKeyTopic, "msh/EU_868/2/e/MediumFast/!00000001")
	require.True(t, f.sub.Send("msh/+/2/e/#", msg))
	require.Eventually(t, func() bool { return len(f.pub.Messages()) == 1 }, 5*time.Second, 5*time.Millisecond)

	cancel(nil)
	require.NoError(t, waitStart(t, done))
	assert.Equal(t, "msh/EU_868/2/json/MediumFast/!00000001", f.pub.Messages()[0].Topic)
}

func TestServiceDropsMessagesOutsideInputMarker(t *testing.T) {
	f := newBridgeFixture()
	f.conf.Topics = []string{"msh/US/2/stat/!abcd1234"}
	s := f.service(t)
	cancel, done := f.start(t, s)

	require.True(t, f.sub.Send(f.conf.Topics[0], message.NewMessage("x", textEnvelope(t, "hi"))))
	require.Eventually(t, func() bool {
		return s.Stats().Dropped[errspkg.ReasonTopicMismatch] == 1
	}, 5*time.Second, 5*time.Millisecond)

	cancel(nil)
	require.NoError(t, waitStart(t, done))
	assert.Empty(t, f.pub.Messages())
	assert.Equal(t, 1, f.logger.count("warn", "Dropping message"))
}

func TestServiceReturnsNonOperatorCause(t *testing.T) {
	f := newBridgeFixture()
	s := f.service(t)
	cancel, done := f.start(t, s)

	fatal := errors.New("broker credentials revoked")
	cancel(fatal)
	assert.ErrorIs(t, waitStart(t, done), fatal)
}

func TestServiceStartTwice(t *testing.T) {
	f := newBridgeFixture()
	s := f.service(t)
	cancel, done := f.start(t, s)

	assert.Error(t, s.Start(context.Background()))

	cancel(nil)
	require.NoError(t, waitStart(t, done))
}

func TestServiceSubscribeFailure(t *testing.T) {
	f := newBridgeFixture()
	f.sub.Err = errors.New("not authorised")
	s := f.service(t)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscribe msh/US/2/e/LongFast/!abcd1234")
	assert.True(t, f.pub.Closed())
	assert.Equal(t, WorkerStopped, s.worker.State())
}

func TestServiceOnMessageQueueFull(t *testing.T) {
	f := newBridgeFixture()
	f.conf.QueueCapacity = 1
	f.conf.QueueOverflow = string(queue.DropNewest)
	s := f.service(t)

	require.NoError(t, s.OnMessage(context.Background(), f.conf.Topics[0], []byte{0x01}))
	err := s.OnMessage(context.Background(), f.conf.Topics[0], []byte{0x02, 0x03})
	assert.ErrorIs(t, err, errspkg.ErrQueueFull)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Received)
	assert.Equal(t, 1, stats.QueueDepth)
	assert.Equal(t, uint64(1), stats.Dropped[errspkg.ReasonQueueFull])

	warnings := f.logger.byLevel("warn")
	require.Len(t, warnings, 1)
	assert.Equal(t, 2, warnings[0].fields["size"])
	require.NoError(t, s.Close())
}

func TestServiceOnMessageDropOldest(t *testing.T) {
	f := newBridgeFixture()
	f.conf.QueueCapacity = 1
	f.conf.QueueOverflow = string(queue.DropOldest)
	s := f.service(t)

	require.NoError(t, s.OnMessage(context.Background(), "first/e/x", []byte{0x01}))
	require.NoError(t, s.OnMessage(context.Background(), "second/e/x", []byte{0x02}))

	warnings := f.logger.byLevel("warn")
	require.Len(t, warnings, 1)
	assert.Equal(t, "first/e/x", warnings[0].fields["topic"])
	assert.Equal(t, errspkg.ReasonQueueFull, warnings[0].fields["reason"])
}

func TestServiceMirrorsArePublishOnly(t *testing.T) {
	f := newBridgeFixture()
	mirror := &transporttest.Publisher{}
	f.conf.Mirrors = []string{"archive"}
	f.factory.transports["archive"] = transport.Transport{Publisher: mirror}
	f.factory.caps["archive"] = transport.Capabilities{Name: "archive", RestrictedTopicNames: true}
	s := f.service(t)
	assert.Equal(t, transport.PublishSubscribe, f.factory.modes["fake"])
	assert.Equal(t, transport.PublishOnly, f.factory.modes["archive"])

	cancel, done := f.start(t, s)
	require.True(t, f.sub.Send(f.conf.Topics[0], message.NewMessage("m", textEnvelope(t, "hi"))))
	require.Eventually(t, func() bool { return len(mirror.Messages()) == 1 }, 5*time.Second, 5*time.Millisecond)

	cancel(nil)
	require.NoError(t, waitStart(t, done))
	assert.Equal(t, "msh_US_2_json_LongFast__abcd1234", mirror.Messages()[0].Topic)
	assert.True(t, mirror.Closed())
}

func TestServiceHandler(t *testing.T) {
	f := newBridgeFixture()
	f.conf.MetricsEnabled = true
	reg := prometheus.NewRegistry()
	s, err := TryNewService(context.Background(), f.conf, f.logger, ServiceDependencies{
		TransportFactory: f.factory,
		Registerer:       reg,
		Gatherer:         reg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.OnMessage(context.Background(), f.conf.Topics[0], []byte{0x01}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "worker is not running before Start")
	assert.Contains(t, rec.Body.String(), `"queue_depth":1`)
	assert.Contains(t, rec.Body.String(), `"worker_state":"STOPPED"`)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "meshflow_bridge_messages_received_total 1")

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type signallingSubscriber struct {
	message.Subscriber
	subscribed chan string
}

func (s signallingSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := s.Subscriber.Subscribe(ctx, topic)
	s.subscribed <- topic
	return ch, err
}

func TestServiceOverChannelTransportWithKafkaMirror(t *testing.T) {
	origChannel := channeltransport.Factory
	origKafka := kafkatransport.PublisherFactory
	t.Cleanup(func() {
		channeltransport.Factory = origChannel
		kafkatransport.PublisherFactory = origKafka
	})

	var pubSub *gochannel.GoChannel
	subscribed := make(chan string, 1)
	channeltransport.Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		pubSub = gochannel.NewGoChannel(cfg, logger)
		return pubSub, signallingSubscriber{Subscriber: pubSub, subscribed: subscribed}
	}
	kafkaMirror := &transporttest.Publisher{}
	kafkatransport.PublisherFactory = func(cfg kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		assert.Equal(t, []string{"kafka:9092"}, cfg.Brokers)
		return kafkaMirror, nil
	}

	conf := configpkg.Default()
	conf.Transport = channeltransport.TransportName
	conf.Topics = []string{"msh/US/2/e/LongFast/!abcd1234"}
	conf.Mirrors = []string{kafkatransport.TransportName}
	conf.KafkaBrokers = []string{"kafka:9092"}

	s, err := TryNewService(context.Background(), &conf, newRecordingLogger(), ServiceDependencies{
		TransportFactory: transportpkg.DefaultFactory(),
	})
	require.NoError(t, err)
	require.NotNil(t, pubSub)

	output, err := pubSub.Subscribe(context.Background(), outputTopic)
	require.NoError(t, err)

	ctx, cancel := context.WithCancelCause(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	select {
	case <-subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("service did not subscribe")
	}

	raw := textEnvelope(t, "hello")
	require.NoError(t, pubSub.Publish(conf.Topics[0], message.NewMessage("in", raw)))

	select {
	case msg := <-output:
		msg.Ack()
		assert.True(t, strings.Contains(string(msg.Payload), `"payload":{"text":"hello"}`), "payload %s", msg.Payload)
		assert.Contains(t, string(msg.Payload), fmt.Sprintf(`"size":%d`, len(raw)))
	case <-time.After(5 * time.Second):
		t.Fatal("no translated message")
	}

	require.Eventually(t, func() bool { return len(kafkaMirror.Messages()) == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "msh_US_2_json_LongFast__abcd1234", kafkaMirror.Messages()[0].Topic)

	cancel(&errspkg.ShutdownError{Signal: syscall.SIGTERM})
	require.NoError(t, waitStart(t, done))
	assert.True(t, kafkaMirror.Closed())
}

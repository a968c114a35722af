package mqtt

import (
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/drblury/meshflow/transport"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type publishCall struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	opts *paho.ClientOptions

	mu              sync.Mutex
	connected       bool
	connectErrs     []error
	connectAttempts int
	publishToken    func() paho.Token
	published       []publishCall
	handlers        map[string]paho.MessageHandler
	subscribeCalls  []string
	unsubscribed    []string
	disconnects     int
}

var _ paho.Client = (*fakeClient)(nil)

func newFakeClient(opts *paho.ClientOptions) *fakeClient {
	return &fakeClient{opts: opts, handlers: make(map[string]paho.MessageHandler)}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *fakeClient) Connect() paho.Token {
	c.mu.Lock()
	c.connectAttempts++
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		c.mu.Unlock()
		return doneToken(err)
	}
	c.connected = true
	c.mu.Unlock()
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
	return doneToken(nil)
}

// reconnect simulates a lost connection followed by an automatic reconnect.
func (c *fakeClient) reconnect() {
	if c.opts.OnConnectionLost != nil {
		c.opts.OnConnectionLost(c, errors.New("connection reset"))
	}
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnects++
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, publishCall{topic: topic, qos: qos, payload: payload.([]byte)})
	if c.publishToken != nil {
		return c.publishToken()
	}
	return doneToken(nil)
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
	c.subscribeCalls = append(c.subscribeCalls, topic)
	return doneToken(nil)
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token {
	for topic, qos := range filters {
		c.Subscribe(topic, qos, callback)
	}
	return doneToken(nil)
}

func (c *fakeClient) Unsubscribe(topics ...string) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.handlers, topic)
		c.unsubscribed = append(c.unsubscribed, topic)
	}
	return doneToken(nil)
}

func (c *fakeClient) AddRoute(topic string, callback paho.MessageHandler) {}

func (c *fakeClient) OptionsReader() paho.ClientOptionsReader {
	return paho.NewOptionsReader(c.opts)
}

// deliver routes an inbound message to every matching filter, the way the
// broker would.
func (c *fakeClient) deliver(topic string, payload []byte) int {
	c.mu.Lock()
	var matched []paho.MessageHandler
	for filter, h := range c.handlers {
		if transport.MatchTopic(filter, topic) {
			matched = append(matched, h)
		}
	}
	c.mu.Unlock()
	for _, h := range matched {
		h(c, fakeMessage{topic: topic, payload: payload})
	}
	return len(matched)
}

func (c *fakeClient) snapshot() (attempts int, subscribes []string, published []publishCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectAttempts, append([]string(nil), c.subscribeCalls...), append([]publishCall(nil), c.published...)
}

type logEntry struct {
	level string
	msg   string
	err   error
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, err: err})
}

func (l *recordingLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.add("error", msg, err)
}
func (l *recordingLogger) Info(msg string, fields watermill.LogFields)  { l.add("info", msg, nil) }
func (l *recordingLogger) Debug(msg string, fields watermill.LogFields) { l.add("debug", msg, nil) }
func (l *recordingLogger) Trace(msg string, fields watermill.LogFields) { l.add("trace", msg, nil) }
func (l *recordingLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return l
}

func (l *recordingLogger) count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			n++
		}
	}
	return n
}

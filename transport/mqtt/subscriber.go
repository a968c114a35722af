package mqtt

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/drblury/meshflow/internal/runtime/ids"
	"github.com/drblury/meshflow/transport"
)

// ErrSubscriberClosed is returned by Subscribe after Close.
var ErrSubscriberClosed = errors.New("mqtt subscriber closed")

// Subscriber delivers broker messages matching topic filters. Each inbound
// message carries its concrete topic under transport.MetadataKeyTopic.
type Subscriber struct {
	conn *connection

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
}

var _ message.Subscriber = (*Subscriber)(nil)

// Subscribe registers filter with the broker. The returned channel closes
// when ctx ends or the subscriber is closed.
func (s *Subscriber) Subscribe(ctx context.Context, filter string) (<-chan *message.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSubscriberClosed
	}
	if s.subs == nil {
		s.subs = make(map[string]*subscription)
	}
	if _, exists := s.subs[filter]; exists {
		s.mu.Unlock()
		return nil, errors.New("already subscribed to " + filter)
	}
	sub := newSubscription(ctx, filter, s.conn.logger)
	s.subs[filter] = sub
	s.mu.Unlock()

	if s.conn.client.IsConnected() {
		if err := s.brokerSubscribe(sub); err != nil {
			s.remove(filter)
			return nil, err
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			s.remove(filter)
			if token := s.conn.client.Unsubscribe(filter); token.WaitTimeout(s.conn.connectTimeout) && token.Error() != nil {
				s.conn.logger.Debug("Unsubscribe failed", watermill.LogFields{"topic": filter, "err": token.Error().Error()})
			}
		case <-sub.done:
		}
	}()

	return sub.out, nil
}

func (s *Subscriber) brokerSubscribe(sub *subscription) error {
	s.conn.logger.Info("Subscribing to topic", watermill.LogFields{"topic": sub.filter, "qos": s.conn.qos})
	token := s.conn.client.Subscribe(sub.filter, s.conn.qos, sub.handle)
	if !token.WaitTimeout(s.conn.connectTimeout) {
		return errors.New("subscribe to " + sub.filter + " timed out")
	}
	return token.Error()
}

// resubscribe restores every live filter after a (re)connect.
func (s *Subscriber) resubscribe() {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if err := s.brokerSubscribe(sub); err != nil {
			s.conn.logger.Error("Failed to subscribe", err, watermill.LogFields{"topic": sub.filter})
		}
	}
}

func (s *Subscriber) remove(filter string) {
	s.mu.Lock()
	sub, ok := s.subs[filter]
	delete(s.subs, filter)
	s.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Close ends every subscription and releases the connection.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	s.conn.release()
	return nil
}

type subscription struct {
	ctx    context.Context
	filter string
	logger watermill.LoggerAdapter
	out    chan *message.Message

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func newSubscription(ctx context.Context, filter string, logger watermill.LoggerAdapter) *subscription {
	return &subscription{
		ctx:    ctx,
		filter: filter,
		logger: logger,
		out:    make(chan *message.Message),
		done:   make(chan struct{}),
	}
}

// handle runs on the Paho router goroutine. It hands the message over and
// waits for the consumer's ack so delivery order is kept.
func (s *subscription) handle(_ paho.Client, m paho.Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	payload := make([]byte, len(m.Payload()))
	copy(payload, m.Payload())
	msg := message.NewMessage(ids.CreateULID(), payload)
	msg.Metadata.Set(transport.MetadataKeyTopic, m.Topic())
	msg.SetContext(s.ctx)

	select {
	case s.out <- msg:
	case <-s.done:
		return
	}

	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		s.logger.Debug("Message nacked", watermill.LogFields{"topic": m.Topic(), "uuid": msg.UUID})
	case <-s.done:
	}
}

func (s *subscription) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.out)
		s.mu.Unlock()
	})
}

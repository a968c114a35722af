// Package transporttest provides in-memory publishers and subscribers for
// tests of code that talks to a transport.
package transporttest

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Published is a single recorded Publish call for one message.
type Published struct {
	Topic   string
	Payload []byte
	UUID    string
}

// Publisher records every published message. Err, when set, is returned
// from Publish instead of recording.
type Publisher struct {
	mu        sync.Mutex
	published []Published
	closed    bool

	Err error
	// OnPublish, when set, runs before the message is recorded.
	OnPublish func(topic string, msg *message.Message)
}

var _ message.Publisher = (*Publisher)(nil)

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	if p.OnPublish != nil {
		for _, msg := range messages {
			p.OnPublish(topic, msg)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	for _, msg := range messages {
		payload := make([]byte, len(msg.Payload))
		copy(payload, msg.Payload)
		p.published = append(p.published, Published{Topic: topic, Payload: payload, UUID: msg.UUID})
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Published, len(p.published))
	copy(out, p.published)
	return out
}

// Closed reports whether Close was called.
func (p *Publisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Subscriber hands out one channel per Subscribe call. Tests feed messages
// with Send.
type Subscriber struct {
	mu     sync.Mutex
	topics []string
	chans  map[string]chan *message.Message
	closed bool

	Err error
}

var _ message.Subscriber = (*Subscriber)(nil)

func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if s.chans == nil {
		s.chans = make(map[string]chan *message.Message)
	}
	ch, ok := s.chans[topic]
	if !ok {
		ch = make(chan *message.Message, 64)
		s.chans[topic] = ch
	}
	s.topics = append(s.topics, topic)
	return ch, nil
}

// Send delivers msg on the channel returned for topic and reports whether a
// subscription for topic exists.
func (s *Subscriber) Send(topic string, msg *message.Message) bool {
	s.mu.Lock()
	ch, ok := s.chans[topic]
	closed := s.closed
	s.mu.Unlock()
	if !ok || closed {
		return false
	}
	ch <- msg
	return true
}

// Topics returns the topics passed to Subscribe, in call order.
func (s *Subscriber) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.topics...)
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, ch := range s.chans {
		close(ch)
	}
	return nil
}

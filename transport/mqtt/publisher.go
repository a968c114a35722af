package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("mqtt publisher closed")

// Publisher publishes messages and waits for the broker to confirm each one.
type Publisher struct {
	conn    *connection
	qos     byte
	timeout time.Duration

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

var _ message.Publisher = (*Publisher)(nil)

// Publish sends messages in order. It returns at the first message the broker
// fails to confirm within the publish timeout.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	for _, msg := range messages {
		token := p.conn.client.Publish(topic, p.qos, false, []byte(msg.Payload))
		if p.timeout > 0 {
			if !token.WaitTimeout(p.timeout) {
				return fmt.Errorf("publish %s: not confirmed within %s", msg.UUID, p.timeout)
			}
		} else {
			token.Wait()
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", msg.UUID, err)
		}
	}
	return nil
}

// Close waits for in-flight publishes and releases the connection.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.conn.release()
	})
	return nil
}

// Package queue holds the FIFO that separates message receipt from
// translation. Producers push snapshots of inbound messages, a single
// consumer pops them in order, and Close appends a stop sentinel behind
// everything already queued.
package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	eaqueue "github.com/eapache/queue"

	errspkg "github.com/drblury/meshflow/internal/runtime/errors"
)

// Entry is an inbound message captured at receipt time. It is never mutated
// after Push.
type Entry struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// NewEntry copies payload so the caller may reuse its buffer.
func NewEntry(topic string, payload []byte) Entry {
	return Entry{
		Topic:      topic,
		Payload:    append([]byte(nil), payload...),
		ReceivedAt: time.Now(),
	}
}

// OverflowPolicy decides what a bounded queue does when it is full.
type OverflowPolicy string

const (
	// DropNewest rejects the incoming entry with ErrQueueFull.
	DropNewest OverflowPolicy = "drop-newest"
	// DropOldest evicts the head of the queue to make room.
	DropOldest OverflowPolicy = "drop-oldest"
	// Block waits for the consumer to free a slot.
	Block OverflowPolicy = "block"
)

// ParsePolicy maps a configuration value onto an OverflowPolicy.
func ParsePolicy(value string) (OverflowPolicy, error) {
	switch OverflowPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", DropNewest:
		return DropNewest, nil
	case DropOldest:
		return DropOldest, nil
	case Block:
		return Block, nil
	default:
		return "", fmt.Errorf("unknown queue overflow policy %q", value)
	}
}

type stopSentinel struct{}

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity bounds the queue. A capacity of zero or less keeps it unbounded.
func WithCapacity(capacity int, policy OverflowPolicy) Option {
	return func(q *Queue) {
		q.capacity = capacity
		q.policy = policy
	}
}

// WithEvictHandler registers fn to be called with each entry evicted under
// DropOldest. It runs on the producer's goroutine.
func WithEvictHandler(fn func(Entry)) Option {
	return func(q *Queue) {
		q.onEvict = fn
	}
}

// Queue is safe for concurrent producers and a single consumer.
type Queue struct {
	mu       sync.Mutex
	items    *eaqueue.Queue
	entries  int
	closed   bool
	stopped  bool
	capacity int
	policy   OverflowPolicy
	onEvict  func(Entry)

	ready chan struct{}
	space chan struct{}
	done  chan struct{}
}

// New returns an empty queue, unbounded unless WithCapacity is given.
func New(opts ...Option) *Queue {
	q := &Queue{
		items:  eaqueue.New(),
		policy: DropNewest,
		ready:  make(chan struct{}, 1),
		space:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push appends e. It returns ErrQueueClosed after Close and ErrQueueFull
// when a bounded queue with DropNewest has no room.
func (q *Queue) Push(ctx context.Context, e Entry) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return errspkg.ErrQueueClosed
		}
		if !q.full() {
			q.add(e)
			q.mu.Unlock()
			return nil
		}

		switch q.policy {
		case DropOldest:
			evicted := q.evictHead()
			q.add(e)
			q.mu.Unlock()
			if evicted != nil && q.onEvict != nil {
				q.onEvict(*evicted)
			}
			return nil
		case Block:
			q.mu.Unlock()
			select {
			case <-q.space:
			case <-q.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			q.mu.Unlock()
			return errspkg.ErrQueueFull
		}
	}
}

// Pop blocks until an entry is available and returns it. Once the sentinel
// has been reached it returns ErrQueueStopped, and ErrQueueCorrupted if the
// storage holds anything that is neither an entry nor the sentinel.
func (q *Queue) Pop(ctx context.Context) (Entry, error) {
	for {
		q.mu.Lock()
		if q.items.Length() > 0 {
			item := q.items.Remove()
			if q.items.Length() > 0 {
				signal(q.ready)
			}
			switch v := item.(type) {
			case Entry:
				q.entries--
				signal(q.space)
				q.mu.Unlock()
				return v, nil
			case stopSentinel:
				q.stopped = true
				q.mu.Unlock()
				return Entry{}, errspkg.ErrQueueStopped
			default:
				q.mu.Unlock()
				return Entry{}, fmt.Errorf("%w: %T", errspkg.ErrQueueCorrupted, item)
			}
		}
		if q.stopped {
			q.mu.Unlock()
			return Entry{}, errspkg.ErrQueueStopped
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		}
	}
}

// Close enqueues the stop sentinel. Entries pushed before Close are still
// returned by Pop; later pushes fail with ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items.Add(stopSentinel{})
	close(q.done)
	signal(q.ready)
}

// Len reports the number of entries waiting, excluding the sentinel.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries
}

// Capacity returns the configured bound, zero when unbounded.
func (q *Queue) Capacity() int {
	if q.capacity < 0 {
		return 0
	}
	return q.capacity
}

func (q *Queue) full() bool {
	return q.capacity > 0 && q.entries >= q.capacity
}

func (q *Queue) add(e Entry) {
	q.items.Add(e)
	q.entries++
	signal(q.ready)
	if !q.full() {
		signal(q.space)
	}
}

func (q *Queue) evictHead() *Entry {
	if q.items.Length() == 0 {
		return nil
	}
	head, ok := q.items.Peek().(Entry)
	if !ok {
		return nil
	}
	q.items.Remove()
	q.entries--
	return &head
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

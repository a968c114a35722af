package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/meshflow/internal/runtime/errors"
)

func TestPopReturnsEntriesInOrderThenStops(t *testing.T) {
	q := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Push(ctx, NewEntry(fmt.Sprintf("msh/e/%d", i), []byte{byte(i)})))
	}
	q.Close()

	for i := 0; i < 5; i++ {
		e, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("msh/e/%d", i), e.Topic)
		assert.Equal(t, []byte{byte(i)}, e.Payload)
	}

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, errspkg.ErrQueueStopped)

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, errspkg.ErrQueueStopped, "pop after the sentinel keeps reporting stop")
}

func TestPushAfterCloseFails(t *testing.T) {
	q := New()
	q.Close()
	q.Close()

	err := q.Push(context.Background(), NewEntry("msh/e/x", nil))
	assert.ErrorIs(t, err, errspkg.ErrQueueClosed)
	assert.Equal(t, 0, q.Len())
}

func TestNewEntryCopiesPayload(t *testing.T) {
	buf := []byte("hello")
	e := NewEntry("msh/e/x", buf)
	buf[0] = 'j'

	assert.Equal(t, []byte("hello"), e.Payload)
	assert.False(t, e.ReceivedAt.IsZero())
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New()
	got := make(chan Entry, 1)

	go func() {
		e, err := q.Pop(context.Background())
		if err == nil {
			got <- e
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(context.Background(), NewEntry("msh/e/late", nil)))

	select {
	case e := <-got:
		assert.Equal(t, "msh/e/late", e.Topic)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up after push")
	}
}

func TestPopHonoursContext(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentProducersSingleConsumer(t *testing.T) {
	const producers = 8
	const perProducer = 250

	q := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Push(ctx, NewEntry(fmt.Sprintf("p%d", p), []byte{byte(i)}))
			}
		}(p)
	}

	done := make(chan map[string][]byte)
	go func() {
		seen := make(map[string][]byte)
		for {
			e, err := q.Pop(ctx)
			if err != nil {
				done <- seen
				return
			}
			seen[e.Topic] = append(seen[e.Topic], e.Payload[0])
		}
	}()

	wg.Wait()
	q.Close()

	seen := <-done
	require.Len(t, seen, producers)
	for topic, values := range seen {
		require.Len(t, values, perProducer, topic)
		for i, v := range values {
			assert.Equal(t, byte(i), v, "per-producer order must be preserved for %s", topic)
		}
	}
}

func TestBoundedDropNewest(t *testing.T) {
	q := New(WithCapacity(2, DropNewest))
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, NewEntry("a", nil)))
	require.NoError(t, q.Push(ctx, NewEntry("b", nil)))
	assert.ErrorIs(t, q.Push(ctx, NewEntry("c", nil)), errspkg.ErrQueueFull)
	assert.Equal(t, 2, q.Len())

	e, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", e.Topic)
	require.NoError(t, q.Push(ctx, NewEntry("c", nil)))
}

func TestBoundedDropOldest(t *testing.T) {
	var evicted []string
	q := New(WithCapacity(2, DropOldest), WithEvictHandler(func(e Entry) {
		evicted = append(evicted, e.Topic)
	}))
	ctx := context.Background()

	for _, topic := range []string{"a", "b", "c", "d"} {
		require.NoError(t, q.Push(ctx, NewEntry(topic, nil)))
	}
	q.Close()

	assert.Equal(t, []string{"a", "b"}, evicted)

	var topics []string
	for {
		e, err := q.Pop(ctx)
		if err != nil {
			assert.ErrorIs(t, err, errspkg.ErrQueueStopped)
			break
		}
		topics = append(topics, e.Topic)
	}
	assert.Equal(t, []string{"c", "d"}, topics)
}

func TestBoundedBlockWaitsForSpace(t *testing.T) {
	q := New(WithCapacity(1, Block))
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, NewEntry("a", nil)))

	pushed := make(chan error, 1)
	go func() {
		pushed <- q.Push(ctx, NewEntry("b", nil))
	}()

	select {
	case <-pushed:
		t.Fatal("push should block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := q.Pop(ctx)
	require.NoError(t, err)

	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked push was not released")
	}
	assert.Equal(t, 1, q.Len())
}

func TestBoundedBlockReleasedByClose(t *testing.T) {
	q := New(WithCapacity(1, Block))
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, NewEntry("a", nil)))

	pushed := make(chan error, 1)
	go func() {
		pushed <- q.Push(ctx, NewEntry("b", nil))
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-pushed:
		assert.ErrorIs(t, err, errspkg.ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("close did not release the blocked producer")
	}
}

func TestBoundedBlockHonoursContext(t *testing.T) {
	q := New(WithCapacity(1, Block))
	require.NoError(t, q.Push(context.Background(), NewEntry("a", nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Push(ctx, NewEntry("b", nil)), context.DeadlineExceeded)
}

func TestPopReportsCorruption(t *testing.T) {
	q := New()
	q.mu.Lock()
	q.items.Add("not an entry")
	q.mu.Unlock()

	_, err := q.Pop(context.Background())
	assert.ErrorIs(t, err, errspkg.ErrQueueCorrupted)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in   string
		want OverflowPolicy
	}{
		{"", DropNewest},
		{"drop-newest", DropNewest},
		{"DROP-OLDEST", DropOldest},
		{" block ", Block},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParsePolicy("spill")
	assert.Error(t, err)
}

func TestCapacity(t *testing.T) {
	assert.Equal(t, 0, New().Capacity())
	assert.Equal(t, 0, New(WithCapacity(-3, Block)).Capacity())
	assert.Equal(t, 10, New(WithCapacity(10, Block)).Capacity())
}

package events

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Morlock52/psscript-sub005/internal/types"
)

// Bus distributes analysis events to subscribers, one bounded stream per
// thread.
//
// Thread safety:
//   - All methods are safe for concurrent use
//   - Publish never blocks the orchestrator: when a stream's buffer is full
//     the oldest buffered event is dropped in favor of the new one
//
// Terminal handling:
//   - A thread's stream accepts at most one terminal event (completed or
//     error); after delivering it, all subscriber channels for that thread
//     are closed and further publishes are rejected
//   - A subscriber attaching after the terminal event receives the buffered
//     backlog (ending with the terminal event) and then a closed channel
type Bus interface {
	// Publish delivers an event to the thread's stream. It returns a
	// STATE_INVALID error if the stream has already seen a terminal event,
	// and never blocks on slow subscribers.
	Publish(ctx context.Context, event AnalysisEvent) error

	// Subscribe attaches a new reader to a thread's stream, creating the
	// stream if it does not exist yet. Buffered events published before the
	// subscription are replayed first. The cleanup function must be called
	// to release the subscription.
	Subscribe(threadID string) (<-chan AnalysisEvent, func())

	// Drop discards a thread's stream and closes any remaining subscriber
	// channels. Used by checkpoint garbage collection once a thread's
	// retention window has passed.
	Drop(threadID string)

	// Close shuts down the bus and all streams.
	Close() error
}

// DefaultBus implements Bus with per-thread ring buffers.
type DefaultBus struct {
	mu      sync.Mutex
	streams map[string]*stream
	options *busOptions
	closed  bool
}

// stream is the bounded event channel for one thread. The orchestrator is
// the single producer; subscribers only read.
type stream struct {
	backlog     []AnalysisEvent
	subscribers map[uint64]*subscriber
	terminal    bool
}

type subscriber struct {
	ch      chan AnalysisEvent
	dropped atomic.Int64
}

type busOptions struct {
	bufferSize int
	logger     *slog.Logger
}

// BusOption configures a DefaultBus.
type BusOption func(*busOptions)

// WithBufferSize sets the per-thread event buffer capacity. Default 64.
func WithBufferSize(size int) BusOption {
	return func(opts *busOptions) {
		if size > 0 {
			opts.bufferSize = size
		}
	}
}

// WithBusLogger sets the logger used to report dropped events.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(opts *busOptions) {
		if logger != nil {
			opts.logger = logger.With("component", "eventbus")
		}
	}
}

// NewBus creates a DefaultBus.
func NewBus(opts ...BusOption) *DefaultBus {
	options := &busOptions{
		bufferSize: 64,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &DefaultBus{
		streams: make(map[string]*stream),
		options: options,
	}
}

var subscriberSeq atomic.Uint64

// Publish delivers an event to the thread's stream.
func (b *DefaultBus) Publish(ctx context.Context, event AnalysisEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return types.NewError(types.STATE_INVALID, "event bus is closed")
	}

	st := b.stream(event.ThreadID)
	if st.terminal {
		return types.NewError(types.STATE_INVALID,
			fmt.Sprintf("thread %s already received a terminal event", event.ThreadID))
	}

	// Buffer for late subscribers, dropping the oldest when full.
	if len(st.backlog) >= b.options.bufferSize {
		dropped := st.backlog[0]
		st.backlog = append(st.backlog[:0], st.backlog[1:]...)
		b.options.logger.Warn("dropped buffered event",
			"thread_id", event.ThreadID,
			"event_type", dropped.Type)
	}
	st.backlog = append(st.backlog, event)

	for _, sub := range st.subscribers {
		sub.send(event, b.options.logger)
	}

	if event.Terminal() {
		st.terminal = true
		for id, sub := range st.subscribers {
			close(sub.ch)
			delete(st.subscribers, id)
		}
	}

	return nil
}

// Subscribe attaches a reader to a thread's stream.
func (b *DefaultBus) Subscribe(threadID string) (<-chan AnalysisEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stream(threadID)

	// The channel is sized to hold the full backlog plus live headroom so
	// replay never forces a drop.
	sub := &subscriber{ch: make(chan AnalysisEvent, len(st.backlog)+b.options.bufferSize)}
	for _, event := range st.backlog {
		sub.ch <- event
	}

	if st.terminal || b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	id := subscriberSeq.Add(1)
	st.subscribers[id] = sub

	cleanup := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cur, ok := st.subscribers[id]; ok {
			close(cur.ch)
			delete(st.subscribers, id)
		}
	}
	return sub.ch, cleanup
}

// Drop discards a thread's stream.
func (b *DefaultBus) Drop(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[threadID]
	if !ok {
		return
	}
	for id, sub := range st.subscribers {
		close(sub.ch)
		delete(st.subscribers, id)
	}
	delete(b.streams, threadID)
}

// Close shuts down the bus. Idempotent.
func (b *DefaultBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for threadID, st := range b.streams {
		for id, sub := range st.subscribers {
			close(sub.ch)
			delete(st.subscribers, id)
		}
		delete(b.streams, threadID)
	}
	return nil
}

// SubscriberCount returns the number of active subscribers for a thread.
func (b *DefaultBus) SubscriberCount(threadID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[threadID]
	if !ok {
		return 0
	}
	return len(st.subscribers)
}

// stream returns the thread's stream, creating it if needed. Caller holds
// b.mu.
func (b *DefaultBus) stream(threadID string) *stream {
	st, ok := b.streams[threadID]
	if !ok {
		st = &stream{subscribers: make(map[uint64]*subscriber)}
		b.streams[threadID] = st
	}
	return st
}

// send delivers one event without blocking, evicting the subscriber's oldest
// pending event when its channel is full.
func (s *subscriber) send(event AnalysisEvent, logger *slog.Logger) {
	select {
	case s.ch <- event:
		return
	default:
	}

	select {
	case old := <-s.ch:
		s.dropped.Add(1)
		logger.Warn("dropped event for slow subscriber",
			"thread_id", event.ThreadID,
			"event_type", old.Type)
	default:
	}

	select {
	case s.ch <- event:
	default:
		s.dropped.Add(1)
	}
}

var _ Bus = (*DefaultBus)(nil)

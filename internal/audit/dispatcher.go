package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Stats is a point-in-time view of dispatcher counters.
type Stats struct {
	Delivered uint64
	Dropped   uint64
	// SinkPanics counts events whose sink panicked. The dispatcher keeps
	// running after a panic.
	SinkPanics uint64
	// Rejected counts events emitted after Close.
	Rejected uint64
}

// Dispatcher relays limiter events to a sink from one background goroutine.
// A nil Dispatcher is valid and discards everything.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool

	queue chan Event
	// stopping wakes blocked senders; sealed tells the loop no sender can
	// reach queue anymore.
	stopping chan struct{}
	sealed   chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	mu     sync.RWMutex
	closed bool

	delivered  atomic.Uint64
	dropped    atomic.Uint64
	sinkPanics atomic.Uint64
	rejected   atomic.Uint64
}

// NewDispatcher starts the delivery goroutine. It returns nil when auditing is
// disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan Event, size),
		stopping:   make(chan struct{}),
		sealed:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.stopped)

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.sealed:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if recover() != nil {
			d.sinkPanics.Add(1)
		}
	}()

	d.sink.Emit(context.Background(), event)
	d.delivered.Add(1)
}

// Emit queues event. With DropIfFull it never waits; otherwise it waits for
// buffer space until ctx is done, and counts the event as dropped if it gives
// up.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.rejected.Add(1)
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	var cancelled <-chan struct{}
	if ctx != nil {
		cancelled = ctx.Done()
	}
	select {
	case d.queue <- event:
	case <-cancelled:
		d.dropped.Add(1)
	case <-d.stopping:
		d.dropped.Add(1)
	}
}

// Close stops accepting events, delivers what is buffered and waits for the
// goroutine to exit.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		close(d.stopping)
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.sealed)
	})
	<-d.stopped
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{
		Delivered:  d.delivered.Load(),
		Dropped:    d.dropped.Load(),
		SinkPanics: d.sinkPanics.Load(),
		Rejected:   d.rejected.Load(),
	}
}

func (d *Dispatcher) Dropped() uint64 {
	return d.Stats().Dropped
}

func (d *Dispatcher) Delivered() uint64 {
	return d.Stats().Delivered
}

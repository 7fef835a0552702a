package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrDropped reports an event discarded because the buffer was full.
	ErrDropped = errors.New("audit event dropped")
	// ErrClosed reports an event submitted after Close.
	ErrClosed = errors.New("audit dispatcher closed")
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled bool
	// Synchronous writes each event to the sink inside Record and returns
	// the sink's error. BufferSize and DropIfFull are ignored.
	Synchronous bool
	BufferSize  int
	DropIfFull  bool

	// OnDrop, when set, is called synchronously for every dropped event.
	OnDrop func(Event)
}

// Dispatcher forwards audit events to a sink, either inline or through a
// buffered worker.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		done: make(chan struct{}),
	}
	if cfg.Synchronous {
		return d
	}

	d.ch = make(chan Event, cfg.BufferSize)
	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			// Drain what was accepted before Close.
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	stamp(&event)
	d.sink.Emit(context.Background(), event)
}

func stamp(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
}

// Emit submits event and discards any delivery error.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	_ = d.Record(ctx, event)
}

// Record submits event. In synchronous mode it returns after the sink has
// handled the event, with the sink's error when the sink is a Recorder. In
// buffered mode it returns once the event is queued, ErrDropped when the
// full buffer discarded it, or the context error.
func (d *Dispatcher) Record(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	if d.closed.Load() {
		return ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.Synchronous {
		stamp(&event)
		return record(ctx, d.sink, event)
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
			return nil
		case <-d.done:
			return ErrClosed
		default:
			d.dropped.Add(1)
			if d.cfg.OnDrop != nil {
				d.cfg.OnDrop(event)
			}
			return ErrDropped
		}
	}

	select {
	case d.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return ErrClosed
	}
}

// Close stops accepting events and waits until buffered events are delivered.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

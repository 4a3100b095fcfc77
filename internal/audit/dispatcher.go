package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events when the buffer is full instead of waiting.
	// Refresh reuse events are never shed; they wait like any blocking Emit.
	DropIfFull bool
}

// Dispatcher relays events to a sink from one goroutine, so the sink sees
// them in queue order.
type Dispatcher struct {
	cfg    Config
	sink   Sink
	logger *zap.Logger
	now    func() time.Time

	queue   chan Event
	stop    chan struct{}
	stopped sync.WaitGroup
	closing atomic.Bool
	once    sync.Once

	dropped atomic.Uint64
	mu      sync.Mutex
	byType  map[string]uint64
}

// NewDispatcher returns nil when cfg.Enabled is false. A nil Dispatcher
// accepts and discards events.
func NewDispatcher(cfg Config, sink Sink, logger *zap.Logger) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger.Named("audit"),
		now:    time.Now,
		queue:  make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		byType: make(map[string]uint64),
	}
	d.stopped.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.stopped.Done()
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			d.drainQueue()
			return
		}
	}
}

func (d *Dispatcher) drainQueue() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

// deliver isolates the loop from a panicking sink.
func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("audit sink panicked", zap.String("event_type", event.EventType), zap.Any("panic", r))
		}
	}()
	d.sink.Emit(context.Background(), event)
}

func sheddable(eventType string) bool {
	return eventType != EventRefreshReuse
}

// Emit queues event, stamping Timestamp when unset. Under DropIfFull a full
// buffer drops sheddable events and counts them. Otherwise Emit waits for
// room, and an event still waiting when ctx ends is counted as dropped.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closing.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now().UTC()
	}

	if d.cfg.DropIfFull && sheddable(event.EventType) {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.drop(event, "buffer full")
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.drop(event, "context done")
	case <-d.stop:
	}
}

func (d *Dispatcher) drop(event Event, reason string) {
	d.mu.Lock()
	d.byType[event.EventType]++
	d.mu.Unlock()
	if d.dropped.Add(1) == 1 {
		d.logger.Warn("audit events dropped",
			zap.String("reason", reason),
			zap.String("event_type", event.EventType),
			zap.Int("buffer_size", d.cfg.BufferSize))
	}
}

// Close stops accepting events and drains the buffer into the sink. Drop
// totals per event type are logged once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closing.Store(true)
		close(d.stop)
		d.stopped.Wait()
		if n := d.dropped.Load(); n > 0 {
			d.logger.Warn("audit dispatcher closed with drops", zap.Uint64("dropped", n), zap.Any("by_type", d.DroppedByType()))
		}
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedByType breaks Dropped down by event type.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	out := map[string]uint64{}
	if d == nil {
		return out
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range d.byType {
		out[k] = v
	}
	return out
}

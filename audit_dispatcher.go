package goSession

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// auditDispatcher hands session audit events to the sink on its own
// goroutine so session operations never wait on a slow sink. Events arrive
// without an ID or timestamp and are stamped here. Drops are counted per
// event type; the first drop of each type is logged.
type auditDispatcher struct {
	cfg    AuditConfig
	sink   AuditSink
	logger *slog.Logger
	ch     chan AuditEvent
	done   chan struct{}
	wg     sync.WaitGroup

	delivered atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once

	mu      sync.Mutex
	dropped map[string]uint64
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink, logger *slog.Logger) *auditDispatcher {
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
		logger = slog.New(slog.DiscardHandler)
	}

	d := &auditDispatcher{
		cfg:     cfg,
		sink:    sink,
		logger:  logger,
		ch:      make(chan AuditEvent, cfg.BufferSize),
		done:    make(chan struct{}),
		dropped: make(map[string]uint64),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			// Flush what was queued before Close.
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

func (d *auditDispatcher) deliver(event AuditEvent) {
	d.sink.Emit(context.Background(), event)
	d.delivered.Add(1)
}

// Emit stamps event and queues it for the sink. With DropIfFull a full
// buffer drops the event; otherwise Emit waits for room or ctx.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.drop(event)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.drop(event)
	case <-d.done:
	}
}

func (d *auditDispatcher) drop(event AuditEvent) {
	d.mu.Lock()
	d.dropped[event.EventType]++
	first := d.dropped[event.EventType] == 1
	d.mu.Unlock()

	if first {
		d.logger.Warn("audit event dropped",
			slog.String("event_type", event.EventType),
			slog.String("uid", event.UserID),
			slog.Bool("success", event.Success),
		)
	}
}

// Close stops accepting events and flushes the queued ones to the sink.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
		if n := d.Dropped(); n > 0 {
			d.logger.Warn("audit events dropped before close", slog.Uint64("dropped", n))
		}
	})
}

// Dropped returns the total number of dropped events.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var n uint64
	for _, v := range d.dropped {
		n += v
	}
	return n
}

// DroppedByEvent returns a copy of the drop counts keyed by event type.
func (d *auditDispatcher) DroppedByEvent() map[string]uint64 {
	out := make(map[string]uint64)
	if d == nil {
		return out
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range d.dropped {
		out[k] = v
	}
	return out
}

func (d *auditDispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}

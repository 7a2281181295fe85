package escalate

import (
	"log/slog"
	"sync"
)

// Dispatcher receives level transitions. Implemented by the UI/session-control
// layer: render a warning, blur content, force logout, block access. riskd
// never knows what the action looks like.
type Dispatcher interface {
	Dispatch(sessionID string, level Level)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(sessionID string, level Level)

func (f DispatcherFunc) Dispatch(sessionID string, level Level) { f(sessionID, level) }

// NopDispatcher discards transitions.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(string, Level) {}

type dispatchItem struct {
	sessionID string
	level     Level
}

// AsyncDispatcher decouples the scoring path from a possibly slow downstream
// dispatcher. Enqueue never blocks: a full buffer drops the notification with
// a warning, because a stalled UI must never stall scoring for other sessions.
// The state transition itself is already committed when the item is enqueued;
// delivery is best-effort by contract.
type AsyncDispatcher struct {
	inner  Dispatcher
	queue  chan dispatchItem
	done   chan struct{}
	logger *slog.Logger
	once   sync.Once
}

// NewAsyncDispatcher wraps inner with a buffered delivery queue.
func NewAsyncDispatcher(inner Dispatcher, buffer int, logger *slog.Logger) *AsyncDispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	d := &AsyncDispatcher{
		inner:  inner,
		queue:  make(chan dispatchItem, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go d.deliverLoop()
	return d
}

// Dispatch enqueues the transition for async delivery.
func (d *AsyncDispatcher) Dispatch(sessionID string, level Level) {
	select {
	case d.queue <- dispatchItem{sessionID: sessionID, level: level}:
	default:
		d.logger.Warn("dispatch queue full, dropping notification",
			"session", sessionID, "level", level.String())
	}
}

// Close drains pending deliveries and stops the worker.
func (d *AsyncDispatcher) Close() {
	d.once.Do(func() {
		close(d.queue)
		<-d.done
	})
}

func (d *AsyncDispatcher) deliverLoop() {
	defer close(d.done)
	for item := range d.queue {
		d.inner.Dispatch(item.sessionID, item.level)
	}
}

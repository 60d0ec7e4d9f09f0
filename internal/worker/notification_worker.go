package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/spec-kit/queue-service/internal/events"
	"github.com/spec-kit/queue-service/internal/service"
)

// DefaultBufferSize bounds the number of events waiting to be relayed.
const DefaultBufferSize = 256

// NotificationWorker moves notification handling off the request path. The
// dispatcher only enqueues; a single goroutine relays events in order.
type NotificationWorker struct {
	notifications *service.NotificationService
	logger        *zap.Logger
	queue         chan events.Event
	dropped       atomic.Int64

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// NewNotificationWorker creates a worker. bufferSize <= 0 uses DefaultBufferSize.
func NewNotificationWorker(notifications *service.NotificationService, logger *zap.Logger, bufferSize int) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &NotificationWorker{
		notifications: notifications,
		logger:        logger,
		queue:         make(chan events.Event, bufferSize),
		done:          make(chan struct{}),
	}
}

// Start subscribes to every event type and begins relaying. ctx bounds each
// relay call; cancel it only after Stop to let buffered events drain.
func (w *NotificationWorker) Start(ctx context.Context, dispatcher events.Dispatcher) {
	for _, eventType := range events.AllEventTypes {
		dispatcher.Subscribe(eventType, w.enqueue)
	}
	go w.run(ctx)
}

// Stop rejects new events, waits for buffered ones to be relayed, and returns.
func (w *NotificationWorker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.queue)
	w.mu.Unlock()
	<-w.done
}

// Dropped reports how many events were discarded because the buffer was full.
func (w *NotificationWorker) Dropped() int64 {
	return w.dropped.Load()
}

// enqueue never fails the dispatcher: a full buffer is logged here and the
// event is discarded, so the publisher does not report the same drop again.
func (w *NotificationWorker) enqueue(_ context.Context, event events.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	select {
	case w.queue <- event:
		return nil
	default:
		w.dropped.Add(1)
		w.logger.Warn("dropping notification",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Int64("dropped_total", w.dropped.Load()))
		return nil
	}
}

func (w *NotificationWorker) run(ctx context.Context) {
	defer close(w.done)
	for event := range w.queue {
		if err := w.notifications.Handle(ctx, event); err != nil {
			w.logger.Warn("notification relay failed",
				zap.String("event_type", string(event.Type)),
				zap.String("ticket_id", event.TicketID),
				zap.Error(err))
		}
	}
}

// Package events delivers committed domain events to downstream sinks off
// the request path.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"avelon-ledger/internal/domain/event"
	"avelon-ledger/internal/infrastructure/metrics"
)

// AsyncDispatcher queues events on a buffered channel and delivers them from a
// single worker, so events for one loan reach every sink in commit order.
type AsyncDispatcher struct {
	queue   chan event.Event
	sinks   []event.Sink
	log     logrus.FieldLogger
	metrics *metrics.LedgerMetrics
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

var _ event.Publisher = (*AsyncDispatcher)(nil)

func NewAsyncDispatcher(buffer int, log logrus.FieldLogger, m *metrics.LedgerMetrics, sinks ...event.Sink) *AsyncDispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	d := &AsyncDispatcher{
		queue:   make(chan event.Event, buffer),
		sinks:   sinks,
		log:     log,
		metrics: m,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish never blocks. When the queue is full the event is dropped and
// counted.
func (d *AsyncDispatcher) Publish(_ context.Context, evs ...event.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range evs {
		if d.closed {
			d.drop(e, "dispatcher closed")
			continue
		}
		select {
		case d.queue <- e:
		default:
			d.drop(e, "queue full")
		}
	}
}

func (d *AsyncDispatcher) drop(e event.Event, reason string) {
	d.metrics.EventDropped(string(e.Type))
	d.log.WithFields(logrus.Fields{"event_id": e.ID, "event_type": e.Type, "loan_id": e.LoanID}).
		Error("event dropped: " + reason)
}

func (d *AsyncDispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *AsyncDispatcher) deliver(e event.Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := s.Deliver(ctx, e)
		cancel()
		if err != nil {
			d.metrics.DeliveryFailed(s.Name())
			d.log.WithFields(logrus.Fields{
				"sink":       s.Name(),
				"event_id":   e.ID,
				"event_type": e.Type,
				"loan_id":    e.LoanID,
			}).WithError(err).Error("event delivery failed")
		}
	}
}

// Close stops accepting events and waits until the queue drains or ctx ends.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

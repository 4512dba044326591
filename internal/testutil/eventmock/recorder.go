// Package eventmock records published domain events.
package eventmock

import (
	"context"
	"sync"

	"avelon-ledger/internal/domain/event"
)

var _ event.Publisher = (*Recorder)(nil)

type Recorder struct {
	mu  sync.Mutex
	evs []event.Event
}

func (r *Recorder) Publish(_ context.Context, evs ...event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, evs...)
}

func (r *Recorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.evs...)
}

// Types lists the recorded event types in publish order.
func (r *Recorder) Types() []event.Type {
	var out []event.Type
	for _, e := range r.Events() {
		out = append(out, e.Type)
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = nil
}

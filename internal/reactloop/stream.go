package reactloop

import "github.com/haasonsaas/conduit/pkg/models"

// StreamFunc receives one RunEvent at a time, in production order.
// Implementations must return promptly; a slow StreamFunc only delays its
// own delivery goroutine, never the controller (see eventStream).
type StreamFunc func(*models.RunEvent)

// eventStream decouples event production from a caller-supplied StreamFunc
// via a bounded channel drained by a dedicated goroutine. When the buffer
// is full, the oldest queued event is dropped to make room for the new
// one: delivery is best-effort and the controller never blocks on it.
type eventStream struct {
	events chan *models.RunEvent
	done   chan struct{}
}

func newEventStream(callback StreamFunc, bufSize int) *eventStream {
	if callback == nil {
		return nil
	}
	es := &eventStream{
		events: make(chan *models.RunEvent, bufSize),
		done:   make(chan struct{}),
	}
	go es.run(callback)
	return es
}

func (es *eventStream) run(callback StreamFunc) {
	defer close(es.done)
	for ev := range es.events {
		callback(ev)
	}
}

func (es *eventStream) emit(ev *models.RunEvent) {
	if es == nil {
		return
	}
	select {
	case es.events <- ev:
		return
	default:
	}
	// Buffer full: drop the oldest queued event and retry once.
	select {
	case <-es.events:
	default:
	}
	select {
	case es.events <- ev:
	default:
	}
}

func (es *eventStream) close() {
	if es == nil {
		return
	}
	close(es.events)
	<-es.done
}

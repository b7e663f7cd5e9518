package batch

import (
	"time"

	"go.uber.org/zap"
)

// EventType names a batch or job state transition.
type EventType string

// Lifecycle events emitted to subscribers.
const (
	EventBatchStarted   EventType = "batch_started"
	EventBatchPaused    EventType = "batch_paused"
	EventBatchResumed   EventType = "batch_resumed"
	EventBatchCancelled EventType = "batch_cancelled"
	EventBatchCompleted EventType = "batch_completed"
	EventBatchFailed    EventType = "batch_failed"
	EventJobStarted     EventType = "job_started"
	EventJobProgress    EventType = "job_progress"
	EventJobCompleted   EventType = "job_completed"
	EventJobFailed      EventType = "job_failed"
	EventJobRetrying    EventType = "job_retrying"
)

// Event is one typed state transition.
type Event struct {
	Type     EventType
	BatchID  string
	JobID    string
	Progress int
	Err      error
	Time     time.Time
}

// Subscribe registers a listener for every event the processor emits.
// Listeners run synchronously in registration order; a panicking listener
// is isolated and logged, never corrupting scheduler state or starving the
// other listeners. The returned function removes the subscription.
func (p *Processor) Subscribe(fn func(Event)) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	p.subscribers[id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subscribers, id)
	}
}

// emit fans an event out to every subscriber. It must be called without
// holding the processor mutex so listeners can query the processor.
func (p *Processor) emit(events ...Event) {
	for _, ev := range events {
		p.mu.Lock()
		fns := make([]func(Event), 0, len(p.subscribers))
		for _, fn := range p.subscribers {
			fns = append(fns, fn)
		}
		p.mu.Unlock()

		for _, fn := range fns {
			p.safeNotify(fn, ev)
		}
	}
}

func (p *Processor) safeNotify(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("event listener panicked",
				zap.String("event", string(ev.Type)),
				zap.Any("panic", r))
		}
	}()
	fn(ev)
}

func event(t EventType, batchID, jobID string) Event {
	return Event{Type: t, BatchID: batchID, JobID: jobID, Time: time.Now()}
}

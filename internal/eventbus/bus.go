// Package eventbus is the Event Bus (C5): a single in-process fan-out point
// between the engines that produce update events (scan, rollout) and the
// consumers that want to observe them (the SSE gateway, tests, future
// consumers). Delivery is synchronous on the emitting goroutine, so each
// subscriber sees one goroutine's events in the order they were emitted; the
// subscriber set is read under a bus-local lock. A panicking subscriber never
// crashes another one; subscribers are called one after another, so a slow
// one delays the ones after it.
package eventbus

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// EventType enumerates the kinds of update events routers/jobs can emit.
type EventType string

const (
	EventJobStarted      EventType = "job_started"
	EventJobProgress     EventType = "job_progress"
	EventBatchStarted    EventType = "batch_started"
	EventRouterStarted   EventType = "router_started"
	EventRouterProgress  EventType = "router_progress"
	EventRouterCompleted EventType = "router_completed"
	EventRouterFailed    EventType = "router_failed"
	EventBatchCompleted  EventType = "batch_completed"
	EventBatchWaiting    EventType = "batch_waiting"
	EventJobCompleted    EventType = "job_completed"
	EventJobCancelled    EventType = "job_cancelled"
)

// UpdateEvent is one point-in-time occurrence during a scan or rollout.
type UpdateEvent struct {
	Type      EventType              `json:"type"`
	JobID     string                 `json:"job_id,omitempty"`
	RouterID  string                 `json:"router_id,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

type subscriber struct {
	id    uint64
	jobID string // "" means subscribeAll
	cb    func(UpdateEvent)
}

// Bus is a process-wide event fan-out. The zero value is not usable; call
// New.
type Bus struct {
	mu       sync.Mutex
	log      *zap.Logger
	subs     map[uint64]subscriber
	nextID   uint64
}

func New(log *zap.Logger) *Bus {
	return &Bus{log: log, subs: make(map[uint64]subscriber)}
}

// Subscribe registers cb for events belonging to jobID only.
func (b *Bus) Subscribe(jobID string, cb func(UpdateEvent)) (unsubscribe func()) {
	return b.subscribe(jobID, cb)
}

// SubscribeAll registers cb for every event on the bus, regardless of job.
func (b *Bus) SubscribeAll(cb func(UpdateEvent)) (unsubscribe func()) {
	return b.subscribe("", cb)
}

func (b *Bus) subscribe(jobID string, cb func(UpdateEvent)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{id: id, jobID: jobID, cb: cb}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Emit delivers ev synchronously, in subscription order, to every matching
// subscriber. A subscriber that panics is caught and logged; it does not
// stop delivery to the rest.
func (b *Bus) Emit(ev UpdateEvent) {
	b.mu.Lock()
	targets := make([]subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.jobID == "" || s.jobID == ev.JobID {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })

	for _, s := range targets {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscriber, ev UpdateEvent) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.Error("event subscriber panicked", zap.Any("recover", r), zap.String("event_type", string(ev.Type)))
		}
	}()
	s.cb(ev)
}

// Cleanup removes every subscriber scoped to jobID. Subscribers registered
// via SubscribeAll are untouched. Safe to call more than once.
func (b *Bus) Cleanup(jobID string) {
	if jobID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		if s.jobID == jobID {
			delete(b.subs, id)
		}
	}
}

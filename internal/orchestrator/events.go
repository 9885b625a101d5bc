package orchestrator

import (
	"fmt"
	"log"
	"maps"
	"time"
)

// MaxEvents is how many entries the in-memory event log keeps; older ones
// are dropped.
const MaxEvents = 1000

// Event is one entry of the event log.
type Event struct {
	Name      string         `json:"type"`
	Payload   map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	// System marks bookkeeping records (registrations, state changes,
	// failures). They are logged but never dispatched to subscribers.
	System bool `json:"system,omitempty"`
}

// Callback receives emitted events. A returned error is handled according
// to the orchestrator's FailurePolicy.
type Callback func(Event) error

// FailurePolicy decides what a failing subscriber does to an emission.
type FailurePolicy int

const (
	// Propagate stops the emission at the first failing subscriber and
	// returns its error to the emitter.
	Propagate FailurePolicy = iota
	// Isolate logs the failure, records a callback_error event and keeps
	// calling the remaining subscribers.
	Isolate
)

func (p FailurePolicy) String() string {
	if p == Isolate {
		return "isolate"
	}
	return "propagate"
}

type subscriber struct {
	owner string // module name for EventAware subscriptions, "" otherwise
	fn    Callback
}

// On subscribes fn to the event name. Subscribers run in subscription order.
func (o *Orchestrator) On(name string, fn Callback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subs[name] = append(o.subs[name], subscriber{fn: fn})
}

// Emit appends one entry to the event log and then calls every subscriber
// of name synchronously on the calling goroutine. The log entry is written
// even when nobody listens.
func (o *Orchestrator) Emit(name string, payload map[string]any) error {
	o.mu.Lock()
	ev := o.appendLocked(name, payload, false)
	subs := append([]subscriber(nil), o.subs[name]...)
	policy := o.policy
	o.mu.Unlock()

	for i, s := range subs {
		err := s.fn(ev)
		if err == nil {
			continue
		}
		if policy == Propagate {
			return fmt.Errorf("subscriber %d of %q: %w", i, name, err)
		}
		log.Printf("Event %s: subscriber %d failed: %v", name, i, err)
		o.record("callback_error", map[string]any{"event": name, "error": err.Error()})
	}
	return nil
}

// EventLog returns the last limit events, or all of them when limit <= 0.
func (o *Orchestrator) EventLog(limit int) []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	events := o.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return append([]Event(nil), events...)
}

// record appends a system entry.
func (o *Orchestrator) record(name string, payload map[string]any) {
	o.mu.Lock()
	o.appendLocked(name, payload, true)
	o.mu.Unlock()
}

// appendLocked logs a shallow copy of payload so later changes by the caller
// do not rewrite history.
func (o *Orchestrator) appendLocked(name string, payload map[string]any, system bool) Event {
	payload = maps.Clone(payload)
	if payload == nil {
		payload = map[string]any{}
	}
	ev := Event{Name: name, Payload: payload, Timestamp: o.now(), System: system}
	o.events = append(o.events, ev)
	if n := len(o.events); n > MaxEvents {
		o.events = o.events[n-MaxEvents:]
	}
	return ev
}

func (o *Orchestrator) unsubscribeLocked(owner string) {
	for name, subs := range o.subs {
		kept := subs[:0:0]
		for _, s := range subs {
			if s.owner != owner {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(o.subs, name)
		} else {
			o.subs[name] = kept
		}
	}
}

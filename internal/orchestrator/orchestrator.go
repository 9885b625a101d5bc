// Package orchestrator coordinates the studio, the interpreter and the model
// through a module registry, a synchronous event bus and the music request
// pipeline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/satindergrewal/tonelab/internal/errs"
)

// Module is anything that can be registered.
type Module interface {
	Name() string
}

// Collaborator modules contribute to Collaborate tasks.
type Collaborator interface {
	Module
	Collaborate(ctx context.Context, task string, params map[string]any) (any, error)
}

// EventAware modules are subscribed to their events on registration and
// unsubscribed when they are unregistered or replaced.
type EventAware interface {
	Module
	Subscriptions() []string
	HandleEvent(Event) error
}

type entry struct {
	module Module
	state  State
}

// Orchestrator owns the module registry and the event log. It holds
// references to modules, not ownership.
type Orchestrator struct {
	mu      sync.Mutex
	modules map[string]*entry
	order   []string
	subs    map[string][]subscriber
	events  []Event
	policy  FailurePolicy
	now     func() time.Time

	created time.Time
	session map[string]any
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFailurePolicy sets how subscriber failures are handled.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an empty orchestrator. The default policy is Propagate.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		modules: make(map[string]*entry),
		subs:    make(map[string][]subscriber),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.created = o.now()
	o.session = map[string]any{
		"created_at": o.created.Format(time.RFC3339Nano),
		"projects":   []any{},
	}
	return o
}

// Policy returns the subscriber failure policy.
func (o *Orchestrator) Policy() FailurePolicy { return o.policy }

// Register adds m in the Idle state. Registering a name again replaces the
// previous module and resets the state to Idle.
func (o *Orchestrator) Register(m Module) error {
	if m == nil || strings.TrimSpace(m.Name()) == "" {
		return fmt.Errorf("module needs a name: %w", errs.ErrInvalidArgument)
	}
	name := m.Name()

	o.mu.Lock()
	if _, ok := o.modules[name]; ok {
		o.unsubscribeLocked(name)
	} else {
		o.order = append(o.order, name)
	}
	o.modules[name] = &entry{module: m, state: Idle}
	if ea, ok := m.(EventAware); ok {
		for _, ev := range ea.Subscriptions() {
			o.subs[ev] = append(o.subs[ev], subscriber{owner: name, fn: ea.HandleEvent})
		}
	}
	o.appendLocked("module_registered", map[string]any{"module": name}, true)
	o.mu.Unlock()

	log.Printf("Module registered: %s", name)
	return nil
}

// Unregister removes a module and its subscriptions.
func (o *Orchestrator) Unregister(name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.modules[name]; !ok {
		return fmt.Errorf("module %q: %w", name, errs.ErrNotFound)
	}
	delete(o.modules, name)
	for i, n := range o.order {
		if n == name {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	o.unsubscribeLocked(name)
	o.appendLocked("module_unregistered", map[string]any{"module": name}, true)
	return nil
}

// Module returns the registered module called name.
func (o *Orchestrator) Module(name string) (Module, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.modules[name]
	if !ok {
		return nil, fmt.Errorf("module %q: %w", name, errs.ErrNotFound)
	}
	return e.module, nil
}

// Modules returns module names in registration order.
func (o *Orchestrator) Modules() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.order...)
}

// State returns the state of a module.
func (o *Orchestrator) State(name string) (State, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.modules[name]
	if !ok {
		return "", fmt.Errorf("module %q: %w", name, errs.ErrNotFound)
	}
	return e.state, nil
}

// States returns a copy of every module's state.
func (o *Orchestrator) States() map[string]State {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]State, len(o.modules))
	for name, e := range o.modules {
		out[name] = e.state
	}
	return out
}

// SetState moves a module to another state. Moves the state machine does
// not allow fail with ErrInvalidState.
func (o *Orchestrator) SetState(name string, to State) error {
	if _, err := ParseState(string(to)); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.modules[name]
	if !ok {
		return fmt.Errorf("module %q: %w", name, errs.ErrNotFound)
	}
	if !e.state.CanTransition(to) {
		return fmt.Errorf("module %q: %s -> %s: %w", name, e.state, to, errs.ErrInvalidState)
	}
	from := e.state
	e.state = to
	o.appendLocked("state_change", map[string]any{"module": name, "from": string(from), "state": string(to)}, true)
	return nil
}

// ResetState returns a module to Idle from any state.
func (o *Orchestrator) ResetState(name string) error {
	return o.SetState(name, Idle)
}

// begin moves a module to Processing, clearing a previous Error first.
func (o *Orchestrator) begin(name string) error {
	st, err := o.State(name)
	if err != nil {
		return err
	}
	if st == Error {
		if err := o.SetState(name, Idle); err != nil {
			return err
		}
	}
	return o.SetState(name, Processing)
}

// finish moves a module to Ready or, when err is set, to Error.
func (o *Orchestrator) finish(name string, err error) {
	to := Ready
	if err != nil {
		to = Error
	}
	if serr := o.SetState(name, to); serr != nil {
		log.Printf("Module %s: %v", name, serr)
	}
}

// Info summarises the orchestrator.
type Info struct {
	Modules        []string         `json:"modules"`
	ModuleCount    int              `json:"module_count"`
	ModuleStates   map[string]State `json:"module_states"`
	EventCount     int              `json:"event_count"`
	SessionCreated time.Time        `json:"session_created"`
	FailurePolicy  string           `json:"failure_policy"`
}

// Info returns a snapshot of modules, states and log size.
func (o *Orchestrator) Info() Info {
	states := o.States()
	o.mu.Lock()
	defer o.mu.Unlock()
	return Info{
		Modules:        append([]string(nil), o.order...),
		ModuleCount:    len(o.order),
		ModuleStates:   states,
		EventCount:     len(o.events),
		SessionCreated: o.created,
		FailurePolicy:  o.policy.String(),
	}
}

// CollaborationResult gathers each collaborator's contribution to a task.
type CollaborationResult struct {
	Task    string            `json:"task"`
	Modules []string          `json:"modules_involved"`
	Results map[string]any    `json:"results"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// Collaborate asks every registered Collaborator, in registration order, to
// contribute to task. A module answering ErrNotFound does not handle the
// task and is skipped. Modules that fail are moved to Error and their
// failures joined into the returned error; the others' results are kept.
// A task nobody handles is ErrNotFound.
func (o *Orchestrator) Collaborate(ctx context.Context, task string, params map[string]any) (CollaborationResult, error) {
	if strings.TrimSpace(task) == "" {
		return CollaborationResult{}, fmt.Errorf("empty task: %w", errs.ErrInvalidArgument)
	}
	o.record("collaboration_started", map[string]any{"task": task})

	res := CollaborationResult{Task: task, Results: map[string]any{}}
	var failures []error
	for _, name := range o.Modules() {
		m, err := o.Module(name)
		if err != nil {
			continue
		}
		c, ok := m.(Collaborator)
		if !ok {
			continue
		}
		if err := o.begin(name); err != nil {
			failures = append(failures, err)
			continue
		}
		out, err := c.Collaborate(ctx, task, params)
		if errors.Is(err, errs.ErrNotFound) {
			o.finish(name, nil)
			continue
		}
		res.Modules = append(res.Modules, name)
		o.finish(name, err)
		if err != nil {
			if res.Errors == nil {
				res.Errors = map[string]string{}
			}
			res.Errors[name] = err.Error()
			failures = append(failures, fmt.Errorf("module %s: %w", name, err))
			continue
		}
		res.Results[name] = out
	}

	o.record("collaboration_complete", map[string]any{
		"task":    task,
		"modules": res.Modules,
		"failed":  len(failures),
	})
	if len(res.Modules) == 0 && len(failures) == 0 {
		return res, fmt.Errorf("no module handles task %q: %w", task, errs.ErrNotFound)
	}
	return res, errors.Join(failures...)
}

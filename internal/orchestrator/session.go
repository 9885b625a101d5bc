package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/satindergrewal/tonelab/internal/errs"
)

// RecentEvents is how many log entries a saved session keeps.
const RecentEvents = 50

// ParseError reports a session document that cannot be loaded. It matches
// errs.ErrInvalidArgument as well as the underlying cause.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{errs.ErrInvalidArgument, e.Err} }

var errMissing = errors.New("missing required field")

type sessionFile struct {
	SessionData  map[string]any   `json:"session_data"`
	ModuleStates map[string]State `json:"module_states"`
	RecentEvents []Event          `json:"recent_events"`
}

// SaveSession writes session data, module states and the last
// RecentEvents log entries as indented JSON.
func (o *Orchestrator) SaveSession(w io.Writer) error {
	states := o.States()
	o.mu.Lock()
	events := o.events
	if len(events) > RecentEvents {
		events = events[len(events)-RecentEvents:]
	}
	doc := sessionFile{
		SessionData:  o.session,
		ModuleStates: states,
		RecentEvents: events,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err := enc.Encode(doc)
	o.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	o.record("session_saved", nil)
	return nil
}

// LoadSession replaces session data, the states of registered modules and
// the event log with the document in r. Every field is checked before
// anything is applied; a bad document leaves the orchestrator untouched
// and returns a *ParseError. States of modules that are not registered are
// ignored.
func (o *Orchestrator) LoadSession(r io.Reader) error {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return &ParseError{Field: "document", Err: err}
	}
	for _, field := range []string{"session_data", "module_states", "recent_events"} {
		if v, ok := raw[field]; !ok || string(v) == "null" {
			return &ParseError{Field: field, Err: errMissing}
		}
	}

	var doc sessionFile
	if err := json.Unmarshal(raw["session_data"], &doc.SessionData); err != nil {
		return &ParseError{Field: "session_data", Err: err}
	}
	if err := json.Unmarshal(raw["module_states"], &doc.ModuleStates); err != nil {
		return &ParseError{Field: "module_states", Err: err}
	}
	if err := json.Unmarshal(raw["recent_events"], &doc.RecentEvents); err != nil {
		return &ParseError{Field: "recent_events", Err: err}
	}
	createdRaw, ok := doc.SessionData["created_at"].(string)
	if !ok {
		return &ParseError{Field: "session_data.created_at", Err: errMissing}
	}
	created, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return &ParseError{Field: "session_data.created_at", Err: err}
	}
	for i, ev := range doc.RecentEvents {
		if ev.Name == "" {
			return &ParseError{Field: fmt.Sprintf("recent_events[%d].type", i), Err: errMissing}
		}
	}

	o.mu.Lock()
	o.session = doc.SessionData
	o.created = created
	for name, st := range doc.ModuleStates {
		if e, ok := o.modules[name]; ok {
			e.state = st
		}
	}
	o.events = append([]Event(nil), doc.RecentEvents...)
	o.appendLocked("session_loaded", map[string]any{"events": len(doc.RecentEvents)}, true)
	o.mu.Unlock()
	return nil
}

// SaveSessionFile writes the session to path.
func (o *Orchestrator) SaveSessionFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := o.SaveSession(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadSessionFile reads a session saved by SaveSessionFile.
func (o *Orchestrator) LoadSessionFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("session %s: %w", path, errs.ErrNotFound)
		}
		return err
	}
	defer f.Close()
	return o.LoadSession(f)
}

// SessionData returns a shallow copy of the session metadata.
func (o *Orchestrator) SessionData() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]any, len(o.session))
	for k, v := range o.session {
		out[k] = v
	}
	return out
}

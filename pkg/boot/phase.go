package boot

import (
	"fmt"
	"sync"
)

// Phase is a startup-ordering gate. Phases are strictly ordered; code that
// depends on earlier initialization declares the minimum phase it needs.
type Phase int

const (
	// PreBootstrap is the initial phase, before any configuration or
	// storage wiring has happened.
	PreBootstrap Phase = iota
	// PostBootstrap means configuration is loaded and storage handles are
	// constructed, but the HTTP server does not exist yet.
	PostBootstrap
	// AppCreated means the server instance exists and request-lifecycle
	// hooks may be registered.
	AppCreated
)

func (p Phase) String() string {
	switch p {
	case PreBootstrap:
		return "PRE_BOOTSTRAP"
	case PostBootstrap:
		return "POST_BOOTSTRAP"
	case AppCreated:
		return "APP_CREATED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Event records that a named step happened at a given phase. Tests use the
// event trail to verify startup ordering.
type Event struct {
	Phase Phase
	Name  string
}

var (
	phaseMu sync.Mutex
	phase   Phase
	events  []Event
)

// SetPhase advances (or resets, in tests) the process-wide boot phase.
func SetPhase(p Phase) {
	phaseMu.Lock()
	defer phaseMu.Unlock()
	phase = p
}

// CurrentPhase returns the process-wide boot phase.
func CurrentPhase() Phase {
	phaseMu.Lock()
	defer phaseMu.Unlock()
	return phase
}

// RecordEvent appends a named step to the startup audit trail.
func RecordEvent(name string) {
	phaseMu.Lock()
	defer phaseMu.Unlock()
	events = append(events, Event{Phase: phase, Name: name})
}

// Events returns a copy of the startup audit trail.
func Events() []Event {
	phaseMu.Lock()
	defer phaseMu.Unlock()
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// ResetForTest clears phase and event state. Tests only.
func ResetForTest() {
	phaseMu.Lock()
	defer phaseMu.Unlock()
	phase = PreBootstrap
	events = nil
}

// RequireAtLeast returns an error naming both phases when the current boot
// phase is below required. Callers use it to fail fast when a fragile
// component would otherwise run before its prerequisites.
func RequireAtLeast(required Phase, what string) error {
	current := CurrentPhase()
	if current < required {
		return fmt.Errorf(
			"startup ordering violated for %q: required phase >= %s, current phase = %s",
			what, required, current,
		)
	}
	return nil
}

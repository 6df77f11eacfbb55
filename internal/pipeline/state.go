package pipeline

import (
	"errors"
	"fmt"

	"github.com/dharsanguruparan/AgeGate/internal/model"
)

// Event drives the state machine forward.
type Event string

const (
	EventStart         Event = "start"
	EventTextExtracted Event = "text_extracted"
	EventAgeResolved   Event = "age_resolved"
	EventGatePassed    Event = "gate_passed"
	EventUploaded      Event = "uploaded"
	EventRecorded      Event = "recorded"
)

// ErrInvalidTransition is returned when an event does not apply to the
// current state.
var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[model.State]map[Event]model.State{
	model.StateIdle:       {EventStart: model.StateExtracting},
	model.StateExtracting: {EventTextExtracted: model.StateResolving},
	model.StateResolving:  {EventAgeResolved: model.StateGating},
	model.StateGating:     {EventGatePassed: model.StateUploading},
	model.StateUploading:  {EventUploaded: model.StatePersisting},
	model.StatePersisting: {EventRecorded: model.StateCompleted},
}

// Transition describes one step taken by a Machine.
type Transition struct {
	From   model.State
	To     model.State
	Reason error
}

// Machine is the lifecycle of a single submitted document. It starts Idle and
// only moves through Fire and Fail. It is not safe for concurrent use; Run
// serializes access.
type Machine struct {
	state  model.State
	reason error
}

// NewMachine returns a machine in the Idle state.
func NewMachine() *Machine {
	return &Machine{state: model.StateIdle}
}

// State returns the current state.
func (m *Machine) State() model.State { return m.state }

// Reason is the error that moved the machine to Failed, if any.
func (m *Machine) Reason() error { return m.reason }

// Fire applies ev.
func (m *Machine) Fire(ev Event) (Transition, error) {
	next, ok := transitions[m.state][ev]
	if !ok {
		return Transition{}, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, m.state)
	}
	t := Transition{From: m.state, To: next}
	m.state = next
	return t, nil
}

// Fail moves any non-terminal state to Failed.
func (m *Machine) Fail(reason error) (Transition, error) {
	if m.state.Terminal() {
		return Transition{}, fmt.Errorf("%w: fail on %s", ErrInvalidTransition, m.state)
	}
	if reason == nil {
		reason = errors.New("unspecified failure")
	}
	t := Transition{From: m.state, To: model.StateFailed, Reason: reason}
	m.state = model.StateFailed
	m.reason = reason
	return t, nil
}

package recorder

import (
	"errors"
	"fmt"
	"sync"
)

// State is the recording lifecycle state
type State string

const (
	StateIdle          State = "IDLE"
	StateMonitoring    State = "MONITORING"
	StateRecording     State = "RECORDING"
	StateFinishingGame State = "FINISHING_GAME"
)

// States lists every recording state
var States = []State{StateIdle, StateMonitoring, StateRecording, StateFinishingGame}

// ErrInvalidTransition is returned when a request does not apply to the current state
var ErrInvalidTransition = errors.New("invalid recording state transition")

// StateMachine is the recording lifecycle. It is safe for concurrent use;
// the change callback is invoked after the internal lock is released.
type StateMachine struct {
	mu       sync.Mutex
	state    State
	paused   bool
	onChange func(from, to State)
}

// NewStateMachine creates a machine in IDLE. onChange may be nil.
func NewStateMachine(onChange func(from, to State)) *StateMachine {
	return &StateMachine{state: StateIdle, onChange: onChange}
}

// State returns the current state
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Paused reports whether monitoring was entered because of an integrity trigger
func (m *StateMachine) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// IsRecording is true only in RECORDING
func (m *StateMachine) IsRecording() bool {
	return m.State() == StateRecording
}

// IsActive is true in every state but IDLE
func (m *StateMachine) IsActive() bool {
	return m.State() != StateIdle
}

// StartSession moves IDLE to MONITORING
func (m *StateMachine) StartSession() error {
	return m.transition("start session", func(s State, _ bool) (State, bool, bool) {
		return StateMonitoring, false, s == StateIdle
	})
}

// GameStarted moves MONITORING to RECORDING unless monitoring is paused.
// Starting a game while already RECORDING is accepted and changes nothing.
func (m *StateMachine) GameStarted() error {
	return m.transition("game started", func(s State, paused bool) (State, bool, bool) {
		switch {
		case s == StateMonitoring && !paused:
			return StateRecording, false, true
		case s == StateRecording:
			return s, false, true
		}
		return s, paused, false
	})
}

// LimitReached moves RECORDING to FINISHING_GAME so the current game is
// completed before the session ends.
func (m *StateMachine) LimitReached() error {
	return m.transition("limit reached", func(s State, paused bool) (State, bool, bool) {
		return StateFinishingGame, false, s == StateRecording
	})
}

// GameEnded leaves RECORDING or FINISHING_GAME for MONITORING when the
// session continues, or for IDLE when it does not.
func (m *StateMachine) GameEnded(continueSession bool) error {
	return m.transition("game ended", func(s State, paused bool) (State, bool, bool) {
		if s != StateRecording && s != StateFinishingGame {
			return s, paused, false
		}
		if continueSession {
			return StateMonitoring, false, true
		}
		return StateIdle, false, true
	})
}

// IntegrityTriggered demotes RECORDING to MONITORING and marks monitoring
// as paused. In MONITORING it only sets the paused flag.
func (m *StateMachine) IntegrityTriggered() error {
	return m.transition("integrity triggered", func(s State, paused bool) (State, bool, bool) {
		if s == StateRecording || s == StateMonitoring {
			return StateMonitoring, true, true
		}
		return s, paused, false
	})
}

// Recovered promotes a paused MONITORING back to RECORDING
func (m *StateMachine) Recovered() error {
	return m.transition("recovered", func(s State, paused bool) (State, bool, bool) {
		if s == StateMonitoring && paused {
			return StateRecording, false, true
		}
		return s, paused, false
	})
}

// Stop returns to IDLE from any state
func (m *StateMachine) Stop() {
	_ = m.transition("stop", func(State, bool) (State, bool, bool) {
		return StateIdle, false, true
	})
}

// transition applies fn under the lock. fn returns the next state, the next
// paused flag and whether the request is legal in the current state.
func (m *StateMachine) transition(name string, fn func(State, bool) (State, bool, bool)) error {
	m.mu.Lock()
	from := m.state
	to, paused, ok := fn(m.state, m.paused)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, name, from)
	}
	m.state = to
	m.paused = paused
	onChange := m.onChange
	m.mu.Unlock()

	if from != to && onChange != nil {
		onChange(from, to)
	}
	return nil
}

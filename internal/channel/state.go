package channel

import (
	"fmt"
	"sync"

	"main/internal/model/enum"
)

// stateMachine guards lifecycle transitions with an explicit table.
// An attempt to take a transition outside the table is a programming error
// and panics; operational failures are modeled as states, not violations.
type stateMachine struct {
	mu    sync.Mutex
	state enum.LifecycleState
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: enum.LifecycleCreated}
}

func (m *stateMachine) Current() enum.LifecycleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// To performs a transition, returning the previous state.
func (m *stateMachine) To(next enum.LifecycleState) enum.LifecycleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !canTransition(m.state, next) {
		panic(fmt.Sprintf("channel: invalid lifecycle transition %s -> %s", m.state, next))
	}
	prev := m.state
	m.state = next
	return prev
}

// TryTo performs a transition only if the table allows it.
func (m *stateMachine) TryTo(next enum.LifecycleState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !canTransition(m.state, next) {
		return false
	}
	m.state = next
	return true
}

func canTransition(from, to enum.LifecycleState) bool {
	switch from {
	case enum.LifecycleCreated:
		return to == enum.LifecycleStarting || to == enum.LifecycleStopped
	case enum.LifecycleStarting:
		return to == enum.LifecycleRunning || to == enum.LifecycleStopping || to == enum.LifecycleFaulted
	case enum.LifecycleRunning:
		return to == enum.LifecycleReconnecting || to == enum.LifecycleStopping
	case enum.LifecycleReconnecting:
		return to == enum.LifecycleRunning || to == enum.LifecycleFaulted || to == enum.LifecycleStopping
	case enum.LifecycleStopping:
		return to == enum.LifecycleStopped
	case enum.LifecycleStopped, enum.LifecycleFaulted:
		// Terminal until an explicit Start begins a fresh lifecycle.
		return to == enum.LifecycleStarting
	default:
		return false
	}
}

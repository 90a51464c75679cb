// lobby/states.go
package lobby

import (
	"github.com/snaked/gameserver/state"
)

const (
	stateIdle     = "idle"
	stateCounting = "counting"
)

// idleState: no one is waiting, the countdown is parked.
type idleState struct {
	state.Base
}

func newIdleState() *idleState {
	return &idleState{Base: state.Base{ID: stateIdle}}
}

// countingState: the waiting set is non-empty and the countdown runs.
// OnUpdate fires once per second from the lobby's global timer, with
// the manager's lock held.
type countingState struct {
	state.Base
	lobby *Manager
}

func newCountingState(m *Manager) *countingState {
	return &countingState{
		Base:  state.Base{ID: stateCounting},
		lobby: m,
	}
}

func (s *countingState) OnEnter() {
	s.lobby.countdownLeft = s.lobby.cfg.CountdownSeconds
}

func (s *countingState) OnUpdate() {
	s.lobby.advanceCountdownLocked()
}

package state

import "sync/atomic"

// RunState is the process-wide service gate. While paused, everything but
// commands is dropped. It is not persisted and starts running.
type RunState struct {
	paused atomic.Bool
}

func NewRunState() *RunState {
	return &RunState{}
}

func (s *RunState) Running() bool {
	return !s.paused.Load()
}

func (s *RunState) Pause() {
	s.paused.Store(true)
}

func (s *RunState) Resume() {
	s.paused.Store(false)
}

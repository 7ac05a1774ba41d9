// Package schedule pauses and resumes the service on cron expressions.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/sipeed/godcmd/pkg/config"
	"github.com/sipeed/godcmd/pkg/logger"
	"github.com/sipeed/godcmd/pkg/state"
)

var ErrIncomplete = errors.New("pause_cron and resume_cron must be set together")

type Action int

const (
	ActionNone Action = iota
	ActionPause
	ActionResume
)

func (a Action) String() string {
	switch a {
	case ActionPause:
		return "pause"
	case ActionResume:
		return "resume"
	default:
		return "none"
	}
}

// Scheduler flips a RunState between paused and running. Manual #stop and
// #resume stay in effect until the next scheduled tick.
type Scheduler struct {
	pause  string
	resume string
	state  *state.RunState
	now    func() time.Time
}

// New validates cfg. It returns nil, nil when no window is configured.
func New(cfg config.ScheduleConfig, st *state.RunState) (*Scheduler, error) {
	pause := strings.TrimSpace(cfg.PauseCron)
	resume := strings.TrimSpace(cfg.ResumeCron)
	if pause == "" && resume == "" {
		return nil, nil
	}
	if pause == "" || resume == "" {
		return nil, ErrIncomplete
	}

	g := gronx.New()
	if !g.IsValid(pause) {
		return nil, fmt.Errorf("invalid pause_cron %q", pause)
	}
	if !g.IsValid(resume) {
		return nil, fmt.Errorf("invalid resume_cron %q", resume)
	}
	return &Scheduler{pause: pause, resume: resume, state: st, now: time.Now}, nil
}

// Next returns the first tick strictly after ref and what it does. When
// both expressions fire at the same instant resume wins.
func (s *Scheduler) Next(ref time.Time) (time.Time, Action, error) {
	p, err := gronx.NextTickAfter(s.pause, ref, false)
	if err != nil {
		return time.Time{}, ActionNone, fmt.Errorf("pause_cron: %w", err)
	}
	r, err := gronx.NextTickAfter(s.resume, ref, false)
	if err != nil {
		return time.Time{}, ActionNone, fmt.Errorf("resume_cron: %w", err)
	}
	if p.Before(r) {
		return p, ActionPause, nil
	}
	return r, ActionResume, nil
}

// Current reports which window ref falls in, judged by the most recent tick
// at or before ref.
func (s *Scheduler) Current(ref time.Time) (Action, error) {
	p, err := gronx.PrevTickBefore(s.pause, ref, true)
	if err != nil {
		return ActionNone, fmt.Errorf("pause_cron: %w", err)
	}
	r, err := gronx.PrevTickBefore(s.resume, ref, true)
	if err != nil {
		return ActionNone, fmt.Errorf("resume_cron: %w", err)
	}
	if p.After(r) {
		return ActionPause, nil
	}
	return ActionResume, nil
}

func (s *Scheduler) apply(a Action) {
	switch a {
	case ActionPause:
		s.state.Pause()
	case ActionResume:
		s.state.Resume()
	default:
		return
	}
	logger.InfoCF("schedule", "Scheduled state change", map[string]any{"action": a.String()})
}

// Run applies the current window, then every following tick until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	cur, err := s.Current(s.now())
	if err != nil {
		return err
	}
	s.apply(cur)

	for {
		at, action, err := s.Next(s.now())
		if err != nil {
			return err
		}
		logger.DebugCF("schedule", "Next scheduled change", map[string]any{
			"action": action.String(),
			"at":     at.Format(time.RFC3339),
		})

		timer := time.NewTimer(at.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			s.apply(action)
		}
	}
}

package host

import (
	"context"
	"log"
	"sync"
	"time"

	"live-quiz/internal/clock"
	"live-quiz/internal/models"
)

// Delays are how long each display phase lasts before the session moves on.
type Delays struct {
	Reveal      time.Duration
	Leaderboard time.Duration
	Transition  time.Duration
}

type timer struct {
	version int64
	t       *time.Timer
}

// Scheduler keeps at most one pending step per session. Each step carries
// the version it was planned for, so a host action that lands first turns it
// into a no-op.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]timer
	delays  Delays
	clock   clock.Clock
	ctx     context.Context
	advance func(ctx context.Context, id string, version int64)
}

// NewScheduler attaches a scheduler to c. Steps run with ctx, which should
// live as long as the server.
func NewScheduler(ctx context.Context, c *Controller, delays Delays) *Scheduler {
	s := newScheduler(ctx, c.clock, delays, c.advanceLogged)
	c.SetScheduler(s)
	return s
}

func newScheduler(ctx context.Context, clk clock.Clock, delays Delays, advance func(context.Context, string, int64)) *Scheduler {
	return &Scheduler{
		timers:  make(map[string]timer),
		delays:  delays,
		clock:   clk,
		ctx:     ctx,
		advance: advance,
	}
}

// Delay returns how long session s stays in its phase before the next
// automatic step, and false if the phase has none.
func (s *Scheduler) Delay(now time.Time, session *models.Session) (time.Duration, bool) {
	if !session.IsLive {
		return 0, false
	}
	var d time.Duration
	switch session.Phase {
	case models.PhaseQuestion:
		if session.TimerEndAt == nil {
			return 0, false
		}
		d = session.TimerEndAt.Sub(now)
	case models.PhaseLocked:
		d = s.delays.Reveal - now.Sub(session.PhaseChangedAt)
	case models.PhaseLeaderboard:
		d = s.delays.Leaderboard - now.Sub(session.PhaseChangedAt)
	case models.PhaseTransition:
		d = s.delays.Transition - now.Sub(session.PhaseChangedAt)
	default:
		return 0, false
	}
	if d < 0 {
		d = 0
	}
	return d, true
}

// Schedule replaces any pending step of the session with the one its
// current phase calls for.
func (s *Scheduler) Schedule(ctx context.Context, session *models.Session) {
	now, err := s.clock.Now(ctx)
	if err != nil {
		log.Printf("Scheduler: reading reference time for session %s: %v", session.ID, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[session.ID]; ok {
		if prev.version > session.Version {
			return
		}
		prev.t.Stop()
		delete(s.timers, session.ID)
	}

	d, ok := s.Delay(now, session)
	if !ok {
		return
	}
	id, version := session.ID, session.Version
	s.timers[id] = timer{
		version: version,
		t: time.AfterFunc(d, func() {
			s.fired(id, version)
			if s.ctx.Err() != nil {
				return
			}
			s.advance(s.ctx, id, version)
		}),
	}
}

func (s *Scheduler) fired(id string, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok && t.version == version {
		delete(s.timers, id)
	}
}

// Pending reports how many sessions have a step waiting.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending step.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.t.Stop()
		delete(s.timers, id)
	}
}

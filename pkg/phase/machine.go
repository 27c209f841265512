// Package phase derives what a client shows from the latest session row and
// the client's clock offset. Host and participant screens run the same
// Machine, so they cannot disagree about the phase or the countdown.
package phase

import (
	"context"
	"math"
	"sync"
	"time"

	"live-quiz/internal/models"
)

// Submission guards share the server's sentinels so callers handle one set
// of errors whichever side rejected the answer.
var (
	ErrNotInQuestion = models.ErrNotAcceptingAnswers
	ErrTimeExpired   = models.ErrTimeExpired
)

// DefaultTolerance is how far a countdown estimate may stray from the
// previous one's trend before a resync is requested.
const DefaultTolerance = 2 * time.Second

// State is the rendered view of the session at one instant.
type State struct {
	SessionID  string
	Version    int64
	Phase      models.Phase
	SlideIndex int
	// Remaining is the whole seconds left on the question timer.
	Remaining int
	// Locked is set once no answer can be submitted, either because the
	// session left the question phase or because the countdown ran out.
	Locked bool
	Ended  bool
}

type estimate struct {
	slide     int
	remaining time.Duration
	at        time.Time
}

// Machine holds the newest session snapshot it has seen. It never moves to
// another phase on its own; only the countdown changes between snapshots.
type Machine struct {
	Tolerance time.Duration
	// Now is the local clock; tests replace it.
	Now func() time.Time

	mu      sync.Mutex
	session *models.Session
	offset  time.Duration
	last    *estimate
	resync  chan struct{}
}

func New() *Machine {
	return &Machine{
		Tolerance: DefaultTolerance,
		Now:       time.Now,
		resync:    make(chan struct{}, 1),
	}
}

// Resync delivers a request whenever the countdown looks like clock drift.
func (m *Machine) Resync() <-chan struct{} {
	return m.resync
}

func (m *Machine) SetOffset(offset time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset = offset
	// A new offset shifts every estimate; start a new trend.
	m.last = nil
}

func (m *Machine) Offset() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offset
}

// Session returns a copy of the held snapshot, or nil.
func (m *Machine) Session() *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// Apply takes s as the current state unless it is older than the held
// snapshot or belongs to another session. Missed intermediate snapshots do
// not matter: only the latest one is rendered.
func (m *Machine) Apply(s models.Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		if s.ID != m.session.ID || s.Version < m.session.Version {
			return false
		}
	}
	m.session = &s
	m.checkDrift(m.Now())
	return true
}

// checkDrift compares the countdown estimate of a question snapshot with the
// trend of the previous one. Must be called with mu held.
func (m *Machine) checkDrift(now time.Time) {
	s := m.session
	if s.Phase != models.PhaseQuestion || s.TimerEndAt == nil {
		m.last = nil
		return
	}
	est := estimate{
		slide:     s.SlideIndex(),
		remaining: s.TimerEndAt.Sub(now.Add(m.offset)),
		at:        now,
	}
	if prev := m.last; prev != nil && prev.slide == est.slide {
		expected := prev.remaining - now.Sub(prev.at)
		if diff := est.remaining - expected; diff > m.Tolerance || diff < -m.Tolerance {
			select {
			case m.resync <- struct{}{}:
			default:
			}
		}
	}
	m.last = &est
}

// remaining is max(0, round((timerEndAt - (now + offset)) / 1s)). It depends
// only on the deadline and the offset, never on when the client last
// looked.
func remaining(timerEndAt time.Time, now time.Time, offset time.Duration) int {
	left := timerEndAt.Sub(now.Add(offset)).Seconds()
	r := int(math.Round(left))
	if r < 0 {
		return 0
	}
	return r
}

// State renders the held snapshot at local time now.
func (m *Machine) State(now time.Time) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return State{Phase: models.PhaseLobby, SlideIndex: -1, Locked: true}
	}
	s := m.session
	st := State{
		SessionID:  s.ID,
		Version:    s.Version,
		Phase:      s.Phase,
		SlideIndex: s.SlideIndex(),
		Locked:     true,
		Ended:      s.Phase == models.PhaseEnded || !s.IsLive,
	}
	if s.Phase == models.PhaseQuestion && s.TimerEndAt != nil && s.IsLive {
		st.Remaining = remaining(*s.TimerEndAt, now, m.offset)
		st.Locked = st.Remaining == 0
	}
	return st
}

// CanSubmit reports whether an answer for the current question may still be
// sent at local time now.
func (m *Machine) CanSubmit(now time.Time) error {
	st := m.State(now)
	if st.Phase != models.PhaseQuestion || st.Ended {
		return ErrNotInQuestion
	}
	if st.Locked {
		return ErrTimeExpired
	}
	return nil
}

// Run calls onTick with the current state every tick until ctx ends.
func (m *Machine) Run(ctx context.Context, tick time.Duration, onTick func(State)) {
	if tick <= 0 {
		tick = 200 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	onTick(m.State(m.Now()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			onTick(m.State(m.Now()))
		}
	}
}

package phase

import (
	"context"
	"errors"
	"testing"
	"time"

	"live-quiz/internal/models"
)

var ref = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func questionAt(version int64, slide int, timerEndAt time.Time) models.Session {
	return models.Session{
		ID:                   "s1",
		Phase:                models.PhaseQuestion,
		CurrentSlideIndex:    &slide,
		QuestionCount:        3,
		TimerDurationSeconds: 20,
		TimerEndAt:           &timerEndAt,
		IsLive:               true,
		Version:              version,
	}
}

func TestRemaining(t *testing.T) {
	end := ref.Add(20 * time.Second)
	tests := []struct {
		name   string
		now    time.Time
		offset time.Duration
		want   int
	}{
		{"full window", ref, 0, 20},
		{"rounds half up", ref.Add(4500 * time.Millisecond), 0, 16},
		{"rounds down", ref.Add(4600 * time.Millisecond), 0, 15},
		{"offset ahead", ref, 5 * time.Second, 15},
		{"clock behind", ref.Add(-10 * time.Second), 10 * time.Second, 20},
		{"expired clamps to zero", ref.Add(time.Minute), 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := remaining(end, tt.now, tt.offset); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestApply_IgnoresOlderAndForeignSnapshots(t *testing.T) {
	m := New()
	m.Now = func() time.Time { return ref }

	if !m.Apply(questionAt(4, 1, ref.Add(20*time.Second))) {
		t.Fatal("expected the first snapshot to be applied")
	}
	if m.Apply(questionAt(3, 0, ref.Add(10*time.Second))) {
		t.Error("expected an older version to be ignored")
	}
	foreign := questionAt(9, 2, ref)
	foreign.ID = "s2"
	if m.Apply(foreign) {
		t.Error("expected another session's snapshot to be ignored")
	}
	if !m.Apply(questionAt(4, 1, ref.Add(20*time.Second))) {
		t.Error("expected a repeated snapshot to be accepted")
	}

	st := m.State(ref)
	if st.Version != 4 || st.SlideIndex != 1 || st.Remaining != 20 {
		t.Errorf("unexpected state %+v", st)
	}
}

// A client that missed versions 2 and 3 renders version 4 exactly like one
// that saw every update.
func TestApply_SkippedVersionsRenderTheSame(t *testing.T) {
	now := func() time.Time { return ref }
	all, late := New(), New()
	all.Now, late.Now = now, now

	lobby := models.Session{ID: "s1", Phase: models.PhaseLobby, IsLive: true, Version: 1}
	q0 := questionAt(2, 0, ref.Add(-5*time.Second))
	locked := q0
	locked.Phase, locked.Version = models.PhaseLocked, 3
	q1 := questionAt(4, 1, ref.Add(12*time.Second))

	for _, s := range []models.Session{lobby, q0, locked, q1} {
		all.Apply(s)
	}
	late.Apply(lobby)
	late.Apply(q1)

	if a, b := all.State(ref), late.State(ref); a != b {
		t.Errorf("expected identical states, got %+v and %+v", a, b)
	}
}

func TestCanSubmit(t *testing.T) {
	m := New()
	if err := m.CanSubmit(ref); !errors.Is(err, ErrNotInQuestion) {
		t.Errorf("expected ErrNotInQuestion with no snapshot, got %v", err)
	}

	m.Apply(questionAt(2, 0, ref.Add(20*time.Second)))
	if err := m.CanSubmit(ref.Add(5 * time.Second)); err != nil {
		t.Errorf("expected open window, got %v", err)
	}
	if err := m.CanSubmit(ref.Add(19800 * time.Millisecond)); !errors.Is(err, ErrTimeExpired) {
		t.Errorf("expected ErrTimeExpired once the countdown shows zero, got %v", err)
	}
	if st := m.State(ref.Add(30 * time.Second)); !st.Locked || st.Remaining != 0 {
		t.Errorf("expected locked at zero, got %+v", st)
	}

	locked := questionAt(3, 0, ref.Add(20*time.Second))
	locked.Phase = models.PhaseLocked
	m.Apply(locked)
	if err := m.CanSubmit(ref); !errors.Is(err, ErrNotInQuestion) {
		t.Errorf("expected ErrNotInQuestion after lock, got %v", err)
	}
}

func TestState_Ended(t *testing.T) {
	m := New()
	m.Apply(models.Session{ID: "s1", Phase: models.PhaseEnded, IsLive: true, Version: 9})
	if st := m.State(ref); !st.Ended || !st.Locked {
		t.Errorf("expected ended and locked, got %+v", st)
	}
}

// Devices minutes apart show the same countdown once each applies its own
// offset.
func TestState_ConvergesAcrossSkewedClocks(t *testing.T) {
	end := ref.Add(20 * time.Second)
	for _, skew := range []time.Duration{-3 * time.Minute, -700 * time.Millisecond, 0, 2 * time.Second, 90 * time.Second} {
		m := New()
		local := ref.Add(7 * time.Second).Add(skew)
		m.Now = func() time.Time { return local }
		m.SetOffset(-skew)
		m.Apply(questionAt(2, 0, end))

		if st := m.State(local); st.Remaining != 13 {
			t.Errorf("skew %v: expected 13s remaining, got %d", skew, st.Remaining)
		}
	}
}

func TestApply_DriftRequestsResync(t *testing.T) {
	local := ref
	m := New()
	m.Now = func() time.Time { return local }
	end := ref.Add(20 * time.Second)

	m.Apply(questionAt(2, 0, end))
	local = local.Add(3 * time.Second)
	m.Apply(questionAt(2, 0, end))
	select {
	case <-m.Resync():
		t.Fatal("expected no resync for a consistent countdown")
	default:
	}

	// Moving the deadline of the same question is treated as drift.
	local = local.Add(time.Second)
	m.Apply(questionAt(2, 0, end.Add(5*time.Second)))
	select {
	case <-m.Resync():
	default:
		t.Fatal("expected a resync request")
	}

	// A new offset starts a fresh trend.
	m.SetOffset(time.Second)
	m.Apply(questionAt(2, 0, end.Add(5*time.Second)))
	select {
	case <-m.Resync():
		t.Fatal("expected no resync after the offset changed")
	default:
	}
}

func TestRun_Ticks(t *testing.T) {
	m := New()
	m.Apply(questionAt(2, 0, time.Now().Add(20*time.Second)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks := make(chan State, 16)
	go m.Run(ctx, 5*time.Millisecond, func(st State) {
		select {
		case ticks <- st:
		default:
		}
	})

	for i := 0; i < 3; i++ {
		select {
		case st := <-ticks:
			if st.Phase != models.PhaseQuestion || st.Remaining < 19 {
				t.Errorf("unexpected tick %+v", st)
			}
		case <-time.After(time.Second):
			t.Fatalf("tick %d did not arrive", i)
		}
	}
}

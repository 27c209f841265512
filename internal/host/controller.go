// Package host is the single writer of live sessions. Every phase change goes
// through the Controller, either from a host request or from the Scheduler
// advancing the session on its own.
package host

import (
	"context"
	"errors"
	"log"
	"net/url"
	"time"

	"gorm.io/gorm"

	"live-quiz/internal/clock"
	"live-quiz/internal/leaderboard"
	"live-quiz/internal/models"
	"live-quiz/internal/participant"
	"live-quiz/internal/quiz"
	"live-quiz/internal/session"
)

// Controller assumes one operator per session. Two host tabs writing at once
// are resolved by the session version: the slower write fails with
// ErrStaleSession and nothing is merged.
type Controller struct {
	sessions     *session.Service
	quizzes      *quiz.Service
	participants *participant.Service
	leaderboard  *leaderboard.Service
	clock        clock.Clock
	scheduler    *Scheduler
}

func NewController(sessions *session.Service, quizzes *quiz.Service, participants *participant.Service, lb *leaderboard.Service, clk clock.Clock) *Controller {
	return &Controller{
		sessions:     sessions,
		quizzes:      quizzes,
		participants: participants,
		leaderboard:  lb,
		clock:        clk,
	}
}

// SetScheduler turns on automatic advancing.
func (c *Controller) SetScheduler(s *Scheduler) {
	c.scheduler = s
}

// JoinLink is the shareable URL participants open to join roomCode.
func JoinLink(publicURL, roomCode string) string {
	return publicURL + "/join/" + url.PathEscape(roomCode)
}

// StartSession opens a new lobby for the host's quiz.
func (c *Controller) StartSession(ctx context.Context, hostID, quizID uint) (*models.Session, error) {
	q, err := c.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if q.CreatorID != hostID {
		return nil, models.ErrNotHost
	}
	if len(q.Questions) == 0 {
		return nil, models.ErrNoQuestions
	}
	return c.sessions.Create(ctx, hostID, quizID, len(q.Questions))
}

// load reads the session and checks the caller hosts it.
func (c *Controller) load(ctx context.Context, hostID uint, id string) (*models.Session, error) {
	s, err := c.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.HostID != hostID {
		return nil, models.ErrNotHost
	}
	return s, nil
}

func (c *Controller) Session(ctx context.Context, hostID uint, id string) (*models.Session, error) {
	return c.load(ctx, hostID, id)
}

// StartQuiz moves the lobby to the first question. Waiting participants
// become active.
func (c *Controller) StartQuiz(ctx context.Context, hostID uint, id string) (*models.Session, error) {
	s, err := c.load(ctx, hostID, id)
	if err != nil {
		return nil, err
	}
	if s.Phase != models.PhaseLobby {
		return nil, models.ErrInvalidTransition
	}
	return c.openQuestion(ctx, s, 0)
}

// StartQuestion opens the question at index from any phase between
// questions.
func (c *Controller) StartQuestion(ctx context.Context, hostID uint, id string, index int) (*models.Session, error) {
	s, err := c.load(ctx, hostID, id)
	if err != nil {
		return nil, err
	}
	if s.Phase == models.PhaseQuestion || s.Phase == models.PhaseEnded {
		return nil, models.ErrInvalidTransition
	}
	return c.openQuestion(ctx, s, index)
}

// LockAnswers closes the open question and stores its answer distribution.
func (c *Controller) LockAnswers(ctx context.Context, hostID uint, id string) (*models.Session, error) {
	s, err := c.load(ctx, hostID, id)
	if err != nil {
		return nil, err
	}
	return c.lock(ctx, s)
}

// ShowLeaderboard moves a locked question to the ranking screen.
func (c *Controller) ShowLeaderboard(ctx context.Context, hostID uint, id string) (*models.Session, error) {
	s, err := c.load(ctx, hostID, id)
	if err != nil {
		return nil, err
	}
	if s.Phase != models.PhaseLocked {
		return nil, models.ErrInvalidTransition
	}
	return c.setPhase(ctx, s, models.PhaseLeaderboard)
}

// NextQuestion advances past the current question. From the lobby it starts
// the quiz; after the last question it ends it. An open question has to be
// locked first.
func (c *Controller) NextQuestion(ctx context.Context, hostID uint, id string) (*models.Session, error) {
	s, err := c.load(ctx, hostID, id)
	if err != nil {
		return nil, err
	}
	return c.next(ctx, s)
}

// EndQuiz ends the session from any phase and computes the final ranking.
func (c *Controller) EndQuiz(ctx context.Context, hostID uint, id string) (*models.Session, error) {
	s, err := c.load(ctx, hostID, id)
	if err != nil {
		return nil, err
	}
	if s.Phase == models.PhaseEnded {
		return s, nil
	}
	return c.setPhase(ctx, s, models.PhaseEnded)
}

// RemoveParticipant removes a participant for good. Connected sockets of
// that participant are closed by the hub when the change reaches it.
func (c *Controller) RemoveParticipant(ctx context.Context, hostID uint, id string, participantID uint) (*models.Participant, error) {
	if _, err := c.load(ctx, hostID, id); err != nil {
		return nil, err
	}
	return c.participants.Remove(ctx, id, participantID)
}

func (c *Controller) Participants(ctx context.Context, hostID uint, id string) ([]models.Participant, error) {
	if _, err := c.load(ctx, hostID, id); err != nil {
		return nil, err
	}
	return c.participants.List(ctx, id)
}

func (c *Controller) Leaderboard(ctx context.Context, hostID uint, id string) ([]models.LeaderboardEntry, error) {
	if _, err := c.load(ctx, hostID, id); err != nil {
		return nil, err
	}
	return c.leaderboard.Get(ctx, id)
}

// CurrentQuestion returns the current question with its answer key.
func (c *Controller) CurrentQuestion(ctx context.Context, hostID uint, id string) (*models.QuestionDTO, error) {
	s, err := c.load(ctx, hostID, id)
	if err != nil {
		return nil, err
	}
	idx := s.SlideIndex()
	if idx < 0 {
		return nil, models.ErrQuestionNotFound
	}
	q, err := c.quizzes.Question(ctx, s.QuizID, idx)
	if err != nil {
		return nil, err
	}
	dto := q.ToDTO(idx, true)
	return &dto, nil
}

// Advance performs the automatic step that follows the session's phase. It
// does nothing if the session moved past version since the step was planned.
func (c *Controller) Advance(ctx context.Context, id string, version int64) (*models.Session, error) {
	s, err := c.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Version != version || !s.IsLive {
		return s, nil
	}

	switch s.Phase {
	case models.PhaseQuestion:
		return c.lock(ctx, s)
	case models.PhaseLocked:
		return c.setPhase(ctx, s, models.PhaseLeaderboard)
	case models.PhaseLeaderboard:
		return c.setPhase(ctx, s, models.PhaseTransition)
	case models.PhaseTransition:
		return c.next(ctx, s)
	}
	return s, nil
}

func (c *Controller) next(ctx context.Context, s *models.Session) (*models.Session, error) {
	switch s.Phase {
	case models.PhaseLobby:
		return c.openQuestion(ctx, s, 0)
	case models.PhaseLocked, models.PhaseLeaderboard, models.PhaseTransition:
		if !s.HasNextQuestion() {
			return c.setPhase(ctx, s, models.PhaseEnded)
		}
		return c.openQuestion(ctx, s, s.SlideIndex()+1)
	}
	return nil, models.ErrInvalidTransition
}

// openQuestion sets the deadline from the reference clock, never from a
// client's clock.
func (c *Controller) openQuestion(ctx context.Context, s *models.Session, index int) (*models.Session, error) {
	q, err := c.quizzes.Question(ctx, s.QuizID, index)
	if err != nil {
		return nil, err
	}
	now, err := c.clock.Now(ctx)
	if err != nil {
		return nil, err
	}
	duration := q.TimerSeconds()
	end := now.Add(time.Duration(duration) * time.Second)

	updated, err := c.sessions.Update(ctx, s.ID, s.Version, session.Fields{
		"phase":                  models.PhaseQuestion,
		"current_slide_index":    index,
		"timer_duration_seconds": duration,
		"timer_end_at":           end,
		"phase_changed_at":       now,
		"distribution":           nil,
	})
	if err != nil {
		return nil, err
	}

	if s.Phase == models.PhaseLobby {
		if err := c.participants.ActivateWaiting(ctx, s.ID); err != nil {
			log.Printf("Error activating participants of session %s: %v", s.ID, err)
		}
	}
	log.Printf("Session %s: question %d open until %s", s.ID, index, end.Format(time.RFC3339))
	c.written(ctx, updated)
	return updated, nil
}

func (c *Controller) lock(ctx context.Context, s *models.Session) (*models.Session, error) {
	if s.Phase != models.PhaseQuestion {
		return nil, models.ErrInvalidTransition
	}
	q, err := c.quizzes.Question(ctx, s.QuizID, s.SlideIndex())
	if err != nil {
		return nil, err
	}
	now, err := c.clock.Now(ctx)
	if err != nil {
		return nil, err
	}

	// Counting under the row lock means no answer can land between the
	// snapshot and the phase change.
	updated, err := c.sessions.UpdateWith(ctx, s.ID, s.Version, func(tx *gorm.DB, current *models.Session) (session.Fields, error) {
		counts, err := c.participants.DistributionTx(ctx, tx, current.ID, current.SlideIndex(), len(q.Options))
		if err != nil {
			return nil, err
		}
		return session.Fields{
			"phase":            models.PhaseLocked,
			"timer_end_at":     nil,
			"phase_changed_at": now,
			"distribution":     counts,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Session %s: question %d locked, distribution %v", s.ID, s.SlideIndex(), updated.Distribution)
	c.written(ctx, updated)
	return updated, nil
}

func (c *Controller) setPhase(ctx context.Context, s *models.Session, phase models.Phase) (*models.Session, error) {
	now, err := c.clock.Now(ctx)
	if err != nil {
		return nil, err
	}
	updated, err := c.sessions.Update(ctx, s.ID, s.Version, session.Fields{
		"phase":            phase,
		"timer_end_at":     nil,
		"phase_changed_at": now,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Session %s: %s -> %s", s.ID, s.Phase, phase)
	c.written(ctx, updated)
	return updated, nil
}

// written runs the follow-ups of a successful session write.
func (c *Controller) written(ctx context.Context, s *models.Session) {
	if s.Phase.ShowsLeaderboard() {
		if _, err := c.leaderboard.Refresh(ctx, s.ID); err != nil {
			log.Printf("Error refreshing leaderboard of session %s: %v", s.ID, err)
		}
	}
	if c.scheduler != nil {
		c.scheduler.Schedule(ctx, s)
	}
}

// Resume re-arms the automatic steps of every live session, typically after
// a restart.
func (c *Controller) Resume(ctx context.Context) error {
	if c.scheduler == nil {
		return nil
	}
	live, err := c.sessions.ListLive(ctx)
	if err != nil {
		return err
	}
	for i := range live {
		c.scheduler.Schedule(ctx, &live[i])
	}
	log.Printf("Resumed %d live session(s)", len(live))
	return nil
}

// advanceLogged is the Scheduler callback.
func (c *Controller) advanceLogged(ctx context.Context, id string, version int64) {
	if _, err := c.Advance(ctx, id, version); err != nil && !errors.Is(err, models.ErrStaleSession) {
		log.Printf("Error advancing session %s from v%d: %v", id, version, err)
	}
}

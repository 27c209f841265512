package participant

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"live-quiz/internal/clock"
	"live-quiz/internal/models"
	"live-quiz/pkg/feed"
)

const maxNameLength = 30

type Sessions interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	GetLive(ctx context.Context, roomCode string) (*models.Session, error)
}

type Questions interface {
	Question(ctx context.Context, quizID uint, index int) (*models.Question, error)
}

type Publisher interface {
	Publish(ctx context.Context, sessionID, eventType string, data interface{}) error
}

type Leaderboard interface {
	Get(ctx context.Context, sessionID string) ([]models.LeaderboardEntry, error)
	Invalidate(ctx context.Context, sessionID string)
}

type Service struct {
	repo             *Repository
	sessions         Sessions
	questions        Questions
	feed             Publisher
	leaderboard      Leaderboard
	clock            clock.Clock
	pointsPerCorrect int
}

func NewService(repo *Repository, sessions Sessions, questions Questions, publisher Publisher, lb Leaderboard, clk clock.Clock, pointsPerCorrect int) *Service {
	if pointsPerCorrect <= 0 {
		pointsPerCorrect = 1
	}
	return &Service{
		repo:             repo,
		sessions:         sessions,
		questions:        questions,
		feed:             publisher,
		leaderboard:      lb,
		clock:            clk,
		pointsPerCorrect: pointsPerCorrect,
	}
}

func normalizeName(name string) (string, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return "", models.ErrInvalidName
	}
	return name, nil
}

// Join finds or creates the participant named displayName in the live session
// behind roomCode. Joining again with the same name returns the same record,
// score and token included.
func (s *Service) Join(ctx context.Context, roomCode, displayName string) (*models.JoinResult, error) {
	name, err := normalizeName(displayName)
	if err != nil {
		return nil, err
	}
	session, err := s.sessions.GetLive(ctx, strings.TrimSpace(roomCode))
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByName(ctx, session.ID, name)
	switch {
	case err == nil:
		if existing.Status == models.ParticipantRemoved {
			return nil, models.ErrParticipantRemoved
		}
		log.Printf("Participant %q rejoined session %s", name, session.ID)
		return &models.JoinResult{Participant: *existing, Token: existing.Token, Session: *session}, nil
	case !errors.Is(err, models.ErrParticipantNotFound):
		return nil, err
	}

	if session.Phase == models.PhaseEnded {
		return nil, models.ErrSessionNotFound
	}

	now, err := s.clock.Now(ctx)
	if err != nil {
		return nil, err
	}
	status := models.ParticipantActive
	if session.Phase == models.PhaseLobby {
		status = models.ParticipantWaiting
	}
	p := &models.Participant{
		SessionID:   session.ID,
		RoomCode:    session.RoomCode,
		DisplayName: name,
		Token:       uuid.NewString(),
		Status:      status,
		JoinedAt:    now,
	}
	if err := s.repo.CreateParticipant(ctx, p); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// A concurrent join with the same name won; use its record.
			return s.Join(ctx, roomCode, displayName)
		}
		return nil, err
	}

	log.Printf("Participant %q joined session %s", name, session.ID)
	s.leaderboard.Invalidate(ctx, session.ID)
	s.publish(ctx, p)
	return &models.JoinResult{Participant: *p, Token: p.Token, Session: *session}, nil
}

// authenticate loads the live session and the participant behind token.
func (s *Service) authenticate(ctx context.Context, roomCode string, participantID uint, token string) (*models.Session, *models.Participant, error) {
	session, err := s.sessions.GetLive(ctx, roomCode)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.repo.GetParticipant(ctx, session.ID, participantID)
	if err != nil {
		return nil, nil, err
	}
	if token == "" || p.Token != token {
		return nil, nil, models.ErrInvalidToken
	}
	if p.Status == models.ParticipantRemoved {
		return nil, nil, models.ErrParticipantRemoved
	}
	return session, p, nil
}

// Authenticate checks a participant's credentials for the realtime channel.
func (s *Service) Authenticate(ctx context.Context, roomCode string, participantID uint, token string) (*models.Participant, error) {
	_, p, err := s.authenticate(ctx, roomCode, participantID, token)
	return p, err
}

// checkOpen decides whether the locked session row still accepts an answer
// for slideIndex at reference time now.
func checkOpen(session *models.Session, slideIndex int, now time.Time) error {
	if !session.IsLive {
		return models.ErrSessionNotFound
	}
	current := session.SlideIndex()
	switch session.Phase {
	case models.PhaseQuestion:
		if slideIndex < current {
			return models.ErrTimeExpired
		}
		if slideIndex > current {
			return models.ErrNotAcceptingAnswers
		}
		if session.TimerEndAt == nil || !now.Before(*session.TimerEndAt) {
			return models.ErrTimeExpired
		}
		return nil
	case models.PhaseLobby:
		return models.ErrNotAcceptingAnswers
	default:
		if current >= 0 && slideIndex <= current {
			return models.ErrTimeExpired
		}
		return models.ErrNotAcceptingAnswers
	}
}

// SubmitAnswer records a participant's single answer for the current slide.
// The session row is re-read under lock at write time, so an answer that
// arrives after the lock or after the deadline is rejected even if the
// participant's own client let it through.
func (s *Service) SubmitAnswer(ctx context.Context, req models.AnswerRequest) (*models.AnswerResult, error) {
	session, p, err := s.authenticate(ctx, req.RoomCode, req.ParticipantID, req.Token)
	if err != nil {
		return nil, err
	}

	question, err := s.questions.Question(ctx, session.QuizID, req.SlideIndex)
	if err != nil {
		return nil, err
	}

	resp := &models.AnswerResponse{
		SessionID:     session.ID,
		RoomCode:      session.RoomCode,
		ParticipantID: p.ID,
		SlideIndex:    req.SlideIndex,
		QuestionID:    question.ID,
	}
	switch question.Type {
	case models.QuestionText:
		answer := strings.TrimSpace(req.TextAnswer)
		if answer == "" {
			return nil, models.ErrInvalidAnswer
		}
		resp.TextAnswer = answer
		resp.IsCorrect = question.IsCorrectText(answer)
	default:
		if req.SelectedOptionIndex == nil || *req.SelectedOptionIndex < 0 || *req.SelectedOptionIndex >= len(question.Options) {
			return nil, models.ErrInvalidAnswer
		}
		idx := *req.SelectedOptionIndex
		resp.SelectedOptionIndex = &idx
		resp.IsCorrect = question.IsCorrectOption(idx)
	}
	if resp.IsCorrect {
		resp.PointsAwarded = s.pointsPerCorrect
	}

	updated, err := s.repo.RecordAnswer(ctx, resp, func(tx *gorm.DB, locked *models.Session) error {
		now, err := clock.NowIn(ctx, s.clock, tx)
		if err != nil {
			return err
		}
		if err := checkOpen(locked, req.SlideIndex, now); err != nil {
			return err
		}
		resp.SubmittedAt = now
		return nil
	})
	if err != nil {
		if !errors.Is(err, models.ErrAlreadyAnswered) && !errors.Is(err, models.ErrTimeExpired) {
			log.Printf("Answer of participant %d rejected: %v", p.ID, err)
		}
		return nil, err
	}

	s.leaderboard.Invalidate(ctx, session.ID)
	s.publish(ctx, updated)
	return &models.AnswerResult{Response: *resp, Score: updated.Score}, nil
}

// State returns everything the participant needs to render the current
// screen. Clients call it on join, on reconnect and on every session change.
func (s *Service) State(ctx context.Context, roomCode string, participantID uint, token string) (*models.ParticipantState, error) {
	session, p, err := s.authenticate(ctx, roomCode, participantID, token)
	if err != nil {
		return nil, err
	}
	now, err := s.clock.Now(ctx)
	if err != nil {
		return nil, err
	}

	state := &models.ParticipantState{
		Session:        *session,
		Participant:    *p,
		ReferenceNowMs: models.UnixMs(now),
	}

	if idx := session.SlideIndex(); idx >= 0 && session.Phase != models.PhaseLobby {
		question, err := s.questions.Question(ctx, session.QuizID, idx)
		if err != nil {
			return nil, err
		}
		revealed := session.Phase != models.PhaseQuestion
		dto := question.ToDTO(idx, revealed)
		state.Question = &dto

		resp, err := s.repo.GetResponse(ctx, session.ID, p.ID, idx)
		if err != nil {
			return nil, err
		}
		state.Response = resp
		if revealed {
			state.Distribution = session.Distribution
		}
	}

	if session.Phase.ShowsLeaderboard() {
		entries, err := s.leaderboard.Get(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		state.Leaderboard = entries
	}
	return state, nil
}

// Remove marks the participant removed. The status is durable, so a client
// that was offline when it happened learns about it on its next read.
func (s *Service) Remove(ctx context.Context, sessionID string, participantID uint) (*models.Participant, error) {
	p, err := s.repo.SetStatus(ctx, sessionID, participantID, models.ParticipantRemoved)
	if err != nil {
		return nil, err
	}
	log.Printf("Participant %d removed from session %s", participantID, sessionID)
	s.leaderboard.Invalidate(ctx, sessionID)
	s.publish(ctx, p)
	return p, nil
}

func (s *Service) List(ctx context.Context, sessionID string) ([]models.Participant, error) {
	return s.repo.ListBySession(ctx, sessionID)
}

// ActivateWaiting marks everyone still in the lobby as active when the quiz
// starts.
func (s *Service) ActivateWaiting(ctx context.Context, sessionID string) error {
	n, err := s.repo.ActivateWaiting(ctx, sessionID)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("Activated %d waiting participant(s) in session %s", n, sessionID)
	}
	return nil
}

// Distribution counts the choice answers per option for one slide.
func (s *Service) Distribution(ctx context.Context, sessionID string, slideIndex, optionCount int) (models.Counts, error) {
	return s.repo.CountByOption(ctx, sessionID, slideIndex, optionCount)
}

// DistributionTx is Distribution read through an open transaction.
func (s *Service) DistributionTx(ctx context.Context, tx *gorm.DB, sessionID string, slideIndex, optionCount int) (models.Counts, error) {
	return NewRepository(tx).CountByOption(ctx, sessionID, slideIndex, optionCount)
}

func (s *Service) publish(ctx context.Context, p *models.Participant) {
	if err := s.feed.Publish(ctx, p.SessionID, feed.EventParticipant, p); err != nil {
		log.Printf("Error publishing participant %d: %v", p.ID, err)
	}
}

// Session returns the live session behind roomCode.
func (s *Service) Session(ctx context.Context, roomCode string) (*models.Session, error) {
	return s.sessions.GetLive(ctx, roomCode)
}

// Leaderboard returns the ranking of the live session behind roomCode.
func (s *Service) Leaderboard(ctx context.Context, roomCode string) ([]models.LeaderboardEntry, error) {
	session, err := s.sessions.GetLive(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	return s.leaderboard.Get(ctx, session.ID)
}

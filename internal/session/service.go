package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/gorm"

	"live-quiz/internal/clock"
	"live-quiz/internal/models"
	"live-quiz/pkg/feed"
)

const roomCodeAttempts = 10

// ChangeFeed publishes and delivers per-session events.
type ChangeFeed interface {
	Publish(ctx context.Context, sessionID, eventType string, data interface{}) error
	Subscribe(ctx context.Context, sessionID string, fn func(feed.Event)) (func(), error)
}

// Fields is a partial update keyed by column name.
type Fields map[string]interface{}

// Service is the session store: the only write path for Session rows. Every
// successful write is published on the change feed.
type Service struct {
	repo     *Repository
	feed     ChangeFeed
	clock    clock.Clock
	nextCode func() string
	backoff  func() backoff.BackOff
}

func NewService(repo *Repository, changeFeed ChangeFeed, clk clock.Clock) *Service {
	return &Service{
		repo:     repo,
		feed:     changeFeed,
		clock:    clk,
		nextCode: generateRoomCode,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = time.Second
			b.MaxElapsedTime = 5 * time.Second
			return b
		},
	}
}

// SetRoomCodeGenerator replaces the random six-digit generator.
func (s *Service) SetRoomCodeGenerator(fn func() string) {
	s.nextCode = fn
}

func generateRoomCode() string {
	return fmt.Sprintf("%06d", rand.Intn(1000000))
}

// retry runs op with exponential backoff. Store sentinels are not retried.
func (s *Service) retry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return err
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		log.Printf("Session store operation failed, retrying: %v", err)
		return err
	}, backoff.WithContext(s.backoff(), ctx))
}

func isPermanent(err error) bool {
	return errors.Is(err, models.ErrSessionNotFound) ||
		errors.Is(err, models.ErrStaleSession) ||
		errors.Is(err, models.ErrRoomCodeExhausted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Create starts a new live session for the quiz in the lobby phase. Any
// session still live for the same quiz is ended and its participants and
// responses are dropped.
func (s *Service) Create(ctx context.Context, hostID, quizID uint, questionCount int) (*models.Session, error) {
	now, err := s.clock.Now(ctx)
	if err != nil {
		return nil, err
	}

	var (
		session    *models.Session
		superseded []models.Session
	)
	err = s.retry(ctx, func() error {
		session = &models.Session{
			QuizID:         quizID,
			HostID:         hostID,
			Phase:          models.PhaseLobby,
			QuestionCount:  questionCount,
			IsLive:         true,
			Version:        1,
			PhaseChangedAt: now,
		}
		var err error
		// A duplicate key means another host won the room code or the
		// live slot between our check and insert; the retry picks again.
		superseded, err = s.repo.CreateSuperseding(ctx, session, now, s.nextCode, roomCodeAttempts)
		return err
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, models.ErrRoomCodeExhausted
	}
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	for i := range superseded {
		s.publish(ctx, &superseded[i])
	}
	s.publish(ctx, session)
	log.Printf("Created session %s for quiz %d with room code %s", session.ID, quizID, session.RoomCode)
	return session, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Session, error) {
	var session *models.Session
	err := s.retry(ctx, func() error {
		var err error
		session, err = s.repo.GetSession(ctx, id)
		return err
	})
	return session, err
}

func (s *Service) GetLive(ctx context.Context, roomCode string) (*models.Session, error) {
	var session *models.Session
	err := s.retry(ctx, func() error {
		var err error
		session, err = s.repo.GetLiveByRoomCode(ctx, roomCode)
		return err
	})
	return session, err
}

func (s *Service) ListLive(ctx context.Context) ([]models.Session, error) {
	return s.repo.ListLive(ctx)
}

// Update atomically applies fields if the session is still at
// expectedVersion. A concurrent write yields ErrStaleSession.
func (s *Service) Update(ctx context.Context, id string, expectedVersion int64, fields Fields) (*models.Session, error) {
	return s.UpdateWith(ctx, id, expectedVersion, func(*gorm.DB, *models.Session) (Fields, error) {
		return fields, nil
	})
}

// UpdateWith is Update with fields computed while the row is locked, so
// build can snapshot related rows consistently with the write.
func (s *Service) UpdateWith(ctx context.Context, id string, expectedVersion int64, build func(tx *gorm.DB, current *models.Session) (Fields, error)) (*models.Session, error) {
	var session *models.Session
	err := s.retry(ctx, func() error {
		var err error
		session, err = s.repo.CompareAndSwap(ctx, id, expectedVersion, func(tx *gorm.DB, current *models.Session) (map[string]interface{}, error) {
			fields, err := build(tx, current)
			if err != nil {
				// Decisions made by build are not transient.
				return nil, backoff.Permanent(err)
			}
			return fields, nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, session)
	return session, nil
}

// Subscribe calls onChange with every session row written after the
// subscription is established. Callers hydrate with Get first.
func (s *Service) Subscribe(ctx context.Context, id string, onChange func(models.Session)) (func(), error) {
	return s.feed.Subscribe(ctx, id, func(ev feed.Event) {
		if ev.Type != feed.EventSession {
			return
		}
		var session models.Session
		if err := json.Unmarshal(ev.Data, &session); err != nil {
			log.Printf("Dropping undecodable session event for %s: %v", id, err)
			return
		}
		onChange(session)
	})
}

// publish is best effort: subscribers recover missed rows by re-reading.
func (s *Service) publish(ctx context.Context, session *models.Session) {
	if err := s.feed.Publish(ctx, session.ID, feed.EventSession, session); err != nil {
		log.Printf("Error publishing session %s v%d: %v", session.ID, session.Version, err)
	}
}

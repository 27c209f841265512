package session

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"live-quiz/internal/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *Repository) GetLiveByRoomCode(ctx context.Context, roomCode string) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).
		Where("room_code = ? AND is_live = ?", roomCode, true).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// ListLive returns the live sessions that have not ended yet.
func (r *Repository) ListLive(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.WithContext(ctx).
		Where("is_live = ? AND phase <> ?", true, models.PhaseEnded).
		Find(&sessions).Error
	return sessions, err
}

// CompareAndSwap locks the row, checks it is still at expectedVersion, and
// applies the fields returned by build, bumping the version. build runs inside
// the transaction and may read other rows through tx.
func (r *Repository) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, build func(tx *gorm.DB, current *models.Session) (map[string]interface{}, error)) (*models.Session, error) {
	var updated models.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrSessionNotFound
			}
			return err
		}
		if current.Version != expectedVersion {
			return models.ErrStaleSession
		}

		fields, err := build(tx, &current)
		if err != nil {
			return err
		}
		values := make(map[string]interface{}, len(fields)+1)
		for k, v := range fields {
			values[k] = v
		}
		values["version"] = gorm.Expr("version + 1")

		result := tx.Model(&models.Session{}).
			Where("id = ? AND version = ?", id, expectedVersion).
			Updates(values)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrStaleSession
		}
		return tx.Where("id = ?", id).First(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// CreateSuperseding ends every live session of the same quiz, clears their
// participants and responses, and inserts session with a room code that no
// live session holds. It returns the ended sessions.
func (r *Repository) CreateSuperseding(ctx context.Context, session *models.Session, now time.Time, nextCode func() string, attempts int) ([]models.Session, error) {
	var superseded []models.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prior []models.Session
		if err := tx.Where("quiz_id = ? AND is_live = ?", session.QuizID, true).Find(&prior).Error; err != nil {
			return err
		}

		ids := make([]string, 0, len(prior))
		for _, p := range prior {
			err := tx.Model(&models.Session{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
				"is_live":          false,
				"phase":            models.PhaseEnded,
				"timer_end_at":     nil,
				"phase_changed_at": now,
				"version":          gorm.Expr("version + 1"),
			}).Error
			if err != nil {
				return err
			}
			ids = append(ids, p.ID)
		}

		if len(ids) > 0 {
			if err := tx.Where("session_id IN ?", ids).Delete(&models.AnswerResponse{}).Error; err != nil {
				return err
			}
			if err := tx.Where("session_id IN ?", ids).Delete(&models.Participant{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", ids).Find(&superseded).Error; err != nil {
				return err
			}
			log.Printf("Superseded %d live session(s) of quiz %d", len(ids), session.QuizID)
		}

		code, err := allocateRoomCode(tx, nextCode, attempts)
		if err != nil {
			return err
		}
		session.RoomCode = code
		return tx.Create(session).Error
	})
	if err != nil {
		return nil, err
	}
	return superseded, nil
}

// allocateRoomCode picks a code no running session holds. A code still held
// by an ended session is taken over and that session stops being live.
func allocateRoomCode(tx *gorm.DB, nextCode func() string, attempts int) (string, error) {
	for i := 0; i < attempts; i++ {
		code := nextCode()
		var holders []models.Session
		err := tx.Where("room_code = ? AND is_live = ?", code, true).
			Limit(1).
			Find(&holders).Error
		if err != nil {
			return "", err
		}
		if len(holders) == 0 {
			return code, nil
		}
		if holders[0].Phase == models.PhaseEnded {
			err := tx.Model(&models.Session{}).Where("id = ?", holders[0].ID).Updates(map[string]interface{}{
				"is_live": false,
				"version": gorm.Expr("version + 1"),
			}).Error
			if err != nil {
				return "", err
			}
			log.Printf("Room code %s released by ended session %s", code, holders[0].ID)
			return code, nil
		}
		log.Printf("Room code %s already live, retrying", code)
	}
	return "", models.ErrRoomCodeExhausted
}

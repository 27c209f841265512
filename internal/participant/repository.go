package participant

import (
	"context"
	"errors"
	"log"

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

func (r *Repository) FindByName(ctx context.Context, sessionID, displayName string) (*models.Participant, error) {
	var p models.Participant
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND display_name = ?", sessionID, displayName).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrParticipantNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *Repository) GetParticipant(ctx context.Context, sessionID string, id uint) (*models.Participant, error) {
	var p models.Participant
	err := r.db.WithContext(ctx).
		Where("id = ? AND session_id = ?", id, sessionID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrParticipantNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *Repository) CreateParticipant(ctx context.Context, p *models.Participant) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]models.Participant, error) {
	var participants []models.Participant
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("joined_at ASC, id ASC").
		Find(&participants).Error
	return participants, err
}

func (r *Repository) SetStatus(ctx context.Context, sessionID string, id uint, status string) (*models.Participant, error) {
	result := r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("id = ? AND session_id = ?", id, sessionID).
		Update("status", status)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, models.ErrParticipantNotFound
	}
	return r.GetParticipant(ctx, sessionID, id)
}

// ActivateWaiting moves every waiting participant of the session to active.
func (r *Repository) ActivateWaiting(ctx context.Context, sessionID string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Participant{}).
		Where("session_id = ? AND status = ?", sessionID, models.ParticipantWaiting).
		Update("status", models.ParticipantActive)
	return result.RowsAffected, result.Error
}

func (r *Repository) GetResponse(ctx context.Context, sessionID string, participantID uint, slideIndex int) (*models.AnswerResponse, error) {
	var resp models.AnswerResponse
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND participant_id = ? AND slide_index = ?", sessionID, participantID, slideIndex).
		First(&resp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &resp, nil
}

type optionTally struct {
	SelectedOptionIndex int
	Count               int
}

// CountByOption tallies the choice answers given for one slide.
func (r *Repository) CountByOption(ctx context.Context, sessionID string, slideIndex, optionCount int) (models.Counts, error) {
	var rows []optionTally
	err := r.db.WithContext(ctx).Model(&models.AnswerResponse{}).
		Select("selected_option_index, count(*) AS count").
		Where("session_id = ? AND slide_index = ? AND selected_option_index IS NOT NULL", sessionID, slideIndex).
		Group("selected_option_index").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(models.Counts, optionCount)
	for _, row := range rows {
		if row.SelectedOptionIndex >= 0 && row.SelectedOptionIndex < optionCount {
			counts[row.SelectedOptionIndex] = row.Count
		}
	}
	return counts, nil
}

// RecordAnswer stores resp and credits its points in one transaction. The
// session row is locked first so the host's lock cannot interleave; check
// sees that locked row and rejects the answer by returning an error. Any read
// check makes must go through tx.
func (r *Repository) RecordAnswer(ctx context.Context, resp *models.AnswerResponse, check func(tx *gorm.DB, s *models.Session) error) (*models.Participant, error) {
	var participant models.Participant
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", resp.SessionID).
			First(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrSessionNotFound
			}
			return err
		}
		if err := check(tx, &session); err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&models.AnswerResponse{}).
			Where("session_id = ? AND participant_id = ? AND slide_index = ?", resp.SessionID, resp.ParticipantID, resp.SlideIndex).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return models.ErrAlreadyAnswered
		}

		if err := tx.Create(resp).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return models.ErrAlreadyAnswered
			}
			return err
		}

		result := tx.Model(&models.Participant{}).
			Where("id = ? AND session_id = ? AND status <> ?", resp.ParticipantID, resp.SessionID, models.ParticipantRemoved).
			Updates(map[string]interface{}{
				"score":  gorm.Expr("score + ?", resp.PointsAwarded),
				"status": models.ParticipantActive,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrParticipantRemoved
		}
		return tx.Where("id = ?", resp.ParticipantID).First(&participant).Error
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Recorded answer of participant %d for slide %d in session %s (correct=%v)",
		resp.ParticipantID, resp.SlideIndex, resp.SessionID, resp.IsCorrect)
	return &participant, nil
}

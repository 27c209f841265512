package quiz

import (
	"context"
	"errors"
	"log"

	"gorm.io/gorm"

	"live-quiz/internal/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateQuiz(ctx context.Context, quiz *models.Quiz) error {
	err := r.db.WithContext(ctx).Create(quiz).Error
	if err != nil {
		log.Printf("Error creating quiz: %v", err)
		return err
	}
	log.Printf("Created quiz with ID: %d", quiz.ID)
	return nil
}

// GetQuiz loads the quiz with its questions and options in display order.
func (r *Repository) GetQuiz(ctx context.Context, quizID uint) (*models.Quiz, error) {
	var quiz models.Quiz
	err := r.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		}).
		Preload("Questions.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		}).
		First(&quiz, quizID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrQuizNotFound
		}
		log.Printf("Error getting quiz %d: %v", quizID, err)
		return nil, err
	}
	return &quiz, nil
}

func (r *Repository) GetQuizzesByCreator(ctx context.Context, userID uint) ([]models.Quiz, error) {
	var quizzes []models.Quiz
	err := r.db.WithContext(ctx).
		Where("creator_id = ?", userID).
		Order("created_at DESC").
		Find(&quizzes).Error
	if err != nil {
		log.Printf("Error getting quizzes for creator %d: %v", userID, err)
		return nil, err
	}
	return quizzes, nil
}

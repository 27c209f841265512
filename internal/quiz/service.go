package quiz

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"live-quiz/internal/models"
	"live-quiz/pkg/cache"
)

// ErrInvalidQuiz wraps every authoring validation failure.
var ErrInvalidQuiz = errors.New("invalid quiz")

// Cache stores whole quizzes. Quizzes are immutable once created, so cached
// copies never go stale.
type Cache interface {
	SetQuiz(ctx context.Context, quiz *models.Quiz) error
	GetQuiz(ctx context.Context, quizID uint) (*models.Quiz, error)
}

type Service struct {
	repo  *Repository
	cache Cache
}

func NewService(repo *Repository, c Cache) *Service {
	return &Service{
		repo:  repo,
		cache: c,
	}
}

func (s *Service) CreateQuiz(ctx context.Context, quiz *models.Quiz) error {
	if err := validate(quiz); err != nil {
		return err
	}
	for i := range quiz.Questions {
		q := &quiz.Questions[i]
		q.Position = i
		for j := range q.Options {
			q.Options[j].Position = j
		}
	}
	return s.repo.CreateQuiz(ctx, quiz)
}

func validate(quiz *models.Quiz) error {
	if strings.TrimSpace(quiz.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidQuiz)
	}
	if len(quiz.Questions) == 0 {
		return fmt.Errorf("%w: at least one question is required", ErrInvalidQuiz)
	}
	for i := range quiz.Questions {
		q := &quiz.Questions[i]
		if q.Type == "" {
			q.Type = models.QuestionSingle
		}
		if strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("%w: question %d has no text", ErrInvalidQuiz, i+1)
		}
		switch q.Type {
		case models.QuestionSingle, models.QuestionMultiple:
			if len(q.Options) < 2 || len(q.Options) > 4 {
				return fmt.Errorf("%w: question %d needs 2 to 4 options", ErrInvalidQuiz, i+1)
			}
			correct := len(q.CorrectAnswerIndices())
			if correct == 0 {
				return fmt.Errorf("%w: question %d has no correct option", ErrInvalidQuiz, i+1)
			}
			if q.Type == models.QuestionSingle && correct > 1 {
				return fmt.Errorf("%w: question %d allows a single correct option", ErrInvalidQuiz, i+1)
			}
		case models.QuestionText:
			if len(q.Options) > 0 {
				return fmt.Errorf("%w: text question %d cannot have options", ErrInvalidQuiz, i+1)
			}
			if strings.TrimSpace(q.CorrectAnswer) == "" {
				return fmt.Errorf("%w: text question %d has no answer", ErrInvalidQuiz, i+1)
			}
		default:
			return fmt.Errorf("%w: question %d has unknown type %q", ErrInvalidQuiz, i+1, q.Type)
		}
	}
	return nil
}

// GetQuiz returns the quiz with ordered questions, from cache when possible.
func (s *Service) GetQuiz(ctx context.Context, quizID uint) (*models.Quiz, error) {
	if s.cache != nil {
		if quiz, err := s.cache.GetQuiz(ctx, quizID); err == nil {
			return quiz, nil
		} else if !errors.Is(err, cache.ErrMiss) {
			log.Printf("Quiz cache read failed for %d: %v", quizID, err)
		}
	}

	quiz, err := s.repo.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetQuiz(ctx, quiz); err != nil {
			log.Printf("Quiz cache write failed for %d: %v", quizID, err)
		}
	}
	return quiz, nil
}

// Question returns the question at index, or ErrQuestionNotFound.
func (s *Service) Question(ctx context.Context, quizID uint, index int) (*models.Question, error) {
	quiz, err := s.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(quiz.Questions) {
		return nil, models.ErrQuestionNotFound
	}
	return &quiz.Questions[index], nil
}

func (s *Service) GetQuizzesByCreator(ctx context.Context, userID uint) ([]models.Quiz, error) {
	return s.repo.GetQuizzesByCreator(ctx, userID)
}

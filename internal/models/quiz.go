package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Question types.
const (
	QuestionSingle   = "single"
	QuestionMultiple = "multiple"
	QuestionText     = "text"
)

// DefaultTimeLimit is used for questions authored without a timer.
const DefaultTimeLimit = 30

type User struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
	Username  string         `json:"username" gorm:"uniqueIndex;not null"`
	Email     string         `json:"email"`
	Password  string         `json:"-" gorm:"not null"`
}

type Quiz struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
	Title       string         `json:"title" gorm:"not null"`
	Description string         `json:"description"`
	CreatorID   uint           `json:"creator_id" gorm:"index"`
	Questions   []Question     `json:"questions,omitempty" gorm:"foreignKey:QuizID"`
}

type Question struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`
	QuizID        uint           `json:"quiz_id" gorm:"index"`
	Position      int            `json:"position" gorm:"not null;default:0"`
	Text          string         `json:"text" gorm:"not null"`
	Type          string         `json:"type" gorm:"size:10;not null;default:'single'"`
	Options       []Option       `json:"options,omitempty" gorm:"foreignKey:QuestionID"`
	CorrectAnswer string         `json:"correct_answer,omitempty"` // text questions only
	TimeLimit     int            `json:"time_limit"`
}

type Option struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-" gorm:"index"`
	QuestionID uint           `json:"question_id" gorm:"index"`
	Position   int            `json:"position" gorm:"not null;default:0"`
	Text       string         `json:"text" gorm:"not null"`
	IsCorrect  bool           `json:"is_correct" gorm:"not null;default:false"`
}

// TimerSeconds is the answer window of the question.
func (q Question) TimerSeconds() int {
	if q.TimeLimit <= 0 {
		return DefaultTimeLimit
	}
	return q.TimeLimit
}

// CorrectAnswerIndices returns the positions of the correct options. Options
// are expected in display order.
func (q Question) CorrectAnswerIndices() []int {
	indices := make([]int, 0, 1)
	for i, opt := range q.Options {
		if opt.IsCorrect {
			indices = append(indices, i)
		}
	}
	return indices
}

// IsCorrectOption reports whether the option at index is one of the correct
// ones. Any-of-N: picking a single correct option of a multi-correct question
// counts.
func (q Question) IsCorrectOption(index int) bool {
	if index < 0 || index >= len(q.Options) {
		return false
	}
	return q.Options[index].IsCorrect
}

// IsCorrectText compares a free-text answer against the answer key.
func (q Question) IsCorrectText(answer string) bool {
	key := strings.TrimSpace(q.CorrectAnswer)
	if key == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(answer), key)
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Phase is the stage of a live session.
type Phase string

const (
	PhaseLobby       Phase = "lobby"
	PhaseQuestion    Phase = "question"
	PhaseLocked      Phase = "locked"
	PhaseLeaderboard Phase = "leaderboard"
	PhaseTransition  Phase = "transition"
	PhaseEnded       Phase = "ended"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseLobby, PhaseQuestion, PhaseLocked, PhaseLeaderboard, PhaseTransition, PhaseEnded:
		return true
	}
	return false
}

// ShowsLeaderboard reports whether clients render the ranking in this phase.
func (p Phase) ShowsLeaderboard() bool {
	return p == PhaseLeaderboard || p == PhaseEnded
}

// Session is the single-writer row coordinating one live quiz run. Only the
// host controller writes it; every write bumps Version.
type Session struct {
	ID                   string     `json:"id" gorm:"primaryKey;size:36"`
	RoomCode             string     `json:"room_code" gorm:"size:6;not null;index:idx_live_room_code,unique,where:is_live = true"`
	QuizID               uint       `json:"quiz_id" gorm:"not null;index:idx_live_quiz,unique,where:is_live = true"`
	HostID               uint       `json:"host_id" gorm:"not null;index"`
	Phase                Phase      `json:"phase" gorm:"size:20;not null"`
	CurrentSlideIndex    *int       `json:"current_slide_index"`
	QuestionCount        int        `json:"question_count" gorm:"not null;default:0"`
	TimerDurationSeconds int        `json:"timer_duration_seconds" gorm:"not null;default:0"`
	TimerEndAt           *time.Time `json:"timer_end_at"`
	IsLive               bool       `json:"is_live" gorm:"not null"`
	Version              int64      `json:"version" gorm:"not null;default:1"`
	PhaseChangedAt       time.Time  `json:"phase_changed_at"`
	Distribution         Counts     `json:"distribution,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// SlideIndex returns the current slide index, or -1 when none is set.
func (s Session) SlideIndex() int {
	if s.CurrentSlideIndex == nil {
		return -1
	}
	return *s.CurrentSlideIndex
}

// HasNextQuestion reports whether a question follows the current one.
func (s Session) HasNextQuestion() bool {
	return s.SlideIndex()+1 < s.QuestionCount
}

// Participant statuses.
const (
	ParticipantWaiting = "waiting"
	ParticipantActive  = "active"
	ParticipantRemoved = "removed"
)

type Participant struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	SessionID   string    `json:"session_id" gorm:"size:36;not null;uniqueIndex:idx_participant_name"`
	RoomCode    string    `json:"room_code" gorm:"size:6;not null"`
	DisplayName string    `json:"display_name" gorm:"size:100;not null;uniqueIndex:idx_participant_name"`
	Token       string    `json:"-" gorm:"size:36;not null"`
	Score       int       `json:"score" gorm:"not null;default:0"`
	Status      string    `json:"status" gorm:"size:10;not null"`
	JoinedAt    time.Time `json:"joined_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AnswerResponse is append-only: one row per participant and slide.
type AnswerResponse struct {
	ID                  uint      `json:"id" gorm:"primaryKey"`
	SessionID           string    `json:"session_id" gorm:"size:36;not null;uniqueIndex:idx_answer_unique"`
	RoomCode            string    `json:"room_code" gorm:"size:6;not null"`
	ParticipantID       uint      `json:"participant_id" gorm:"not null;uniqueIndex:idx_answer_unique"`
	SlideIndex          int       `json:"slide_index" gorm:"not null;uniqueIndex:idx_answer_unique"`
	QuestionID          uint      `json:"question_id" gorm:"not null"`
	SelectedOptionIndex *int      `json:"selected_option_index,omitempty"`
	TextAnswer          string    `json:"text_answer,omitempty"`
	IsCorrect           bool      `json:"is_correct"`
	PointsAwarded       int       `json:"points_awarded"`
	SubmittedAt         time.Time `json:"submitted_at"`
}

// Counts is a per-option tally stored as a JSON array.
type Counts []int

func (Counts) GormDataType() string {
	return "text"
}

func (c Counts) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal([]int(c))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *Counts) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*c = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported counts value %T", value)
	}
	if len(raw) == 0 {
		*c = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]int)(c))
}

package models

import "time"

// QuestionDTO is what participants see of a question. The answer key is only
// filled in for hosts, or for everyone once answers are locked.
type QuestionDTO struct {
	ID             uint        `json:"id"`
	Index          int         `json:"index"`
	Text           string      `json:"text"`
	Type           string      `json:"type"`
	Options        []OptionDTO `json:"options"`
	TimeLimit      int         `json:"time_limit"`
	CorrectIndices []int       `json:"correct_indices,omitempty"`
	CorrectAnswer  string      `json:"correct_answer,omitempty"`
}

type OptionDTO struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

func (q Question) ToDTO(index int, withAnswers bool) QuestionDTO {
	optionDTOs := make([]OptionDTO, len(q.Options))
	for i, opt := range q.Options {
		optionDTOs[i] = OptionDTO{
			Index: i,
			Text:  opt.Text,
		}
	}

	dto := QuestionDTO{
		ID:        q.ID,
		Index:     index,
		Text:      q.Text,
		Type:      q.Type,
		Options:   optionDTOs,
		TimeLimit: q.TimerSeconds(),
	}
	if withAnswers {
		dto.CorrectIndices = q.CorrectAnswerIndices()
		dto.CorrectAnswer = q.CorrectAnswer
	}
	return dto
}

// LeaderboardEntry is one ranked row. Rank is 1-based.
type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	ParticipantID uint   `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Score         int    `json:"score"`
}

// ParticipantState is everything a participant needs to render the current
// screen after a join, a reconnect or a session change.
type ParticipantState struct {
	Session        Session            `json:"session"`
	Participant    Participant        `json:"participant"`
	Question       *QuestionDTO       `json:"question,omitempty"`
	Response       *AnswerResponse    `json:"response,omitempty"`
	Distribution   Counts             `json:"distribution,omitempty"`
	Leaderboard    []LeaderboardEntry `json:"leaderboard,omitempty"`
	ReferenceNowMs int64              `json:"reference_now_ms"`
}

// JoinResult is returned by a successful join or rejoin.
type JoinResult struct {
	Participant Participant `json:"participant"`
	Token       string      `json:"token"`
	Session     Session     `json:"session"`
}

// AnswerRequest is a participant's submission for the current slide. Exactly
// one of SelectedOptionIndex and TextAnswer is used depending on the question.
type AnswerRequest struct {
	RoomCode            string `json:"room_code"`
	ParticipantID       uint   `json:"participant_id"`
	Token               string `json:"token"`
	SlideIndex          int    `json:"slide_index"`
	SelectedOptionIndex *int   `json:"selected_option_index,omitempty"`
	TextAnswer          string `json:"text_answer,omitempty"`
}

// AnswerResult echoes the accepted response.
type AnswerResult struct {
	Response AnswerResponse `json:"response"`
	Score    int            `json:"score"`
}

// TimeResponse is the body of the reference-time endpoint.
type TimeResponse struct {
	NowMs int64 `json:"now_ms"`
}

func UnixMs(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

func FromUnixMs(ms int64) time.Time {
	return time.Unix(0, ms*int64(time.Millisecond))
}

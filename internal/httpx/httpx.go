// Package httpx holds the JSON response helpers shared by every handler and
// the mapping from store errors to user-facing messages.
package httpx

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"live-quiz/internal/models"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

type errorInfo struct {
	err     error
	status  int
	code    string
	message string
}

// Known errors, in match order. Codes are stable and used by pkg/client to
// rebuild the sentinel on the other side.
var known = []errorInfo{
	{models.ErrSessionNotFound, http.StatusNotFound, "session_not_found", "That room code doesn't match a live quiz."},
	{models.ErrQuizNotFound, http.StatusNotFound, "quiz_not_found", "Quiz not found."},
	{models.ErrQuestionNotFound, http.StatusNotFound, "question_not_found", "That question doesn't exist."},
	{models.ErrParticipantNotFound, http.StatusNotFound, "participant_not_found", "You are not part of this quiz."},
	{models.ErrParticipantRemoved, http.StatusForbidden, "participant_removed", "The host removed you from this quiz."},
	{models.ErrInvalidToken, http.StatusUnauthorized, "invalid_token", "Please join the quiz again."},
	{models.ErrInvalidName, http.StatusBadRequest, "invalid_name", "Please choose a name between 1 and 30 characters."},
	{models.ErrAlreadyAnswered, http.StatusConflict, "already_answered", "You already answered this question."},
	{models.ErrTimeExpired, http.StatusConflict, "time_expired", "Too late, time is up for this question."},
	{models.ErrNotAcceptingAnswers, http.StatusConflict, "not_accepting_answers", "There is no open question right now."},
	{models.ErrInvalidAnswer, http.StatusBadRequest, "invalid_answer", "That answer isn't one of the options."},
	{models.ErrNotHost, http.StatusForbidden, "not_host", "Only the host can do that."},
	{models.ErrInvalidTransition, http.StatusConflict, "invalid_transition", "That action isn't available right now."},
	{models.ErrStaleSession, http.StatusConflict, "stale_session", "The quiz changed in the meantime, please retry."},
	{models.ErrNoQuestions, http.StatusBadRequest, "no_questions", "This quiz has no questions."},
	{models.ErrRoomCodeExhausted, http.StatusServiceUnavailable, "room_code_unavailable", "Couldn't allocate a room code, please retry."},
}

// ErrorForCode returns the sentinel for a wire code, or nil.
func ErrorForCode(code string) error {
	for _, k := range known {
		if k.code == code {
			return k.err
		}
	}
	return nil
}

func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{Error: APIError{Code: code, Message: message}})
}

// HandleServiceError maps err to a status and a plain-language message.
// Unknown errors are logged and reported as a generic failure.
func HandleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, k := range known {
		if errors.Is(err, k.err) {
			WriteError(w, k.status, k.code, k.message)
			return
		}
	}
	log.Printf("%s %s failed: %v", r.Method, r.URL.Path, err)
	WriteError(w, http.StatusInternalServerError, "internal", "Something went wrong, please try again.")
}

func DecodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

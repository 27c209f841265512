package models

import "errors"

// Errors shared by the store, the host controller and the participant flow.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrQuizNotFound        = errors.New("quiz not found")
	ErrQuestionNotFound    = errors.New("question not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrParticipantRemoved  = errors.New("participant was removed from the session")
	ErrInvalidToken        = errors.New("invalid participant token")
	ErrInvalidName         = errors.New("invalid display name")
	ErrAlreadyAnswered     = errors.New("answer already submitted")
	ErrTimeExpired         = errors.New("answer window closed")
	ErrNotAcceptingAnswers = errors.New("session is not accepting answers")
	ErrInvalidAnswer       = errors.New("invalid answer")
	ErrNotHost             = errors.New("only the session host can perform this action")
	ErrInvalidTransition   = errors.New("invalid phase transition")
	ErrStaleSession        = errors.New("session was modified concurrently")
	ErrNoQuestions         = errors.New("quiz has no questions")
	ErrRoomCodeExhausted   = errors.New("could not allocate a room code")
)

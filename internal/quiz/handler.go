package quiz

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"live-quiz/internal/auth"
	"live-quiz/internal/httpx"
	"live-quiz/internal/models"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) CreateQuiz(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	var quiz models.Quiz
	if err := httpx.DecodeJSON(r, &quiz); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request")
		return
	}
	quiz.ID = 0
	quiz.CreatorID = userID

	if err := h.service.CreateQuiz(r.Context(), &quiz); err != nil {
		if errors.Is(err, ErrInvalidQuiz) {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_quiz", err.Error())
			return
		}
		httpx.HandleServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, quiz)
}

// GetQuiz returns the full quiz, answer key included, to its creator only.
func (h *Handler) GetQuiz(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid quiz id")
		return
	}

	quiz, err := h.service.GetQuiz(r.Context(), uint(id))
	if err != nil {
		httpx.HandleServiceError(w, r, err)
		return
	}
	if quiz.CreatorID != userID {
		httpx.HandleServiceError(w, r, models.ErrQuizNotFound)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, quiz)
}

func (h *Handler) GetMyQuizzes(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	quizzes, err := h.service.GetQuizzesByCreator(r.Context(), userID)
	if err != nil {
		httpx.HandleServiceError(w, r, err)
		return
	}
	if quizzes == nil {
		quizzes = []models.Quiz{}
	}

	httpx.WriteJSON(w, http.StatusOK, quizzes)
}

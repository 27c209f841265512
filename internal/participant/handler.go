package participant

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"live-quiz/internal/httpx"
	"live-quiz/internal/models"
)

// TokenHeader carries the participant token on play requests.
const TokenHeader = "X-Participant-Token"

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type JoinRequest struct {
	RoomCode    string `json:"room_code"`
	DisplayName string `json:"display_name"`
}

func token(r *http.Request) string {
	if t := r.Header.Get(TokenHeader); t != "" {
		return t
	}
	return r.URL.Query().Get("token")
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request")
		return
	}

	result, err := h.service.Join(r.Context(), req.RoomCode, req.DisplayName)
	if err != nil {
		httpx.HandleServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

// State answers GET /api/play/state?room_code=..&participant_id=..
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	participantID, err := strconv.ParseUint(q.Get("participant_id"), 10, 64)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid participant id")
		return
	}

	state, err := h.service.State(r.Context(), q.Get("room_code"), uint(participantID), token(r))
	if err != nil {
		httpx.HandleServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, state)
}

func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req models.AnswerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request")
		return
	}
	if t := token(r); t != "" {
		req.Token = t
	}

	result, err := h.service.SubmitAnswer(r.Context(), req)
	if err != nil {
		httpx.HandleServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, result)
}

// GetSession lets a join page check a room code before asking for a name.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Session(r.Context(), mux.Vars(r)["roomCode"])
	if err != nil {
		httpx.HandleServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, session)
}

func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.Leaderboard(r.Context(), mux.Vars(r)["roomCode"])
	if err != nil {
		httpx.HandleServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	httpx.WriteJSON(w, http.StatusOK, entries)
}

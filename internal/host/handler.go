package host

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"

	"live-quiz/internal/auth"
	"live-quiz/internal/httpx"
	"live-quiz/internal/models"
)

type Handler struct {
	controller *Controller
	publicURL  string
}

func NewHandler(controller *Controller, publicURL string) *Handler {
	return &Handler{controller: controller, publicURL: publicURL}
}

type StartSessionRequest struct {
	QuizID uint `json:"quiz_id"`
}

type StartQuestionRequest struct {
	Index int `json:"index"`
}

// SessionResponse is what hosts get back from every session action.
type SessionResponse struct {
	Session  *models.Session `json:"session"`
	JoinLink string          `json:"join_link"`
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, s *models.Session, err error) {
	if err != nil {
		httpx.HandleServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, status, SessionResponse{Session: s, JoinLink: JoinLink(h.publicURL, s.RoomCode)})
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	hostID, _ := auth.UserID(r.Context())

	var req StartSessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.QuizID == 0 {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request")
		return
	}

	s, err := h.controller.StartSession(r.Context(), hostID, req.QuizID)
	h.respond(w, r, http.StatusCreated, s, err)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	hostID, _ := auth.UserID(r.Context())
	s, err := h.controller.Session(r.Context(), hostID, mux.Vars(r)["id"])
	h.respond(w, r, http.StatusOK, s, err)
}

func (h *Handler) StartQuiz(w http.ResponseWriter, r *http.Request) {
	hostID, _ := auth.UserID(r.Context())
	s, err := h.controller.StartQuiz(r.Context(), hostID, mux.Vars(r)["id"])
	h.respond(w, r, http.StatusOK, s, err)
}

func (h *Handler) StartQuestion(w http.ResponseWriter, r *http.Request) {
	hostID, _ := auth.UserID(r.Context())

	var req StartQuestionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request")
		return
	}

	s, err := h.controller.StartQuestion(r.Context(), hostID, mux.Vars(r)["id"], req.Index)
	h.respond(w, r, http.StatusOK, s, err)
}

func (h *Handler) LockAnswers(w http.ResponseWriter, r *http.Request) {
	hostID, _ := auth.UserID(r.Context())
	s, err := h.controller.LockAnswers(r.Context(), hostID, mux.Vars(r)["id"])
	h.respond(w, r, http.StatusOK, s, err)
}

func (h *Handler) ShowLeaderboard(w http.ResponseWriter, r *http.Request) {
	hostID, _ := auth.UserID(r.Context())
	s, err := h.controller.ShowLeaderboard(r.Context(), hostID, mux.Vars(r)["id"])
	h.respond(w, r, http.StatusOK, s, err)
}

func (h *Handler) NextQuestion(w http.ResponseWriter, r *http.Request) {
	hostID, _ := auth.UserID(r.Context())
	s, err := h.controller.NextQuestion(r.Context(), hostID, mux.Vars(r)["id"])
	h.respond(w, r, http.StatusOK, s, err)
}

func (h *Handler) EndQuiz(w http.ResponseWriter, r *http.Request) {
	hostID, _ := auth.UserID(r.Context())
	s, err := h.controller.EndQuiz(r.Context(), hostID, mux.Vars(r)["id"])
	h.respond(w, r, http.StatusOK, s, err)
}

func (h *Handler) CurrentQuestion(w http.ResponseWriter, r *http.Request) {
	hostID, _ := auth.UserID(r.Context())
	q, err := h.controller.CurrentQuestion(r.Context(), hostID, mux.Vars(r)["id"])
	if err != nil {
		httpx.HandleServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, q)
}

func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	hostID, _ := auth.UserID(r.Context())
	participants, err := h.controller.Participants(r.Context(), hostID, mux.Vars(r)["id"])
	if err != nil {
		httpx.HandleServiceError(w, r, err)
		return
	}
	if participants == nil {
		participants = []models.Participant{}
	}
	httpx.WriteJSON(w, http.StatusOK, participants)
}

func (h *Handler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	hostID, _ := auth.UserID(r.Context())
	vars := mux.Vars(r)
	participantID, err := strconv.ParseUint(vars["pid"], 10, 64)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid participant id")
		return
	}

	p, err := h.controller.RemoveParticipant(r.Context(), hostID, vars["id"], uint(participantID))
	if err != nil {
		httpx.HandleServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	hostID, _ := auth.UserID(r.Context())
	entries, err := h.controller.Leaderboard(r.Context(), hostID, mux.Vars(r)["id"])
	if err != nil {
		httpx.HandleServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	httpx.WriteJSON(w, http.StatusOK, entries)
}

// QRCode serves the join link of the session as a PNG.
func (h *Handler) QRCode(w http.ResponseWriter, r *http.Request) {
	hostID, _ := auth.UserID(r.Context())
	s, err := h.controller.Session(r.Context(), hostID, mux.Vars(r)["id"])
	if err != nil {
		httpx.HandleServiceError(w, r, err)
		return
	}

	size := 256
	if v, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && v >= 64 && v <= 1024 {
		size = v
	}
	png, err := qrcode.Encode(JoinLink(h.publicURL, s.RoomCode), qrcode.Medium, size)
	if err != nil {
		httpx.HandleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

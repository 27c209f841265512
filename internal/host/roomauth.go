package host

import (
	"net/http"
	"strconv"

	"live-quiz/internal/auth"
	"live-quiz/internal/models"
	"live-quiz/internal/participant"
	"live-quiz/internal/session"
	"live-quiz/pkg/websocket"
)

// RoomAuth checks the credentials of a socket opened on /ws/{roomCode}.
// Participants pass participant_id and token; hosts pass their JWT as token.
type RoomAuth struct {
	sessions     *session.Service
	participants *participant.Service
	jwtSecret    string
}

func NewRoomAuth(sessions *session.Service, participants *participant.Service, jwtSecret string) *RoomAuth {
	return &RoomAuth{sessions: sessions, participants: participants, jwtSecret: jwtSecret}
}

func (a *RoomAuth) Authenticate(r *http.Request, roomCode string) (websocket.Identity, error) {
	q := r.URL.Query()
	token := q.Get("token")
	if token == "" {
		return websocket.Identity{}, models.ErrInvalidToken
	}

	if raw := q.Get("participant_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return websocket.Identity{}, models.ErrParticipantNotFound
		}
		p, err := a.participants.Authenticate(r.Context(), roomCode, uint(id), token)
		if err != nil {
			return websocket.Identity{}, err
		}
		return websocket.Identity{SessionID: p.SessionID, ParticipantID: p.ID}, nil
	}

	userID, err := auth.ParseToken(token, a.jwtSecret)
	if err != nil {
		return websocket.Identity{}, models.ErrInvalidToken
	}
	s, err := a.sessions.GetLive(r.Context(), roomCode)
	if err != nil {
		return websocket.Identity{}, err
	}
	if s.HostID != userID {
		return websocket.Identity{}, models.ErrNotHost
	}
	return websocket.Identity{SessionID: s.ID, Host: true}, nil
}

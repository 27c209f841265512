package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"live-quiz/internal/auth"
	"live-quiz/internal/httpx"
	"live-quiz/internal/models"
)

func hostRequest(method, target string, body string, hostID uint, vars map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(auth.WithUserID(req.Context(), hostID))
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	return req
}

func TestHandler_StartSessionAndQR(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.controller, "https://quiz.example.com")

	rec := httptest.NewRecorder()
	h.StartSession(rec, hostRequest(http.MethodPost, "/api/sessions", fmt.Sprintf(`{"quiz_id": %d}`, fx.quiz.ID), fx.host.ID, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp SessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.JoinLink != "https://quiz.example.com/join/482913" {
		t.Errorf("unexpected join link %s", resp.JoinLink)
	}

	rec = httptest.NewRecorder()
	h.QRCode(rec, hostRequest(http.MethodGet, "/api/sessions/x/qr", "", fx.host.ID, map[string]string{"id": resp.Session.ID}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("expected a PNG body")
	}
}

func TestHandler_Errors(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.controller, "https://quiz.example.com")
	s := must(t)(fx.controller.StartSession(context.Background(), fx.host.ID, fx.quiz.ID))

	tests := []struct {
		name     string
		handler  http.HandlerFunc
		req      *http.Request
		wantCode int
		wantErr  string
	}{
		{"bad body", h.StartSession, hostRequest(http.MethodPost, "/api/sessions", `{`, fx.host.ID, nil), http.StatusBadRequest, "bad_request"},
		{"other host", h.StartQuiz, hostRequest(http.MethodPost, "/", "", fx.host.ID+1, map[string]string{"id": s.ID}), http.StatusForbidden, "not_host"},
		{"unknown session", h.StartQuiz, hostRequest(http.MethodPost, "/", "", fx.host.ID, map[string]string{"id": "missing"}), http.StatusNotFound, "session_not_found"},
		{"lock in lobby", h.LockAnswers, hostRequest(http.MethodPost, "/", "", fx.host.ID, map[string]string{"id": s.ID}), http.StatusConflict, "invalid_transition"},
		{"bad participant id", h.RemoveParticipant, hostRequest(http.MethodDelete, "/", "", fx.host.ID, map[string]string{"id": s.ID, "pid": "x"}), http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, tt.req)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			var body httpx.ErrorResponse
			json.NewDecoder(rec.Body).Decode(&body)
			if body.Error.Code != tt.wantErr {
				t.Errorf("expected %s, got %s", tt.wantErr, body.Error.Code)
			}
		})
	}
}

func TestHandler_LeaderboardNeverNull(t *testing.T) {
	fx := newFixture(t)
	h := NewHandler(fx.controller, "")
	s := must(t)(fx.controller.StartSession(context.Background(), fx.host.ID, fx.quiz.ID))

	rec := httptest.NewRecorder()
	h.GetLeaderboard(rec, hostRequest(http.MethodGet, "/", "", fx.host.ID, map[string]string{"id": s.ID}))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var entries []models.LeaderboardEntry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil || entries == nil {
		t.Errorf("expected an empty array, got %q (%v)", rec.Body.String(), err)
	}
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"live-quiz/internal/clock"
	"live-quiz/internal/config"
	"live-quiz/internal/models"
	"live-quiz/internal/testutil"
)

func newTestServer(t *testing.T) *httptest.Server {
	db := testutil.NewDB(t)
	rdb, _ := testutil.NewRedis(t)
	cfg := &config.Config{
		PublicURL:        "https://quiz.example",
		CORSOrigins:      []string{"http://localhost:3000"},
		JWTSecret:        "test-secret",
		PointsPerCorrect: 1,
		LeaderboardTTL:   2 * time.Hour,
		QuizCacheTTL:     2 * time.Hour,
	}
	s := New(cfg, db, rdb, clock.System{})

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

// call sends a JSON request and decodes the JSON response into out.
func call(t *testing.T, srv *httptest.Server, method, path, token string, body, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, srv.URL+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func TestServer_TimeIsPublic(t *testing.T) {
	srv := newTestServer(t)

	var body models.TimeResponse
	if status := call(t, srv, "GET", "/api/time", "", nil, &body); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body.NowMs <= 0 {
		t.Errorf("expected a reference time, got %d", body.NowMs)
	}
}

func TestServer_HostRoutesNeedToken(t *testing.T) {
	srv := newTestServer(t)

	paths := []struct{ method, path string }{
		{"POST", "/api/sessions"},
		{"GET", "/api/sessions/abc"},
		{"POST", "/api/sessions/abc/next"},
		{"GET", "/api/quiz/my-quizzes"},
	}
	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			if status := call(t, srv, p.method, p.path, "", nil, nil); status != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", status)
			}
		})
	}
}

func TestServer_HostAndPlayerFlow(t *testing.T) {
	srv := newTestServer(t)

	if status := call(t, srv, "POST", "/api/auth/register", "", map[string]string{"username": "host", "password": "pw"}, nil); status != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", status)
	}
	var login struct{ Token string }
	call(t, srv, "POST", "/api/auth/login", "", map[string]string{"username": "host", "password": "pw"}, &login)
	if login.Token == "" {
		t.Fatal("login returned no token")
	}

	quiz := models.Quiz{Title: "Capitals", Questions: []models.Question{{
		Text:      "Capital of France?",
		TimeLimit: 20,
		Options:   []models.Option{{Position: 0, Text: "Paris", IsCorrect: true}, {Position: 1, Text: "Rome"}},
	}}}
	var created models.Quiz
	if status := call(t, srv, "POST", "/api/quiz", login.Token, quiz, &created); status != http.StatusCreated {
		t.Fatalf("create quiz: expected 201, got %d", status)
	}

	var started struct {
		Session  models.Session `json:"session"`
		JoinLink string         `json:"join_link"`
	}
	if status := call(t, srv, "POST", "/api/sessions", login.Token, map[string]uint{"quiz_id": created.ID}, &started); status != http.StatusCreated {
		t.Fatalf("start session: expected 201, got %d", status)
	}
	room := started.Session.RoomCode
	if started.JoinLink != "https://quiz.example/join/"+room {
		t.Errorf("unexpected join link %q", started.JoinLink)
	}

	var joined models.JoinResult
	if status := call(t, srv, "POST", "/api/play/join", "", map[string]string{"room_code": room, "display_name": "Alex"}, &joined); status != http.StatusOK {
		t.Fatalf("join: expected 200, got %d", status)
	}

	var open struct {
		Session models.Session `json:"session"`
	}
	call(t, srv, "POST", "/api/sessions/"+started.Session.ID+"/start", login.Token, nil, &open)
	if open.Session.Phase != models.PhaseQuestion {
		t.Fatalf("expected question phase, got %q", open.Session.Phase)
	}

	option := 0
	answer := models.AnswerRequest{RoomCode: room, ParticipantID: joined.Participant.ID, Token: joined.Token, SlideIndex: 0, SelectedOptionIndex: &option}
	var result models.AnswerResult
	if status := call(t, srv, "POST", "/api/play/answer", "", answer, &result); status != http.StatusCreated {
		t.Fatalf("answer: expected 201, got %d", status)
	}
	if result.Score != 1 {
		t.Errorf("expected score 1, got %d", result.Score)
	}

	var rejected struct {
		Error struct{ Code string } `json:"error"`
	}
	if status := call(t, srv, "POST", "/api/play/answer", "", answer, &rejected); status != http.StatusConflict || rejected.Error.Code != "already_answered" {
		t.Errorf("expected 409 already_answered, got %d %q", status, rejected.Error.Code)
	}

	var board []models.LeaderboardEntry
	call(t, srv, "GET", fmt.Sprintf("/api/play/%s/leaderboard", room), "", nil, &board)
	if len(board) != 1 || board[0].DisplayName != "Alex" || board[0].Score != 1 {
		t.Errorf("unexpected leaderboard %+v", board)
	}
}

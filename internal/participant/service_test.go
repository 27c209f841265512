package participant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"live-quiz/internal/clock"
	"live-quiz/internal/leaderboard"
	"live-quiz/internal/models"
	"live-quiz/internal/quiz"
	"live-quiz/internal/session"
	"live-quiz/internal/testutil"
	"live-quiz/pkg/cache"
	"live-quiz/pkg/feed"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	clock    *clock.Fixed
	sessions *session.Service
	quizzes  *quiz.Service
	svc      *Service
	session  *models.Session
}

func newFixture(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	rdb, _ := testutil.NewRedis(t)
	c := cache.NewRedisCache(rdb, time.Hour, 2*time.Hour)
	f := feed.New(rdb)
	clk := clock.NewFixed(t0)

	sessions := session.NewService(session.NewRepository(db), f, clk)
	sessions.SetRoomCodeGenerator(func() string { return "482913" })
	quizzes := quiz.NewService(quiz.NewRepository(db), c)
	lb := leaderboard.NewService(db, c)

	host, q := testutil.SeedQuiz(t, db, 3)
	s, err := sessions.Create(context.Background(), host.ID, q.ID, 3)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	return &fixture{
		db:       db,
		clock:    clk,
		sessions: sessions,
		quizzes:  quizzes,
		svc:      NewService(NewRepository(db), sessions, quizzes, f, lb, clk, 1),
		session:  s,
	}
}

// write applies fields to the fixture's session as the host would.
func (fx *fixture) write(t *testing.T, fields session.Fields) {
	t.Helper()
	s, err := fx.sessions.Update(context.Background(), fx.session.ID, fx.session.Version, fields)
	if err != nil {
		t.Fatalf("session update failed: %v", err)
	}
	fx.session = s
}

func (fx *fixture) openQuestion(t *testing.T, index int) {
	t.Helper()
	now, _ := fx.clock.Now(context.Background())
	end := now.Add(20 * time.Second)
	fx.write(t, session.Fields{
		"phase":                  models.PhaseQuestion,
		"current_slide_index":    index,
		"timer_duration_seconds": 20,
		"timer_end_at":           end,
		"distribution":           nil,
	})
}

func (fx *fixture) join(t *testing.T, name string) *models.JoinResult {
	t.Helper()
	res, err := fx.svc.Join(context.Background(), "482913", name)
	if err != nil {
		t.Fatalf("join %s failed: %v", name, err)
	}
	return res
}

func answer(j *models.JoinResult, slide, option int) models.AnswerRequest {
	return models.AnswerRequest{
		RoomCode:            "482913",
		ParticipantID:       j.Participant.ID,
		Token:               j.Token,
		SlideIndex:          slide,
		SelectedOptionIndex: &option,
	}
}

func TestService_JoinValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		roomCode string
		display  string
		wantErr  error
	}{
		{"empty name", "482913", "   ", models.ErrInvalidName},
		{"name too long", "482913", "abcdefghijabcdefghijabcdefghijk", models.ErrInvalidName},
		{"unknown room", "000000", "Alex", models.ErrSessionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.Join(ctx, tt.roomCode, tt.display)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestService_JoinIsIdempotent(t *testing.T) {
	fx := newFixture(t)

	first := fx.join(t, "Alex")
	if first.Participant.Status != models.ParticipantWaiting {
		t.Errorf("expected waiting in lobby, got %s", first.Participant.Status)
	}

	fx.openQuestion(t, 0)
	if _, err := fx.svc.SubmitAnswer(context.Background(), answer(first, 0, 1)); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	again := fx.join(t, "  Alex ")
	if again.Participant.ID != first.Participant.ID {
		t.Errorf("expected same participant %d, got %d", first.Participant.ID, again.Participant.ID)
	}
	if again.Token != first.Token {
		t.Error("expected rejoin to return the original token")
	}
	if again.Participant.Score != 1 {
		t.Errorf("expected score 1 after rejoin, got %d", again.Participant.Score)
	}

	var count int64
	fx.db.Model(&models.Participant{}).Where("session_id = ?", fx.session.ID).Count(&count)
	if count != 1 {
		t.Errorf("expected 1 participant row, got %d", count)
	}
}

func TestService_JoinMidQuizIsActive(t *testing.T) {
	fx := newFixture(t)
	fx.openQuestion(t, 0)

	late := fx.join(t, "Sam")
	if late.Participant.Status != models.ParticipantActive {
		t.Errorf("expected active, got %s", late.Participant.Status)
	}
}

func TestService_JoinEndedSession(t *testing.T) {
	fx := newFixture(t)
	alex := fx.join(t, "Alex")
	fx.write(t, session.Fields{"phase": models.PhaseEnded, "timer_end_at": nil})

	again, err := fx.svc.Join(context.Background(), "482913", "Alex")
	if err != nil {
		t.Fatalf("expected rejoin of ended session to work, got %v", err)
	}
	if again.Participant.ID != alex.Participant.ID {
		t.Error("expected the same participant")
	}

	if _, err := fx.svc.Join(context.Background(), "482913", "Newcomer"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for a new name, got %v", err)
	}
}

func TestService_SubmitAnswerScoring(t *testing.T) {
	fx := newFixture(t)
	alex := fx.join(t, "Alex")
	sam := fx.join(t, "Sam")
	fx.openQuestion(t, 0)
	ctx := context.Background()

	fx.clock.Advance(5 * time.Second)
	res, err := fx.svc.SubmitAnswer(ctx, answer(alex, 0, 1))
	if err != nil {
		t.Fatalf("alex submit failed: %v", err)
	}
	if !res.Response.IsCorrect || res.Response.PointsAwarded != 1 || res.Score != 1 {
		t.Errorf("expected a correct answer worth 1, got %+v", res)
	}

	fx.clock.Advance(14 * time.Second)
	res, err = fx.svc.SubmitAnswer(ctx, answer(sam, 0, 0))
	if err != nil {
		t.Fatalf("sam submit failed: %v", err)
	}
	if res.Response.IsCorrect || res.Score != 0 {
		t.Errorf("expected an incorrect answer worth 0, got %+v", res)
	}

	counts, err := fx.svc.Distribution(ctx, fx.session.ID, 0, 4)
	if err != nil {
		t.Fatalf("distribution failed: %v", err)
	}
	want := models.Counts{1, 1, 0, 0}
	for i := range want {
		if counts[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, counts)
		}
	}
}

func TestService_SubmitAnswerRejections(t *testing.T) {
	fx := newFixture(t)
	alex := fx.join(t, "Alex")
	ctx := context.Background()

	if _, err := fx.svc.SubmitAnswer(ctx, answer(alex, 0, 1)); !errors.Is(err, models.ErrNotAcceptingAnswers) {
		t.Errorf("lobby: expected ErrNotAcceptingAnswers, got %v", err)
	}

	fx.openQuestion(t, 1)

	tests := []struct {
		name    string
		req     models.AnswerRequest
		wantErr error
	}{
		{"bad token", func() models.AnswerRequest { r := answer(alex, 1, 1); r.Token = "nope"; return r }(), models.ErrInvalidToken},
		{"option out of range", answer(alex, 1, 4), models.ErrInvalidAnswer},
		{"past slide", answer(alex, 0, 1), models.ErrTimeExpired},
		{"future slide", answer(alex, 2, 1), models.ErrNotAcceptingAnswers},
		{"slide beyond quiz", answer(alex, 9, 1), models.ErrQuestionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := fx.svc.SubmitAnswer(ctx, tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	fx.clock.Advance(20 * time.Second)
	if _, err := fx.svc.SubmitAnswer(ctx, answer(alex, 1, 1)); !errors.Is(err, models.ErrTimeExpired) {
		t.Errorf("deadline: expected ErrTimeExpired, got %v", err)
	}
}

// The store holds a single connection, so the answer transaction must read
// the database clock through itself rather than the pool.
func TestService_SubmitAnswerWithDatabaseClock(t *testing.T) {
	fx := newFixture(t)
	alex := fx.join(t, "Alex")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ref := clock.NewDatabase(fx.db)
	now, err := ref.Now(ctx)
	if err != nil {
		t.Fatalf("read database clock: %v", err)
	}
	fx.write(t, session.Fields{
		"phase":                  models.PhaseQuestion,
		"current_slide_index":    0,
		"timer_duration_seconds": 20,
		"timer_end_at":           now.Add(20 * time.Second),
		"distribution":           nil,
	})

	svc := *fx.svc
	svc.clock = ref
	res, err := svc.SubmitAnswer(ctx, answer(alex, 0, 1))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if res.Response.SubmittedAt.Before(now) || res.Response.SubmittedAt.After(now.Add(20*time.Second)) {
		t.Errorf("submitted at %v, expected within 20s of %v", res.Response.SubmittedAt, now)
	}
}

func TestService_DoubleSubmitScoresOnce(t *testing.T) {
	fx := newFixture(t)
	alex := fx.join(t, "Alex")
	fx.openQuestion(t, 0)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.SubmitAnswer(ctx, answer(alex, 0, 1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, models.ErrAlreadyAnswered):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 || rejected != 1 {
		t.Errorf("expected 1 accepted and 1 rejected, got %d and %d", accepted, rejected)
	}

	var responses int64
	fx.db.Model(&models.AnswerResponse{}).Where("participant_id = ?", alex.Participant.ID).Count(&responses)
	if responses != 1 {
		t.Errorf("expected 1 response, got %d", responses)
	}
	var p models.Participant
	fx.db.First(&p, alex.Participant.ID)
	if p.Score != 1 {
		t.Errorf("expected score 1, got %d", p.Score)
	}
}

// lockingQuestions locks the session after the submission has passed its
// own checks and before it reaches the store, like a slow network would.
type lockingQuestions struct {
	Questions
	lock func()
}

func (q lockingQuestions) Question(ctx context.Context, quizID uint, index int) (*models.Question, error) {
	question, err := q.Questions.Question(ctx, quizID, index)
	q.lock()
	return question, err
}

func TestService_SubmitAfterLockIsRejected(t *testing.T) {
	fx := newFixture(t)
	alex := fx.join(t, "Alex")
	fx.openQuestion(t, 0)
	ctx := context.Background()

	fx.svc.questions = lockingQuestions{
		Questions: fx.quizzes,
		lock: func() {
			fx.write(t, session.Fields{"phase": models.PhaseLocked, "timer_end_at": nil})
		},
	}

	if _, err := fx.svc.SubmitAnswer(ctx, answer(alex, 0, 1)); !errors.Is(err, models.ErrTimeExpired) {
		t.Fatalf("expected ErrTimeExpired, got %v", err)
	}

	var responses int64
	fx.db.Model(&models.AnswerResponse{}).Count(&responses)
	if responses != 0 {
		t.Errorf("expected no stored response, got %d", responses)
	}
	var p models.Participant
	fx.db.First(&p, alex.Participant.ID)
	if p.Score != 0 {
		t.Errorf("expected score 0, got %d", p.Score)
	}
}

func TestService_StateAfterRejoin(t *testing.T) {
	fx := newFixture(t)
	alex := fx.join(t, "Alex")
	fx.openQuestion(t, 0)
	ctx := context.Background()

	if _, err := fx.svc.SubmitAnswer(ctx, answer(alex, 0, 1)); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	rejoined := fx.join(t, "Alex")
	state, err := fx.svc.State(ctx, "482913", rejoined.Participant.ID, rejoined.Token)
	if err != nil {
		t.Fatalf("state failed: %v", err)
	}
	if state.Participant.Score != 1 {
		t.Errorf("expected score 1, got %d", state.Participant.Score)
	}
	if state.Response == nil || state.Response.SlideIndex != 0 {
		t.Fatalf("expected the slide 0 response, got %+v", state.Response)
	}
	if state.Question == nil || len(state.Question.CorrectIndices) != 0 {
		t.Errorf("expected the open question without answer key, got %+v", state.Question)
	}
	if state.ReferenceNowMs != models.UnixMs(t0) {
		t.Errorf("expected reference time %d, got %d", models.UnixMs(t0), state.ReferenceNowMs)
	}

	fx.write(t, session.Fields{"phase": models.PhaseLocked, "timer_end_at": nil, "distribution": models.Counts{0, 1, 0, 0}})
	state, err = fx.svc.State(ctx, "482913", rejoined.Participant.ID, rejoined.Token)
	if err != nil {
		t.Fatalf("state failed: %v", err)
	}
	if len(state.Question.CorrectIndices) != 1 || state.Question.CorrectIndices[0] != 1 {
		t.Errorf("expected revealed answer key, got %+v", state.Question)
	}
	if len(state.Distribution) != 4 || state.Distribution[1] != 1 {
		t.Errorf("expected distribution, got %v", state.Distribution)
	}
}

func TestService_Remove(t *testing.T) {
	fx := newFixture(t)
	alex := fx.join(t, "Alex")
	fx.openQuestion(t, 0)
	ctx := context.Background()

	if _, err := fx.svc.Remove(ctx, fx.session.ID, alex.Participant.ID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := fx.svc.Join(ctx, "482913", "Alex"); !errors.Is(err, models.ErrParticipantRemoved) {
		t.Errorf("join: expected ErrParticipantRemoved, got %v", err)
	}
	if _, err := fx.svc.SubmitAnswer(ctx, answer(alex, 0, 1)); !errors.Is(err, models.ErrParticipantRemoved) {
		t.Errorf("submit: expected ErrParticipantRemoved, got %v", err)
	}
	if _, err := fx.svc.State(ctx, "482913", alex.Participant.ID, alex.Token); !errors.Is(err, models.ErrParticipantRemoved) {
		t.Errorf("state: expected ErrParticipantRemoved, got %v", err)
	}
}

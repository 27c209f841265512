// Package client is the participant side of a live quiz: join, follow the
// session over the realtime channel, keep the clock offset fresh and submit
// answers. Everything it renders comes from the latest session snapshot, so
// a client that reconnects after missing updates catches up with one read.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"live-quiz/internal/httpx"
	"live-quiz/internal/models"
	"live-quiz/pkg/clocksync"
	"live-quiz/pkg/feed"
	"live-quiz/pkg/phase"
	hub "live-quiz/pkg/websocket"
)

// Error is a rejection reported by the server. It unwraps to the matching
// sentinel from internal/models when the code is known.
type Error struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Answer is what the participant picked for the current question. Option is
// used for choice questions and Text for text questions.
type Answer struct {
	Option *int
	Text   string
}

// View is the render input: the derived phase state plus what the last
// state read returned.
type View struct {
	phase.State
	Participant  models.Participant
	Question     *models.QuestionDTO
	Response     *models.AnswerResponse
	Distribution models.Counts
	Leaderboard  []models.LeaderboardEntry
	Offset       time.Duration
	Connected    bool
	Removed      bool
}

// Participant is one joined player.
type Participant struct {
	BaseURL  string
	RoomCode string
	ID       uint
	Name     string
	Token    string

	HTTP    *http.Client
	Dialer  *websocket.Dialer
	Machine *phase.Machine
	Syncer  *clocksync.Syncer
	// Tick is how often Listen re-renders the countdown.
	Tick time.Duration

	mu        sync.Mutex
	state     *models.ParticipantState
	connected bool
	removed   bool
	renderMu  sync.Mutex
}

// Join enters the live session behind roomCode. Joining again with the same
// name returns the same participant, which is how a player resumes on a new
// device or after a crash.
func Join(ctx context.Context, baseURL, roomCode, name string) (*Participant, error) {
	p := newParticipant(baseURL, http.DefaultClient)
	p.RoomCode = roomCode

	var res models.JoinResult
	body := map[string]string{"room_code": roomCode, "display_name": name}
	if err := p.do(ctx, http.MethodPost, "/api/play/join", body, &res); err != nil {
		return nil, err
	}
	p.ID = res.Participant.ID
	p.Name = res.Participant.DisplayName
	p.Token = res.Token
	p.Machine.Apply(res.Session)

	// One measurement up front so an answer sent before Listen starts is
	// checked against the reference clock. Listen keeps it fresh.
	if offset, err := p.Syncer.MeasureOffset(ctx); err != nil {
		log.Printf("Clock sync for room %s failed, assuming no offset: %v", roomCode, err)
	} else {
		p.Machine.SetOffset(offset)
	}
	return p, nil
}

func newParticipant(baseURL string, client *http.Client) *Participant {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Participant{
		BaseURL: baseURL,
		HTTP:    client,
		Dialer:  websocket.DefaultDialer,
		Machine: phase.New(),
		Syncer:  clocksync.New(&clocksync.HTTPTimeSource{BaseURL: baseURL, Client: client}),
		Tick:    200 * time.Millisecond,
	}
}

func (p *Participant) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.Token != "" {
		req.Header.Set("X-Participant-Token", p.Token)
	}

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var env httpx.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil || env.Error.Code == "" {
		return &Error{Status: resp.StatusCode, Code: "unknown", Message: http.StatusText(resp.StatusCode)}
	}
	return &Error{
		Status:  resp.StatusCode,
		Code:    env.Error.Code,
		Message: env.Error.Message,
		Err:     httpx.ErrorForCode(env.Error.Code),
	}
}

// Refresh reads the participant's state and applies its session snapshot.
func (p *Participant) Refresh(ctx context.Context) (*models.ParticipantState, error) {
	q := url.Values{}
	q.Set("room_code", p.RoomCode)
	q.Set("participant_id", strconv.FormatUint(uint64(p.ID), 10))

	var st models.ParticipantState
	if err := p.do(ctx, http.MethodGet, "/api/play/state?"+q.Encode(), nil, &st); err != nil {
		if errors.Is(err, models.ErrParticipantRemoved) {
			p.markRemoved()
		}
		return nil, err
	}

	p.mu.Lock()
	// A slower read must not replace a newer one.
	if p.state == nil || st.Session.Version >= p.state.Session.Version {
		p.state = &st
	}
	p.mu.Unlock()
	p.Machine.Apply(st.Session)
	return &st, nil
}

// answered reports whether the last read already holds a response for slide.
func (p *Participant) answered(slide int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.state
	return st != nil && st.Response != nil && st.Response.SlideIndex == slide
}

// SubmitAnswer sends a as the answer to the current question. Local checks reject what
// the server would reject anyway; the server remains the authority.
func (p *Participant) SubmitAnswer(ctx context.Context, a Answer) (*models.AnswerResult, error) {
	now := p.Machine.Now()
	if err := p.Machine.CanSubmit(now); err != nil {
		return nil, err
	}
	slide := p.Machine.State(now).SlideIndex
	if p.answered(slide) {
		return nil, models.ErrAlreadyAnswered
	}

	req := models.AnswerRequest{
		RoomCode:            p.RoomCode,
		ParticipantID:       p.ID,
		Token:               p.Token,
		SlideIndex:          slide,
		SelectedOptionIndex: a.Option,
		TextAnswer:          a.Text,
	}
	var res models.AnswerResult
	if err := p.do(ctx, http.MethodPost, "/api/play/answer", req, &res); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.state != nil {
		resp := res.Response
		p.state.Response = &resp
		p.state.Participant.Score = res.Score
	}
	p.mu.Unlock()
	return &res, nil
}

func (p *Participant) markRemoved() {
	p.mu.Lock()
	p.removed = true
	p.mu.Unlock()
}

func (p *Participant) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

// View renders the current state at the local time now.
func (p *Participant) View(now time.Time) View {
	v := View{
		State:  p.Machine.State(now),
		Offset: p.Machine.Offset(),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v.Connected = p.connected
	v.Removed = p.removed
	if st := p.state; st != nil {
		v.Participant = st.Participant
		// The question read belongs to the slide the machine shows; an
		// older read is hidden until the next refresh lands.
		if st.Question != nil && st.Question.Index == v.SlideIndex {
			v.Question = st.Question
			v.Response = st.Response
			v.Distribution = st.Distribution
		}
		if v.Phase.ShowsLeaderboard() {
			v.Leaderboard = st.Leaderboard
		}
	}
	return v
}

func (p *Participant) render(onView func(View)) {
	if onView == nil {
		return
	}
	p.renderMu.Lock()
	defer p.renderMu.Unlock()
	onView(p.View(p.Machine.Now()))
}

// errEnded stops the listener once the session is over.
var errEnded = errors.New("session ended")

// Listen follows the session until ctx ends, the session ends or the
// participant is removed, calling onView on every change and every tick.
// Dropped connections are retried with exponential backoff; every new
// connection starts with a full state read.
func (p *Participant) Listen(ctx context.Context, onView func(View)) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		p.Syncer.Run(ctx, p.Machine.Resync(), func(offset time.Duration, err error) {
			// A failed measurement keeps the previous offset.
			if err == nil {
				p.Machine.SetOffset(offset)
			}
		})
	}()
	go func() {
		defer wg.Done()
		p.Machine.Run(ctx, p.Tick, func(phase.State) { p.render(onView) })
	}()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 250 * time.Millisecond
	expo.MaxInterval = 10 * time.Second
	expo.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error {
		return p.connect(ctx, expo, onView)
	}, backoff.WithContext(expo, ctx), func(err error, wait time.Duration) {
		log.Printf("Connection to room %s lost: %v (retrying in %v)", p.RoomCode, err, wait)
	})

	p.render(onView)
	switch {
	case errors.Is(err, errEnded):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return err
}

func (p *Participant) socketURL() string {
	u := p.BaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	q := url.Values{}
	q.Set("participant_id", strconv.FormatUint(uint64(p.ID), 10))
	q.Set("token", p.Token)
	return u + "/ws/" + url.PathEscape(p.RoomCode) + "?" + q.Encode()
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// permanent reports errors that no reconnect can fix.
func permanent(err error) bool {
	return errors.Is(err, models.ErrParticipantRemoved) ||
		errors.Is(err, models.ErrInvalidToken) ||
		errors.Is(err, models.ErrParticipantNotFound) ||
		errors.Is(err, models.ErrSessionNotFound)
}

// connect holds one realtime connection until it fails.
func (p *Participant) connect(ctx context.Context, expo *backoff.ExponentialBackOff, onView func(View)) error {
	conn, resp, err := p.Dialer.DialContext(ctx, p.socketURL(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			err = decodeError(resp)
			if permanent(err) {
				if errors.Is(err, models.ErrParticipantRemoved) {
					p.markRemoved()
				}
				return backoff.Permanent(err)
			}
		}
		return err
	}
	defer conn.Close()
	defer p.setConnected(false)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			p.mu.Lock()
			removed := p.removed
			p.mu.Unlock()
			if removed {
				return backoff.Permanent(models.ErrParticipantRemoved)
			}
			return err
		}

		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Ignoring malformed message: %v", err)
			continue
		}

		switch msg.Type {
		case hub.MessageConnected:
			expo.Reset()
			p.setConnected(true)
			if err := p.refresh(ctx); err != nil {
				return err
			}
		case feed.EventSession:
			var s models.Session
			if err := json.Unmarshal(msg.Data, &s); err != nil {
				log.Printf("Ignoring malformed session: %v", err)
				continue
			}
			if !p.Machine.Apply(s) {
				continue
			}
			// A superseded session has no state left to read.
			if s.IsLive {
				if err := p.refresh(ctx); err != nil {
					return err
				}
			}
		case hub.MessageRemoved:
			p.markRemoved()
			return backoff.Permanent(models.ErrParticipantRemoved)
		default:
			continue
		}

		p.render(onView)
		if st := p.Machine.State(p.Machine.Now()); st.Ended {
			return backoff.Permanent(errEnded)
		}
	}
}

// refresh wraps Refresh for the connection loop.
func (p *Participant) refresh(ctx context.Context) error {
	if _, err := p.Refresh(ctx); err != nil {
		if permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}

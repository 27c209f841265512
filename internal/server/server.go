// Package server wires the services, handlers and realtime hub of the live
// quiz API into one HTTP handler.
package server

import (
	"context"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"gorm.io/gorm"

	"live-quiz/internal/auth"
	"live-quiz/internal/clock"
	"live-quiz/internal/config"
	"live-quiz/internal/host"
	"live-quiz/internal/leaderboard"
	"live-quiz/internal/participant"
	"live-quiz/internal/quiz"
	"live-quiz/internal/session"
	"live-quiz/pkg/cache"
	"live-quiz/pkg/feed"
	"live-quiz/pkg/websocket"
)

type Server struct {
	Config       *config.Config
	Clock        clock.Clock
	Sessions     *session.Service
	Quizzes      *quiz.Service
	Participants *participant.Service
	Leaderboard  *leaderboard.Service
	Controller   *host.Controller
	Hub          *websocket.Hub

	router *mux.Router
}

// New builds every service on top of db and rdb. Nothing runs until Start.
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, clk clock.Clock) *Server {
	redisCache := cache.NewRedisCache(rdb, cfg.QuizCacheTTL, cfg.LeaderboardTTL)
	changeFeed := feed.New(rdb)

	// Initialize repositories and services
	authService := auth.NewService(auth.NewRepository(db), cfg.JWTSecret)
	sessions := session.NewService(session.NewRepository(db), changeFeed, clk)
	quizzes := quiz.NewService(quiz.NewRepository(db), redisCache)
	lb := leaderboard.NewService(db, redisCache)
	participants := participant.NewService(participant.NewRepository(db), sessions, quizzes, changeFeed, lb, clk, cfg.PointsPerCorrect)
	controller := host.NewController(sessions, quizzes, participants, lb, clk)

	wsHub := websocket.NewHub(changeFeed, host.NewRoomAuth(sessions, participants, cfg.JWTSecret))

	s := &Server{
		Config:       cfg,
		Clock:        clk,
		Sessions:     sessions,
		Quizzes:      quizzes,
		Participants: participants,
		Leaderboard:  lb,
		Controller:   controller,
		Hub:          wsHub,
		router:       mux.NewRouter(),
	}
	s.routes(auth.NewHandler(authService), quiz.NewHandler(quizzes), participant.NewHandler(participants), host.NewHandler(controller, cfg.PublicURL))
	return s
}

func (s *Server) routes(authHandler *auth.Handler, quizHandler *quiz.Handler, playHandler *participant.Handler, hostHandler *host.Handler) {
	router := s.router

	// Public routes come first so the JWT subrouter never sees them.
	router.HandleFunc("/api/auth/register", authHandler.Register).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/auth/login", authHandler.Login).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/time", clock.NewHandler(s.Clock).ServeTime).Methods("GET")

	router.HandleFunc("/api/play/join", playHandler.Join).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/play/state", playHandler.State).Methods("GET")
	router.HandleFunc("/api/play/answer", playHandler.SubmitAnswer).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/play/{roomCode}/leaderboard", playHandler.GetLeaderboard).Methods("GET")
	router.HandleFunc("/api/play/{roomCode}", playHandler.GetSession).Methods("GET")

	router.HandleFunc("/ws/{roomCode}", s.Hub.HandleWebSocket)

	// Host routes - JWT required
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(auth.JWTMiddleware(s.Config.JWTSecret))

	apiRouter.HandleFunc("/quiz/my-quizzes", quizHandler.GetMyQuizzes).Methods("GET")
	apiRouter.HandleFunc("/quiz", quizHandler.CreateQuiz).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/quiz/{id}", quizHandler.GetQuiz).Methods("GET", "OPTIONS")

	apiRouter.HandleFunc("/sessions", hostHandler.StartSession).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/sessions/{id}", hostHandler.GetSession).Methods("GET")
	apiRouter.HandleFunc("/sessions/{id}/start", hostHandler.StartQuiz).Methods("POST")
	apiRouter.HandleFunc("/sessions/{id}/question", hostHandler.StartQuestion).Methods("POST")
	apiRouter.HandleFunc("/sessions/{id}/question", hostHandler.CurrentQuestion).Methods("GET")
	apiRouter.HandleFunc("/sessions/{id}/lock", hostHandler.LockAnswers).Methods("POST")
	apiRouter.HandleFunc("/sessions/{id}/show-leaderboard", hostHandler.ShowLeaderboard).Methods("POST")
	apiRouter.HandleFunc("/sessions/{id}/next", hostHandler.NextQuestion).Methods("POST")
	apiRouter.HandleFunc("/sessions/{id}/end", hostHandler.EndQuiz).Methods("POST")
	apiRouter.HandleFunc("/sessions/{id}/participants", hostHandler.GetParticipants).Methods("GET")
	apiRouter.HandleFunc("/sessions/{id}/participants/{pid}", hostHandler.RemoveParticipant).Methods("DELETE")
	apiRouter.HandleFunc("/sessions/{id}/leaderboard", hostHandler.GetLeaderboard).Methods("GET")
	apiRouter.HandleFunc("/sessions/{id}/qr", hostHandler.QRCode).Methods("GET")
}

// Handler is the router behind the CORS middleware.
func (s *Server) Handler() http.Handler {
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   s.Config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With", participant.TokenHeader},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return corsMiddleware.Handler(s.router)
}

// Start runs the hub and, when enabled, the auto-advance scheduler until ctx
// ends. Timers of sessions that were live before a restart are re-armed.
func (s *Server) Start(ctx context.Context) error {
	go s.Hub.Run(ctx)

	if !s.Config.AutoAdvance {
		return nil
	}
	scheduler := host.NewScheduler(ctx, s.Controller, host.Delays{
		Reveal:      s.Config.RevealDelay,
		Leaderboard: s.Config.LeaderboardDelay,
		Transition:  s.Config.TransitionDelay,
	})
	go func() {
		<-ctx.Done()
		scheduler.Stop()
	}()
	return s.Controller.Resume(ctx)
}

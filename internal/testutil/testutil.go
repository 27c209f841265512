// Package testutil provides in-process stand-ins for PostgreSQL and Redis so
// repository and service tests run without external services.
package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"live-quiz/internal/models"
	"live-quiz/pkg/database"
)

// NewDB returns a migrated in-memory SQLite database. A single connection
// keeps every statement on the same in-memory schema.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

// NewRedis starts a miniredis server bound to the test and returns a client
// connected to it.
func NewRedis(t testing.TB) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

// SeedQuiz stores a host and a quiz with the given number of single-choice
// questions. Option 1 is correct on every question.
func SeedQuiz(t testing.TB, db *gorm.DB, questions int) (models.User, models.Quiz) {
	t.Helper()

	host := models.User{Username: "host-" + t.Name(), Password: "x"}
	if err := db.Create(&host).Error; err != nil {
		t.Fatalf("failed to create host: %v", err)
	}

	quiz := models.Quiz{Title: "Capitals", CreatorID: host.ID}
	for i := 0; i < questions; i++ {
		quiz.Questions = append(quiz.Questions, models.Question{
			Position:  i,
			Text:      "Question",
			Type:      models.QuestionSingle,
			TimeLimit: 20,
			Options: []models.Option{
				{Position: 0, Text: "A"},
				{Position: 1, Text: "B", IsCorrect: true},
				{Position: 2, Text: "C"},
				{Position: 3, Text: "D"},
			},
		})
	}
	if err := db.Create(&quiz).Error; err != nil {
		t.Fatalf("failed to create quiz: %v", err)
	}
	return host, quiz
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"live-quiz/internal/models"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

type RedisCache struct {
	client         *redis.Client
	quizTTL        time.Duration
	leaderboardTTL time.Duration
}

func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: addr,
	})
}

func NewRedisCache(client *redis.Client, quizTTL, leaderboardTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:         client,
		quizTTL:        quizTTL,
		leaderboardTTL: leaderboardTTL,
	}
}

func quizKey(quizID uint) string {
	return fmt.Sprintf("quiz:%d", quizID)
}

func leaderboardKey(sessionID string) string {
	return "leaderboard:" + sessionID
}

func (c *RedisCache) SetQuiz(ctx context.Context, quiz *models.Quiz) error {
	return c.setJSON(ctx, quizKey(quiz.ID), quiz, c.quizTTL)
}

func (c *RedisCache) GetQuiz(ctx context.Context, quizID uint) (*models.Quiz, error) {
	var quiz models.Quiz
	if err := c.getJSON(ctx, quizKey(quizID), &quiz); err != nil {
		return nil, err
	}
	return &quiz, nil
}

func (c *RedisCache) DeleteQuiz(ctx context.Context, quizID uint) error {
	return c.client.Del(ctx, quizKey(quizID)).Err()
}

func (c *RedisCache) SetLeaderboard(ctx context.Context, sessionID string, entries []models.LeaderboardEntry) error {
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	return c.setJSON(ctx, leaderboardKey(sessionID), entries, c.leaderboardTTL)
}

func (c *RedisCache) GetLeaderboard(ctx context.Context, sessionID string) ([]models.LeaderboardEntry, error) {
	var entries []models.LeaderboardEntry
	if err := c.getJSON(ctx, leaderboardKey(sessionID), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *RedisCache) InvalidateLeaderboard(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, leaderboardKey(sessionID)).Err()
}

func (c *RedisCache) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *RedisCache) getJSON(ctx context.Context, key string, v interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrMiss
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// Package leaderboard ranks the participants of a session. Rankings are
// recomputed from the participant rows and cached until the next score write.
package leaderboard

import (
	"context"
	"errors"
	"log"
	"sort"

	"gorm.io/gorm"

	"live-quiz/internal/models"
	"live-quiz/pkg/cache"
)

type Cache interface {
	SetLeaderboard(ctx context.Context, sessionID string, entries []models.LeaderboardEntry) error
	GetLeaderboard(ctx context.Context, sessionID string) ([]models.LeaderboardEntry, error)
	InvalidateLeaderboard(ctx context.Context, sessionID string) error
}

type Service struct {
	db    *gorm.DB
	cache Cache
}

func NewService(db *gorm.DB, c Cache) *Service {
	return &Service{db: db, cache: c}
}

// Rank orders participants by score, then join time, then id, skipping
// removed ones. Ranks are 1-based positions.
func Rank(participants []models.Participant) []models.LeaderboardEntry {
	ranked := make([]models.Participant, 0, len(participants))
	for _, p := range participants {
		if p.Status != models.ParticipantRemoved {
			ranked = append(ranked, p)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ID < b.ID
	})

	entries := make([]models.LeaderboardEntry, len(ranked))
	for i, p := range ranked {
		entries[i] = models.LeaderboardEntry{
			Rank:          i + 1,
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
		}
	}
	return entries
}

// Compute reads the session's participants and ranks them.
func (s *Service) Compute(ctx context.Context, sessionID string) ([]models.LeaderboardEntry, error) {
	var participants []models.Participant
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND status <> ?", sessionID, models.ParticipantRemoved).
		Order("score DESC, joined_at ASC, id ASC").
		Find(&participants).Error
	if err != nil {
		return nil, err
	}
	return Rank(participants), nil
}

// Get serves the cached ranking, computing and caching it on a miss.
func (s *Service) Get(ctx context.Context, sessionID string) ([]models.LeaderboardEntry, error) {
	entries, err := s.cache.GetLeaderboard(ctx, sessionID)
	if err == nil {
		return entries, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		log.Printf("Leaderboard cache read failed for %s: %v", sessionID, err)
	}
	return s.Refresh(ctx, sessionID)
}

// Refresh recomputes the ranking and replaces the cached copy.
func (s *Service) Refresh(ctx context.Context, sessionID string) ([]models.LeaderboardEntry, error) {
	entries, err := s.Compute(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetLeaderboard(ctx, sessionID, entries); err != nil {
		log.Printf("Leaderboard cache write failed for %s: %v", sessionID, err)
	}
	return entries, nil
}

// Invalidate drops the cached ranking after a score or membership change.
func (s *Service) Invalidate(ctx context.Context, sessionID string) {
	if err := s.cache.InvalidateLeaderboard(ctx, sessionID); err != nil {
		log.Printf("Leaderboard cache invalidation failed for %s: %v", sessionID, err)
	}
}

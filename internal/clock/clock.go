// Package clock provides the reference time shared by every participant in a
// live session. Deadlines are written and checked against it, and clients
// estimate their offset from it.
package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"gorm.io/gorm"

	"live-quiz/internal/models"
)

type Clock interface {
	Now(ctx context.Context) (time.Time, error)
}

// System reads the server's own clock.
type System struct{}

func (System) Now(ctx context.Context) (time.Time, error) {
	return time.Now().UTC(), nil
}

// Database reads the database server's clock, so every API instance agrees
// on one time source.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) Now(ctx context.Context) (time.Time, error) {
	return readNow(d.db.WithContext(ctx))
}

// NowTx reads the same time through an open transaction. A caller holding a
// row lock must use it: reading through the pool would wait for a second
// connection while keeping the first.
func (d *Database) NowTx(ctx context.Context, tx *gorm.DB) (time.Time, error) {
	return readNow(tx.WithContext(ctx))
}

func readNow(db *gorm.DB) (time.Time, error) {
	var ms int64
	if err := db.Raw(nowQuery(db.Dialector.Name())).Scan(&ms).Error; err != nil {
		return time.Time{}, fmt.Errorf("read reference time: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// nowQuery selects the wall clock in Unix milliseconds. Postgres freezes
// now() at the start of a transaction, clock_timestamp() keeps moving.
func nowQuery(dialect string) string {
	if dialect == "sqlite" {
		return "SELECT CAST((julianday('now') - 2440587.5) * 86400000 AS INTEGER)"
	}
	return "SELECT CAST(extract(epoch FROM clock_timestamp()) * 1000 AS bigint)"
}

// TxClock is implemented by clocks that can read through a transaction.
type TxClock interface {
	NowTx(ctx context.Context, tx *gorm.DB) (time.Time, error)
}

// NowIn reads c inside tx when c supports it, and c.Now otherwise.
func NowIn(ctx context.Context, c Clock, tx *gorm.DB) (time.Time, error) {
	if tc, ok := c.(TxClock); ok {
		return tc.NowTx(ctx, tx)
	}
	return c.Now(ctx)
}

// New picks the clock named by kind ("database" or "system").
func New(kind string, db *gorm.DB) Clock {
	if kind == "system" {
		return System{}
	}
	return NewDatabase(db)
}

// Fixed is a settable clock for tests and simulations.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t}
}

func (f *Fixed) Now(ctx context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t, nil
}

func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.t = t
	f.mu.Unlock()
}

func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

type Handler struct {
	clock Clock
}

func NewHandler(c Clock) *Handler {
	return &Handler{clock: c}
}

// ServeTime answers GET /api/time.
func (h *Handler) ServeTime(w http.ResponseWriter, r *http.Request) {
	now, err := h.clock.Now(r.Context())
	if err != nil {
		log.Printf("Error reading reference time: %v", err)
		http.Error(w, "Reference time unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(models.TimeResponse{NowMs: models.UnixMs(now)})
}

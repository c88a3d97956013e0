package storage

import (
	mrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ids hands out monotonic ULIDs so post history sorts by key.
type ids struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newIDs() *ids {
	return &ids{entropy: ulid.Monotonic(mrand.New(mrand.NewSource(time.Now().UnixNano())), 0)}
}

func (g *ids) next(at time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), g.entropy).String()
}

func (g *ids) fill(r *PostRecord) {
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}
	if r.ID == "" {
		r.ID = g.next(r.At)
	}
}

package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

var ErrDisabled = errors.WithHint(errors.New("storage disabled"), "set storage.driver to file, sqlite or bolt")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines post history plus JSON state and dedup snapshots
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "bolt": bbolt database file
//   - "memory": nothing survives the process
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Delivery outcomes recorded in post history.
const (
	StatusSent        = "sent"
	StatusRejected    = "rejected"
	StatusUnavailable = "unavailable"
	StatusDuplicate   = "duplicate"
)

// PostRecord is one delivery attempt.
type PostRecord struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Transport string    `json:"transport"`
	JobID     string    `json:"job_id,omitempty"`
	Text      string    `json:"text"`
	Status    string    `json:"status"`
	Code      int       `json:"code,omitempty"`
	Body      string    `json:"body,omitempty"`
	PostID    string    `json:"post_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type Store interface {
	PutState(ctx context.Context, key string, value []byte) error
	// GetState returns ok=false when key was never written.
	GetState(ctx context.Context, key string) (value []byte, ok bool, err error)

	// AppendPost stores r, filling in ID and At when empty, and returns the stored record.
	AppendPost(ctx context.Context, r PostRecord) (PostRecord, error)
	// ListPosts returns up to limit records, newest first. limit <= 0 means all.
	ListPosts(ctx context.Context, limit int) ([]PostRecord, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

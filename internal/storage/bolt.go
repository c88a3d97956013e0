package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"go.etcd.io/bbolt"

	logx "postpilot/pkg/logx"
)

var (
	bucketState = []byte("state")
	bucketPosts = []byte("posts")
	bucketDedup = []byte("dedup")
)

// boltStore keeps post history keyed by ULID so a reverse cursor walk is
// newest first.
type boltStore struct {
	db  *bbolt.DB
	log logx.Logger
	ids *ids
}

func openBolt(cfg Config, log logx.Logger) (Store, error) {
	path, err := requirePath(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", filepath.Dir(path))
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketState, bucketPosts, bucketDedup} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init buckets")
	}
	return &boltStore{db: db, log: log, ids: newIDs()}, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

func (s *boltStore) update(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(fn)
}

func (s *boltStore) PutState(ctx context.Context, key string, value []byte) error {
	return errors.Wrapf(s.update(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketState).Put([]byte(key), value)
	}), "put state %q", key)
}

func (s *boltStore) GetState(_ context.Context, key string) ([]byte, bool, error) {
	var (
		out []byte
		ok  bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketState).Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
			ok = true
		}
		return nil
	})
	return out, ok, err
}

func (s *boltStore) AppendPost(ctx context.Context, r PostRecord) (PostRecord, error) {
	s.ids.fill(&r)
	b, err := json.Marshal(r)
	if err != nil {
		return r, errors.Wrap(err, "encode post")
	}
	return r, errors.Wrap(s.update(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPosts).Put([]byte(r.ID), b)
	}), "append post")
}

func (s *boltStore) ListPosts(_ context.Context, limit int) ([]PostRecord, error) {
	var out []PostRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketPosts).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var r PostRecord
			if err := json.Unmarshal(v, &r); err != nil {
				s.log.Debug("skip malformed post record", logx.String("id", string(k)), logx.Err(err))
				continue
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func (s *boltStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(until.UnixMilli()))
	return errors.Wrap(s.update(ctx, func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDedup).Put([]byte(key), v[:])
	}), "put dedup")
}

func (s *boltStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var (
		until time.Time
		ok    bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketDedup).Get([]byte(key))
		if len(v) == 8 {
			until = time.UnixMilli(int64(binary.BigEndian.Uint64(v)))
			ok = true
		}
		return nil
	})
	return until, ok, err
}

package storage

import (
	"strings"

	"github.com/cockroachdb/errors"

	logx "postpilot/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	var (
		st  Store
		err error
	)
	switch driver {
	case "memory":
		st = newMemory()
	case "file":
		st, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log)
	case "bolt", "bbolt":
		st, err = openBolt(cfg, log)
	default:
		return nil, errors.Newf("unknown storage driver: %s", driver)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s storage", driver)
	}
	log.Debug("storage opened", logx.String("path", cfg.Path))
	return st, nil
}

func requirePath(cfg Config) (string, error) {
	p := strings.TrimSpace(cfg.Path)
	if p == "" {
		return "", errors.New("storage.path is required")
	}
	return p, nil
}

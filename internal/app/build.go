package app

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"postpilot/internal/auth"
	"postpilot/internal/config"
	"postpilot/internal/script"
	"postpilot/internal/storage"
	"postpilot/internal/transport"
	"postpilot/internal/transport/bluesky"
	"postpilot/internal/transport/telegram"
	"postpilot/internal/transport/twitter"
	logx "postpilot/pkg/logx"
)

var ErrNotLoggedIn = errors.WithHint(
	errors.New("no access token for the X account"),
	"run `postpilot login` or set ACCESS_TOKEN and ACCESS_SECRET",
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	sc := storage.Config{Driver: driver, Path: strings.TrimSpace(cfg.Storage.Path)}
	if driver == "sqlite" {
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		sc.BusyTimeout = busy
	}
	return sc, true, nil
}

func openStorage(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		return nil, err
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s storage", sc.Driver)
	}
	log.Debug("storage enabled", logx.String("driver", sc.Driver))
	return st, nil
}

func newPoster(ctx context.Context, cfg *config.Config, creds auth.Credentials, store storage.Store, log logx.Logger) (transport.Poster, error) {
	timeout, err := config.ParseDurationField("transport.timeout", cfg.Transport.Timeout)
	if err != nil {
		return nil, err
	}
	kind := cfg.Transport.NormalizedKind()
	plog := log.With(logx.String("comp", "transport."+kind))

	switch kind {
	case config.KindTwitter:
		if err := creds.RequireAPIKeys(); err != nil {
			return nil, err
		}
		var kv auth.KV
		if store != nil {
			kv = store
		}
		tok, ok, err := auth.ResolveToken(ctx, creds, kv)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrNotLoggedIn
		}
		return twitter.New(twitter.Config{
			Endpoint:       cfg.Transport.Twitter.Endpoint,
			ConsumerKey:    creds.ConsumerKey,
			ConsumerSecret: creds.ConsumerSecret,
			AccessToken:    tok.Token,
			AccessSecret:   tok.Secret,
			Timeout:        timeout,
		}, plog)
	case config.KindBluesky:
		return bluesky.New(bluesky.Config{
			Host:        cfg.Transport.Bluesky.Host,
			Handle:      cfg.Transport.Bluesky.Handle,
			AppPassword: creds.BlueskyAppPass,
			Timeout:     timeout,
		}, plog)
	case config.KindTelegram:
		return newTelegram(cfg, creds, timeout, plog)
	default:
		return nil, errors.Newf("unknown transport %q", kind)
	}
}

func newTelegram(cfg *config.Config, creds auth.Credentials, timeout time.Duration, log logx.Logger) (*telegram.Poster, error) {
	tc := cfg.Transport.Telegram
	chat := tc.ChatID
	if chat == 0 {
		chat = tc.LogChatID
	}
	return telegram.New(telegram.Config{
		Token:           creds.TelegramToken,
		ChatID:          chat,
		ThreadID:        tc.ThreadID,
		ChannelUsername: tc.ChannelUsername,
		DisablePreview:  tc.DisablePreview,
		LogChatID:       tc.LogChatID,
		Timeout:         timeout,
		APIURL:          tc.APIURL,
	}, log)
}

func newRunner(cfg *config.Config, log logx.Logger) (*script.Runner, error) {
	timeout, err := config.ParseDurationField("scripts.timeout", cfg.Scripts.Timeout)
	if err != nil {
		return nil, err
	}
	return script.NewRunner(script.Config{
		Interpreters: cfg.Scripts.Interpreters,
		OutputDir:    cfg.Scripts.OutputDir,
		WorkDir:      cfg.Scripts.WorkDir,
		Timeout:      timeout,
	}, log)
}

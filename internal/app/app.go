// Package app wires configuration, credentials, storage, the transport and
// the post pipeline together for the CLI, the compose screen and the daemon.
package app

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"postpilot/internal/auth"
	"postpilot/internal/config"
	"postpilot/internal/eventbus"
	"postpilot/internal/pipeline"
	"postpilot/internal/scheduler"
	"postpilot/internal/storage"
	"postpilot/internal/transport"
	"postpilot/internal/transport/telegram"
	logx "postpilot/pkg/logx"
)

// DefaultConfigPath is used when no --config is given. It may be absent.
const DefaultConfigPath = "postpilot.yaml"

type Options struct {
	ConfigPath string
	EnvPath    string
	// Level overrides logging.level when set.
	Level string
	// Quiet drops the console sink (the compose screen owns the terminal).
	Quiet bool
	// Poster replaces the configured transport. Tests use it.
	Poster transport.Poster
}

type App struct {
	cfgm  *config.Manager
	cfg   *config.Config
	creds auth.Credentials
	loc   *time.Location

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	sched *scheduler.Scheduler

	mu       sync.Mutex
	poster   transport.Poster
	logChat  *telegram.Poster
	pipe     *pipeline.Pipeline
	pipeErr  error
	pipeDone bool
}

// New loads configuration and credentials and opens storage. The transport
// and the pipeline are built on first use so that commands such as login
// work before the account is authorized.
func New(opts Options) (*App, error) {
	path := opts.ConfigPath
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	cfgm := config.NewManager(path)
	cfg, err := cfgm.Load()
	defaults := false
	switch {
	case err == nil:
	case !explicit && errors.Is(err, os.ErrNotExist):
		cfg, defaults = &config.Config{}, true
		cfgm.Commit(cfg)
	default:
		return nil, err
	}

	creds, err := auth.LoadCredentials(opts.EnvPath)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}

	logCfg := logConfig(cfg, opts)
	logs, log := logx.New(logCfg, nil)
	log = log.With(logx.String("comp", "app"))
	if defaults {
		log.Debug("no config file; using defaults", logx.String("config", path))
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()
	store, err := openStorage(cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	a := &App{
		cfgm:   cfgm,
		cfg:    cfg,
		creds:  creds,
		loc:    loc,
		log:    log,
		logs:   logs,
		bus:    bus,
		store:  store,
		poster: opts.Poster,
		sched: scheduler.New(
			scheduler.WithLogger(log.With(logx.String("comp", "scheduler"))),
			scheduler.WithBus(bus),
			scheduler.WithTimezone(loc),
		),
	}
	if logCfg.Remote.Enabled {
		a.attachLogSender()
	}
	return a, nil
}

func logConfig(cfg *config.Config, opts Options) logx.Config {
	lc := cfg.Logging.LogConfig()
	if opts.Level != "" {
		lc.Level = opts.Level
	}
	if lc.Level == "" {
		lc.Level = "info"
	}
	// An empty logging section still gets a console.
	if !lc.File.Enabled && !lc.Remote.Enabled {
		lc.Console = true
	}
	if opts.Quiet {
		lc.Console = false
	}
	return lc
}

// attachLogSender builds the Telegram log sink when credentials allow it.
func (a *App) attachLogSender() {
	tc := a.cfg.Transport.Telegram
	if a.creds.TelegramToken == "" || (tc.ChatID == 0 && tc.LogChatID == 0) {
		a.log.Warn("remote logging enabled but TELEGRAM_TOKEN or a chat id is missing")
		return
	}
	p, err := newTelegram(a.cfg, a.creds, 0, a.log)
	if err != nil {
		a.log.Warn("remote logging disabled", logx.Err(err))
		return
	}
	a.logChat = p
	a.logs.SetSender(p)
}

func (a *App) Config() *config.Config          { return a.cfg }
func (a *App) ConfigManager() *config.Manager  { return a.cfgm }
func (a *App) Credentials() auth.Credentials   { return a.creds }
func (a *App) Location() *time.Location        { return a.loc }
func (a *App) Log() logx.Logger                { return a.log }
func (a *App) Bus() eventbus.Bus               { return a.bus }
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Store returns the open store, or nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

// RequireStore returns the store or storage.ErrDisabled.
func (a *App) RequireStore() (storage.Store, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store, nil
}

// Pipeline builds the transport, the script runner and the pipeline once.
func (a *App) Pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pipeDone {
		return a.pipe, a.pipeErr
	}
	a.pipe, a.pipeErr = a.buildPipeline(ctx)
	a.pipeDone = true
	return a.pipe, a.pipeErr
}

func (a *App) buildPipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	poster := a.poster
	if poster == nil {
		p, err := newPoster(ctx, a.cfg, a.creds, a.store, a.log)
		if err != nil {
			return nil, err
		}
		poster = p
	}
	if rpm := a.cfg.Transport.RatePerMin; rpm > 0 {
		poster = transport.Limit(poster, rpm)
	}
	a.poster = poster

	runner, err := newRunner(a.cfg, a.log.With(logx.String("comp", "script")))
	if err != nil {
		return nil, err
	}
	window, err := config.ParseDurationField("post.dedup_window", a.cfg.Post.DedupWindow)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Deps{
		Runner:      runner,
		Poster:      poster,
		Store:       a.store,
		Bus:         a.bus,
		Log:         a.log.With(logx.String("comp", "pipeline"), logx.String("transport", poster.Name())),
		DedupWindow: window,
	})
}

// Close stops the active job and releases storage and log sinks.
func (a *App) Close() error {
	if job := a.sched.Active(); job != nil {
		_ = a.sched.Stop()
	}
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if cerr := a.logs.Close(); err == nil {
		err = cerr
	}
	return err
}

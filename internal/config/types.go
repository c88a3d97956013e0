package config

import "strings"

// Config is the on-disk configuration. Secrets never live here; they come
// from the environment or .env (see internal/auth).
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Transport TransportConfig `json:"transport"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Scripts   ScriptsConfig   `json:"scripts"`
	Post      PostConfig      `json:"post"`

	// Storage is optional; nil disables history, drafts and the dedup guard.
	Storage *StorageConfig `json:"storage,omitempty"`
	// Job is the submission armed by `postpilot run`.
	Job *JobConfig `json:"job,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Remote  LoggingRemote `json:"remote"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingRemote forwards log lines to the Telegram log chat. It needs
// TELEGRAM_TOKEN and transport.telegram.chat_id or log_chat_id.
type LoggingRemote struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// Transport kinds.
const (
	KindTwitter  = "twitter"
	KindBluesky  = "bluesky"
	KindTelegram = "telegram"
)

type TransportConfig struct {
	Kind string `json:"kind"`
	// RatePerMin caps posts per minute. Zero disables the limiter.
	RatePerMin float64 `json:"rate_per_min,omitempty"`
	// Timeout is a Go duration string bounding one post request.
	Timeout string `json:"timeout,omitempty"`

	Twitter  TwitterConfig  `json:"twitter"`
	Bluesky  BlueskyConfig  `json:"bluesky"`
	Telegram TelegramConfig `json:"telegram"`
}

// NormalizedKind returns Kind lowercased, defaulting to twitter.
func (t TransportConfig) NormalizedKind() string {
	k := strings.ToLower(strings.TrimSpace(t.Kind))
	if k == "" {
		return KindTwitter
	}
	return k
}

type TwitterConfig struct {
	Endpoint string `json:"endpoint,omitempty"`
}

type BlueskyConfig struct {
	Host   string `json:"host,omitempty"`
	Handle string `json:"handle"`
}

type TelegramConfig struct {
	ChatID          int64  `json:"chat_id"`
	ThreadID        int    `json:"thread_id,omitempty"`
	ChannelUsername string `json:"channel_username,omitempty"`
	DisablePreview  bool   `json:"disable_preview,omitempty"`
	LogChatID       int64  `json:"log_chat_id,omitempty"`
	APIURL          string `json:"api_url,omitempty"`
}

type SchedulerConfig struct {
	// Tick is the poll period (default 1s).
	Tick     string `json:"tick,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type ScriptsConfig struct {
	// Interpreters are tried in order; each entry is a shell-quoted command
	// such as "python3 -u".
	Interpreters []string `json:"interpreters,omitempty"`
	OutputDir    string   `json:"output_dir,omitempty"`
	WorkDir      string   `json:"work_dir,omitempty"`
	Timeout      string   `json:"timeout,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	storage: { driver: sqlite, path: ./postpilot.db }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type PostConfig struct {
	// DedupWindow rejects identical text posted again within the window.
	DedupWindow string `json:"dedup_window,omitempty"`
}

type JobConfig struct {
	Text      string         `json:"text"`
	Variables []JobVariable  `json:"variables,omitempty"`
	Interval  *IntervalBlock `json:"interval,omitempty"`
	// At is "YYYY-MM-DD HH:MM" in the scheduler timezone.
	At string `json:"at,omitempty"`
}

type JobVariable struct {
	Name   string `json:"name"`
	Script string `json:"script"`
}

// IntervalBlock mirrors the four interval fields. A nil field is unset.
type IntervalBlock struct {
	Seconds *int `json:"seconds,omitempty"`
	Minutes *int `json:"minutes,omitempty"`
	Hours   *int `json:"hours,omitempty"`
	Days    *int `json:"days,omitempty"`
}

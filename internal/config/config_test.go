package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/schedule"
	logx "postpilot/pkg/logx"
)

const yamlConfig = `
logging:
  level: debug
  console: true
transport:
  kind: bluesky
  rate_per_min: 2
  timeout: 20s
  bluesky:
    handle: alice.bsky.social
scheduler:
  timezone: UTC
scripts:
  interpreters: ["python3 -u", python]
storage:
  driver: sqlite
  path: ./postpilot.db
post:
  dedup_window: 1h
job:
  text: "BTC is {btc}"
  variables:
    - name: btc
      script: scripts/btc.py
  interval:
    minutes: 30
`

const tomlConfig = `
[transport]
kind = "telegram"

[transport.telegram]
chat_id = -100123

[job]
text = "hi {x}"
at = "2030-01-02 03:04"

[[job.variables]]
name = "x"
script = "x.py"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeFile(t, "postpilot.yaml", yamlConfig))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	assert.Equal(t, KindBluesky, cfg.Transport.NormalizedKind())
	assert.Equal(t, 2.0, cfg.Transport.RatePerMin)
	assert.Equal(t, []string{"python3 -u", "python"}, cfg.Scripts.Interpreters)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	require.NotNil(t, cfg.Job)
	assert.Equal(t, []JobVariable{{Name: "btc", Script: "scripts/btc.py"}}, cfg.Job.Variables)

	s, err := cfg.Job.Settings(time.UTC, nil)
	require.NoError(t, err)
	m30, ok := s.Minutes()
	assert.True(t, ok)
	assert.Equal(t, 30, m30)
	_, ok = s.Seconds()
	assert.False(t, ok)
}

func TestLoadTOML(t *testing.T) {
	cfg, err := NewManager(writeFile(t, "postpilot.toml", tomlConfig)).Load()
	require.NoError(t, err)
	assert.Equal(t, KindTelegram, cfg.Transport.Kind)
	assert.Equal(t, int64(-100123), cfg.Transport.Telegram.ChatID)
	require.NotNil(t, cfg.Job)
	assert.Equal(t, "x.py", cfg.Job.Variables[0].Script)

	now := func() time.Time { return time.Date(2029, 1, 1, 0, 0, 0, 0, time.UTC) }
	s, err := cfg.Job.Settings(time.UTC, now)
	require.NoError(t, err)
	assert.True(t, s.IsScheduled())
}

func TestLoadJSONDefaults(t *testing.T) {
	cfg, err := NewManager(writeFile(t, "postpilot.json", `{}`)).Load()
	require.NoError(t, err)
	assert.Equal(t, KindTwitter, cfg.Transport.NormalizedKind())
	tick, err := cfg.Scheduler.TickEvery()
	require.NoError(t, err)
	assert.Equal(t, time.Second, tick)
	loc, err := cfg.Scheduler.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
	assert.Nil(t, cfg.Storage)
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	_, err := Decode("c.yaml", []byte("transport:\n  knd: twitter\n"))
	assert.ErrorContains(t, err, "knd")

	_, err = Decode("c.json", []byte(`{} {}`))
	assert.ErrorContains(t, err, "trailing")

	_, err = Decode("c.toml", []byte("[transport\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	neg := -1
	cases := map[string]*Config{
		"kind":         {Transport: TransportConfig{Kind: "mastodon"}},
		"rate":         {Transport: TransportConfig{RatePerMin: -1}},
		"handle":       {Transport: TransportConfig{Kind: "bluesky"}},
		"chat":         {Transport: TransportConfig{Kind: "telegram"}},
		"duration":     {Post: PostConfig{DedupWindow: "soon"}},
		"negative":     {Scripts: ScriptsConfig{Timeout: "-1s"}},
		"timezone":     {Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}},
		"driver":       {Storage: &StorageConfig{Driver: "redis"}},
		"path":         {Storage: &StorageConfig{Driver: "bolt"}},
		"interval":     {Job: &JobConfig{Text: "x", Interval: &IntervalBlock{Seconds: &neg}}},
		"datetime fmt": {Job: &JobConfig{Text: "x", At: "tomorrow"}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			err := Validate(cfg)
			require.Error(t, err)
			if name == "interval" || name == "datetime fmt" {
				assert.True(t, errors.Is(err, schedule.ErrInvalidSetting), "%v", err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalid), "%v", err)
			}
		})
	}

	// A past date passes validation; the arm step rejects it later.
	assert.NoError(t, Validate(&Config{Job: &JobConfig{Text: "x", At: "2001-01-01 00:00"}}))
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("a", " ")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = ParseDurationOrDefault("a", "0s", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = ParseDurationField("post.dedup_window", "5 minutes")
	assert.ErrorContains(t, err, "post.dedup_window")
}

func TestSummarizeChange(t *testing.T) {
	a := &Config{Transport: TransportConfig{Kind: "twitter"}}
	b := &Config{Transport: TransportConfig{Kind: "bluesky"}, Job: &JobConfig{Text: "x"}}
	changed, attrs := SummarizeChange(a, b)
	assert.Equal(t, []string{SectionJob, SectionTransport}, changed)
	assert.NotEmpty(t, attrs)

	changed, _ = SummarizeChange(b, b)
	assert.Empty(t, changed)
}

func TestSubscribeKeepsNewest(t *testing.T) {
	m := NewManager("unused.yaml")
	ch := m.Subscribe(1)
	first, second := &Config{}, &Config{Post: PostConfig{DedupWindow: "1m"}}
	m.publish(first)
	m.publish(second)
	assert.Same(t, second, <-ch)

	m.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestWatchPublishesChanges(t *testing.T) {
	path := writeFile(t, "postpilot.yaml", "post:\n  dedup_window: 1m\n")
	m := NewManager(path)
	m.SetLogger(logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Keep rewriting until the watcher is up and picks the change.
	var got *Config
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()
	for got == nil {
		select {
		case got = <-ch:
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte("post:\n  dedup_window: 2m\n"), 0o600))
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
	assert.Equal(t, "2m", got.Post.DedupWindow)
	assert.Equal(t, "2m", m.Get().Post.DedupWindow)

	cancel()
	assert.NoError(t, <-done)
}

func TestReloadRejectsInvalid(t *testing.T) {
	path := writeFile(t, "postpilot.yaml", "{}\n")
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("transport:\n  kind: fax\n"), 0o600))
	assert.False(t, m.reload(context.Background()))
	assert.Equal(t, "", m.Get().Transport.Kind)

	require.NoError(t, os.WriteFile(path, []byte("transport:\n  kind: twitter\n"), 0o600))
	assert.True(t, m.reload(context.Background()))
	assert.False(t, m.reload(context.Background()), "unchanged content is not republished")
}

package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/auth"
	"postpilot/internal/config"
	"postpilot/internal/pipeline"
	"postpilot/internal/storage"
)

type fakeX struct {
	srv   *httptest.Server
	posts atomic.Int32
}

func newFakeX(t *testing.T) *fakeX {
	f := &fakeX{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := f.posts.Add(1)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"data":{"id":"%d"}}`, n)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func setCreds(t *testing.T) string {
	t.Setenv(auth.EnvAPIKey, "ck")
	t.Setenv(auth.EnvAPISecret, "cs")
	t.Setenv(auth.EnvAccessToken, "at")
	t.Setenv(auth.EnvAccessSecret, "as")
	return filepath.Join(t.TempDir(), "absent.env")
}

func newApp(t *testing.T, body string) *App {
	t.Helper()
	env := setCreds(t)
	path := filepath.Join(t.TempDir(), "postpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	a, err := New(Options{ConfigPath: path, EnvPath: env, Quiet: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func baseConfig(endpoint string) string {
	return fmt.Sprintf(`
transport:
  kind: twitter
  twitter:
    endpoint: %s
scheduler:
  timezone: UTC
storage:
  driver: memory
`, endpoint)
}

func TestSubmitPostsAndRecordsHistory(t *testing.T) {
	x := newFakeX(t)
	a := newApp(t, baseConfig(x.srv.URL))
	ctx := context.Background()

	p, err := a.Pipeline(ctx)
	require.NoError(t, err)
	out, err := p.Submit(ctx, pipeline.Submission{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "https://x.com/i/web/status/1", out.Record.URL)

	st, err := a.RequireStore()
	require.NoError(t, err)
	posts, err := st.ListPosts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, storage.StatusSent, posts[0].Status)

	again, err := a.Pipeline(ctx)
	require.NoError(t, err)
	assert.Same(t, p, again)
}

func TestMissingDefaultConfigUsesDefaults(t *testing.T) {
	t.Setenv(auth.EnvAPIKey, "")
	t.Setenv(auth.EnvAPISecret, "")
	a, err := New(Options{EnvPath: filepath.Join(t.TempDir(), "absent.env"), Quiet: true})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, config.KindTwitter, a.Config().Transport.NormalizedKind())
	_, err = a.RequireStore()
	assert.True(t, errors.Is(err, storage.ErrDisabled))

	_, err = a.Pipeline(context.Background())
	assert.True(t, errors.Is(err, auth.ErrMissingAPIKeys))
}

func TestExplicitConfigMustExist(t *testing.T) {
	_, err := New(Options{ConfigPath: filepath.Join(t.TempDir(), "nope.yaml"), Quiet: true})
	assert.Error(t, err)
}

func TestTwitterNeedsLogin(t *testing.T) {
	x := newFakeX(t)
	a := newApp(t, baseConfig(x.srv.URL))
	a.creds.AccessToken, a.creds.AccessSecret = "", ""

	_, err := a.Pipeline(context.Background())
	assert.True(t, errors.Is(err, ErrNotLoggedIn))
}

func TestStoredTokenIsUsed(t *testing.T) {
	x := newFakeX(t)
	a := newApp(t, baseConfig(x.srv.URL))
	a.creds.AccessToken, a.creds.AccessSecret = "", ""
	ctx := context.Background()
	require.NoError(t, auth.SaveToken(ctx, a.Store(), auth.Token{Token: "t", Secret: "s"}))

	p, err := a.Pipeline(ctx)
	require.NoError(t, err)
	_, err = p.Submit(ctx, pipeline.Submission{Text: "with stored token"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), x.posts.Load())
}

func TestMapStorageConfig(t *testing.T) {
	_, on, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, on)

	sc, on, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: " a.db "}})
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, storage.Config{Driver: "sqlite", Path: "a.db", BusyTimeout: time.Second}, sc)

	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite", BusyTimeout: "x"}})
	assert.Error(t, err)
}

// manualTicker hands the tick function to the test.
type manualTicker struct {
	mu      sync.Mutex
	fn      func(time.Time)
	started chan struct{}
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{started: make(chan struct{}), stopped: make(chan struct{})}
}

func (m *manualTicker) Start(fn func(time.Time)) error {
	m.mu.Lock()
	m.fn = fn
	m.mu.Unlock()
	close(m.started)
	return nil
}

func (m *manualTicker) Stop() { close(m.stopped) }

func (m *manualTicker) tick(now time.Time) {
	m.mu.Lock()
	fn := m.fn
	m.mu.Unlock()
	fn(now)
}

func TestRunPostsImmediateJob(t *testing.T) {
	x := newFakeX(t)
	a := newApp(t, baseConfig(x.srv.URL)+"job:\n  text: right now\n")
	require.NoError(t, a.Run(context.Background(), RunOptions{Ticker: newManualTicker()}))
	assert.Equal(t, int32(1), x.posts.Load())
}

func TestRunWithoutJob(t *testing.T) {
	x := newFakeX(t)
	a := newApp(t, baseConfig(x.srv.URL))
	err := a.Run(context.Background(), RunOptions{Ticker: newManualTicker()})
	assert.True(t, errors.Is(err, ErrNoJob))
}

func TestRunDrivesIntervalJob(t *testing.T) {
	x := newFakeX(t)
	a := newApp(t, baseConfig(x.srv.URL)+"job:\n  text: tick\n  interval:\n    seconds: 0\n")
	tk := newManualTicker()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, RunOptions{Ticker: tk}) }()

	<-tk.started
	base := time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)
	tk.tick(base)
	tk.tick(base.Add(500 * time.Millisecond))
	tk.tick(base.Add(time.Second))
	assert.Equal(t, int32(2), x.posts.Load(), "at most one post per second")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	<-tk.stopped
	assert.Nil(t, a.Scheduler().Active())
}

func TestRunStopsAfterOneShot(t *testing.T) {
	x := newFakeX(t)
	at := time.Now().UTC().Add(2 * time.Minute).Truncate(time.Minute)
	a := newApp(t, baseConfig(x.srv.URL)+fmt.Sprintf("job:\n  text: once\n  at: %q\n", at.Format("2006-01-02 15:04")))
	tk := newManualTicker()

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background(), RunOptions{Ticker: tk}) }()

	<-tk.started
	tk.tick(at.Add(-time.Minute))
	assert.Equal(t, int32(0), x.posts.Load())
	tk.tick(at.Add(10 * time.Second))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the one-shot fired")
	}
	assert.Equal(t, int32(1), x.posts.Load())
}

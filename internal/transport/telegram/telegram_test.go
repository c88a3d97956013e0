package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/transport"
	logx "postpilot/pkg/logx"
)

type fakeAPI struct {
	mu    sync.Mutex
	texts []string
	chats []string
	fail  string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
		http.NotFound(w, r)
		return
	}
	var in map[string]any
	_ = json.NewDecoder(r.Body).Decode(&in)

	f.mu.Lock()
	f.texts = append(f.texts, in["text"].(string))
	f.chats = append(f.chats, in["chat_id"].(string))
	n := len(f.texts)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.fail != "" {
		_, _ = w.Write([]byte(f.fail))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok": true,
		"result": map[string]any{
			"message_id": 100 + n,
			"date":       1700000000,
			"chat":       map[string]any{"id": -1001, "type": "channel"},
			"text":       in["text"],
		},
	})
}

func newPoster(t *testing.T, api http.Handler, cfg Config) *Poster {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	cfg.APIURL = srv.URL
	if cfg.Token == "" {
		cfg.Token = "123:abc"
	}
	if cfg.ChatID == 0 {
		cfg.ChatID = -1001
	}
	p, err := New(cfg, logx.Nop())
	require.NoError(t, err)
	return p
}

func TestPost(t *testing.T) {
	api := &fakeAPI{}
	p := newPoster(t, api, Config{ChannelUsername: "@prices", LogChatID: 42})

	resp, err := p.Post(context.Background(), transport.Content{Text: "Hello World!"})
	require.NoError(t, err)
	assert.True(t, resp.Accepted())
	assert.Equal(t, "101", resp.ID)
	assert.Equal(t, "https://t.me/prices/101", resp.URL)

	require.NoError(t, p.SendLog(context.Background(), "warn: disk"))
	assert.Equal(t, []string{"Hello World!", "warn: disk"}, api.texts)
	assert.Equal(t, []string{"-1001", "42"}, api.chats)
}

func TestPostRefusesOverlongText(t *testing.T) {
	api := &fakeAPI{}
	p := newPoster(t, api, Config{})

	resp, err := p.Post(context.Background(), transport.Content{Text: strings.Repeat("é", postLimit+1)})
	require.NoError(t, err)
	assert.False(t, resp.Accepted())
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Contains(t, resp.Body, "4097")
	assert.Empty(t, api.texts, "nothing is sent")

	resp, err = p.Post(context.Background(), transport.Content{Text: strings.Repeat("é", postLimit)})
	require.NoError(t, err)
	assert.True(t, resp.Accepted())
	assert.Len(t, api.texts, 1)
}

func TestSendLogSplitsLongText(t *testing.T) {
	api := &fakeAPI{}
	p := newPoster(t, api, Config{})
	line := strings.Repeat("x", 1999) + "\n"
	require.NoError(t, p.SendLog(context.Background(), strings.Repeat(line, 3)))
	assert.Len(t, api.texts, 2)
}

func TestPostRejected(t *testing.T) {
	api := &fakeAPI{fail: `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`}
	p := newPoster(t, api, Config{})
	resp, err := p.Post(context.Background(), transport.Content{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Body, "chat not found")
}

func TestPostUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	p, err := New(Config{Token: "1:a", ChatID: 1, APIURL: url}, logx.Nop())
	require.NoError(t, err)

	_, err = p.Post(context.Background(), transport.Content{Text: "x"})
	assert.True(t, errors.Is(err, transport.ErrUnavailable))
}

func TestNewRequiresChat(t *testing.T) {
	_, err := New(Config{Token: "1:a"}, logx.Nop())
	assert.True(t, errors.Is(err, ErrMissingCredentials))
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitText("short", 10))

	got := splitText("aaaa\nbbbb\ncccc", 10)
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, got)

	got = splitText(strings.Repeat("z", 25), 10)
	assert.Equal(t, []string{strings.Repeat("z", 10), strings.Repeat("z", 10), strings.Repeat("z", 5)}, got)
}

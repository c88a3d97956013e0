package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dghubble/oauth1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

func TestLoadCredentials(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvAPISecret, "from-env")
	t.Setenv(EnvAccessToken, "")
	t.Setenv(EnvAccessSecret, "")
	os.Unsetenv(EnvAPIKey)

	p := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(p, []byte("API_KEY=key-from-file\nAPI_SECRET=secret-from-file\n"), 0o600))

	c, err := LoadCredentials(p)
	require.NoError(t, err)
	assert.Equal(t, "key-from-file", c.ConsumerKey)
	assert.Equal(t, "from-env", c.ConsumerSecret, "the environment wins over .env")
	assert.NoError(t, c.RequireAPIKeys())
}

func TestLoadCredentialsMissingFile(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvAPISecret, "")
	c, err := LoadCredentials(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.True(t, errors.Is(c.RequireAPIKeys(), ErrMissingAPIKeys))
}

func TestTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)

	_, ok, err := LoadToken(ctx, st)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SaveToken(ctx, st, Token{Token: "t", Secret: "s"}))
	tok, ok, err := LoadToken(ctx, st)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "t", tok.Token)

	env, ok, err := ResolveToken(ctx, Credentials{AccessToken: "et", AccessSecret: "es"}, st)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "et", env.Token, "environment token wins")
}

func fakeTwitterOAuth(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/request_token", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Authorization"), `oauth_callback="oob"`)
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		_, _ = w.Write([]byte("oauth_token=rt&oauth_token_secret=rs&oauth_callback_confirmed=true"))
	})
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Authorization"), `oauth_verifier="1234567"`) {
			http.Error(w, "Invalid oauth_verifier parameter", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		_, _ = w.Write([]byte("oauth_token=at&oauth_token_secret=as&screen_name=alice"))
	})
	return httptest.NewServer(mux)
}

func newFlow(t *testing.T, srv *httptest.Server) *PINFlow {
	t.Helper()
	f, err := NewPINFlow(Credentials{ConsumerKey: "ck", ConsumerSecret: "cs"}, WithEndpoint(oauth1.Endpoint{
		RequestTokenURL: srv.URL + "/oauth/request_token",
		AuthorizeURL:    srv.URL + "/oauth/authorize",
		AccessTokenURL:  srv.URL + "/oauth/access_token",
	}))
	require.NoError(t, err)
	return f
}

func TestPINFlow(t *testing.T) {
	srv := fakeTwitterOAuth(t)
	defer srv.Close()
	f := newFlow(t, srv)

	_, err := f.Complete("1234567")
	assert.True(t, errors.Is(err, ErrNotBegun))

	u, err := f.Begin()
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/oauth/authorize?oauth_token=rt", u)

	tok, err := f.Complete(" 1234567\n")
	require.NoError(t, err)
	assert.Equal(t, Token{Token: "at", Secret: "as"}, tok)
}

func TestPINFlowRejectsWrongPIN(t *testing.T) {
	srv := fakeTwitterOAuth(t)
	defer srv.Close()
	f := newFlow(t, srv)
	_, err := f.Begin()
	require.NoError(t, err)

	_, err = f.Complete("0000000")
	assert.True(t, errors.Is(err, ErrInvalidPIN))
	_, err = f.Complete("  ")
	assert.True(t, errors.Is(err, ErrInvalidPIN))
}

func TestNewPINFlowRequiresKeys(t *testing.T) {
	_, err := NewPINFlow(Credentials{})
	assert.True(t, errors.Is(err, ErrMissingAPIKeys))
}

// Package auth loads API credentials and runs the OAuth 1.0a PIN flow that
// grants postpilot write access to an X (Twitter) account.
package auth

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

// Environment variable names read from the process and the .env file.
const (
	EnvAPIKey        = "API_KEY"
	EnvAPISecret     = "API_SECRET"
	EnvAccessToken   = "ACCESS_TOKEN"
	EnvAccessSecret  = "ACCESS_SECRET"
	EnvBlueskyPass   = "BLUESKY_APP_PASSWORD"
	EnvTelegramToken = "TELEGRAM_TOKEN"
)

const (
	DefaultEnvFile = ".env"
	// TokenStateKey is the storage key of the token saved by the PIN flow.
	TokenStateKey = "auth.twitter"
)

var ErrMissingAPIKeys = errors.WithHint(
	errors.New("API_KEY and API_SECRET are not set"),
	"put them in .env or export them",
)

// Credentials are the secrets postpilot knows about. Empty fields are unset.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
	BlueskyAppPass string
	TelegramToken  string
}

// LoadCredentials reads envPath (a missing file is fine) into the process
// environment without overriding variables that are already set, then
// collects the known keys.
func LoadCredentials(envPath string) (Credentials, error) {
	if envPath == "" {
		envPath = DefaultEnvFile
	}
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return Credentials{}, errors.Wrapf(err, "load %s", envPath)
	}
	get := func(k string) string { return strings.TrimSpace(os.Getenv(k)) }
	return Credentials{
		ConsumerKey:    get(EnvAPIKey),
		ConsumerSecret: get(EnvAPISecret),
		AccessToken:    get(EnvAccessToken),
		AccessSecret:   get(EnvAccessSecret),
		BlueskyAppPass: get(EnvBlueskyPass),
		TelegramToken:  get(EnvTelegramToken),
	}, nil
}

// RequireAPIKeys fails unless the consumer key pair is present.
func (c Credentials) RequireAPIKeys() error {
	if c.ConsumerKey == "" || c.ConsumerSecret == "" {
		return ErrMissingAPIKeys
	}
	return nil
}

// Token is an access token pair granted to postpilot.
type Token struct {
	Token      string `json:"token"`
	Secret     string `json:"secret"`
	ScreenName string `json:"screen_name,omitempty"`
}

func (t Token) Valid() bool { return t.Token != "" && t.Secret != "" }

type KV interface {
	PutState(ctx context.Context, key string, value []byte) error
	GetState(ctx context.Context, key string) ([]byte, bool, error)
}

func SaveToken(ctx context.Context, kv KV, t Token) error {
	b, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "encode token")
	}
	return kv.PutState(ctx, TokenStateKey, b)
}

// LoadToken returns the stored token; ok is false when none was saved.
func LoadToken(ctx context.Context, kv KV) (t Token, ok bool, err error) {
	raw, ok, err := kv.GetState(ctx, TokenStateKey)
	if err != nil || !ok {
		return Token{}, false, err
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return Token{}, false, errors.Wrap(err, "decode token")
	}
	return t, t.Valid(), nil
}

// ResolveToken prefers ACCESS_TOKEN/ACCESS_SECRET from the environment and
// falls back to the token stored by `postpilot login`.
func ResolveToken(ctx context.Context, c Credentials, kv KV) (Token, bool, error) {
	if c.AccessToken != "" && c.AccessSecret != "" {
		return Token{Token: c.AccessToken, Secret: c.AccessSecret}, true, nil
	}
	if kv == nil {
		return Token{}, false, nil
	}
	return LoadToken(ctx, kv)
}

package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dghubble/oauth1"
)

var TwitterEndpoint = oauth1.Endpoint{
	RequestTokenURL: "https://api.twitter.com/oauth/request_token?x_auth_access_type=write",
	AuthorizeURL:    "https://api.twitter.com/oauth/authorize",
	AccessTokenURL:  "https://api.twitter.com/oauth/access_token",
}

var (
	ErrInvalidPIN = errors.WithHint(errors.New("PIN was not accepted"), "run `postpilot login` again to get a fresh PIN")
	ErrNotBegun   = errors.New("login not started")
)

// PINFlow is the out-of-band OAuth 1.0a login: Begin returns a URL where the
// user authorizes the app and reads a PIN, Complete trades the PIN for an
// access token.
type PINFlow struct {
	cfg *oauth1.Config

	requestToken  string
	requestSecret string
}

type PINOption func(*oauth1.Config)

func WithEndpoint(e oauth1.Endpoint) PINOption { return func(c *oauth1.Config) { c.Endpoint = e } }

func NewPINFlow(c Credentials, opts ...PINOption) (*PINFlow, error) {
	if err := c.RequireAPIKeys(); err != nil {
		return nil, err
	}
	cfg := &oauth1.Config{
		ConsumerKey:    c.ConsumerKey,
		ConsumerSecret: c.ConsumerSecret,
		CallbackURL:    "oob",
		Endpoint:       TwitterEndpoint,
		HTTPClient:     &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(cfg)
	}
	return &PINFlow{cfg: cfg}, nil
}

// Begin fetches a request token and returns the authorization URL.
func (f *PINFlow) Begin() (string, error) {
	tok, secret, err := f.cfg.RequestToken()
	if err != nil {
		return "", errors.WithHint(errors.Wrap(err, "fetch request token"), "check API_KEY and API_SECRET")
	}
	u, err := f.cfg.AuthorizationURL(tok)
	if err != nil {
		return "", errors.Wrap(err, "build authorization url")
	}
	f.requestToken, f.requestSecret = tok, secret
	return u.String(), nil
}

// Complete exchanges pin for an access token.
func (f *PINFlow) Complete(pin string) (Token, error) {
	if f.requestToken == "" {
		return Token{}, ErrNotBegun
	}
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return Token{}, ErrInvalidPIN
	}
	at, as, err := f.cfg.AccessToken(f.requestToken, f.requestSecret, pin)
	if err != nil {
		return Token{}, errors.Mark(errors.Wrap(err, "exchange pin"), ErrInvalidPIN)
	}
	return Token{Token: at, Secret: as}, nil
}

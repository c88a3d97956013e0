// Package twitter posts to the X (Twitter) v2 API with OAuth 1.0a user context.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dghubble/oauth1"

	"postpilot/internal/transport"
	logx "postpilot/pkg/logx"
)

const (
	DefaultEndpoint = "https://api.twitter.com/2/tweets"
	statusURLPrefix = "https://x.com/i/web/status/"
	maxBody         = 1 << 20
)

type Config struct {
	Endpoint       string
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
	Timeout        time.Duration
}

var ErrMissingCredentials = errors.WithHint(
	errors.New("twitter credentials incomplete"),
	"set API_KEY and API_SECRET in .env and run `postpilot login`",
)

type Poster struct {
	endpoint string
	http     *http.Client
	log      logx.Logger
}

func New(cfg Config, log logx.Logger) (*Poster, error) {
	if strings.TrimSpace(cfg.ConsumerKey) == "" || strings.TrimSpace(cfg.ConsumerSecret) == "" ||
		strings.TrimSpace(cfg.AccessToken) == "" || strings.TrimSpace(cfg.AccessSecret) == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	oc := oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret)
	client := oc.Client(context.Background(), oauth1.NewToken(cfg.AccessToken, cfg.AccessSecret))
	client.Timeout = cfg.Timeout
	return &Poster{endpoint: cfg.Endpoint, http: client, log: log}, nil
}

func (p *Poster) Name() string { return "twitter" }

func (p *Poster) Post(ctx context.Context, c transport.Content) (transport.Response, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return transport.Response{}, errors.Wrap(err, "encode post")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return transport.Response{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.http.Do(req)
	if err != nil {
		return transport.Response{}, transport.Unavailable(err, "post to %s", p.endpoint)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return transport.Response{}, transport.Unavailable(err, "read response")
	}

	out := transport.Response{StatusCode: res.StatusCode, Body: string(raw)}
	if out.Accepted() {
		var created struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if json.Unmarshal(raw, &created) == nil && created.Data.ID != "" {
			out.ID = created.Data.ID
			out.URL = statusURLPrefix + created.Data.ID
		}
	}
	p.log.Debug("twitter response", logx.Int("status", res.StatusCode), logx.String("id", out.ID))
	return out, nil
}

// Package bluesky posts to a Bluesky PDS over XRPC.
package bluesky

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	appbsky "github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
	"github.com/cockroachdb/errors"

	"postpilot/internal/transport"
	logx "postpilot/pkg/logx"
)

const (
	DefaultHost    = "https://bsky.social"
	postCollection = "app.bsky.feed.post"
)

type Config struct {
	Host        string
	Handle      string
	AppPassword string
	Timeout     time.Duration
}

var ErrMissingCredentials = errors.WithHint(
	errors.New("bluesky credentials incomplete"),
	"set transport.bluesky.handle and BLUESKY_APP_PASSWORD",
)

type Poster struct {
	cfg Config
	log logx.Logger
	now func() time.Time

	mu     sync.Mutex
	client *xrpc.Client
}

func New(cfg Config, log logx.Logger) (*Poster, error) {
	if strings.TrimSpace(cfg.Handle) == "" || strings.TrimSpace(cfg.AppPassword) == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poster{cfg: cfg, log: log, now: time.Now}, nil
}

func (p *Poster) Name() string { return "bluesky" }

func (p *Poster) Post(ctx context.Context, c transport.Content) (transport.Response, error) {
	client, err := p.session(ctx)
	if err != nil {
		return classify(err, "create session")
	}
	resp, err := p.createRecord(ctx, client, c.Text)
	if isExpired(err) {
		p.log.Info("bluesky session expired, logging in again")
		p.reset()
		if client, err = p.session(ctx); err != nil {
			return classify(err, "create session")
		}
		resp, err = p.createRecord(ctx, client, c.Text)
	}
	if err != nil {
		return classify(err, "create record")
	}
	p.log.Debug("bluesky post created", logx.String("uri", resp.Uri))
	return transport.Response{
		StatusCode: http.StatusCreated,
		Body:       resp.Uri,
		ID:         resp.Cid,
		URL:        webURL(resp.Uri, client.Auth.Handle),
	}, nil
}

func (p *Poster) createRecord(ctx context.Context, client *xrpc.Client, text string) (*comatproto.RepoCreateRecord_Output, error) {
	post := &appbsky.FeedPost{
		Text:      text,
		CreatedAt: p.now().UTC().Format(time.RFC3339),
	}
	return comatproto.RepoCreateRecord(ctx, client, &comatproto.RepoCreateRecord_Input{
		Collection: postCollection,
		Repo:       client.Auth.Did,
		Record:     &util.LexiconTypeDecoder{Val: post},
	})
}

func (p *Poster) session(ctx context.Context) (*xrpc.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client := &xrpc.Client{
		Host:   p.cfg.Host,
		Client: &http.Client{Timeout: p.cfg.Timeout},
	}
	sess, err := comatproto.ServerCreateSession(ctx, client, &comatproto.ServerCreateSession_Input{
		Identifier: p.cfg.Handle,
		Password:   p.cfg.AppPassword,
	})
	if err != nil {
		return nil, err
	}
	client.Auth = &xrpc.AuthInfo{
		AccessJwt:  sess.AccessJwt,
		RefreshJwt: sess.RefreshJwt,
		Handle:     sess.Handle,
		Did:        sess.Did,
	}
	p.client = client
	p.log.Info("bluesky session created", logx.String("handle", sess.Handle))
	return client, nil
}

func (p *Poster) reset() {
	p.mu.Lock()
	p.client = nil
	p.mu.Unlock()
}

// classify turns an XRPC status into a rejection Response and anything else
// into an unavailable error.
func classify(err error, op string) (transport.Response, error) {
	var xe *xrpc.Error
	if errors.As(err, &xe) && xe.StatusCode > 0 {
		return transport.Response{StatusCode: xe.StatusCode, Body: xe.Error()}, nil
	}
	return transport.Response{}, transport.Unavailable(err, "bluesky %s", op)
}

func isExpired(err error) bool {
	var xe *xrpc.Error
	if !errors.As(err, &xe) {
		return false
	}
	return xe.StatusCode == http.StatusUnauthorized || strings.Contains(xe.Error(), "ExpiredToken")
}

// webURL maps at://did/app.bsky.feed.post/rkey to the bsky.app post page.
func webURL(uri, handle string) string {
	parts := strings.Split(strings.TrimPrefix(uri, "at://"), "/")
	if len(parts) != 3 || parts[1] != postCollection {
		return ""
	}
	who := handle
	if who == "" {
		who = parts[0]
	}
	return "https://bsky.app/profile/" + who + "/post/" + parts[2]
}

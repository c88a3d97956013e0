// Package telegram publishes posts to a Telegram channel or group through a
// bot account. It also serves as the remote sink for warning logs.
package telegram

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	tele "gopkg.in/telebot.v4"

	"postpilot/internal/transport"
	logx "postpilot/pkg/logx"
)

type Config struct {
	Token string
	// ChatID is the channel or group receiving posts.
	ChatID   int64
	ThreadID int
	// ChannelUsername, when set, is used to build public post links.
	ChannelUsername string
	DisablePreview  bool
	// LogChatID receives SendLog messages. Zero falls back to ChatID.
	LogChatID int64
	Timeout   time.Duration
	// APIURL overrides https://api.telegram.org.
	APIURL string
}

var ErrMissingCredentials = errors.WithHint(
	errors.New("telegram token or chat id missing"),
	"set TELEGRAM_TOKEN and transport.telegram.chat_id",
)

type Poster struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Poster, error) {
	if strings.TrimSpace(cfg.Token) == "" || cfg.ChatID == 0 {
		return nil, ErrMissingCredentials
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.LogChatID == 0 {
		cfg.LogChatID = cfg.ChatID
	}
	// Offline skips the getMe round trip; the poster never receives updates.
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: cfg.Timeout},
		Offline: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poster{cfg: cfg, bot: b, log: log}, nil
}

func (p *Poster) Name() string { return "telegram" }

// Post sends c as a single message. Text over postLimit is refused with a
// 413 before anything reaches the API, so a post is never half published.
func (p *Poster) Post(ctx context.Context, c transport.Content) (transport.Response, error) {
	if n := utf8.RuneCountInString(c.Text); n > postLimit {
		return transport.Response{
			StatusCode: http.StatusRequestEntityTooLarge,
			Body:       fmt.Sprintf("text is %d characters, a telegram message holds %d", n, postLimit),
		}, nil
	}
	first, err := p.send(ctx, p.cfg.ChatID, p.cfg.ThreadID, c.Text)
	if err != nil {
		return classify(err)
	}
	out := transport.Response{
		StatusCode: http.StatusCreated,
		ID:         strconv.Itoa(first),
		Body:       "message_id=" + strconv.Itoa(first),
	}
	if u := strings.TrimPrefix(p.cfg.ChannelUsername, "@"); u != "" {
		out.URL = "https://t.me/" + u + "/" + out.ID
	}
	return out, nil
}

// SendLog delivers a formatted log line to the log chat, split on line
// boundaries when it is too long for one message.
func (p *Poster) SendLog(ctx context.Context, text string) error {
	_, err := p.send(ctx, p.cfg.LogChatID, 0, text)
	return err
}

func (p *Poster) send(ctx context.Context, chatID int64, threadID int, text string) (int, error) {
	chunks := splitText(text, textLimit)
	chat := &tele.Chat{ID: chatID}
	first := 0
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := p.bot.Send(chat, chunk, &tele.SendOptions{
			DisableWebPagePreview: p.cfg.DisablePreview,
			ThreadID:              threadID,
		})
		if err != nil {
			if i > 0 {
				p.log.Warn("telegram post partially sent", logx.Int("sent_chunks", i), logx.Int("total_chunks", len(chunks)))
			}
			return first, err
		}
		if i == 0 && msg != nil {
			first = msg.ID
		}
	}
	return first, nil
}

var codeSuffix = regexp.MustCompile(`\((\d{3})\)$`)

// classify maps an API refusal to a Response carrying its error code and
// anything that never reached the API to ErrUnavailable.
func classify(err error) (transport.Response, error) {
	var te *tele.Error
	if errors.As(err, &te) {
		return transport.Response{StatusCode: te.Code, Body: te.Description}, nil
	}
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return transport.Response{StatusCode: http.StatusTooManyRequests, Body: fe.Error()}, nil
	}
	var ue *url.Error
	var ne net.Error
	if errors.As(err, &ue) || errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return transport.Response{}, transport.Unavailable(err, "telegram send")
	}
	if m := codeSuffix.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return transport.Response{StatusCode: code, Body: err.Error()}, nil
	}
	return transport.Response{}, transport.Unavailable(err, "telegram send")
}

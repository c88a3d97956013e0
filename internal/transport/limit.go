package transport

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

type limited struct {
	Poster
	lim *rate.Limiter
}

// Limit wraps p so that at most perMinute posts go out per minute, with a
// burst of one. Post waits for a token or for ctx. A non-positive rate
// returns p unchanged.
func Limit(p Poster, perMinute float64) Poster {
	if p == nil || perMinute <= 0 || math.IsInf(perMinute, 1) {
		return p
	}
	return &limited{Poster: p, lim: rate.NewLimiter(rate.Limit(perMinute/60), 1)}
}

func (l *limited) Post(ctx context.Context, c Content) (Response, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return Response{}, errors.Wrapf(err, "%s: rate limit wait", l.Name())
	}
	return l.Poster.Post(ctx, c)
}

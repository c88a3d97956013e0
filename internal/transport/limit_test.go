package transport

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countPoster struct{ n int }

func (p *countPoster) Name() string { return "count" }
func (p *countPoster) Post(context.Context, Content) (Response, error) {
	p.n++
	return Response{StatusCode: StatusAccepted}, nil
}

func TestLimitDisabled(t *testing.T) {
	p := &countPoster{}
	assert.Same(t, Poster(p), Limit(p, 0))
}

func TestLimitWaitsForToken(t *testing.T) {
	p := &countPoster{}
	lp := Limit(p, 1)
	assert.Equal(t, "count", lp.Name())

	resp, err := lp.Post(context.Background(), Content{Text: "a"})
	require.NoError(t, err)
	assert.True(t, resp.Accepted())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = lp.Post(ctx, Content{Text: "b"})
	require.Error(t, err)
	assert.Equal(t, 1, p.n, "second post must not reach the service before its token")
}

func TestUnavailableMarks(t *testing.T) {
	assert.NoError(t, Unavailable(nil, "x"))
	err := Unavailable(assert.AnError, "dial %s", "api")
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Contains(t, err.Error(), "dial api")
}

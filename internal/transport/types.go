// Package transport defines how a resolved post leaves the process.
//
// A Poster returns a Response for every answer the remote service gave,
// accepted or not, and an error only when no answer arrived. Only 201
// Created counts as accepted.
package transport

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
)

// StatusAccepted is the only status a post counts as published with.
const StatusAccepted = http.StatusCreated

// Content is the request payload. It serializes to {"text": "..."}.
type Content struct {
	Text string `json:"text"`
}

type Response struct {
	StatusCode int
	// Body is the raw response body, kept for error reporting.
	Body string
	// ID and URL identify the created post when the service reports them.
	ID  string
	URL string
}

func (r Response) Accepted() bool { return r.StatusCode == StatusAccepted }

type Poster interface {
	// Name is a short label used in logs and post history.
	Name() string
	Post(ctx context.Context, c Content) (Response, error)
}

// ErrUnavailable marks failures where the service could not be reached.
var ErrUnavailable = errors.New("transport unavailable")

// Unavailable wraps err and marks it with ErrUnavailable.
func Unavailable(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrUnavailable)
}

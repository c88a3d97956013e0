package pipeline

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"postpilot/internal/transport"
	logx "postpilot/pkg/logx"
)

var (
	ErrEmptyContent = errors.WithHint(errors.New("post text is empty"), "type some text or check what the scripts produced")

	// ErrTransportUnavailable marks deliveries that never got an answer.
	ErrTransportUnavailable = transport.ErrUnavailable

	ErrDuplicateVariable = errors.WithHint(errors.New("variable declared more than once"), "give every script variable a unique name")
	ErrInvalidVariable   = errors.New("invalid variable")

	// ErrDuplicateContent is returned when the same text was published within the dedup window.
	ErrDuplicateContent = errors.WithHint(errors.New("identical text was posted recently"), "change the text or wait for post.dedup_window to pass")
)

// TemplateUnresolvedError lists the names that failed to match: placeholders
// with no binding, then bindings no placeholder uses.
type TemplateUnresolvedError struct {
	Missing []string
}

func (e *TemplateUnresolvedError) Error() string {
	return "unresolved placeholders: " + strings.Join(e.Missing, ", ")
}

// ScriptBindingError reports the variable whose script failed. The whole
// submission is aborted.
type ScriptBindingError struct {
	Name   string
	Script string
	Err    error
}

func (e *ScriptBindingError) Error() string {
	return fmt.Sprintf("variable %q from %s: %v", e.Name, e.Script, e.Err)
}

func (e *ScriptBindingError) Unwrap() error { return e.Err }

// PostRejectedError is a delivery the service answered with anything but 201.
type PostRejectedError struct {
	Code int
	Body string
}

func (e *PostRejectedError) Error() string {
	body := logx.Truncate(strings.TrimSpace(e.Body), 300)
	if body == "" {
		return fmt.Sprintf("post rejected with status %d", e.Code)
	}
	return fmt.Sprintf("post rejected with status %d: %s", e.Code, body)
}

// Duplicate reports whether the service refused the text as already posted.
func (e *PostRejectedError) Duplicate() bool {
	return strings.Contains(strings.ToLower(e.Body), "duplicate")
}

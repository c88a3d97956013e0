// Package template substitutes script-produced values into {name} placeholders.
//
// Substitution is a single left-to-right pass over the original text: a value
// inserted for one placeholder is never scanned again, so values that look like
// "{other}" cannot trigger further expansion.
package template

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrDuplicateName is returned by Bindings.Set when a name is bound twice.
var ErrDuplicateName = errors.New("duplicate binding name")

// ErrInvalidName is returned by Bindings.Set for names that could never match a placeholder.
var ErrInvalidName = errors.New("invalid binding name")

// Bindings maps placeholder names to values and remembers insertion order.
// The zero value is ready to use.
type Bindings struct {
	names  []string
	values map[string]string
}

func NewBindings() *Bindings {
	return &Bindings{values: map[string]string{}}
}

// Set binds name to value. Names must be non-empty, must not contain braces,
// and must be unique within one Bindings.
func (b *Bindings) Set(name, value string) error {
	if !ValidName(name) {
		return errors.Wrapf(ErrInvalidName, "%q", name)
	}
	if b.values == nil {
		b.values = map[string]string{}
	}
	if _, ok := b.values[name]; ok {
		return errors.Wrapf(ErrDuplicateName, "%q", name)
	}
	b.names = append(b.names, name)
	b.values[name] = value
	return nil
}

func (b *Bindings) Get(name string) (string, bool) {
	if b == nil || b.values == nil {
		return "", false
	}
	v, ok := b.values[name]
	return v, ok
}

// Names returns bound names in insertion order.
func (b *Bindings) Names() []string {
	if b == nil {
		return nil
	}
	return append([]string(nil), b.names...)
}

func (b *Bindings) Len() int {
	if b == nil {
		return 0
	}
	return len(b.names)
}

// ValidName reports whether name can appear inside a {name} placeholder.
func ValidName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "{}")
}

// Result is the outcome of Resolve.
type Result struct {
	// Text is the template with every bound placeholder replaced.
	Text string
	// Missing lists every name that failed to match, each reported once:
	// first the template's placeholders without a binding (order of first
	// appearance), then bound names with no placeholder (insertion order).
	Missing []string
	// Unused is the binding-side part of Missing.
	Unused []string
}

// Substituted reports whether at least one placeholder was replaced.
func (r Result) Substituted(original string) bool { return r.Text != original }

// Resolve replaces every {name} placeholder that has a binding. A binding
// whose placeholder never occurs counts as missing too.
func Resolve(text string, b *Bindings) Result {
	var res Result
	used := map[string]bool{}
	missing := map[string]bool{}

	var out strings.Builder
	out.Grow(len(text))
	scan(text, func(literal string, name string, ok bool) {
		if !ok {
			out.WriteString(literal)
			return
		}
		if v, bound := b.Get(name); bound {
			out.WriteString(v)
			used[name] = true
			return
		}
		out.WriteString(literal)
		if !missing[name] {
			missing[name] = true
			res.Missing = append(res.Missing, name)
		}
	})
	res.Text = out.String()

	for _, name := range b.Names() {
		if !used[name] && !missing[name] {
			missing[name] = true
			res.Unused = append(res.Unused, name)
			res.Missing = append(res.Missing, name)
		}
	}
	return res
}

// Placeholders returns the distinct placeholder names in text, in order of first appearance.
func Placeholders(text string) []string {
	var names []string
	seen := map[string]bool{}
	scan(text, func(_ string, name string, ok bool) {
		if ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	})
	return names
}

// scan splits text into literal runs and placeholders. For a placeholder, emit
// receives its literal form ("{name}"), the name and ok=true.
func scan(text string, emit func(literal, name string, ok bool)) {
	for len(text) > 0 {
		open := strings.IndexByte(text, '{')
		if open < 0 {
			emit(text, "", false)
			return
		}
		if open > 0 {
			emit(text[:open], "", false)
		}
		rest := text[open+1:]
		end := strings.IndexAny(rest, "{}")
		if end <= 0 || rest[end] != '}' {
			// "{" without a well-formed name: keep it and continue after it.
			emit("{", "", false)
			text = rest
			continue
		}
		name := rest[:end]
		emit("{"+name+"}", name, true)
		text = rest[end+1:]
	}
}

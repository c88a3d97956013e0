package template

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bind(t *testing.T, kv ...string) *Bindings {
	t.Helper()
	b := NewBindings()
	for i := 0; i+1 < len(kv); i += 2 {
		require.NoError(t, b.Set(kv[i], kv[i+1]))
	}
	return b
}

func TestResolveSubstitutesBoundNames(t *testing.T) {
	res := Resolve("Hello {name}!", bind(t, "name", "World"))
	assert.Equal(t, "Hello World!", res.Text)
	assert.Empty(t, res.Missing)
	assert.Empty(t, res.Unused)
}

func TestResolveReportsMissingPlaceholder(t *testing.T) {
	res := Resolve("Price: {btc}", NewBindings())
	assert.Equal(t, "Price: {btc}", res.Text)
	assert.Equal(t, []string{"btc"}, res.Missing)
}

func TestResolveReportsMissingOncePerName(t *testing.T) {
	res := Resolve("{a} {b} {a} {c} {b}", bind(t, "c", "3"))
	assert.Equal(t, "{a} {b} {a} 3 {b}", res.Text)
	assert.Equal(t, []string{"a", "b"}, res.Missing)
}

func TestResolveReplacesEveryOccurrence(t *testing.T) {
	res := Resolve("{x}-{x}-{x}", bind(t, "x", "7"))
	assert.Equal(t, "7-7-7", res.Text)
}

func TestResolveDoesNotExpandInsertedValues(t *testing.T) {
	res := Resolve("{a} and {b}", bind(t, "a", "{b}", "b", "{a}"))
	assert.Equal(t, "{b} and {a}", res.Text)
	assert.Empty(t, res.Missing)
}

func TestResolveUnusedBindingsInInsertionOrder(t *testing.T) {
	res := Resolve("only {used}", bind(t, "zeta", "1", "used", "2", "alpha", "3"))
	assert.Equal(t, "only 2", res.Text)
	assert.Equal(t, []string{"zeta", "alpha"}, res.Unused)
	assert.Equal(t, []string{"zeta", "alpha"}, res.Missing)
}

func TestResolveReportsBindingWithoutPlaceholder(t *testing.T) {
	res := Resolve("Price today!", bind(t, "btc", "42000"))
	assert.Equal(t, "Price today!", res.Text)
	assert.Equal(t, []string{"btc"}, res.Missing)
}

func TestResolveMissingTemplateSideFirst(t *testing.T) {
	res := Resolve("{eth} and {sol}", bind(t, "btc", "1", "sol", "2"))
	assert.Equal(t, "{eth} and 2", res.Text)
	assert.Equal(t, []string{"eth", "btc"}, res.Missing)
	assert.Equal(t, []string{"btc"}, res.Unused)
}

func TestResolveEdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		missing []string
	}{
		{name: "empty template", text: "", want: "", missing: []string{"v"}},
		{name: "no placeholders", text: "plain text", want: "plain text", missing: []string{"v"}},
		{name: "empty braces", text: "a {} b", want: "a {} b", missing: []string{"v"}},
		{name: "unterminated", text: "a {v b", want: "a {v b", missing: []string{"v"}},
		{name: "nested open", text: "{{v}}", want: "{1}"},
		{name: "stray close", text: "} {v} }", want: "} 1 }"},
		{name: "unicode name", text: "{café} {v}", want: "{café} 1", missing: []string{"café"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			res := Resolve(tt.text, bind(t, "v", "1"))
			assert.Equal(t, tt.want, res.Text)
			assert.Equal(t, tt.missing, res.Missing)
		})
	}
}

func TestResolveWithoutBindingsKeepsText(t *testing.T) {
	for _, text := range []string{"", "plain text"} {
		res := Resolve(text, NewBindings())
		assert.Equal(t, text, res.Text)
		assert.Empty(t, res.Missing)
	}
}

func TestResolveNilBindings(t *testing.T) {
	res := Resolve("x {y}", nil)
	assert.Equal(t, "x {y}", res.Text)
	assert.Equal(t, []string{"y"}, res.Missing)
	assert.Empty(t, res.Unused)
}

func TestResolveLeavesNoBoundPlaceholders(t *testing.T) {
	templates := []string{
		"{a}{b}{c}",
		"start {a} mid {missing} end {c}",
		"{{a}} {b}} {{c}",
	}
	b := bind(t, "a", "1", "b", "2", "c", "3")
	for _, tmpl := range templates {
		res := Resolve(tmpl, b)
		for _, name := range b.Names() {
			assert.NotContains(t, res.Text, "{"+name+"}", "template %q", tmpl)
		}
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	b := bind(t, "who", "World", "n", "42")
	first := Resolve("Hi {who}, {n} {unknown}", b)
	assert.Equal(t, []string{"unknown"}, first.Missing)

	// Re-resolving finds no placeholder for the bound names any more, so
	// they are reported after the template's own missing names.
	second := Resolve(first.Text, b)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, []string{"unknown", "who", "n"}, second.Missing)
}

func TestBindingsRejectDuplicatesAndInvalidNames(t *testing.T) {
	b := NewBindings()
	require.NoError(t, b.Set("price", "1"))

	err := b.Set("price", "2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateName))
	v, _ := b.Get("price")
	assert.Equal(t, "1", v)

	for _, name := range []string{"", "a}b", "{a"} {
		err := b.Set(name, "x")
		assert.True(t, errors.Is(err, ErrInvalidName), "name %q", name)
	}
	assert.Equal(t, []string{"price"}, b.Names())
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{b} {a} {b} {} {c")
	assert.Equal(t, []string{"b", "a"}, got)
	assert.Empty(t, Placeholders(strings.Repeat("x", 10)))
}

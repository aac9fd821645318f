package rod

import (
	"strings"
	"testing"
)

func TestCommandVerbSplitting(t *testing.T) {
	cases := []struct {
		command  string
		wantVerb string
		wantArg  string
	}{
		{"goto https://example.com", "goto", "https://example.com"},
		{"html", "html", ""},
		{"eval document.title", "eval", "document.title"},
		{"click #submit", "click", "#submit"},
		{"screenshot", "screenshot", ""},
	}
	for _, c := range cases {
		verb, arg, _ := strings.Cut(strings.TrimSpace(c.command), " ")
		if verb != c.wantVerb || arg != c.wantArg {
			t.Fatalf("command %q: got verb=%q arg=%q, want verb=%q arg=%q", c.command, verb, arg, c.wantVerb, c.wantArg)
		}
	}
}

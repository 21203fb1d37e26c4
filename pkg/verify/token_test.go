package verify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestHasToken(t *testing.T) {
	tests := []struct {
		list  string
		token string
		want  bool
	}{
		{"h-full dark", "dark", true},
		{"dark", "dark", true},
		{"  dark\th-full\n", "dark", true},
		{"h-full darker", "dark", false},
		{"dark-blue", "dark", false},
		{"Dark", "dark", false},
		{"", "dark", false},
		{"h-full dark", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HasToken(tt.list, tt.token), "%q contains %q", tt.list, tt.token)
	}
}

var tokenGen = rapid.StringMatching(`[a-z][a-z0-9-]{0,7}`)

func TestHasTokenFindsInsertedToken(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		others := rapid.SliceOfN(tokenGen, 0, 6).Draw(rt, "others")
		token := tokenGen.Draw(rt, "token")
		at := rapid.IntRange(0, len(others)).Draw(rt, "at")

		list := append(append(append([]string{}, others[:at]...), token), others[at:]...)
		if !HasToken(strings.Join(list, " "), token) {
			rt.Fatalf("%q not found in %q", token, list)
		}
	})
}

func TestHasTokenNeverMatchesSuperstrings(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		token := tokenGen.Draw(rt, "token")
		prefix := rapid.StringMatching(`[a-z0-9-]{0,4}`).Draw(rt, "prefix")
		suffix := rapid.StringMatching(`[a-z0-9-]{0,4}`).Draw(rt, "suffix")
		if prefix == "" && suffix == "" {
			suffix = "r"
		}
		list := "h-full " + prefix + token + suffix
		if token == "h-full" {
			rt.Skip("token collides with the fixed class")
		}
		if HasToken(list, token) {
			rt.Fatalf("%q matched inside %q", token, list)
		}
	})
}

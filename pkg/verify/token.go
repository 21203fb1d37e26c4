package verify

import "strings"

// HasToken reports whether token is one of the whitespace-separated values in
// list. Substrings never match: "h-full darker" does not contain "dark".
func HasToken(list, token string) bool {
	if token == "" {
		return false
	}
	for _, t := range strings.Fields(list) {
		if t == token {
			return true
		}
	}
	return false
}

// validToken reports whether token is a single non-empty token.
func validToken(token string) bool {
	f := strings.Fields(token)
	return len(f) == 1 && f[0] == token
}

package backend

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

var globCache sync.Map // pattern -> glob.Glob

// Matcher compiles a Redis-style glob (*, ?, [abc], [^a], \x) for in-process
// SCAN emulation. An empty pattern or "*" matches everything.
func Matcher(pattern string) (func(string) bool, error) {
	if pattern == "" || pattern == "*" {
		return func(string) bool { return true }, nil
	}
	if g, ok := globCache.Load(pattern); ok {
		return g.(glob.Glob).Match, nil
	}
	g, err := glob.Compile(translate(pattern))
	if err != nil {
		return nil, err
	}
	globCache.Store(pattern, g)
	return g.Match, nil
}

// translate rewrites Redis glob syntax for gobwas: classes negate with '!'
// instead of '^', and braces are literal in Redis.
func translate(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) + 2)
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern):
			b.WriteByte(c)
			i++
			b.WriteByte(pattern[i])
		case c == '[' && i+1 < len(pattern) && pattern[i+1] == '^':
			b.WriteString("[!")
			i++
		case c == '{' || c == '}':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

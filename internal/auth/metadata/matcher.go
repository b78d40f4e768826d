package metadata

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/amoylab/authcore/internal/auth/storage"
)

// Key identifies one pattern and method pair of the index.
type Key struct {
	Pattern string
	Method  string
}

// Matcher matches request paths against an Ant style pattern: "?" is one
// character, "*" stays within a path segment and "**" spans any number of
// segments, including none.
type Matcher struct {
	Key
	globs []glob.Glob
}

// NewMatcher compiles key.
func NewMatcher(key Key) (*Matcher, error) {
	variants := expand(escape(key.Pattern))
	globs := make([]glob.Glob, 0, len(variants))
	for _, v := range variants {
		g, err := glob.Compile(v, '/')
		if err != nil {
			return nil, err
		}
		globs = append(globs, g)
	}
	return &Matcher{Key: key, globs: globs}, nil
}

// Match reports whether path and method are covered.
func (m *Matcher) Match(path, method string) bool {
	if m.Method != "" && m.Method != storage.MethodAll && !strings.EqualFold(m.Method, method) {
		return false
	}
	for _, g := range m.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func escape(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '[', ']', '{', '}', '\\', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// expand spells out the zero-segment cases of "**" that a glob super
// wildcard alone does not cover: "/a/**/b" also matches "/a/b" and "/a/**"
// also matches "/a".
func expand(pattern string) []string {
	tails := []string{""}
	if len(pattern) > 3 && strings.HasSuffix(pattern, "/**") {
		pattern = pattern[:len(pattern)-3]
		tails = []string{"", "/**"}
	}
	var out []string
	for _, body := range expandInner(pattern) {
		for _, tail := range tails {
			out = append(out, body+tail)
		}
	}
	return out
}

func expandInner(pattern string) []string {
	i := strings.Index(pattern, "/**/")
	if i < 0 {
		return []string{pattern}
	}
	head := pattern[:i]
	var out []string
	for _, rest := range expandInner(pattern[i+4:]) {
		out = append(out, head+"/"+rest, head+"/**/"+rest)
	}
	return out
}

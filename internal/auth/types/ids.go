// Package types holds the typed identifiers shared by the authorization core.
package types

import (
	"sort"
	"strings"
)

// ClientID identifies a registered OAuth2 client.
type ClientID string

// TokenID is the opaque value of an access or refresh token.
type TokenID string

// ScopeCode is the unique code of a scope (authority).
type ScopeCode string

// Username identifies an end user. The zero value means "no user", as in
// client_credentials grants.
type Username string

func (c ClientID) String() string  { return string(c) }
func (t TokenID) String() string   { return string(t) }
func (s ScopeCode) String() string { return string(s) }
func (u Username) String() string  { return string(u) }

// IsZero reports whether no user is attached.
func (u Username) IsZero() bool { return u == "" }

// Scopes is a set of scope codes carried as a slice. Order is not
// significant; Sorted gives the canonical order.
type Scopes []ScopeCode

// ParseScopes splits a space separated scope parameter.
func ParseScopes(s string) Scopes {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Scopes{}
	}
	out := make(Scopes, 0, len(fields))
	for _, f := range fields {
		out = append(out, ScopeCode(f))
	}
	return out.Unique()
}

// ScopesOf converts plain strings.
func ScopesOf(codes ...string) Scopes {
	out := make(Scopes, 0, len(codes))
	for _, c := range codes {
		out = append(out, ScopeCode(c))
	}
	return out
}

// Unique drops duplicates while keeping first occurrence order.
func (s Scopes) Unique() Scopes {
	seen := make(map[ScopeCode]struct{}, len(s))
	out := make(Scopes, 0, len(s))
	for _, c := range s {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Sorted returns a sorted, de-duplicated copy.
func (s Scopes) Sorted() Scopes {
	out := s.Unique()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contains reports whether code is in the set.
func (s Scopes) Contains(code ScopeCode) bool {
	for _, c := range s {
		if c == code {
			return true
		}
	}
	return false
}

// Strings converts back to plain strings.
func (s Scopes) Strings() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = string(c)
	}
	return out
}

// Join renders the space separated wire form.
func (s Scopes) Join() string {
	return strings.Join(s.Strings(), " ")
}

// Without returns s minus the given codes.
func (s Scopes) Without(codes ...ScopeCode) Scopes {
	drop := Scopes(codes)
	out := make(Scopes, 0, len(s))
	for _, c := range s {
		if !drop.Contains(c) {
			out = append(out, c)
		}
	}
	return out
}

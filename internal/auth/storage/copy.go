package storage

import (
	"maps"
	"slices"
	"strings"

	"github.com/amoylab/authcore/internal/auth/types"
)

// Stores hand out and keep private copies so callers never share state
// with the backend.

func copyClient(c *Client) *Client {
	cp := *c
	cp.RedirectURIs = copyStrings(c.RedirectURIs)
	cp.GrantTypes = copyStrings(c.GrantTypes)
	cp.Scopes = copyScopes(c.Scopes)
	return &cp
}

func copyScope(s *Scope) *Scope {
	cp := *s
	return &cp
}

func copyCode(c *AuthorizationCode) *AuthorizationCode {
	cp := *c
	cp.Scopes = copyScopes(c.Scopes)
	return &cp
}

func copyAccessToken(t *AccessToken) *AccessToken {
	cp := *t
	cp.Scopes = copyScopes(t.Scopes)
	if t.AdditionalInfo != nil {
		cp.AdditionalInfo = maps.Clone(t.AdditionalInfo)
	}
	return &cp
}

func copyRefreshToken(t *RefreshToken) *RefreshToken {
	cp := *t
	cp.Scopes = copyScopes(t.Scopes)
	return &cp
}

func copyResource(r *SecuredResource) *SecuredResource {
	cp := *r
	cp.Authorities = copyStrings(r.Authorities)
	cp.events = nil
	return &cp
}

func copyRememberMe(t *RememberMeToken) *RememberMeToken {
	cp := *t
	return &cp
}

func copyApproval(a *UserApproval) *UserApproval {
	cp := *a
	cp.Scopes = copyScopes(a.Scopes)
	return &cp
}

func copyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}

func copyScopes(s types.Scopes) types.Scopes {
	if s == nil {
		return types.Scopes{}
	}
	return slices.Clone(s)
}

func sortScopes(list []*Scope) {
	slices.SortFunc(list, func(a, b *Scope) int { return strings.Compare(string(a.Code), string(b.Code)) })
}

func sortResources(list []*SecuredResource) {
	slices.SortFunc(list, func(a, b *SecuredResource) int { return strings.Compare(a.ID, b.ID) })
}

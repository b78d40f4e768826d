package storage

import (
	"context"
	"time"

	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/uow"
)

// ClientStore persists OAuth2 clients. Collections are always loaded with
// the client.
type ClientStore interface {
	GetClient(ctx context.Context, clientID types.ClientID) (*Client, error)
	CountClients(ctx context.Context, clientID types.ClientID) (int64, error)
	CreateClient(ctx context.Context, client *Client) error
	UpdateClient(ctx context.Context, client *Client) error
	DeleteClient(ctx context.Context, clientID types.ClientID) error
}

// ScopeStore persists the registered scopes.
type ScopeStore interface {
	GetScope(ctx context.Context, code types.ScopeCode) (*Scope, error)
	ListScopes(ctx context.Context) ([]*Scope, error)
	// CountScopes counts how many of the given codes are registered
	CountScopes(ctx context.Context, codes types.Scopes) (int64, error)
	CreateScope(ctx context.Context, scope *Scope) error
	UpdateScope(ctx context.Context, scope *Scope) error
	DeleteScope(ctx context.Context, code types.ScopeCode) error
}

// AuthorizationCodeStore persists one-time authorization codes. Expiry is
// judged by the caller against its own clock.
type AuthorizationCodeStore interface {
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore persists access and refresh tokens.
type TokenStore interface {
	SaveAccessToken(ctx context.Context, token *AccessToken) error
	GetAccessToken(ctx context.Context, value types.TokenID) (*AccessToken, error)
	FindAccessTokenByUniqueKey(ctx context.Context, key string) (*AccessToken, error)
	DeleteAccessToken(ctx context.Context, value types.TokenID) error

	SaveRefreshToken(ctx context.Context, token *RefreshToken) error
	GetRefreshToken(ctx context.Context, value types.TokenID) (*RefreshToken, error)
	// DeleteRefreshToken removes the refresh token and the access token it owns
	DeleteRefreshToken(ctx context.Context, value types.TokenID) error
	// ReplaceAccessToken stores next, links it to the refresh token and only
	// then removes the previously owned access token
	ReplaceAccessToken(ctx context.Context, refresh types.TokenID, next *AccessToken) error
	// SaveGrant removes previous with its refresh token and stores access
	// and refresh in one atomic write. previous and refresh may be nil.
	SaveGrant(ctx context.Context, access *AccessToken, refresh *RefreshToken, previous *AccessToken) error

	DeleteTokensByClientID(ctx context.Context, clientID types.ClientID) error
}

// ResourceStore persists secured resources.
type ResourceStore interface {
	GetResource(ctx context.Context, id string) (*SecuredResource, error)
	ListResources(ctx context.Context) ([]*SecuredResource, error)
	CreateResource(ctx context.Context, resource *SecuredResource) error
	UpdateResource(ctx context.Context, resource *SecuredResource) error
	DeleteResource(ctx context.Context, id string) error
}

// RememberMeStore persists remember-me series.
type RememberMeStore interface {
	CreateRememberMe(ctx context.Context, token *RememberMeToken) error
	GetRememberMe(ctx context.Context, series string) (*RememberMeToken, error)
	UpdateRememberMe(ctx context.Context, series, value string, lastUsed time.Time) error
	DeleteRememberMe(ctx context.Context, series string) error
	DeleteRememberMeByUsername(ctx context.Context, username types.Username) error
}

// ApprovalStore persists the scopes a user approved per client.
type ApprovalStore interface {
	SaveApproval(ctx context.Context, approval *UserApproval) error
	GetApproval(ctx context.Context, username types.Username, clientID types.ClientID) (*UserApproval, error)
	DeleteApproval(ctx context.Context, username types.Username, clientID types.ClientID) error
}

// Store defines the interface for authorization server data storage
type Store interface {
	ClientStore
	ScopeStore
	AuthorizationCodeStore
	TokenStore
	ResourceStore
	RememberMeStore
	ApprovalStore
	uow.Transactor

	Close() error
}

// Client represents an OAuth2 client
type Client struct {
	ID                   types.ClientID `json:"client_id"`
	Secret               string         `json:"client_secret"` // hashed
	Name                 string         `json:"name"`
	Owner                types.Username `json:"owner"`
	RedirectURIs         []string       `json:"redirect_uris"`
	GrantTypes           []string       `json:"grant_types"`
	Scopes               types.Scopes   `json:"scopes"`
	AccessTokenValidity  time.Duration  `json:"access_token_validity"`
	RefreshTokenValidity time.Duration  `json:"refresh_token_validity"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// HasGrantType reports whether the client may use the grant.
func (c *Client) HasGrantType(grantType string) bool {
	return containsString(c.GrantTypes, grantType)
}

// HasRedirectURI reports whether uri is registered for the client.
func (c *Client) HasRedirectURI(uri string) bool {
	return containsString(c.RedirectURIs, uri)
}

// Scope represents a registered scope (authority)
type Scope struct {
	Code        types.ScopeCode `json:"code"`
	Description string          `json:"description"`
	// Initialize marks scopes granted to every new principal
	Initialize bool `json:"initialize"`
}

// AuthorizationCode represents an authorization code
type AuthorizationCode struct {
	Code                string         `json:"code"`
	ClientID            types.ClientID `json:"client_id"`
	Username            types.Username `json:"username,omitempty"`
	RedirectURI         string         `json:"redirect_uri,omitempty"`
	Scopes              types.Scopes   `json:"scopes"`
	CodeChallenge       string         `json:"code_challenge,omitempty"`
	CodeChallengeMethod string         `json:"code_challenge_method,omitempty"`
	ExpiresAt           time.Time      `json:"expires_at"`
	CreatedAt           time.Time      `json:"created_at"`
}

// AccessToken represents an issued access token
type AccessToken struct {
	Value          types.TokenID  `json:"value"`
	TokenType      string         `json:"token_type"`
	ClientID       types.ClientID `json:"client_id"`
	Username       types.Username `json:"username,omitempty"`
	Scopes         types.Scopes   `json:"scopes"`
	UniqueKey      string         `json:"unique_key"`
	RefreshToken   types.TokenID  `json:"refresh_token,omitempty"`
	AdditionalInfo map[string]any `json:"additional_info,omitempty"`
	IssuedAt       time.Time      `json:"issued_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// IsExpired reports whether the token is expired at now.
func (t *AccessToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ExpiresIn is the remaining lifetime at now, never negative.
func (t *AccessToken) ExpiresIn(now time.Time) time.Duration {
	return remaining(t.ExpiresAt, now)
}

// RefreshToken represents an issued refresh token. It owns exactly one
// access token.
type RefreshToken struct {
	Value       types.TokenID  `json:"value"`
	ClientID    types.ClientID `json:"client_id"`
	Username    types.Username `json:"username,omitempty"`
	Scopes      types.Scopes   `json:"scopes"`
	AccessToken types.TokenID  `json:"access_token,omitempty"`
	IssuedAt    time.Time      `json:"issued_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// IsExpired reports whether the token is expired at now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ExpiresIn is the remaining lifetime at now, never negative.
func (t *RefreshToken) ExpiresIn(now time.Time) time.Duration {
	return remaining(t.ExpiresAt, now)
}

// MethodAll matches every HTTP method of a resource pattern.
const MethodAll = "ALL"

// SecuredResource maps a URI pattern and method to the authorities that may
// access it. Mutations are recorded as pending events.
type SecuredResource struct {
	ID          string   `json:"id"`
	Pattern     string   `json:"pattern"`
	Method      string   `json:"method"`
	Authorities []string `json:"authorities"`

	events []uow.Event
}

// AggregateSecuredResource names the aggregate in change events.
const AggregateSecuredResource = "secured_resource"

// RecordChange appends a pending change event.
func (r *SecuredResource) RecordChange(kind string) {
	r.events = append(r.events, uow.Event{Aggregate: AggregateSecuredResource, ID: r.ID, Kind: kind})
}

// PullEvents implements uow.Recorder.
func (r *SecuredResource) PullEvents() []uow.Event {
	out := r.events
	r.events = nil
	return out
}

// RememberMeToken is one remember-me series
type RememberMeToken struct {
	Series       string         `json:"series"`
	Value        string         `json:"value"`
	Username     types.Username `json:"username"`
	RegisteredAt time.Time      `json:"registered_at"`
	LastUsedAt   time.Time      `json:"last_used_at"`
}

// UserApproval holds the scopes a user approved for one client
type UserApproval struct {
	Username  types.Username `json:"username"`
	ClientID  types.ClientID `json:"client_id"`
	Scopes    types.Scopes   `json:"scopes"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func remaining(expiresAt, now time.Time) time.Duration {
	d := expiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Package introspect validates opaque access tokens on behalf of a
// resource server.
package introspect

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/auth/client"
	"github.com/amoylab/authcore/internal/auth/storage"
	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/errorx"
	"github.com/amoylab/authcore/pkg/metrics"
	"github.com/amoylab/authcore/pkg/trace"
)

// TokenLoader loads live access tokens.
type TokenLoader interface {
	Load(ctx context.Context, value types.TokenID) (*storage.AccessToken, error)
}

// ClientAuthenticator authenticates client credentials.
type ClientAuthenticator interface {
	Authenticate(ctx context.Context, creds client.Credentials) (*client.Authentication, error)
}

// Principal is the authenticated view of an introspected token.
type Principal struct {
	// Name is the token's username, empty for client-only grants
	Name        types.Username
	ClientID    types.ClientID
	Claims      map[string]any
	Authorities []string
	ExpiresAt   time.Time
}

// HasAnyAuthority reports whether the principal holds one of required.
func (p *Principal) HasAnyAuthority(required []string) bool {
	for _, r := range required {
		for _, a := range p.Authorities {
			if a == r {
				return true
			}
		}
	}
	return false
}

// Response projects the principal as an RFC 7662 introspection response.
func (p *Principal) Response() map[string]any {
	out := make(map[string]any, len(p.Claims)+4)
	for k, v := range p.Claims {
		out[k] = v
	}
	out["active"] = true
	out["exp"] = p.ExpiresAt.Unix()
	if p.Name != "" {
		out["username"] = string(p.Name)
	}
	return out
}

// Inactive is the response for every failed introspection.
func Inactive() map[string]any {
	return map[string]any{"active": false}
}

// Introspector authenticates itself with its own client credentials and
// only reveals tokens issued to that client.
type Introspector struct {
	logger  *zap.Logger
	tokens  TokenLoader
	auth    ClientAuthenticator
	creds   client.Credentials
	metrics *metrics.Metrics
}

// NewIntrospector creates an introspector acting as the client identified
// by creds
func NewIntrospector(logger *zap.Logger, tokens TokenLoader, auth ClientAuthenticator, creds client.Credentials, m *metrics.Metrics) *Introspector {
	return &Introspector{
		logger:  logger.Named("auth.introspect"),
		tokens:  tokens,
		auth:    auth,
		creds:   creds,
		metrics: m,
	}
}

// As returns an introspector acting as the client identified by creds.
func (i *Introspector) As(creds client.Credentials) *Introspector {
	cp := *i
	cp.creds = creds
	return &cp
}

// Introspect returns the principal of a live token. Unknown, expired and
// unreadable tokens are indistinguishable to the caller.
func (i *Introspector) Introspect(ctx context.Context, value string) (*Principal, error) {
	start := time.Now()
	ctx, span := trace.Start(ctx, "auth.introspect", "introspect")
	defer span.End()
	done := func(outcome string) {
		span.Set(attribute.String("introspection.outcome", outcome))
		i.metrics.IntrospectionDone(outcome, start)
	}

	access, err := i.tokens.Load(ctx, types.TokenID(value))
	if err != nil {
		if !errors.Is(err, errorx.ErrAccessTokenNotFound) && !errors.Is(err, errorx.ErrAccessTokenExpired) {
			i.logger.Error("failed to load token for introspection", zap.Error(err))
			span.Fail(err)
		}
		done("inactive")
		return nil, errorx.ErrTokenNotActive.WithDescription(value + " is not active")
	}

	authn, err := i.auth.Authenticate(ctx, i.creds)
	if err != nil {
		i.logger.Warn("introspecting client failed to authenticate",
			zap.String("client_id", string(i.creds.ClientID)),
			zap.Error(err))
		done("bad_credentials")
		return nil, errorx.ErrIntrospectionBadCredentials
	}

	if authn.Name() != access.ClientID {
		done("client_mismatch")
		return nil, errorx.ErrIntrospectionClientMismatch
	}

	claims := make(map[string]any, len(access.AdditionalInfo)+2)
	for k, v := range access.AdditionalInfo {
		claims[k] = v
	}
	claims["client_id"] = string(access.ClientID)
	claims["scope"] = access.Scopes.Join()

	span.Set(attribute.String("client_id", string(access.ClientID)))
	done("active")
	return &Principal{
		Name:        access.Username,
		ClientID:    access.ClientID,
		Claims:      claims,
		Authorities: access.Scopes.Strings(),
		ExpiresAt:   access.ExpiresAt,
	}, nil
}

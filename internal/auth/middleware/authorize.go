// Package middleware guards gin routes with bearer token introspection and
// the dynamic resource authorization index.
package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/auth/introspect"
	"github.com/amoylab/authcore/internal/common/errorx"
	"github.com/amoylab/authcore/pkg/metrics"
)

const principalKey = "auth.principal"

// Decision labels
const (
	DecisionAllowed         = "allowed"
	DecisionDenied          = "denied"
	DecisionUnauthenticated = "unauthenticated"
	DecisionUnmapped        = "unmapped"
)

// Introspector resolves a bearer token to its principal.
type Introspector interface {
	Introspect(ctx context.Context, value string) (*introspect.Principal, error)
}

// Requirements answers which authorities a request needs.
type Requirements interface {
	RequiredAuthorities(path, method string) []string
}

// Option configures the authorization middleware
type Option func(*authorizer)

// WithDenyUnmapped denies requests no secured resource matches instead of
// letting any authenticated principal through.
func WithDenyUnmapped(deny bool) Option {
	return func(a *authorizer) {
		a.denyUnmapped = deny
	}
}

// WithMetrics records every decision.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *authorizer) {
		a.metrics = m
	}
}

type authorizer struct {
	logger       *zap.Logger
	introspector Introspector
	requirements Requirements
	errors       *errorx.ErrorHandler
	metrics      *metrics.Metrics
	denyUnmapped bool
}

// Authorize creates a middleware that authenticates the bearer token and
// checks the principal against the authorities the route requires.
func Authorize(logger *zap.Logger, introspector Introspector, requirements Requirements, opts ...Option) gin.HandlerFunc {
	a := &authorizer{
		logger:       logger.Named("auth.middleware"),
		introspector: introspector,
		requirements: requirements,
		errors:       errorx.NewErrorHandler(logger),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a.handle
}

func (a *authorizer) handle(c *gin.Context) {
	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		a.unauthenticated(c, errorx.ErrInvalidToken.WithDescription("missing bearer token"))
		return
	}

	principal, err := a.introspector.Introspect(c.Request.Context(), token)
	if err != nil {
		a.unauthenticated(c, err)
		return
	}
	c.Set(principalKey, principal)

	path, method := c.Request.URL.Path, c.Request.Method
	required := a.requirements.RequiredAuthorities(path, method)
	if len(required) == 0 {
		if a.denyUnmapped {
			a.metrics.Decision(DecisionUnmapped)
			a.errors.HandleError(c, errorx.ErrAccessDenied.WithDescription("resource is not mapped"))
			return
		}
		a.metrics.Decision(DecisionAllowed)
		c.Next()
		return
	}

	if !principal.HasAnyAuthority(required) {
		a.logger.Debug("access denied",
			zap.String("path", path),
			zap.String("method", method),
			zap.String("client_id", principal.ClientID.String()),
			zap.Strings("required", required))
		a.metrics.Decision(DecisionDenied)
		a.errors.HandleError(c, errorx.ErrAccessDenied.WithDescription("insufficient authority"))
		return
	}

	a.metrics.Decision(DecisionAllowed)
	c.Next()
}

func (a *authorizer) unauthenticated(c *gin.Context, err error) {
	a.metrics.Decision(DecisionUnauthenticated)
	c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
	a.errors.HandleError(c, err)
}

// PrincipalFrom returns the principal stored by Authorize.
func PrincipalFrom(c *gin.Context) (*introspect.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*introspect.Principal)
	return p, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

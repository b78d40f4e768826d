// Package token mints, refreshes, revokes and loads opaque access and
// refresh tokens.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/auth/keygen"
	"github.com/amoylab/authcore/internal/auth/scope"
	"github.com/amoylab/authcore/internal/auth/storage"
	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/config"
	"github.com/amoylab/authcore/internal/common/errorx"
	"github.com/amoylab/authcore/pkg/metrics"
)

// TypeBearer is the token_type of every issued token.
const TypeBearer = "bearer"

// Service owns the token lifecycle
type Service struct {
	logger   *zap.Logger
	store    storage.TokenStore
	clock    clockwork.Clock
	cfg      config.TokenConfig
	gen      keygen.Generator
	enhancer Enhancer
	metrics  *metrics.Metrics
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithEnhancer sets the enhancer run on every minted access token.
func WithEnhancer(e Enhancer) ServiceOption {
	return func(s *Service) {
		s.enhancer = e
	}
}

// WithGenerator replaces the token value generator.
func WithGenerator(g keygen.Generator) ServiceOption {
	return func(s *Service) {
		s.gen = g
	}
}

// WithMetrics records issued tokens.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a token service
func NewService(logger *zap.Logger, store storage.TokenStore, clock clockwork.Clock, cfg config.TokenConfig, options ...ServiceOption) *Service {
	s := &Service{
		logger:   logger.Named("auth.token"),
		store:    store,
		clock:    clock,
		cfg:      cfg,
		gen:      keygen.NewTokenGenerator(),
		enhancer: Chain(nil),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *Service) accessValidity(client *storage.Client) time.Duration {
	switch {
	case client.AccessTokenValidity > 0:
		return client.AccessTokenValidity
	case s.cfg.AccessTokenValidity > 0:
		return s.cfg.AccessTokenValidity
	default:
		return config.DefaultAccessTokenValidity
	}
}

func (s *Service) refreshValidity(client *storage.Client) time.Duration {
	switch {
	case client.RefreshTokenValidity > 0:
		return client.RefreshTokenValidity
	case s.cfg.RefreshTokenValidity > 0:
		return s.cfg.RefreshTokenValidity
	default:
		return config.DefaultRefreshTokenValidity
	}
}

// Issue mints a token for client. A token already stored for the same
// username, client and scopes is replaced together with its refresh token,
// and stays in place when minting fails.
// Requesting a scope the client is not registered for is invalid_scope.
func (s *Service) Issue(ctx context.Context, client *storage.Client, req *types.TokenRequest) (*storage.AccessToken, error) {
	if err := scope.CheckClientScopes(client, req.Scopes); err != nil {
		return nil, err
	}
	scopes := req.Scopes.Unique()
	if len(scopes) == 0 {
		scopes = client.Scopes.Unique()
	}
	key := UniqueKey(req.Username, client.ID, scopes)

	now := s.clock.Now()
	var refresh *storage.RefreshToken
	if client.HasGrantType(types.GrantRefreshToken) {
		value, err := s.gen.Generate()
		if err != nil {
			return nil, err
		}
		refresh = &storage.RefreshToken{
			Value:     types.TokenID(value),
			ClientID:  client.ID,
			Username:  req.Username,
			Scopes:    scopes,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.refreshValidity(client)),
		}
	}

	access, err := s.mint(ctx, client, req.Username, scopes, key, now)
	if err != nil {
		return nil, err
	}
	if refresh != nil {
		access.RefreshToken = refresh.Value
		refresh.AccessToken = access.Value
	}

	previous, err := s.store.FindAccessTokenByUniqueKey(ctx, key)
	if errors.Is(err, errorx.ErrAccessTokenNotFound) {
		previous, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveGrant(ctx, access, refresh, previous); err != nil {
		return nil, err
	}

	replaced := previous != nil
	s.metrics.TokenIssued(req.GrantType, replaced)
	s.logger.Debug("issued access token",
		zap.String("client_id", string(client.ID)),
		zap.String("grant_type", req.GrantType),
		zap.Bool("refreshable", refresh != nil),
		zap.Bool("replaced", replaced))
	return access, nil
}

func (s *Service) mint(ctx context.Context, client *storage.Client, username types.Username, scopes types.Scopes, key string, now time.Time) (*storage.AccessToken, error) {
	value, err := s.gen.Generate()
	if err != nil {
		return nil, err
	}
	access := &storage.AccessToken{
		Value:     types.TokenID(value),
		TokenType: TypeBearer,
		ClientID:  client.ID,
		Username:  username,
		Scopes:    scopes,
		UniqueKey: key,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.accessValidity(client)),
	}
	if err := s.enhancer.Enhance(ctx, access, client); err != nil {
		return nil, err
	}
	return access, nil
}

// Refresh mints a new access token owned by the given refresh token and
// atomically swaps it for the previous one.
func (s *Service) Refresh(ctx context.Context, client *storage.Client, value types.TokenID) (*storage.AccessToken, error) {
	refresh, err := s.store.GetRefreshToken(ctx, value)
	if err != nil {
		return nil, err
	}
	if refresh.ClientID != client.ID {
		return nil, errorx.ErrInvalidClient.WithDescription("client is different")
	}

	now := s.clock.Now()
	if refresh.IsExpired(now) {
		if err := s.store.DeleteRefreshToken(ctx, value); err != nil && !errors.Is(err, errorx.ErrRefreshTokenNotFound) {
			s.logger.Warn("failed to remove expired refresh token", zap.Error(err))
		}
		return nil, errorx.ErrRefreshTokenExpired
	}

	key := UniqueKey(refresh.Username, refresh.ClientID, refresh.Scopes)
	access, err := s.mint(ctx, client, refresh.Username, refresh.Scopes, key, now)
	if err != nil {
		return nil, err
	}
	access.RefreshToken = refresh.Value

	if err := s.store.ReplaceAccessToken(ctx, refresh.Value, access); err != nil {
		return nil, err
	}

	s.metrics.TokenIssued(types.GrantRefreshToken, refresh.AccessToken != "")
	return access, nil
}

// Revoke removes an access token, or a refresh token with the access
// token it owns.
func (s *Service) Revoke(ctx context.Context, value types.TokenID) error {
	err := s.store.DeleteAccessToken(ctx, value)
	if !errors.Is(err, errorx.ErrAccessTokenNotFound) {
		return err
	}
	err = s.store.DeleteRefreshToken(ctx, value)
	if errors.Is(err, errorx.ErrRefreshTokenNotFound) {
		return errorx.ErrAccessTokenNotFound
	}
	return err
}

// Load returns a live access token. Unknown tokens fail with
// ErrAccessTokenNotFound, expired ones with ErrAccessTokenExpired.
func (s *Service) Load(ctx context.Context, value types.TokenID) (*storage.AccessToken, error) {
	access, err := s.store.GetAccessToken(ctx, value)
	if err != nil {
		return nil, err
	}
	if access.IsExpired(s.clock.Now()) {
		return nil, errorx.ErrAccessTokenExpired
	}
	return access, nil
}

// Now is the service clock reading, for projections.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

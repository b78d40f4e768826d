package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/config"
)

// NewStore creates a new auth store based on configuration
func NewStore(logger *zap.Logger, cfg *config.StorageConfig, clock clockwork.Clock) (Store, error) {
	logger.Info("Initializing auth storage",
		zap.String("type", cfg.Type),
		zap.String("tokens", cfg.Tokens.Type))

	var primary Store
	switch cfg.Type {
	case "", "memory":
		primary = NewMemoryStorage()
	case "db":
		db, err := NewDBStore(logger, &cfg.Database)
		if err != nil {
			return nil, err
		}
		primary = db
	default:
		return nil, fmt.Errorf("unsupported auth storage type: %s", cfg.Type)
	}

	switch cfg.Tokens.Type {
	case "", cfg.Type:
		return primary, nil
	case "redis":
		tokens, err := NewRedisStorage(&cfg.Tokens.Redis, clock)
		if err != nil {
			_ = primary.Close()
			return nil, err
		}
		return &splitStore{Store: primary, tokens: tokens}, nil
	default:
		_ = primary.Close()
		return nil, fmt.Errorf("unsupported auth token storage type: %s", cfg.Tokens.Type)
	}
}

// splitStore serves codes, tokens and remember-me series from Redis and
// everything else from the primary store. Redis writes do not join the
// primary store's transactions.
type splitStore struct {
	Store
	tokens *RedisStorage
}

func (s *splitStore) SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	return s.tokens.SaveAuthorizationCode(ctx, code)
}

func (s *splitStore) GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	return s.tokens.GetAuthorizationCode(ctx, code)
}

func (s *splitStore) DeleteAuthorizationCode(ctx context.Context, code string) error {
	return s.tokens.DeleteAuthorizationCode(ctx, code)
}

func (s *splitStore) SaveAccessToken(ctx context.Context, token *AccessToken) error {
	return s.tokens.SaveAccessToken(ctx, token)
}

func (s *splitStore) GetAccessToken(ctx context.Context, value types.TokenID) (*AccessToken, error) {
	return s.tokens.GetAccessToken(ctx, value)
}

func (s *splitStore) FindAccessTokenByUniqueKey(ctx context.Context, key string) (*AccessToken, error) {
	return s.tokens.FindAccessTokenByUniqueKey(ctx, key)
}

func (s *splitStore) DeleteAccessToken(ctx context.Context, value types.TokenID) error {
	return s.tokens.DeleteAccessToken(ctx, value)
}

func (s *splitStore) SaveRefreshToken(ctx context.Context, token *RefreshToken) error {
	return s.tokens.SaveRefreshToken(ctx, token)
}

func (s *splitStore) GetRefreshToken(ctx context.Context, value types.TokenID) (*RefreshToken, error) {
	return s.tokens.GetRefreshToken(ctx, value)
}

func (s *splitStore) DeleteRefreshToken(ctx context.Context, value types.TokenID) error {
	return s.tokens.DeleteRefreshToken(ctx, value)
}

func (s *splitStore) ReplaceAccessToken(ctx context.Context, refresh types.TokenID, next *AccessToken) error {
	return s.tokens.ReplaceAccessToken(ctx, refresh, next)
}

func (s *splitStore) SaveGrant(ctx context.Context, access *AccessToken, refresh *RefreshToken, previous *AccessToken) error {
	return s.tokens.SaveGrant(ctx, access, refresh, previous)
}

func (s *splitStore) DeleteTokensByClientID(ctx context.Context, clientID types.ClientID) error {
	return s.tokens.DeleteTokensByClientID(ctx, clientID)
}

func (s *splitStore) CreateRememberMe(ctx context.Context, token *RememberMeToken) error {
	return s.tokens.CreateRememberMe(ctx, token)
}

func (s *splitStore) GetRememberMe(ctx context.Context, series string) (*RememberMeToken, error) {
	return s.tokens.GetRememberMe(ctx, series)
}

func (s *splitStore) UpdateRememberMe(ctx context.Context, series, value string, lastUsed time.Time) error {
	return s.tokens.UpdateRememberMe(ctx, series, value, lastUsed)
}

func (s *splitStore) DeleteRememberMe(ctx context.Context, series string) error {
	return s.tokens.DeleteRememberMe(ctx, series)
}

func (s *splitStore) DeleteRememberMeByUsername(ctx context.Context, username types.Username) error {
	return s.tokens.DeleteRememberMeByUsername(ctx, username)
}

func (s *splitStore) Close() error {
	return errors.Join(s.tokens.Close(), s.Store.Close())
}

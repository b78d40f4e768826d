package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/config"
	"github.com/amoylab/authcore/internal/common/errorx"
)

// RedisStorage keeps authorization codes, tokens and remember-me series in
// Redis. Keys outlive the entity expiry by the configured retention so a
// lookup can still tell an expired entity from an unknown one.
type RedisStorage struct {
	client    *redis.Client
	clock     clockwork.Clock
	retention time.Duration
}

// NewRedisStorage creates a new Redis storage instance
func NewRedisStorage(cfg *config.RedisConfig, clock clockwork.Clock) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStorage{
		client:    client,
		clock:     clock,
		retention: cfg.Retention,
	}, nil
}

// key prefixes for different types of data
const (
	authorizationCodePrefix = "oauth:code:"
	accessTokenPrefix       = "oauth:access:"
	uniqueKeyPrefix         = "oauth:access_key:"
	refreshTokenPrefix      = "oauth:refresh:"
	rememberMePrefix        = "oauth:remember:"
	rememberMeUserPrefix    = "oauth:remember_user:"
)

func (s *RedisStorage) ttl(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(s.clock.Now()) + s.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (s *RedisStorage) getJSON(ctx context.Context, key string, v any, notFound error) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return notFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// SaveAuthorizationCode saves an authorization code
func (s *RedisStorage) SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	data, err := json.Marshal(code)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, authorizationCodePrefix+code.Code, data, s.ttl(code.ExpiresAt)).Err()
}

// GetAuthorizationCode retrieves an authorization code
func (s *RedisStorage) GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	var authCode AuthorizationCode
	if err := s.getJSON(ctx, authorizationCodePrefix+code, &authCode, errorx.ErrAuthorizationCodeNotFound); err != nil {
		return nil, err
	}
	return &authCode, nil
}

// DeleteAuthorizationCode deletes an authorization code
func (s *RedisStorage) DeleteAuthorizationCode(ctx context.Context, code string) error {
	n, err := s.client.Del(ctx, authorizationCodePrefix+code).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return errorx.ErrAuthorizationCodeNotFound
	}
	return nil
}

// SaveAccessToken saves an access token and its unique key index
func (s *RedisStorage) SaveAccessToken(ctx context.Context, token *AccessToken) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	ttl := s.ttl(token.ExpiresAt)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, accessTokenPrefix+string(token.Value), data, ttl)
		if token.UniqueKey != "" {
			pipe.Set(ctx, uniqueKeyPrefix+token.UniqueKey, string(token.Value), ttl)
		}
		return nil
	})
	return err
}

// GetAccessToken retrieves an access token
func (s *RedisStorage) GetAccessToken(ctx context.Context, value types.TokenID) (*AccessToken, error) {
	var token AccessToken
	if err := s.getJSON(ctx, accessTokenPrefix+string(value), &token, errorx.ErrAccessTokenNotFound); err != nil {
		return nil, err
	}
	return &token, nil
}

// FindAccessTokenByUniqueKey follows the unique key index
func (s *RedisStorage) FindAccessTokenByUniqueKey(ctx context.Context, key string) (*AccessToken, error) {
	value, err := s.client.Get(ctx, uniqueKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errorx.ErrAccessTokenNotFound
		}
		return nil, err
	}
	return s.GetAccessToken(ctx, types.TokenID(value))
}

// DeleteAccessToken deletes an access token and unlinks it from its
// refresh token
func (s *RedisStorage) DeleteAccessToken(ctx context.Context, value types.TokenID) error {
	token, err := s.GetAccessToken(ctx, value)
	if err != nil {
		return err
	}

	var refresh *RefreshToken
	if token.RefreshToken != "" {
		refresh, err = s.GetRefreshToken(ctx, token.RefreshToken)
		if err != nil && !errors.Is(err, errorx.ErrRefreshTokenNotFound) {
			return err
		}
	}

	keyOwner, err := s.client.Get(ctx, uniqueKeyPrefix+token.UniqueKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, accessTokenPrefix+string(value))
		if keyOwner == string(value) {
			pipe.Del(ctx, uniqueKeyPrefix+token.UniqueKey)
		}
		if refresh != nil && refresh.AccessToken == value {
			refresh.AccessToken = ""
			return s.queueRefresh(ctx, pipe, refresh)
		}
		return nil
	})
	return err
}

func (s *RedisStorage) queueRefresh(ctx context.Context, pipe redis.Pipeliner, token *RefreshToken) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	pipe.Set(ctx, refreshTokenPrefix+string(token.Value), data, s.ttl(token.ExpiresAt))
	return nil
}

// SaveRefreshToken saves a refresh token
func (s *RedisStorage) SaveRefreshToken(ctx context.Context, token *RefreshToken) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, refreshTokenPrefix+string(token.Value), data, s.ttl(token.ExpiresAt)).Err()
}

// GetRefreshToken retrieves a refresh token
func (s *RedisStorage) GetRefreshToken(ctx context.Context, value types.TokenID) (*RefreshToken, error) {
	var token RefreshToken
	if err := s.getJSON(ctx, refreshTokenPrefix+string(value), &token, errorx.ErrRefreshTokenNotFound); err != nil {
		return nil, err
	}
	return &token, nil
}

// DeleteRefreshToken deletes a refresh token together with the access
// token it owns
func (s *RedisStorage) DeleteRefreshToken(ctx context.Context, value types.TokenID) error {
	token, err := s.GetRefreshToken(ctx, value)
	if err != nil {
		return err
	}
	if token.AccessToken != "" {
		if err := s.DeleteAccessToken(ctx, token.AccessToken); err != nil && !errors.Is(err, errorx.ErrAccessTokenNotFound) {
			return err
		}
	}
	return s.client.Del(ctx, refreshTokenPrefix+string(value)).Err()
}

// ReplaceAccessToken swaps the access token owned by a refresh token in a
// single MULTI/EXEC block
func (s *RedisStorage) ReplaceAccessToken(ctx context.Context, refresh types.TokenID, next *AccessToken) error {
	owner, err := s.GetRefreshToken(ctx, refresh)
	if err != nil {
		return err
	}

	var previous *AccessToken
	if owner.AccessToken != "" && owner.AccessToken != next.Value {
		previous, err = s.GetAccessToken(ctx, owner.AccessToken)
		if err != nil && !errors.Is(err, errorx.ErrAccessTokenNotFound) {
			return err
		}
	}

	data, err := json.Marshal(next)
	if err != nil {
		return err
	}
	owner.AccessToken = next.Value

	ttl := s.ttl(next.ExpiresAt)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, accessTokenPrefix+string(next.Value), data, ttl)
		if next.UniqueKey != "" {
			pipe.Set(ctx, uniqueKeyPrefix+next.UniqueKey, string(next.Value), ttl)
		}
		if err := s.queueRefresh(ctx, pipe, owner); err != nil {
			return err
		}
		if previous != nil {
			pipe.Del(ctx, accessTokenPrefix+string(previous.Value))
			if previous.UniqueKey != next.UniqueKey {
				pipe.Del(ctx, uniqueKeyPrefix+previous.UniqueKey)
			}
		}
		return nil
	})
	return err
}

// SaveGrant drops the previous grant and stores the new pair in a single
// MULTI/EXEC block
func (s *RedisStorage) SaveGrant(ctx context.Context, access *AccessToken, refresh *RefreshToken, previous *AccessToken) error {
	data, err := json.Marshal(access)
	if err != nil {
		return err
	}
	ttl := s.ttl(access.ExpiresAt)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != nil {
			pipe.Del(ctx, accessTokenPrefix+string(previous.Value))
			if previous.RefreshToken != "" {
				pipe.Del(ctx, refreshTokenPrefix+string(previous.RefreshToken))
			}
			if previous.UniqueKey != "" && previous.UniqueKey != access.UniqueKey {
				pipe.Del(ctx, uniqueKeyPrefix+previous.UniqueKey)
			}
		}
		pipe.Set(ctx, accessTokenPrefix+string(access.Value), data, ttl)
		if access.UniqueKey != "" {
			pipe.Set(ctx, uniqueKeyPrefix+access.UniqueKey, string(access.Value), ttl)
		}
		if refresh != nil {
			return s.queueRefresh(ctx, pipe, refresh)
		}
		return nil
	})
	return err
}

// DeleteTokensByClientID deletes all tokens for a client
func (s *RedisStorage) DeleteTokensByClientID(ctx context.Context, clientID types.ClientID) error {
	iter := s.client.Scan(ctx, 0, accessTokenPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		var token AccessToken
		if err := s.getJSON(ctx, iter.Val(), &token, errorx.ErrAccessTokenNotFound); err != nil {
			continue
		}
		if token.ClientID == clientID {
			if err := s.DeleteAccessToken(ctx, token.Value); err != nil && !errors.Is(err, errorx.ErrAccessTokenNotFound) {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}

	iter = s.client.Scan(ctx, 0, refreshTokenPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		var token RefreshToken
		if err := s.getJSON(ctx, iter.Val(), &token, errorx.ErrRefreshTokenNotFound); err != nil {
			continue
		}
		if token.ClientID == clientID {
			if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
				return err
			}
		}
	}
	return iter.Err()
}

// CreateRememberMe stores a new series and indexes it by username
func (s *RedisStorage) CreateRememberMe(ctx context.Context, token *RememberMeToken) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, rememberMePrefix+token.Series, data, 0)
		pipe.SAdd(ctx, rememberMeUserPrefix+string(token.Username), token.Series)
		return nil
	})
	return err
}

func (s *RedisStorage) GetRememberMe(ctx context.Context, series string) (*RememberMeToken, error) {
	var token RememberMeToken
	if err := s.getJSON(ctx, rememberMePrefix+series, &token, errorx.ErrRememberMeNotFound); err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *RedisStorage) UpdateRememberMe(ctx context.Context, series, value string, lastUsed time.Time) error {
	token, err := s.GetRememberMe(ctx, series)
	if err != nil {
		return err
	}
	token.Value = value
	token.LastUsedAt = lastUsed
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, rememberMePrefix+series, data, 0).Err()
}

func (s *RedisStorage) DeleteRememberMe(ctx context.Context, series string) error {
	token, err := s.GetRememberMe(ctx, series)
	if err != nil {
		if errors.Is(err, errorx.ErrRememberMeNotFound) {
			return nil
		}
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, rememberMePrefix+series)
		pipe.SRem(ctx, rememberMeUserPrefix+string(token.Username), series)
		return nil
	})
	return err
}

func (s *RedisStorage) DeleteRememberMeByUsername(ctx context.Context, username types.Username) error {
	userKey := rememberMeUserPrefix + string(username)
	series, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, sr := range series {
			pipe.Del(ctx, rememberMePrefix+sr)
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	return err
}

// Close closes the Redis connection
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

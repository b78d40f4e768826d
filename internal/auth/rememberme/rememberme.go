// Package rememberme implements persistent remember-me logins as rotating
// series/value pairs.
package rememberme

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/auth/keygen"
	"github.com/amoylab/authcore/internal/auth/storage"
	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/config"
	"github.com/amoylab/authcore/internal/common/errorx"
)

// Service issues and verifies remember-me series
type Service struct {
	logger   *zap.Logger
	store    storage.RememberMeStore
	gen      keygen.Generator
	clock    clockwork.Clock
	validity time.Duration
}

// NewService creates a remember-me service. A zero validity means
// config.DefaultRememberMeValidity.
func NewService(logger *zap.Logger, store storage.RememberMeStore, clock clockwork.Clock, validity time.Duration) *Service {
	if validity <= 0 {
		validity = config.DefaultRememberMeValidity
	}
	return &Service{
		logger:   logger.Named("auth.rememberme"),
		store:    store,
		gen:      keygen.NewRememberMeGenerator(),
		clock:    clock,
		validity: validity,
	}
}

// Create starts a new series for username.
func (s *Service) Create(ctx context.Context, username types.Username) (*storage.RememberMeToken, error) {
	series, err := s.gen.Generate()
	if err != nil {
		return nil, err
	}
	value, err := s.gen.Generate()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	t := &storage.RememberMeToken{
		Series:       series,
		Value:        value,
		Username:     username,
		RegisteredAt: now,
		LastUsedAt:   now,
	}
	if err := s.store.CreateRememberMe(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Debug("remember-me series created", zap.String("username", username.String()))
	return t, nil
}

// AutoLogin verifies a presented series/value pair and rotates the value.
//
// A known series with a wrong value means the cookie was stolen and
// replayed; every series of the user is removed. An expired series is
// removed by itself.
func (s *Service) AutoLogin(ctx context.Context, series, value string) (*storage.RememberMeToken, error) {
	t, err := s.store.GetRememberMe(ctx, series)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(t.Value), []byte(value)) != 1 {
		s.logger.Warn("remember-me theft detected, removing all series",
			zap.String("username", t.Username.String()))
		if err := s.store.DeleteRememberMeByUsername(ctx, t.Username); err != nil {
			return nil, errors.Join(errorx.ErrRememberMeTheft, err)
		}
		return nil, errorx.ErrRememberMeTheft
	}

	now := s.clock.Now()
	if now.After(t.LastUsedAt.Add(s.validity)) {
		if err := s.store.DeleteRememberMe(ctx, series); err != nil {
			return nil, errors.Join(errorx.ErrRememberMeExpired, err)
		}
		return nil, errorx.ErrRememberMeExpired
	}

	next, err := s.gen.Generate()
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateRememberMe(ctx, series, next, now); err != nil {
		return nil, err
	}
	t.Value = next
	t.LastUsedAt = now
	return t, nil
}

// Logout removes every series of username.
func (s *Service) Logout(ctx context.Context, username types.Username) error {
	return s.store.DeleteRememberMeByUsername(ctx, username)
}

// EncodeCookie renders the cookie value carrying series and value.
func EncodeCookie(t *storage.RememberMeToken) string {
	return base64.StdEncoding.EncodeToString([]byte(t.Series + ":" + t.Value))
}

// DecodeCookie splits a cookie produced by EncodeCookie.
func DecodeCookie(cookie string) (series, value string, err error) {
	raw, err := base64.StdEncoding.DecodeString(cookie)
	if err != nil {
		return "", "", errorx.ErrInvalidRequest.WithDescription("malformed remember-me cookie")
	}
	series, value, ok := strings.Cut(string(raw), ":")
	if !ok || series == "" || value == "" {
		return "", "", errorx.ErrInvalidRequest.WithDescription("malformed remember-me cookie")
	}
	return series, value, nil
}

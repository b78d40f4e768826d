// Package code issues, validates and consumes authorization codes.
package code

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/amoylab/authcore/internal/auth/keygen"
	"github.com/amoylab/authcore/internal/auth/storage"
	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/config"
	"github.com/amoylab/authcore/internal/common/errorx"
)

// Service owns the authorization code lifecycle
type Service struct {
	logger   *zap.Logger
	store    storage.AuthorizationCodeStore
	gen      keygen.Generator
	clock    clockwork.Clock
	validity time.Duration
}

// NewService creates a code service. A zero validity falls back to
// config.DefaultCodeValidity.
func NewService(logger *zap.Logger, store storage.AuthorizationCodeStore, gen keygen.Generator, clock clockwork.Clock, validity time.Duration) *Service {
	if validity <= 0 {
		validity = config.DefaultCodeValidity
	}
	return &Service{
		logger:   logger.Named("auth.code"),
		store:    store,
		gen:      gen,
		clock:    clock,
		validity: validity,
	}
}

// Issue mints and persists a code for an approved authorization request
func (s *Service) Issue(ctx context.Context, req *types.AuthorizationRequest) (*storage.AuthorizationCode, error) {
	if req.ClientID == "" {
		return nil, errorx.ErrInvalidRequest.WithDescription("client_id is required")
	}
	method := req.CodeChallengeMethod
	if req.CodeChallenge != "" {
		if method == "" {
			method = types.ChallengePlain
		}
		if method != types.ChallengePlain && method != types.ChallengeS256 {
			return nil, errorx.ErrInvalidRequest.WithDescription("unsupported code_challenge_method")
		}
	} else {
		method = ""
	}

	value, err := s.gen.Generate()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	code := &storage.AuthorizationCode{
		Code:                value,
		ClientID:            req.ClientID,
		Username:            req.Username,
		RedirectURI:         req.RedirectURI,
		Scopes:              req.Scopes.Unique(),
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		ExpiresAt:           now.Add(s.validity),
		CreatedAt:           now,
	}
	if err := s.store.SaveAuthorizationCode(ctx, code); err != nil {
		return nil, err
	}

	s.logger.Debug("issued authorization code",
		zap.String("client_id", string(code.ClientID)),
		zap.Time("expires_at", code.ExpiresAt))
	return code, nil
}

// Validate checks a token request against a stored code. It never
// consumes the code.
func (s *Service) Validate(code *storage.AuthorizationCode, req *types.TokenRequest) error {
	if s.clock.Now().After(code.ExpiresAt) {
		return errorx.ErrAuthorizationCodeExpired
	}
	if code.RedirectURI != req.RedirectURI {
		return errorx.ErrRedirectMismatch
	}
	if code.ClientID != req.ClientID {
		return errorx.ErrInvalidClient.WithDescription("client is different")
	}
	return VerifyPKCE(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier)
}

// Consume loads the code, validates it and deletes it on success. A code
// that fails validation is kept.
func (s *Service) Consume(ctx context.Context, value string, req *types.TokenRequest) (*storage.AuthorizationCode, error) {
	code, err := s.store.GetAuthorizationCode(ctx, value)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(code, req); err != nil {
		s.logger.Debug("authorization code rejected",
			zap.String("client_id", string(req.ClientID)),
			zap.Error(err))
		return nil, err
	}
	// losing a concurrent exchange surfaces as ErrAuthorizationCodeNotFound
	if err := s.store.DeleteAuthorizationCode(ctx, value); err != nil {
		return nil, err
	}
	return code, nil
}

// VerifyPKCE recomputes the challenge from verifier with the stored method
// (RFC 7636 section 4.6). An empty challenge means PKCE was not used.
func VerifyPKCE(challenge, method, verifier string) error {
	if challenge == "" {
		return nil
	}
	if verifier == "" {
		return errorx.ErrPKCEMismatch.WithDescription("code_verifier is required")
	}

	var computed string
	switch method {
	case types.ChallengeS256:
		computed = oauth2.S256ChallengeFromVerifier(verifier)
	case types.ChallengePlain, "":
		computed = verifier
	default:
		return errorx.ErrPKCEMismatch.WithDescription("unsupported code_challenge_method")
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return errorx.ErrPKCEMismatch
	}
	return nil
}

package code

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/amoylab/authcore/internal/auth/keygen"
	"github.com/amoylab/authcore/internal/auth/storage"
	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/errorx"
)

var issuedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *storage.MemoryStorage, *clockwork.FakeClock) {
	t.Helper()
	store := storage.NewMemoryStorage()
	clock := clockwork.NewFakeClockAt(issuedAt)
	return NewService(zap.NewNop(), store, keygen.NewCodeGenerator(0), clock, 0), store, clock
}

func authRequest() *types.AuthorizationRequest {
	return &types.AuthorizationRequest{
		ClientID:    "my-client-1",
		Username:    "alice",
		RedirectURI: "https://app/callback",
		Scopes:      types.ScopesOf("read"),
	}
}

func tokenRequest() *types.TokenRequest {
	return &types.TokenRequest{
		GrantType:   types.GrantAuthorizationCode,
		ClientID:    "my-client-1",
		RedirectURI: "https://app/callback",
	}
}

func TestIssue(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	code, err := svc.Issue(ctx, authRequest())
	require.NoError(t, err)
	assert.Len(t, code.Code, keygen.DefaultCodeLength)
	assert.Regexp(t, `^[A-Za-z0-9]+$`, code.Code)
	assert.Equal(t, issuedAt.Add(5*time.Minute), code.ExpiresAt)
	assert.Equal(t, types.ScopesOf("read"), code.Scopes)

	stored, err := store.GetAuthorizationCode(ctx, code.Code)
	require.NoError(t, err)
	assert.Equal(t, code.ClientID, stored.ClientID)
}

func TestIssue_RejectsUnknownChallengeMethod(t *testing.T) {
	svc, _, _ := newTestService(t)
	req := authRequest()
	req.CodeChallenge = "abc"
	req.CodeChallengeMethod = "S512"

	_, err := svc.Issue(context.Background(), req)
	assert.ErrorIs(t, err, errorx.ErrInvalidRequest)
}

func TestValidate_Expiry(t *testing.T) {
	svc, _, clock := newTestService(t)
	code, err := svc.Issue(context.Background(), authRequest())
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	assert.NoError(t, svc.Validate(code, tokenRequest()))

	clock.Advance(time.Nanosecond)
	err = svc.Validate(code, tokenRequest())
	assert.ErrorIs(t, err, errorx.ErrAuthorizationCodeExpired)
	assert.ErrorIs(t, err, errorx.ErrInvalidGrant)
}

func TestValidate_RedirectURI(t *testing.T) {
	svc, _, _ := newTestService(t)

	tests := []struct {
		name     string
		stored   string
		request  string
		mismatch bool
	}{
		{"both absent", "", "", false},
		{"equal", "https://app/callback", "https://app/callback", false},
		{"different", "https://app/callback", "https://app/other", true},
		{"missing in request", "https://app/callback", "", true},
		{"missing in code", "", "https://app/callback", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := &storage.AuthorizationCode{ClientID: "my-client-1", RedirectURI: tt.stored, ExpiresAt: issuedAt.Add(time.Minute)}
			req := tokenRequest()
			req.RedirectURI = tt.request

			err := svc.Validate(code, req)
			if tt.mismatch {
				assert.ErrorIs(t, err, errorx.ErrRedirectMismatch)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_ClientMismatch(t *testing.T) {
	svc, _, _ := newTestService(t)
	code, err := svc.Issue(context.Background(), authRequest())
	require.NoError(t, err)

	req := tokenRequest()
	req.ClientID = "someone-else"
	assert.ErrorIs(t, svc.Validate(code, req), errorx.ErrInvalidClient)
}

func TestVerifyPKCE(t *testing.T) {
	verifier := oauth2.GenerateVerifier()

	assert.NoError(t, VerifyPKCE("", "", ""))
	assert.NoError(t, VerifyPKCE(oauth2.S256ChallengeFromVerifier(verifier), types.ChallengeS256, verifier))
	assert.NoError(t, VerifyPKCE(verifier, types.ChallengePlain, verifier))

	assert.ErrorIs(t, VerifyPKCE(oauth2.S256ChallengeFromVerifier(verifier), types.ChallengeS256, ""), errorx.ErrPKCEMismatch)
	assert.ErrorIs(t, VerifyPKCE(oauth2.S256ChallengeFromVerifier(verifier), types.ChallengeS256, verifier+"x"), errorx.ErrPKCEMismatch)
	// a plain challenge never matches under S256
	assert.ErrorIs(t, VerifyPKCE(verifier, types.ChallengeS256, verifier), errorx.ErrInvalidGrant)
}

func TestConsume(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	verifier := oauth2.GenerateVerifier()
	req := authRequest()
	req.CodeChallenge = oauth2.S256ChallengeFromVerifier(verifier)
	req.CodeChallengeMethod = types.ChallengeS256
	code, err := svc.Issue(ctx, req)
	require.NoError(t, err)

	// failed validation keeps the code
	_, err = svc.Consume(ctx, code.Code, tokenRequest())
	assert.ErrorIs(t, err, errorx.ErrPKCEMismatch)
	_, err = store.GetAuthorizationCode(ctx, code.Code)
	require.NoError(t, err)

	treq := tokenRequest()
	treq.CodeVerifier = verifier
	got, err := svc.Consume(ctx, code.Code, treq)
	require.NoError(t, err)
	assert.Equal(t, types.Username("alice"), got.Username)

	_, err = svc.Consume(ctx, code.Code, treq)
	assert.ErrorIs(t, err, errorx.ErrAuthorizationCodeNotFound)
}

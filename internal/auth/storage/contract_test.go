package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/errorx"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type tokenBackend interface {
	AuthorizationCodeStore
	TokenStore
	RememberMeStore
}

func testAccessToken(value, refresh string) *AccessToken {
	return &AccessToken{
		Value:        types.TokenID(value),
		TokenType:    "bearer",
		ClientID:     "my-client-1",
		Username:     "alice",
		Scopes:       types.ScopesOf("read"),
		UniqueKey:    "key-" + value,
		RefreshToken: types.TokenID(refresh),
		IssuedAt:     testNow,
		ExpiresAt:    testNow.Add(10 * time.Minute),
	}
}

func testRefreshToken(value, access string) *RefreshToken {
	return &RefreshToken{
		Value:       types.TokenID(value),
		ClientID:    "my-client-1",
		Username:    "alice",
		Scopes:      types.ScopesOf("read"),
		AccessToken: types.TokenID(access),
		IssuedAt:    testNow,
		ExpiresAt:   testNow.Add(2 * time.Hour),
	}
}

func runTokenBackendSuite(t *testing.T, s tokenBackend) {
	ctx := context.Background()

	t.Run("authorization code", func(t *testing.T) {
		code := &AuthorizationCode{
			Code:        "Ab12Cd",
			ClientID:    "my-client-1",
			Username:    "alice",
			RedirectURI: "https://app/callback",
			Scopes:      types.ScopesOf("read"),
			ExpiresAt:   testNow.Add(5 * time.Minute),
			CreatedAt:   testNow,
		}
		require.NoError(t, s.SaveAuthorizationCode(ctx, code))

		got, err := s.GetAuthorizationCode(ctx, "Ab12Cd")
		require.NoError(t, err)
		assert.Equal(t, code.ClientID, got.ClientID)
		assert.Equal(t, code.RedirectURI, got.RedirectURI)
		assert.Equal(t, code.Scopes, got.Scopes)
		assert.True(t, code.ExpiresAt.Equal(got.ExpiresAt))

		require.NoError(t, s.DeleteAuthorizationCode(ctx, "Ab12Cd"))
		_, err = s.GetAuthorizationCode(ctx, "Ab12Cd")
		assert.ErrorIs(t, err, errorx.ErrAuthorizationCodeNotFound)
		assert.ErrorIs(t, s.DeleteAuthorizationCode(ctx, "Ab12Cd"), errorx.ErrAuthorizationCodeNotFound)
	})

	t.Run("access token by value and unique key", func(t *testing.T) {
		at := testAccessToken("at-1", "")
		at.AdditionalInfo = map[string]any{"tenant": "acme"}
		require.NoError(t, s.SaveAccessToken(ctx, at))

		got, err := s.GetAccessToken(ctx, "at-1")
		require.NoError(t, err)
		assert.Equal(t, at.Username, got.Username)
		assert.Equal(t, "acme", got.AdditionalInfo["tenant"])

		byKey, err := s.FindAccessTokenByUniqueKey(ctx, "key-at-1")
		require.NoError(t, err)
		assert.Equal(t, types.TokenID("at-1"), byKey.Value)

		require.NoError(t, s.DeleteAccessToken(ctx, "at-1"))
		_, err = s.GetAccessToken(ctx, "at-1")
		assert.ErrorIs(t, err, errorx.ErrAccessTokenNotFound)
		_, err = s.FindAccessTokenByUniqueKey(ctx, "key-at-1")
		assert.ErrorIs(t, err, errorx.ErrAccessTokenNotFound)
	})

	t.Run("deleting access token unlinks refresh token", func(t *testing.T) {
		require.NoError(t, s.SaveRefreshToken(ctx, testRefreshToken("rt-2", "at-2")))
		require.NoError(t, s.SaveAccessToken(ctx, testAccessToken("at-2", "rt-2")))

		require.NoError(t, s.DeleteAccessToken(ctx, "at-2"))
		rt, err := s.GetRefreshToken(ctx, "rt-2")
		require.NoError(t, err)
		assert.Empty(t, rt.AccessToken)
	})

	t.Run("deleting refresh token removes owned access token", func(t *testing.T) {
		require.NoError(t, s.SaveRefreshToken(ctx, testRefreshToken("rt-3", "at-3")))
		require.NoError(t, s.SaveAccessToken(ctx, testAccessToken("at-3", "rt-3")))

		require.NoError(t, s.DeleteRefreshToken(ctx, "rt-3"))
		_, err := s.GetRefreshToken(ctx, "rt-3")
		assert.ErrorIs(t, err, errorx.ErrRefreshTokenNotFound)
		_, err = s.GetAccessToken(ctx, "at-3")
		assert.ErrorIs(t, err, errorx.ErrAccessTokenNotFound)
	})

	t.Run("replace access token", func(t *testing.T) {
		require.NoError(t, s.SaveRefreshToken(ctx, testRefreshToken("rt-4", "at-4a")))
		require.NoError(t, s.SaveAccessToken(ctx, testAccessToken("at-4a", "rt-4")))

		next := testAccessToken("at-4b", "rt-4")
		require.NoError(t, s.ReplaceAccessToken(ctx, "rt-4", next))

		_, err := s.GetAccessToken(ctx, "at-4a")
		assert.ErrorIs(t, err, errorx.ErrAccessTokenNotFound)
		got, err := s.GetAccessToken(ctx, "at-4b")
		require.NoError(t, err)
		assert.Equal(t, types.TokenID("rt-4"), got.RefreshToken)

		rt, err := s.GetRefreshToken(ctx, "rt-4")
		require.NoError(t, err)
		assert.Equal(t, types.TokenID("at-4b"), rt.AccessToken)

		assert.ErrorIs(t, s.ReplaceAccessToken(ctx, "missing", testAccessToken("at-x", "missing")), errorx.ErrRefreshTokenNotFound)
		_, err = s.GetAccessToken(ctx, "at-x")
		assert.ErrorIs(t, err, errorx.ErrAccessTokenNotFound)
	})

	t.Run("save grant replaces previous", func(t *testing.T) {
		first := testAccessToken("at-7a", "rt-7a")
		first.UniqueKey = "key-7"
		require.NoError(t, s.SaveGrant(ctx, first, testRefreshToken("rt-7a", "at-7a"), nil))

		got, err := s.FindAccessTokenByUniqueKey(ctx, "key-7")
		require.NoError(t, err)
		assert.Equal(t, types.TokenID("at-7a"), got.Value)

		next := testAccessToken("at-7b", "rt-7b")
		next.UniqueKey = "key-7"
		require.NoError(t, s.SaveGrant(ctx, next, testRefreshToken("rt-7b", "at-7b"), got))

		_, err = s.GetAccessToken(ctx, "at-7a")
		assert.ErrorIs(t, err, errorx.ErrAccessTokenNotFound)
		_, err = s.GetRefreshToken(ctx, "rt-7a")
		assert.ErrorIs(t, err, errorx.ErrRefreshTokenNotFound)

		got, err = s.FindAccessTokenByUniqueKey(ctx, "key-7")
		require.NoError(t, err)
		assert.Equal(t, types.TokenID("at-7b"), got.Value)
		rt, err := s.GetRefreshToken(ctx, "rt-7b")
		require.NoError(t, err)
		assert.Equal(t, types.TokenID("at-7b"), rt.AccessToken)

		bare := testAccessToken("at-8", "")
		require.NoError(t, s.SaveGrant(ctx, bare, nil, nil))
		_, err = s.GetAccessToken(ctx, "at-8")
		assert.NoError(t, err)
	})

	t.Run("delete tokens by client", func(t *testing.T) {
		require.NoError(t, s.SaveRefreshToken(ctx, testRefreshToken("rt-5", "at-5")))
		require.NoError(t, s.SaveAccessToken(ctx, testAccessToken("at-5", "rt-5")))
		other := testAccessToken("at-6", "")
		other.ClientID = "other-client"
		require.NoError(t, s.SaveAccessToken(ctx, other))

		require.NoError(t, s.DeleteTokensByClientID(ctx, "my-client-1"))
		_, err := s.GetAccessToken(ctx, "at-5")
		assert.ErrorIs(t, err, errorx.ErrAccessTokenNotFound)
		_, err = s.GetRefreshToken(ctx, "rt-5")
		assert.ErrorIs(t, err, errorx.ErrRefreshTokenNotFound)
		_, err = s.GetAccessToken(ctx, "at-6")
		assert.NoError(t, err)
	})

	t.Run("remember me", func(t *testing.T) {
		for _, series := range []string{"s1", "s2"} {
			require.NoError(t, s.CreateRememberMe(ctx, &RememberMeToken{
				Series:       series,
				Value:        "v-" + series,
				Username:     "bob",
				RegisteredAt: testNow,
				LastUsedAt:   testNow,
			}))
		}

		later := testNow.Add(time.Hour)
		require.NoError(t, s.UpdateRememberMe(ctx, "s1", "rotated", later))
		got, err := s.GetRememberMe(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "rotated", got.Value)
		assert.True(t, later.Equal(got.LastUsedAt))

		assert.ErrorIs(t, s.UpdateRememberMe(ctx, "nope", "x", later), errorx.ErrRememberMeNotFound)

		require.NoError(t, s.DeleteRememberMe(ctx, "s1"))
		_, err = s.GetRememberMe(ctx, "s1")
		assert.ErrorIs(t, err, errorx.ErrRememberMeNotFound)

		require.NoError(t, s.DeleteRememberMeByUsername(ctx, "bob"))
		_, err = s.GetRememberMe(ctx, "s2")
		assert.ErrorIs(t, err, errorx.ErrRememberMeNotFound)
	})
}

// runCatalogSuite covers the stores that only the primary backends serve.
func runCatalogSuite(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("client crud", func(t *testing.T) {
		c := &Client{
			ID:           "my-client-1",
			Secret:       "hashed",
			Owner:        "alice",
			RedirectURIs: []string{"https://app/callback"},
			GrantTypes:   []string{"authorization_code", "refresh_token"},
			Scopes:       types.ScopesOf("read"),
			CreatedAt:    testNow,
			UpdatedAt:    testNow,
		}
		require.NoError(t, s.CreateClient(ctx, c))
		assert.ErrorIs(t, s.CreateClient(ctx, c), errorx.ErrClientAlreadyExists)

		n, err := s.CountClients(ctx, "my-client-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := s.GetClient(ctx, "my-client-1")
		require.NoError(t, err)
		assert.Equal(t, c.RedirectURIs, got.RedirectURIs)
		assert.Equal(t, c.GrantTypes, got.GrantTypes)
		assert.True(t, got.HasGrantType("refresh_token"))

		got.RedirectURIs = append(got.RedirectURIs, "https://app/other")
		require.NoError(t, s.UpdateClient(ctx, got))
		again, err := s.GetClient(ctx, "my-client-1")
		require.NoError(t, err)
		assert.Len(t, again.RedirectURIs, 2)

		require.NoError(t, s.DeleteClient(ctx, "my-client-1"))
		_, err = s.GetClient(ctx, "my-client-1")
		assert.ErrorIs(t, err, errorx.ErrClientNotFound)
		assert.ErrorIs(t, s.UpdateClient(ctx, c), errorx.ErrClientNotFound)
		assert.ErrorIs(t, s.DeleteClient(ctx, "my-client-1"), errorx.ErrClientNotFound)
	})

	t.Run("scopes", func(t *testing.T) {
		require.NoError(t, s.CreateScope(ctx, &Scope{Code: "write", Description: "Write"}))
		require.NoError(t, s.CreateScope(ctx, &Scope{Code: "read", Description: "Read", Initialize: true}))
		assert.ErrorIs(t, s.CreateScope(ctx, &Scope{Code: "read"}), errorx.ErrScopeAlreadyExists)

		list, err := s.ListScopes(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, types.ScopeCode("read"), list[0].Code)

		n, err := s.CountScopes(ctx, types.ScopesOf("read", "write", "admin", "read"))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		require.NoError(t, s.UpdateScope(ctx, &Scope{Code: "write", Description: "Write all"}))
		got, err := s.GetScope(ctx, "write")
		require.NoError(t, err)
		assert.Equal(t, "Write all", got.Description)

		require.NoError(t, s.DeleteScope(ctx, "write"))
		_, err = s.GetScope(ctx, "write")
		assert.ErrorIs(t, err, errorx.ErrScopeNotFound)
	})

	t.Run("resources", func(t *testing.T) {
		r := &SecuredResource{ID: "r1", Pattern: "/api/**", Method: MethodAll, Authorities: []string{"read"}}
		require.NoError(t, s.CreateResource(ctx, r))
		assert.ErrorIs(t, s.CreateResource(ctx, r), errorx.ErrResourceAlreadyExists)

		r.Authorities = []string{"read", "admin"}
		require.NoError(t, s.UpdateResource(ctx, r))
		list, err := s.ListResources(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, []string{"read", "admin"}, list[0].Authorities)

		require.NoError(t, s.DeleteResource(ctx, "r1"))
		_, err = s.GetResource(ctx, "r1")
		assert.ErrorIs(t, err, errorx.ErrResourceNotFound)
	})

	t.Run("approvals", func(t *testing.T) {
		a := &UserApproval{Username: "alice", ClientID: "my-client-1", Scopes: types.ScopesOf("read"), UpdatedAt: testNow}
		require.NoError(t, s.SaveApproval(ctx, a))
		a.Scopes = types.ScopesOf("read", "write")
		require.NoError(t, s.SaveApproval(ctx, a))

		got, err := s.GetApproval(ctx, "alice", "my-client-1")
		require.NoError(t, err)
		assert.Equal(t, types.ScopesOf("read", "write"), got.Scopes)

		require.NoError(t, s.DeleteApproval(ctx, "alice", "my-client-1"))
		_, err = s.GetApproval(ctx, "alice", "my-client-1")
		assert.ErrorIs(t, err, errorx.ErrApprovalNotFound)
	})

	t.Run("transaction rollback", func(t *testing.T) {
		boom := assert.AnError
		err := s.Transaction(ctx, func(ctx context.Context) error {
			require.NoError(t, s.CreateScope(ctx, &Scope{Code: "temp"}))
			_, err := s.GetScope(ctx, "temp")
			require.NoError(t, err)
			return boom
		})
		assert.ErrorIs(t, err, boom)
		_, err = s.GetScope(ctx, "temp")
		assert.ErrorIs(t, err, errorx.ErrScopeNotFound)
	})

	t.Run("transaction commit and nesting", func(t *testing.T) {
		err := s.Transaction(ctx, func(ctx context.Context) error {
			if err := s.CreateScope(ctx, &Scope{Code: "outer"}); err != nil {
				return err
			}
			return s.Transaction(ctx, func(ctx context.Context) error {
				return s.CreateScope(ctx, &Scope{Code: "inner"})
			})
		})
		require.NoError(t, err)
		_, err = s.GetScope(ctx, "outer")
		assert.NoError(t, err)
		_, err = s.GetScope(ctx, "inner")
		assert.NoError(t, err)
	})
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/auth/registry"
	"github.com/amoylab/authcore/internal/auth/resource"
	"github.com/amoylab/authcore/internal/auth/storage"
	"github.com/amoylab/authcore/internal/auth/token"
	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/config"
	"github.com/amoylab/authcore/internal/common/errorx"
)

type harness struct {
	srv    *Server
	router *gin.Engine
	clock  *clockwork.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.AuthServerConfig{
		Metrics:       config.MetricsConfig{Enabled: true},
		Introspection: config.IntrospectionConfig{ClientID: "my-client-1", ClientSecret: "S3cret!!"},
		Seed: config.SeedConfig{
			Scopes: []config.SeedScope{{Code: "read", Initialize: true}, {Code: "admin"}},
			Clients: []config.SeedClient{{
				ID:         "other-client",
				Secret:     "0therS3cret",
				Owner:      "bob",
				GrantTypes: []string{types.GrantClientCredentials},
				Scopes:     []string{"read"},
			}},
			Resources: []config.SeedResource{
				{Pattern: "/api/me", Authorities: []string{"read"}},
				{Pattern: "/api/resources", Method: "get", Authorities: []string{"admin"}},
			},
		},
	}
	cfg.SetDefaults()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC))
	srv, err := New(zap.NewNop(), cfg, clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	ctx := context.Background()
	require.NoError(t, srv.Start(ctx))
	_, err = srv.Registry.Register(ctx, registry.Registration{
		ClientID:     "my-client-1",
		Secret:       "S3cret!!",
		Owner:        "alice",
		GrantTypes:   []string{types.GrantAuthorizationCode},
		RedirectURIs: []string{"https://app/callback"},
		Scopes:       []string{"read"},
	})
	require.NoError(t, err)

	router := gin.New()
	srv.RegisterRoutes(router)
	return &harness{srv: srv, router: router, clock: clock}
}

// exchange runs the authorization code flow up to the issued token.
func (h *harness) exchange(t *testing.T) *storage.AccessToken {
	t.Helper()
	ctx := context.Background()
	c, err := h.srv.Codes.Issue(ctx, &types.AuthorizationRequest{
		ClientID:    "my-client-1",
		Username:    "alice",
		RedirectURI: "https://app/callback",
		Scopes:      types.ScopesOf("read"),
	})
	require.NoError(t, err)

	req := &types.TokenRequest{
		GrantType:   types.GrantAuthorizationCode,
		ClientID:    "my-client-1",
		Code:        c.Code,
		RedirectURI: "https://app/callback",
	}
	consumed, err := h.srv.Codes.Consume(ctx, c.Code, req)
	require.NoError(t, err)

	cl, err := h.srv.Registry.Get(ctx, "my-client-1")
	require.NoError(t, err)
	req.Username = consumed.Username
	req.Scopes = consumed.Scopes
	tok, err := h.srv.Tokens.Issue(ctx, cl, req)
	require.NoError(t, err)
	return tok
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func introspectRequest(value, clientID, secret string) *http.Request {
	form := url.Values{"token": {value}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/introspect", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(clientID, secret)
	return req
}

func bearer(path, value string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+value)
	return req
}

func TestCodeExchangeFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.srv.Codes.Issue(ctx, &types.AuthorizationRequest{
		ClientID:    "my-client-1",
		RedirectURI: "https://app/callback",
		Scopes:      types.ScopesOf("read"),
	})
	require.NoError(t, err)
	assert.Len(t, c.Code, 6)

	req := &types.TokenRequest{
		GrantType:   types.GrantAuthorizationCode,
		ClientID:    "my-client-1",
		Code:        c.Code,
		RedirectURI: "https://app/callback",
	}
	consumed, err := h.srv.Codes.Consume(ctx, c.Code, req)
	require.NoError(t, err)

	cl, err := h.srv.Registry.Get(ctx, "my-client-1")
	require.NoError(t, err)
	req.Scopes = consumed.Scopes
	tok, err := h.srv.Tokens.Issue(ctx, cl, req)
	require.NoError(t, err)

	resp := token.NewResponse(tok, h.clock.Now())
	assert.Equal(t, "read", resp.Scope)
	assert.Equal(t, int64(600), resp.ExpiresIn)
	assert.Empty(t, resp.RefreshToken)

	_, err = h.srv.Codes.Consume(ctx, c.Code, req)
	assert.ErrorIs(t, err, errorx.ErrAuthorizationCodeNotFound)
}

func TestIntrospectEndpoint(t *testing.T) {
	h := newHarness(t)
	tok := h.exchange(t)

	w := h.do(introspectRequest(string(tok.Value), "my-client-1", "S3cret!!"))
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["active"])
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, "read", body["scope"])
	assert.Equal(t, "my-client-1", body["client_id"])

	w = h.do(introspectRequest(string(tok.Value), "other-client", "0therS3cret"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"active":false}`, w.Body.String())

	w = h.do(introspectRequest("unknown", "my-client-1", "S3cret!!"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"active":false}`, w.Body.String())

	w = h.do(introspectRequest(string(tok.Value), "my-client-1", "wrong-secret"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	h.clock.Advance(11 * time.Minute)
	w = h.do(introspectRequest(string(tok.Value), "my-client-1", "S3cret!!"))
	assert.JSONEq(t, `{"active":false}`, w.Body.String())
}

func TestIntrospectEndpoint_BadCredentialsHideToken(t *testing.T) {
	h := newHarness(t)
	tok := h.exchange(t)

	live := h.do(introspectRequest(string(tok.Value), "my-client-1", "wrong-secret"))
	unknown := h.do(introspectRequest("unknown", "my-client-1", "wrong-secret"))
	assert.Equal(t, http.StatusUnauthorized, live.Code)
	assert.Equal(t, live.Code, unknown.Code)
	assert.JSONEq(t, live.Body.String(), unknown.Body.String())

	noSuchClient := h.do(introspectRequest(string(tok.Value), "no-such-client", "wrong-secret"))
	assert.Equal(t, http.StatusUnauthorized, noSuchClient.Code)
	assert.JSONEq(t, live.Body.String(), noSuchClient.Body.String())
}

func TestIntrospectEndpoint_MissingToken(t *testing.T) {
	h := newHarness(t)
	w := h.do(introspectRequest("", "my-client-1", "S3cret!!"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProtectedAPI(t *testing.T) {
	h := newHarness(t)
	tok := h.exchange(t)

	w := h.do(bearer("/api/me", string(tok.Value)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"alice"`)

	w = h.do(bearer("/api/resources", string(tok.Value)))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// granting read on the listing takes effect after the change commits
	_, err := h.srv.Resources.Create(context.Background(), resource.Input{
		Pattern: "/api/resources", Method: "GET", Authorities: []string{"read"},
	})
	require.NoError(t, err)
	w = h.do(bearer("/api/resources", string(tok.Value)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSeed_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.srv.Seed(ctx))
	list, err := h.srv.Resources.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	scopes, err := h.srv.Registry.InitialScopes(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Scopes{"read"}, scopes)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	w := h.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	tok := h.exchange(t)
	h.do(bearer("/api/me", string(tok.Value)))

	w = h.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "authcore_authorization_decisions_total")
	assert.Contains(t, w.Body.String(), "authcore_metadata_resources 2")
}

func TestNewClock(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	now := NewClock(loc).Now()
	assert.Equal(t, loc, now.Location())
	assert.WithinDuration(t, time.Now(), now, time.Minute)
}

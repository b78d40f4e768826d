// Package client authenticates confidential OAuth2 clients.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/auth/storage"
	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/errorx"
)

// Credentials are the unauthenticated client id and secret of a request.
// A nil Secret means none was presented.
type Credentials struct {
	ClientID types.ClientID
	Secret   *string
}

// SecretOf is a helper for building Credentials.
func SecretOf(s string) *string {
	return &s
}

// Authentication is an authenticated client. Client credentials never
// carry user level authorities, so Authorities is always empty.
type Authentication struct {
	Client      *storage.Client
	Authorities []string
}

// Name is the authenticated client id.
func (a *Authentication) Name() types.ClientID {
	return a.Client.ID
}

// Authenticator checks client credentials against the client store
type Authenticator struct {
	logger  *zap.Logger
	store   storage.ClientStore
	encoder SecretEncoder
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(logger *zap.Logger, store storage.ClientStore, encoder SecretEncoder) *Authenticator {
	return &Authenticator{
		logger:  logger.Named("auth.client"),
		store:   store,
		encoder: encoder,
	}
}

// Authenticate verifies creds. Every credential problem, unknown clients
// included, is ErrBadCredentials; store failures are wrapped in
// ErrInternalAuthentication.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*Authentication, error) {
	if creds.ClientID == "" || creds.Secret == nil {
		return nil, errorx.ErrBadCredentials
	}

	client, err := a.store.GetClient(ctx, creds.ClientID)
	if err != nil {
		if errors.Is(err, errorx.ErrClientNotFound) {
			return nil, errorx.ErrBadCredentials
		}
		a.logger.Error("failed to load client", zap.String("client_id", string(creds.ClientID)), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", errorx.ErrInternalAuthentication, err)
	}

	if !a.encoder.Matches(*creds.Secret, client.Secret) {
		a.logger.Debug("client secret mismatch", zap.String("client_id", string(creds.ClientID)))
		return nil, errorx.ErrBadCredentials
	}

	return &Authentication{Client: client, Authorities: []string{}}, nil
}

// ExtractCredentials reads client credentials from HTTP Basic or, when no
// Basic header is present, from the client_id and client_secret form
// fields.
func ExtractCredentials(r *http.Request) (Credentials, error) {
	if id, secret, ok := r.BasicAuth(); ok {
		// RFC 6749 section 2.3.1 form-encodes both parts
		if v, err := url.QueryUnescape(id); err == nil {
			id = v
		}
		if v, err := url.QueryUnescape(secret); err == nil {
			secret = v
		}
		if id == "" {
			return Credentials{}, errorx.ErrInvalidClient.WithDescription("client_id is required")
		}
		return Credentials{ClientID: types.ClientID(id), Secret: &secret}, nil
	}

	if err := r.ParseForm(); err != nil {
		return Credentials{}, errorx.ErrInvalidRequest.WithDescription("malformed form body")
	}
	id := r.PostForm.Get("client_id")
	if id == "" {
		return Credentials{}, errorx.ErrInvalidClient.WithDescription("client_id is required")
	}
	creds := Credentials{ClientID: types.ClientID(id)}
	if _, ok := r.PostForm["client_secret"]; ok {
		secret := r.PostForm.Get("client_secret")
		creds.Secret = &secret
	}
	return creds, nil
}

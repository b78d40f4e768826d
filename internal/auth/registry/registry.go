// Package registry manages client registrations and the scope catalog.
package registry

import (
	"context"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/auth/client"
	"github.com/amoylab/authcore/internal/auth/storage"
	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/config"
	"github.com/amoylab/authcore/internal/common/errorx"
	"github.com/amoylab/authcore/internal/common/uow"
	"github.com/amoylab/authcore/internal/validator"
)

// Store is the storage the registry writes to.
type Store interface {
	storage.ClientStore
	storage.ScopeStore
	uow.Transactor
	DeleteTokensByClientID(ctx context.Context, clientID types.ClientID) error
}

// Registration is a client registration request.
type Registration struct {
	ClientID             string        `json:"client_id" validate:"clientid"`
	Secret               string        `json:"client_secret" validate:"min=8"`
	Name                 string        `json:"name"`
	Owner                string        `json:"owner" validate:"required"`
	RedirectURIs         []string      `json:"redirect_uris" validate:"dive,absurl"`
	GrantTypes           []string      `json:"grant_types" validate:"min=1,dive,grant"`
	Scopes               []string      `json:"scopes"`
	AccessTokenValidity  time.Duration `json:"access_token_validity" validate:"gte=0"`
	RefreshTokenValidity time.Duration `json:"refresh_token_validity" validate:"gte=0"`
}

// Service implements client and scope management
type Service struct {
	logger  *zap.Logger
	store   Store
	encoder client.SecretEncoder
	engine  *validator.Engine
	clock   clockwork.Clock
}

// NewService creates a registry service
func NewService(logger *zap.Logger, store Store, encoder client.SecretEncoder, engine *validator.Engine, clock clockwork.Clock) *Service {
	return &Service{
		logger:  logger.Named("auth.registry"),
		store:   store,
		encoder: encoder,
		engine:  engine,
		clock:   clock,
	}
}

func (s *Service) clientIDFree(id types.ClientID) validator.Rule {
	return validator.Rule{
		Field:   "client_id",
		Message: "is already registered",
		Check: func(ctx context.Context) (bool, error) {
			n, err := s.store.CountClients(ctx, id)
			return n == 0, err
		},
	}
}

func (s *Service) scopesExist(field string, scopes types.Scopes) validator.Rule {
	return validator.Rule{
		Field:   field,
		Message: "references unknown scopes",
		Check: func(ctx context.Context) (bool, error) {
			unique := scopes.Unique()
			if len(unique) == 0 {
				return true, nil
			}
			n, err := s.store.CountScopes(ctx, unique)
			return n == int64(len(unique)), err
		},
	}
}

// Register validates and stores a new client with its secret hashed.
func (s *Service) Register(ctx context.Context, reg Registration) (*storage.Client, error) {
	id := types.ClientID(reg.ClientID)
	scopes := types.ScopesOf(reg.Scopes...).Unique()
	if err := s.engine.Validate(ctx, &reg, s.clientIDFree(id), s.scopesExist("scopes", scopes)); err != nil {
		return nil, err
	}

	hash, err := s.encoder.Encode(reg.Secret)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	c := &storage.Client{
		ID:                   id,
		Secret:               hash,
		Name:                 reg.Name,
		Owner:                types.Username(reg.Owner),
		RedirectURIs:         uniqueStrings(reg.RedirectURIs),
		GrantTypes:           uniqueStrings(reg.GrantTypes),
		Scopes:               scopes,
		AccessTokenValidity:  orDefault(reg.AccessTokenValidity, config.DefaultAccessTokenValidity),
		RefreshTokenValidity: orDefault(reg.RefreshTokenValidity, config.DefaultRefreshTokenValidity),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.CreateClient(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("client registered",
		zap.String("client_id", c.ID.String()),
		zap.String("owner", c.Owner.String()),
		zap.Strings("grant_types", c.GrantTypes))
	return c, nil
}

// Get returns a registered client
func (s *Service) Get(ctx context.Context, id types.ClientID) (*storage.Client, error) {
	return s.store.GetClient(ctx, id)
}

// mutate loads the client, applies fn and stores the result in one
// transaction.
func (s *Service) mutate(ctx context.Context, id types.ClientID, fn func(ctx context.Context, c *storage.Client) error) (*storage.Client, error) {
	var out *storage.Client
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		c, err := s.store.GetClient(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, c); err != nil {
			return err
		}
		c.UpdatedAt = s.clock.Now()
		if err := s.store.UpdateClient(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// AddRedirectURI registers an additional absolute redirect URI.
func (s *Service) AddRedirectURI(ctx context.Context, id types.ClientID, uri string) (*storage.Client, error) {
	return s.mutate(ctx, id, func(ctx context.Context, c *storage.Client) error {
		if !validator.IsAbsoluteURI(uri) {
			v := &errorx.ValidationError{}
			v.Add("redirect_uri", "must be an absolute URI")
			return v
		}
		c.RedirectURIs = uniqueStrings(append(c.RedirectURIs, uri))
		return nil
	})
}

// RemoveRedirectURI unregisters a redirect URI.
func (s *Service) RemoveRedirectURI(ctx context.Context, id types.ClientID, uri string) (*storage.Client, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *storage.Client) error {
		c.RedirectURIs = slices.DeleteFunc(c.RedirectURIs, func(u string) bool { return u == uri })
		return nil
	})
}

// AddGrantType allows the client an additional grant.
func (s *Service) AddGrantType(ctx context.Context, id types.ClientID, grantType string) (*storage.Client, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *storage.Client) error {
		if !slices.Contains(types.KnownGrantTypes, grantType) {
			v := &errorx.ValidationError{}
			v.Add("grant_type", "is not a supported grant type")
			return v
		}
		c.GrantTypes = uniqueStrings(append(c.GrantTypes, grantType))
		return nil
	})
}

// RemoveGrantType withdraws a grant. The last grant cannot be removed.
func (s *Service) RemoveGrantType(ctx context.Context, id types.ClientID, grantType string) (*storage.Client, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *storage.Client) error {
		rest := slices.DeleteFunc(slices.Clone(c.GrantTypes), func(g string) bool { return g == grantType })
		if len(rest) == 0 {
			v := &errorx.ValidationError{}
			v.Add("grant_types", "must contain at least 1 entries")
			return v
		}
		c.GrantTypes = rest
		return nil
	})
}

// AddScope grants the client a registered scope.
func (s *Service) AddScope(ctx context.Context, id types.ClientID, code types.ScopeCode) (*storage.Client, error) {
	return s.mutate(ctx, id, func(ctx context.Context, c *storage.Client) error {
		if err := s.engine.Validate(ctx, nil, s.scopesExist("scope", types.Scopes{code})); err != nil {
			return err
		}
		c.Scopes = append(c.Scopes, code).Unique()
		return nil
	})
}

// RemoveScope withdraws a scope from the client.
func (s *Service) RemoveScope(ctx context.Context, id types.ClientID, code types.ScopeCode) (*storage.Client, error) {
	return s.mutate(ctx, id, func(_ context.Context, c *storage.Client) error {
		c.Scopes = c.Scopes.Without(code)
		return nil
	})
}

// ChangeSecret replaces the secret when current matches the stored one.
func (s *Service) ChangeSecret(ctx context.Context, id types.ClientID, current, next string) error {
	_, err := s.mutate(ctx, id, func(ctx context.Context, c *storage.Client) error {
		if !s.encoder.Matches(current, c.Secret) {
			return errorx.ErrSecretMismatch
		}
		if len(next) < 8 {
			v := &errorx.ValidationError{}
			v.Add("client_secret", "must be at least 8 characters")
			return v
		}
		hash, err := s.encoder.Encode(next)
		if err != nil {
			return err
		}
		c.Secret = hash
		return nil
	})
	if err == nil {
		s.logger.Info("client secret changed", zap.String("client_id", id.String()))
	}
	return err
}

// Delete removes the client and its tokens. Only the owner may delete.
func (s *Service) Delete(ctx context.Context, id types.ClientID, owner types.Username) error {
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		c, err := s.store.GetClient(ctx, id)
		if err != nil {
			return err
		}
		if c.Owner != owner {
			return errorx.ErrAccessDenied.WithDescription("only the owner may delete the client")
		}
		if err := s.store.DeleteTokensByClientID(ctx, id); err != nil {
			return err
		}
		return s.store.DeleteClient(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("client deleted", zap.String("client_id", id.String()), zap.String("owner", owner.String()))
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func uniqueStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

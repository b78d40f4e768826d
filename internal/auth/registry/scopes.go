package registry

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/auth/storage"
	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/errorx"
)

func validateScope(s *storage.Scope) error {
	v := &errorx.ValidationError{}
	code := string(s.Code)
	if strings.TrimSpace(code) == "" {
		v.Add("code", "is required")
	} else if strings.ContainsAny(code, " \t\n") {
		v.Add("code", "must not contain whitespace")
	}
	return v.OrNil()
}

// CreateScope registers a new scope. A duplicate code is a conflict.
func (s *Service) CreateScope(ctx context.Context, scope *storage.Scope) error {
	if err := validateScope(scope); err != nil {
		return err
	}
	if err := s.store.CreateScope(ctx, scope); err != nil {
		return err
	}
	s.logger.Info("scope created", zap.String("code", scope.Code.String()), zap.Bool("initialize", scope.Initialize))
	return nil
}

// UpdateScope replaces description and initialize flag.
func (s *Service) UpdateScope(ctx context.Context, scope *storage.Scope) error {
	if err := validateScope(scope); err != nil {
		return err
	}
	return s.store.UpdateScope(ctx, scope)
}

// DeleteScope removes a scope from the catalog. Clients keep referencing
// the code until they are updated.
func (s *Service) DeleteScope(ctx context.Context, code types.ScopeCode) error {
	return s.store.DeleteScope(ctx, code)
}

func (s *Service) GetScope(ctx context.Context, code types.ScopeCode) (*storage.Scope, error) {
	return s.store.GetScope(ctx, code)
}

func (s *Service) ListScopes(ctx context.Context) ([]*storage.Scope, error) {
	return s.store.ListScopes(ctx)
}

// InitialScopes lists the scopes granted to every new principal.
func (s *Service) InitialScopes(ctx context.Context) (types.Scopes, error) {
	all, err := s.store.ListScopes(ctx)
	if err != nil {
		return nil, err
	}
	var out types.Scopes
	for _, sc := range all {
		if sc.Initialize {
			out = append(out, sc.Code)
		}
	}
	return out, nil
}

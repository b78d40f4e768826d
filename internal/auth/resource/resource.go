// Package resource manages secured resources. Every mutation runs inside a
// unit of work so the metadata index reloads only after the change commits.
package resource

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/auth/storage"
	"github.com/amoylab/authcore/internal/common/errorx"
	"github.com/amoylab/authcore/internal/common/uow"
)

// Input is the editable part of a secured resource
type Input struct {
	Pattern     string
	Method      string
	Authorities []string
}

// Service implements resource CRUD
type Service struct {
	logger *zap.Logger
	store  storage.ResourceStore
	uow    *uow.Coordinator
}

// NewService creates a resource service
func NewService(logger *zap.Logger, store storage.ResourceStore, coordinator *uow.Coordinator) *Service {
	return &Service{
		logger: logger.Named("auth.resource"),
		store:  store,
		uow:    coordinator,
	}
}

func (in Input) validate() error {
	v := &errorx.ValidationError{}
	if strings.TrimSpace(in.Pattern) == "" {
		v.Add("pattern", "must not be empty")
	} else if !strings.HasPrefix(in.Pattern, "/") {
		v.Add("pattern", "must start with /")
	}
	for _, a := range in.Authorities {
		if strings.TrimSpace(a) == "" {
			v.Add("authorities", "must not contain empty entries")
			break
		}
	}
	return v.OrNil()
}

// NormalizeMethod upper-cases method; empty means every method.
func NormalizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return storage.MethodAll
	}
	return method
}

// Get returns one resource
func (s *Service) Get(ctx context.Context, id string) (*storage.SecuredResource, error) {
	return s.store.GetResource(ctx, id)
}

// List returns every resource
func (s *Service) List(ctx context.Context) ([]*storage.SecuredResource, error) {
	return s.store.ListResources(ctx)
}

// Create stores a new resource under a generated id.
func (s *Service) Create(ctx context.Context, in Input) (*storage.SecuredResource, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	r := &storage.SecuredResource{
		ID:          uuid.NewString(),
		Pattern:     in.Pattern,
		Method:      NormalizeMethod(in.Method),
		Authorities: append([]string{}, in.Authorities...),
	}
	err := s.uow.Run(ctx, func(ctx context.Context, u *uow.Unit) error {
		if err := s.store.CreateResource(ctx, r); err != nil {
			return err
		}
		r.RecordChange(uow.KindCreated)
		u.Track(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("secured resource created",
		zap.String("id", r.ID),
		zap.String("pattern", r.Pattern),
		zap.String("method", r.Method))
	return r, nil
}

// Update replaces pattern, method and authorities of an existing resource.
func (s *Service) Update(ctx context.Context, id string, in Input) (*storage.SecuredResource, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var out *storage.SecuredResource
	err := s.uow.Run(ctx, func(ctx context.Context, u *uow.Unit) error {
		r, err := s.store.GetResource(ctx, id)
		if err != nil {
			return err
		}
		r.Pattern = in.Pattern
		r.Method = NormalizeMethod(in.Method)
		r.Authorities = append([]string{}, in.Authorities...)
		if err := s.store.UpdateResource(ctx, r); err != nil {
			return err
		}
		r.RecordChange(uow.KindUpdated)
		u.Track(r)
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("secured resource updated", zap.String("id", id))
	return out, nil
}

// Delete removes a resource.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.uow.Run(ctx, func(ctx context.Context, u *uow.Unit) error {
		r, err := s.store.GetResource(ctx, id)
		if err != nil {
			return err
		}
		if err := s.store.DeleteResource(ctx, id); err != nil {
			return err
		}
		r.RecordChange(uow.KindDeleted)
		u.Track(r)
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("secured resource deleted", zap.String("id", id))
	return nil
}

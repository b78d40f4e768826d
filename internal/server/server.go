// Package server assembles the authorization core from configuration and
// exposes introspection, metrics and a protected demo API over gin.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/auth/client"
	"github.com/amoylab/authcore/internal/auth/code"
	"github.com/amoylab/authcore/internal/auth/introspect"
	"github.com/amoylab/authcore/internal/auth/keygen"
	"github.com/amoylab/authcore/internal/auth/metadata"
	"github.com/amoylab/authcore/internal/auth/middleware"
	"github.com/amoylab/authcore/internal/auth/notifier"
	"github.com/amoylab/authcore/internal/auth/registry"
	"github.com/amoylab/authcore/internal/auth/rememberme"
	"github.com/amoylab/authcore/internal/auth/resource"
	"github.com/amoylab/authcore/internal/auth/storage"
	"github.com/amoylab/authcore/internal/auth/token"
	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/config"
	"github.com/amoylab/authcore/internal/common/errorx"
	"github.com/amoylab/authcore/internal/common/uow"
	"github.com/amoylab/authcore/internal/validator"
	"github.com/amoylab/authcore/pkg/metrics"
)

// Server holds every service of the authorization core
type Server struct {
	logger  *zap.Logger
	cfg     *config.AuthServerConfig
	store   storage.Store
	metrics *metrics.Metrics
	errors  *errorx.ErrorHandler
	uow     *uow.Coordinator
	peers   notifier.Notifier

	Metadata     *metadata.Metadata
	Codes        *code.Service
	Tokens       *token.Service
	Clients      *client.Authenticator
	Introspector *introspect.Introspector
	Registry     *registry.Service
	Resources    *resource.Service
	RememberMe   *rememberme.Service
}

// New creates the server and its storage. cfg must have defaults applied.
func New(logger *zap.Logger, cfg *config.AuthServerConfig, clock clockwork.Clock) (*Server, error) {
	store, err := storage.NewStore(logger, &cfg.Storage, clock)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	s := NewWithStore(logger, cfg, clock, store)

	peers, err := notifier.New(logger, &cfg.Notifier)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize notifier: %w", err)
	}
	if peers != nil {
		s.AttachNotifier(peers)
	}
	return s, nil
}

// NewWithStore creates the server over an existing store
func NewWithStore(logger *zap.Logger, cfg *config.AuthServerConfig, clock clockwork.Clock, store storage.Store) *Server {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics)
	}

	encoder := client.NewBcryptEncoder()
	coordinator := uow.NewCoordinator(logger, store)
	md := metadata.New(logger, store, m)
	coordinator.OnCommit(md.HandleChanges)

	tokens := token.NewService(logger, store, clock, cfg.Token, token.WithMetrics(m))
	authenticator := client.NewAuthenticator(logger, store, encoder)
	creds := client.Credentials{ClientID: types.ClientID(cfg.Introspection.ClientID)}
	if cfg.Introspection.ClientSecret != "" {
		creds.Secret = client.SecretOf(cfg.Introspection.ClientSecret)
	}

	return &Server{
		logger:       logger.Named("server"),
		cfg:          cfg,
		store:        store,
		metrics:      m,
		errors:       errorx.NewErrorHandler(logger),
		uow:          coordinator,
		Metadata:     md,
		Codes:        code.NewService(logger, store, keygen.NewCodeGenerator(cfg.Token.CodeLength), clock, cfg.Token.CodeValidity),
		Tokens:       tokens,
		Clients:      authenticator,
		Introspector: introspect.NewIntrospector(logger, tokens, authenticator, creds, m),
		Registry:     registry.NewService(logger, store, encoder, validator.New(), clock),
		Resources:    resource.NewService(logger, store, coordinator),
		RememberMe:   rememberme.NewService(logger, store, clock, cfg.Token.RememberMeValidity),
	}
}

// AttachNotifier publishes committed resource changes to the other
// instances. Call it before Start.
func (s *Server) AttachNotifier(n notifier.Notifier) {
	s.peers = n
	s.uow.OnCommit(func(ctx context.Context, events []uow.Event) {
		var changed []uow.Event
		for _, e := range events {
			if e.Aggregate == storage.AggregateSecuredResource {
				changed = append(changed, e)
			}
		}
		if len(changed) == 0 {
			return
		}
		if err := n.Notify(ctx, changed); err != nil {
			s.logger.Error("failed to notify resource change", zap.Error(err))
		}
	})
}

// Start seeds the catalog and loads the authorization index. With a
// notifier attached, changes committed elsewhere reload the index until ctx
// is done.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Seed(ctx); err != nil {
		return fmt.Errorf("failed to seed catalog: %w", err)
	}
	if err := s.Metadata.Reload(ctx); err != nil {
		return err
	}
	if s.peers == nil {
		return nil
	}

	ch, err := s.peers.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch resource changes: %w", err)
	}
	go func() {
		for events := range ch {
			s.Metadata.HandleChanges(ctx, events)
		}
	}()
	return nil
}

// Seed creates the configured scopes, clients and resources that do not
// exist yet.
func (s *Server) Seed(ctx context.Context) error {
	seed := s.cfg.Seed
	for _, sc := range seed.Scopes {
		err := s.Registry.CreateScope(ctx, &storage.Scope{
			Code:        types.ScopeCode(sc.Code),
			Description: sc.Description,
			Initialize:  sc.Initialize,
		})
		if err != nil && !errors.Is(err, errorx.ErrScopeAlreadyExists) {
			return err
		}
	}

	for _, c := range seed.Clients {
		if n, err := s.store.CountClients(ctx, types.ClientID(c.ID)); err != nil {
			return err
		} else if n > 0 {
			continue
		}
		_, err := s.Registry.Register(ctx, registry.Registration{
			ClientID:     c.ID,
			Secret:       c.Secret,
			Name:         c.Name,
			Owner:        c.Owner,
			RedirectURIs: c.RedirectURIs,
			GrantTypes:   c.GrantTypes,
			Scopes:       c.Scopes,
		})
		if err != nil {
			return fmt.Errorf("client %s: %w", c.ID, err)
		}
	}

	if len(seed.Resources) == 0 {
		return nil
	}
	existing, err := s.Resources.List(ctx)
	if err != nil {
		return err
	}
	have := make(map[metadata.Key]bool, len(existing))
	for _, r := range existing {
		have[metadata.Key{Pattern: r.Pattern, Method: r.Method}] = true
	}
	for _, r := range seed.Resources {
		if have[metadata.Key{Pattern: r.Pattern, Method: resource.NormalizeMethod(r.Method)}] {
			continue
		}
		in := resource.Input{Pattern: r.Pattern, Method: r.Method, Authorities: r.Authorities}
		if _, err := s.Resources.Create(ctx, in); err != nil {
			return fmt.Errorf("resource %s: %w", r.Pattern, err)
		}
	}
	return nil
}

// RegisterRoutes mounts the HTTP surface on router
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.Use(otelgin.Middleware(s.cfg.Tracing.ServiceName))
	router.Use(s.errors.RecoveryMiddleware())
	router.Use(s.loggerMiddleware())
	router.Use(s.errors.ErrorMiddleware())
	if s.metrics != nil {
		router.Use(s.metrics.Middleware())
		router.GET(s.cfg.Metrics.Path, gin.WrapH(s.metrics.Handler()))
	}

	router.GET("/healthz", s.handleHealth)
	router.POST("/oauth/introspect", s.handleIntrospect)

	api := router.Group("/api")
	api.Use(middleware.Authorize(s.logger, s.Introspector, s.Metadata,
		middleware.WithDenyUnmapped(s.cfg.Server.DenyUnmapped),
		middleware.WithMetrics(s.metrics)))
	api.GET("/me", s.handleMe)
	api.GET("/resources", s.handleListResources)
}

// Close releases the storage and the notifier
func (s *Server) Close() error {
	err := s.store.Close()
	if s.peers != nil {
		err = errors.Join(err, s.peers.Close())
	}
	return err
}

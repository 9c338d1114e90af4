package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agriloop/api/internal/platform/config"
	"github.com/agriloop/api/internal/repositories"
	"github.com/agriloop/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Negotiations services.NegotiationService
	Orders       services.OrderService
	System       services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// ContainerOption customises container assembly.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	notifier services.NotificationDispatcher
	logger   func(ctx context.Context, event string, fields map[string]any)
	clock    func() time.Time
}

// WithNotifier wires the post-commit notification dispatcher into the
// lifecycle services.
func WithNotifier(notifier services.NotificationDispatcher) ContainerOption {
	return func(cfg *containerConfig) {
		cfg.notifier = notifier
	}
}

// WithServiceLogger wires a structured event logger into the services.
func WithServiceLogger(logger func(ctx context.Context, event string, fields map[string]any)) ContainerOption {
	return func(cfg *containerConfig) {
		cfg.logger = logger
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) ContainerOption {
	return func(cfg *containerConfig) {
		cfg.clock = clock
	}
}

// NewContainer constructs the runtime dependencies. Production wiring provides the
// Firestore-backed registry, while tests can supply in-memory registries.
func NewContainer(cfg config.Config, reg repositories.Registry, opts ...ContainerOption) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	var cc containerConfig
	for _, opt := range opts {
		opt(&cc)
	}
	if cc.clock == nil {
		cc.clock = time.Now
	}

	svc, err := buildServices(reg, cfg, cc)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, cc containerConfig) (Services, error) {
	var svc Services

	negotiations, err := services.NewNegotiationService(services.NegotiationServiceDeps{
		Negotiations:  reg.Negotiations(),
		Clock:         cc.clock,
		Notifier:      cc.notifier,
		Logger:        cc.logger,
		RetryAttempts: cfg.Engine.TransitionAttempts,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build negotiation service: %w", err)
	}
	svc.Negotiations = negotiations

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:             reg.Orders(),
		Clock:              cc.clock,
		Notifier:           cc.notifier,
		Logger:             cc.logger,
		RetryAttempts:      cfg.Engine.TransitionAttempts,
		ReconcileBatchSize: cfg.Engine.ReconcileBatchSize,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	if health := reg.Health(); health != nil {
		system, err := services.NewSystemService(services.SystemServiceDeps{
			Health: health,
			Clock:  cc.clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return svc, nil
}

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ChainTrace-Network/tracking_layer/internal/app/ledger"
	rolesvc "github.com/ChainTrace-Network/tracking_layer/internal/app/services/roles"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/services/settlement"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/services/tracking"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/storage"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/storage/memory"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/system"
	"github.com/ChainTrace-Network/tracking_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Items storage.ItemStore
	Roles storage.RoleStore
}

// Options carries the identities and tunables the services are composed
// with. Zero values fall back to local-development defaults.
type Options struct {
	// FeeCollector receives the cost price settled on item creation.
	FeeCollector string
	// Spender is the tracking layer's own ledger identity.
	Spender string
	// GenesisAdmin is granted the admin role during composition.
	GenesisAdmin string
	// Tokens is the fungible ledger used for settlement. Nil defaults to an
	// empty in-memory ledger.
	Tokens ledger.TokenLedger
	// Notifier receives lifecycle events. Nil defaults to the log sink.
	Notifier tracking.Notifier
	// MonitorInterval is the overdue scan cadence. Zero disables the monitor.
	MonitorInterval time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Roles      *rolesvc.Service
	Settlement *settlement.Service
	Tracking   *tracking.Service
	Tokens     ledger.TokenLedger
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Items == nil {
		stores.Items = mem
	}
	if stores.Roles == nil {
		stores.Roles = mem
	}

	if strings.TrimSpace(opts.FeeCollector) == "" {
		opts.FeeCollector = "fee-collector"
	}
	if strings.TrimSpace(opts.Spender) == "" {
		opts.Spender = "tracking-layer"
	}
	if strings.TrimSpace(opts.GenesisAdmin) == "" {
		opts.GenesisAdmin = "admin"
	}
	if opts.Tokens == nil {
		opts.Tokens = ledger.NewMemory()
	}

	manager := system.NewManager()

	roleService := rolesvc.New(stores.Roles, log)
	if err := roleService.Bootstrap(context.Background(), opts.GenesisAdmin); err != nil {
		return nil, fmt.Errorf("bootstrap roles: %w", err)
	}

	settlementService := settlement.New(opts.Tokens, opts.Spender, log)
	trackingService := tracking.New(stores.Items, roleService, settlementService, opts.FeeCollector, opts.Notifier, log)

	for _, name := range []string{"roles", "settlement", "tracking"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	if opts.MonitorInterval > 0 {
		monitor := tracking.NewOverdueMonitor(stores.Items, opts.MonitorInterval, log)
		if err := manager.Register(monitor); err != nil {
			return nil, fmt.Errorf("register %s: %w", monitor.Name(), err)
		}
	} else {
		log.Warn("monitor interval not set; overdue monitor disabled")
	}

	return &Application{
		manager:    manager,
		log:        log,
		Roles:      roleService,
		Settlement: settlementService,
		Tracking:   trackingService,
		Tokens:     opts.Tokens,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

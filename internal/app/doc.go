// Package app composes the supply-chain tracking services into a running
// application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── item/           # Item records, lifecycle states, history
//	│   └── role/           # Supply-chain roles
//	├── ledger/             # Fungible token ledger used for settlement
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # ItemStore and RoleStore contracts
//	│   ├── memory/         # In-memory implementation for tests
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic
//	│   ├── roles/          # Admin-gated role registry
//	│   ├── settlement/     # Escrowed payment settlement
//	│   └── tracking/       # Item registry and custody state machine
//	├── httpapi/            # REST handlers, auth middleware, audit trail
//	├── system/             # Lifecycle management for background services
//	├── config/             # YAML configuration with env overrides
//	└── metrics/            # Prometheus metrics
//
// # Responsibilities
//
// The app package wires stores, the token ledger and the three services
// together, grants the genesis admin and manages the background lifecycle.
// Business rules live under services/; this package only composes them.
//
// # Dependency Direction
//
//	cmd/trackerd/
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (business logic)
//	      │           │
//	      │           └──► internal/app/storage/ (persistence contracts)
//	      │
//	      └──► internal/app/ledger/ (settlement backend)
package app

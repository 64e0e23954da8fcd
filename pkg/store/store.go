package store

import (
	"context"
	"fmt"

	"github.com/sidewallet-engine/pkg/config"
)

// ErrUnavailable marks backend connection failures. Requests that hit it
// abort; per-signature ingestion errors do not use it.
var ErrUnavailable = fmt.Errorf("event store unavailable")

// EventStore is the persistence capability set the engine is polymorphic
// over. Three implementations: memory, sqlite, postgres.
//
// Window parameters (`since`) are epoch-second lower bounds; the caller
// derives them from its lookback setting. since <= 0 means unbounded.
type EventStore interface {
	UpsertWallet(ctx context.Context, address, exchange, tags string, firstSeen int64) error
	GetWallet(ctx context.Context, address string) (*Wallet, error)

	// InsertTransaction is idempotent by signature. The bool reports whether
	// a new row was written (false on conflict).
	InsertTransaction(ctx context.Context, tx Transaction) (bool, error)
	HasTransaction(ctx context.Context, signature string) (bool, error)

	// InsertTransferEvent is idempotent by (signature, event_index);
	// a conflicting insert is a no-op.
	InsertTransferEvent(ctx context.Context, ev TransferEvent) error

	// UpsertRelationship increments the aggregated edge totals. The
	// transaction count bumps only the first time sig is observed for the
	// (from, to) edge, so re-ingestion leaves it unchanged.
	UpsertRelationship(ctx context.Context, from, to string, nativeDelta, tokenDelta float64, sig string, blockTime int64) error
	GetRelationship(ctx context.Context, from, to string) (*WalletRelationship, error)

	GetNeighbors(ctx context.Context, address string, dir Direction, limit int) ([]Neighbor, error)
	GetSharedInboundSenders(ctx context.Context, a, b string, since int64, limit int) ([]SharedSender, error)
	GetTopCounterparties(ctx context.Context, address string, since int64, limit int) ([]Counterparty, error)
	GetBehavioralProfile(ctx context.Context, address string, since int64) (*BehavioralProfile, error)
	GetTemporalOverlap(ctx context.Context, a, b string, since int64, bucketSeconds int64) (*TemporalOverlap, error)

	CountTransferEvents(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (map[string]int64, error)
	Close() error
}

// Open selects a backend from configuration.
func Open(cfg *config.Config) (EventStore, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendSQLite:
		return NewSQLiteStore(cfg.DBPath)
	case config.BackendPostgres:
		return NewPostgresStore(cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", config.ErrInvalid, cfg.StorageBackend)
	}
}

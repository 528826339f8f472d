/*
store.go - Persistence interfaces for the catalog and the ledger

PURPOSE:
  Defines the interface between the warehouse core and the database.
  Implementations: in-memory (warehouse/store), SQLite (store/sqlite)
  and PostgreSQL (store/postgres).

KEY INTERFACES:
  CatalogStore:  Resources and units
  LedgerStore:   Arrivals and their lines
  BalanceReader: Pair totals and the grouped balance
  TxStore:       All of the above plus a transaction scope

NOT-FOUND CONTRACT:
  Single-row getters return (nil, nil) when the row does not exist. The
  services turn that into a NotFoundError with the right entity name.

TRANSACTIONS:
  Every arrival mutation runs inside WithTx. The Store handed to fn reads
  and writes through the same transaction, so the balance check sees the
  state the write will be applied to, and no other check-and-write can
  interleave. Implementations must report serialization failures as
  ConcurrencyConflictError and unique violations as DuplicateKeyError.

SEE ALSO:
  - ledger.go: Uses TxStore for arrival mutations
  - consistency.go: Uses BalanceReader + CatalogStore
*/
package warehouse

import "context"

// =============================================================================
// CATALOG STORE
// =============================================================================

// CatalogStore persists resources and units.
type CatalogStore interface {
	// GetEntry returns the entry or nil if it does not exist.
	GetEntry(ctx context.Context, kind CatalogKind, id int64) (*CatalogEntry, error)

	// FindEntryByName returns the entry with exactly this name, or nil.
	FindEntryByName(ctx context.Context, kind CatalogKind, name string) (*CatalogEntry, error)

	// ListEntries returns matching entries ordered by id.
	ListEntries(ctx context.Context, kind CatalogKind, filter CatalogFilter) ([]CatalogEntry, error)

	// InsertEntry stores a new entry and sets its ID.
	InsertEntry(ctx context.Context, entry *CatalogEntry) error

	// UpdateEntry overwrites name and state of an existing entry.
	UpdateEntry(ctx context.Context, entry CatalogEntry) error

	// IsReferenced reports whether any arrival line points at the entry.
	IsReferenced(ctx context.Context, kind CatalogKind, id int64) (bool, error)
}

// =============================================================================
// LEDGER STORE
// =============================================================================

// LedgerStore persists arrivals. Lines are always written as a full set.
type LedgerStore interface {
	// GetArrival returns the arrival with its lines, or nil.
	GetArrival(ctx context.Context, id int64) (*Arrival, error)

	// FindArrivalByNumber returns the arrival with exactly this number, or nil.
	FindArrivalByNumber(ctx context.Context, number string) (*Arrival, error)

	// ListArrivals returns matching arrivals with their lines, ordered by date then id.
	ListArrivals(ctx context.Context, filter ArrivalFilter) ([]Arrival, error)

	// InsertArrival stores the header and lines and sets all IDs.
	InsertArrival(ctx context.Context, arrival *Arrival) error

	// ReplaceArrival overwrites the header and replaces the whole line set.
	ReplaceArrival(ctx context.Context, arrival *Arrival) error

	// DeleteArrival removes the arrival and its lines.
	DeleteArrival(ctx context.Context, id int64) error
}

// =============================================================================
// BALANCE READER
// =============================================================================

// BalanceReader answers balance questions from persisted lines.
type BalanceReader interface {
	// PairTotal returns the sum of all line quantities of the pair across
	// every arrival. Zero when no line exists.
	PairTotal(ctx context.Context, key PairKey) (int64, error)

	// Balance groups matching lines by pair, joined with catalog names,
	// ordered by resource id then unit id.
	Balance(ctx context.Context, filter BalanceFilter) ([]BalanceEntry, error)
}

// =============================================================================
// STORE + TRANSACTIONAL STORE
// =============================================================================

// Store is the full persistence surface.
type Store interface {
	CatalogStore
	LedgerStore
	BalanceReader
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

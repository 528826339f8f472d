/*
Package warehouse provides the inventory ledger core.

PURPOSE:
  Catalogued resources and measurement units, arrival documents carrying
  stock into the warehouse, and the on-hand balance derived from them.
  Everything that has an invariant lives here; transport and persistence
  details live in api/ and store/.

KEY CONCEPTS IN THIS FILE (types.go):
  - CatalogEntry: A resource or a unit, identified by kind + id
  - ArchiveState: Active -> Archived, one way, guarded by "not referenced"
  - Arrival / ArrivalLine: An incoming-stock document and its line items
  - PairKey / LineSet: (resource, unit) keyed quantities used for diffs
  - BalanceEntry: Derived sum of line quantities per pair

DESIGN PRINCIPLES:
  1. Balance is never stored. It is always the sum of persisted lines.
  2. Line quantities are signed. A negative line is a correction and is
     the only way a pair total can drop.
  3. An arrival owns its lines: they are replaced and deleted as a unit.

SEE ALSO:
  - consistency.go: Non-negative balance check for arrival mutations
  - balance.go: Balance aggregation
  - ledger.go: Arrival operations
  - catalog.go: Resource/unit operations
*/
package warehouse

import (
	"fmt"
	"time"
)

// =============================================================================
// CATALOG - Resources and units
// =============================================================================

// CatalogKind tells resources and units apart. Both share the same shape and
// the same rules, only limits and storage tables differ.
type CatalogKind string

const (
	KindResource CatalogKind = "resource"
	KindUnit     CatalogKind = "unit"
)

// MaxNameLength returns the maximum name length, in runes, for the kind.
func (k CatalogKind) MaxNameLength() int {
	if k == KindUnit {
		return 50
	}
	return 100
}

func (k CatalogKind) String() string { return string(k) }

// ArchiveState is the lifecycle of a catalog entry.
type ArchiveState int

const (
	StateActive ArchiveState = iota
	StateArchived
)

func (s ArchiveState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateArchived:
		return "archived"
	default:
		return fmt.Sprintf("ArchiveState(%d)", int(s))
	}
}

// IsArchived reports whether the entry reached the terminal state.
func (s ArchiveState) IsArchived() bool { return s == StateArchived }

// ArchiveStateOf converts the persisted flag.
func ArchiveStateOf(archived bool) ArchiveState {
	if archived {
		return StateArchived
	}
	return StateActive
}

// Archive is the only legal transition. inUse must reflect whether any
// arrival line currently references the entry.
func (s ArchiveState) Archive(kind CatalogKind, id int64, inUse bool) (ArchiveState, error) {
	if s == StateArchived {
		return s, &AlreadyArchivedError{Kind: kind, ID: id}
	}
	if inUse {
		return s, &EntityInUseError{Kind: kind, ID: id}
	}
	return StateArchived, nil
}

// CatalogEntry is a resource or a unit.
type CatalogEntry struct {
	ID    int64
	Kind  CatalogKind
	Name  string
	State ArchiveState
}

// IsArchived reports whether the entry can no longer be referenced or edited.
func (e CatalogEntry) IsArchived() bool { return e.State.IsArchived() }

// CatalogFilter narrows catalog listings. Zero value lists everything.
type CatalogFilter struct {
	NameContains string
	Archived     *bool
}

// =============================================================================
// ARRIVALS - Incoming stock documents
// =============================================================================

// Arrival is one incoming-stock document.
type Arrival struct {
	ID     int64
	Number string
	Date   time.Time // UTC
	Lines  []ArrivalLine
}

// ArrivalLine is a single (resource, unit, quantity) item of an arrival.
type ArrivalLine struct {
	ID         int64
	ArrivalID  int64
	ResourceID int64
	UnitID     int64
	Quantity   int64
}

// Key returns the (resource, unit) pair the line contributes to.
func (l ArrivalLine) Key() PairKey {
	return PairKey{ResourceID: l.ResourceID, UnitID: l.UnitID}
}

// ArrivalInput is what callers supply to create or update an arrival.
type ArrivalInput struct {
	Number string
	Date   time.Time
	Lines  []LineInput
}

// LineInput is a proposed line item.
type LineInput struct {
	ResourceID int64
	UnitID     int64
	Quantity   int64
}

// Key returns the (resource, unit) pair of the proposed line.
func (l LineInput) Key() PairKey {
	return PairKey{ResourceID: l.ResourceID, UnitID: l.UnitID}
}

// ArrivalFilter narrows arrival listings. Empty fields do not restrict.
// ResourceIDs/UnitIDs match arrivals having at least one line with a listed id.
type ArrivalFilter struct {
	From        *time.Time
	To          *time.Time
	Numbers     []string
	ResourceIDs []int64
	UnitIDs     []int64
}

// =============================================================================
// PAIRS AND LINE SETS
// =============================================================================

// PairKey identifies a balance bucket.
type PairKey struct {
	ResourceID int64
	UnitID     int64
}

func (k PairKey) String() string {
	return fmt.Sprintf("(%d,%d)", k.ResourceID, k.UnitID)
}

// Less orders keys by resource, then unit.
func (k PairKey) Less(o PairKey) bool {
	if k.ResourceID != o.ResourceID {
		return k.ResourceID < o.ResourceID
	}
	return k.UnitID < o.UnitID
}

// LineSet maps a pair to the quantity one arrival contributes to it.
// Several lines of the same pair are summed.
type LineSet map[PairKey]int64

// NewLineSet builds the contribution map of persisted lines.
func NewLineSet(lines []ArrivalLine) LineSet {
	set := make(LineSet, len(lines))
	for _, l := range lines {
		set[l.Key()] += l.Quantity
	}
	return set
}

// NewProposedLineSet builds the contribution map of proposed lines.
func NewProposedLineSet(lines []LineInput) LineSet {
	set := make(LineSet, len(lines))
	for _, l := range lines {
		set[l.Key()] += l.Quantity
	}
	return set
}

// =============================================================================
// BALANCE
// =============================================================================

// BalanceEntry is the on-hand quantity of one pair.
type BalanceEntry struct {
	ResourceID   int64
	UnitID       int64
	ResourceName string
	UnitName     string
	Quantity     int64
}

// Key returns the pair of the entry.
func (b BalanceEntry) Key() PairKey {
	return PairKey{ResourceID: b.ResourceID, UnitID: b.UnitID}
}

// BalanceFilter narrows the balance query. Lists are OR-ed internally and
// AND-ed with each other; an empty list does not restrict.
type BalanceFilter struct {
	ResourceIDs []int64
	UnitIDs     []int64
}

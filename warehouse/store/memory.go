// Package store provides the in-memory Store implementation.
package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/warp/warehouse-ledger/warehouse"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements warehouse.TxStore. WithTx holds the write lock for the
// whole callback, so check-and-write sequences are serialized.
type Memory struct {
	mu   sync.RWMutex
	data *memoryData
}

type memoryData struct {
	entries  map[warehouse.CatalogKind]map[int64]warehouse.CatalogEntry
	arrivals map[int64]warehouse.Arrival
	lastID   int64
}

func NewMemory() *Memory {
	return &Memory{data: newMemoryData()}
}

func newMemoryData() *memoryData {
	return &memoryData{
		entries: map[warehouse.CatalogKind]map[int64]warehouse.CatalogEntry{
			warehouse.KindResource: {},
			warehouse.KindUnit:     {},
		},
		arrivals: make(map[int64]warehouse.Arrival),
	}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error
// or panic.
func (m *Memory) WithTx(ctx context.Context, fn func(warehouse.Store) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	defer func() {
		if p := recover(); p != nil {
			m.data = snapshot
			panic(p)
		}
		if err != nil {
			m.data = snapshot
		}
	}()
	return fn(m.data)
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newMemoryData()
	return nil
}

// =============================================================================
// LOCKED ACCESSORS
// =============================================================================

func (m *Memory) GetEntry(ctx context.Context, kind warehouse.CatalogKind, id int64) (*warehouse.CatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetEntry(ctx, kind, id)
}

func (m *Memory) FindEntryByName(ctx context.Context, kind warehouse.CatalogKind, name string) (*warehouse.CatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.FindEntryByName(ctx, kind, name)
}

func (m *Memory) ListEntries(ctx context.Context, kind warehouse.CatalogKind, filter warehouse.CatalogFilter) ([]warehouse.CatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListEntries(ctx, kind, filter)
}

func (m *Memory) InsertEntry(ctx context.Context, entry *warehouse.CatalogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertEntry(ctx, entry)
}

func (m *Memory) UpdateEntry(ctx context.Context, entry warehouse.CatalogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateEntry(ctx, entry)
}

func (m *Memory) IsReferenced(ctx context.Context, kind warehouse.CatalogKind, id int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.IsReferenced(ctx, kind, id)
}

func (m *Memory) GetArrival(ctx context.Context, id int64) (*warehouse.Arrival, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetArrival(ctx, id)
}

func (m *Memory) FindArrivalByNumber(ctx context.Context, number string) (*warehouse.Arrival, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.FindArrivalByNumber(ctx, number)
}

func (m *Memory) ListArrivals(ctx context.Context, filter warehouse.ArrivalFilter) ([]warehouse.Arrival, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListArrivals(ctx, filter)
}

func (m *Memory) InsertArrival(ctx context.Context, arrival *warehouse.Arrival) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertArrival(ctx, arrival)
}

func (m *Memory) ReplaceArrival(ctx context.Context, arrival *warehouse.Arrival) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ReplaceArrival(ctx, arrival)
}

func (m *Memory) DeleteArrival(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteArrival(ctx, id)
}

func (m *Memory) PairTotal(ctx context.Context, key warehouse.PairKey) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.PairTotal(ctx, key)
}

func (m *Memory) Balance(ctx context.Context, filter warehouse.BalanceFilter) ([]warehouse.BalanceEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.Balance(ctx, filter)
}

// =============================================================================
// UNLOCKED DATA - also the transactional view handed to WithTx callbacks
// =============================================================================

func (d *memoryData) nextID() int64 {
	d.lastID++
	return d.lastID
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		entries:  make(map[warehouse.CatalogKind]map[int64]warehouse.CatalogEntry, len(d.entries)),
		arrivals: make(map[int64]warehouse.Arrival, len(d.arrivals)),
		lastID:   d.lastID,
	}
	for kind, byID := range d.entries {
		cp := make(map[int64]warehouse.CatalogEntry, len(byID))
		for id, e := range byID {
			cp[id] = e
		}
		c.entries[kind] = cp
	}
	for id, a := range d.arrivals {
		c.arrivals[id] = copyArrival(a)
	}
	return c
}

func copyArrival(a warehouse.Arrival) warehouse.Arrival {
	a.Lines = append([]warehouse.ArrivalLine(nil), a.Lines...)
	return a
}

func (d *memoryData) GetEntry(_ context.Context, kind warehouse.CatalogKind, id int64) (*warehouse.CatalogEntry, error) {
	e, ok := d.entries[kind][id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (d *memoryData) FindEntryByName(_ context.Context, kind warehouse.CatalogKind, name string) (*warehouse.CatalogEntry, error) {
	for _, e := range d.entries[kind] {
		if e.Name == name {
			return &e, nil
		}
	}
	return nil, nil
}

func (d *memoryData) ListEntries(_ context.Context, kind warehouse.CatalogKind, filter warehouse.CatalogFilter) ([]warehouse.CatalogEntry, error) {
	out := make([]warehouse.CatalogEntry, 0, len(d.entries[kind]))
	for _, e := range d.entries[kind] {
		if filter.NameContains != "" && !strings.Contains(e.Name, filter.NameContains) {
			continue
		}
		if filter.Archived != nil && e.IsArchived() != *filter.Archived {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *memoryData) InsertEntry(ctx context.Context, entry *warehouse.CatalogEntry) error {
	if existing, _ := d.FindEntryByName(ctx, entry.Kind, entry.Name); existing != nil {
		return &warehouse.DuplicateKeyError{Entity: string(entry.Kind), Field: "name", Value: entry.Name}
	}
	entry.ID = d.nextID()
	d.entries[entry.Kind][entry.ID] = *entry
	return nil
}

func (d *memoryData) UpdateEntry(ctx context.Context, entry warehouse.CatalogEntry) error {
	if _, ok := d.entries[entry.Kind][entry.ID]; !ok {
		return &warehouse.NotFoundError{Entity: string(entry.Kind), ID: entry.ID}
	}
	if existing, _ := d.FindEntryByName(ctx, entry.Kind, entry.Name); existing != nil && existing.ID != entry.ID {
		return &warehouse.DuplicateKeyError{Entity: string(entry.Kind), Field: "name", Value: entry.Name}
	}
	d.entries[entry.Kind][entry.ID] = entry
	return nil
}

func (d *memoryData) IsReferenced(_ context.Context, kind warehouse.CatalogKind, id int64) (bool, error) {
	for _, a := range d.arrivals {
		for _, l := range a.Lines {
			if (kind == warehouse.KindResource && l.ResourceID == id) ||
				(kind == warehouse.KindUnit && l.UnitID == id) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (d *memoryData) GetArrival(_ context.Context, id int64) (*warehouse.Arrival, error) {
	a, ok := d.arrivals[id]
	if !ok {
		return nil, nil
	}
	a = copyArrival(a)
	return &a, nil
}

func (d *memoryData) FindArrivalByNumber(_ context.Context, number string) (*warehouse.Arrival, error) {
	for _, a := range d.arrivals {
		if a.Number == number {
			a = copyArrival(a)
			return &a, nil
		}
	}
	return nil, nil
}

func (d *memoryData) ListArrivals(_ context.Context, f warehouse.ArrivalFilter) ([]warehouse.Arrival, error) {
	out := make([]warehouse.Arrival, 0, len(d.arrivals))
	for _, a := range d.arrivals {
		if f.From != nil && a.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && a.Date.After(*f.To) {
			continue
		}
		if len(f.Numbers) > 0 && !slices.Contains(f.Numbers, a.Number) {
			continue
		}
		if len(f.ResourceIDs) > 0 && !slices.ContainsFunc(a.Lines, func(l warehouse.ArrivalLine) bool {
			return slices.Contains(f.ResourceIDs, l.ResourceID)
		}) {
			continue
		}
		if len(f.UnitIDs) > 0 && !slices.ContainsFunc(a.Lines, func(l warehouse.ArrivalLine) bool {
			return slices.Contains(f.UnitIDs, l.UnitID)
		}) {
			continue
		}
		out = append(out, copyArrival(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *memoryData) InsertArrival(ctx context.Context, arrival *warehouse.Arrival) error {
	if existing, _ := d.FindArrivalByNumber(ctx, arrival.Number); existing != nil {
		return &warehouse.DuplicateKeyError{Entity: "arrival", Field: "number", Value: arrival.Number}
	}
	arrival.ID = d.nextID()
	d.assignLineIDs(arrival)
	d.arrivals[arrival.ID] = copyArrival(*arrival)
	return nil
}

func (d *memoryData) ReplaceArrival(ctx context.Context, arrival *warehouse.Arrival) error {
	if _, ok := d.arrivals[arrival.ID]; !ok {
		return &warehouse.NotFoundError{Entity: "arrival", ID: arrival.ID}
	}
	if existing, _ := d.FindArrivalByNumber(ctx, arrival.Number); existing != nil && existing.ID != arrival.ID {
		return &warehouse.DuplicateKeyError{Entity: "arrival", Field: "number", Value: arrival.Number}
	}
	d.assignLineIDs(arrival)
	d.arrivals[arrival.ID] = copyArrival(*arrival)
	return nil
}

func (d *memoryData) assignLineIDs(arrival *warehouse.Arrival) {
	for i := range arrival.Lines {
		arrival.Lines[i].ID = d.nextID()
		arrival.Lines[i].ArrivalID = arrival.ID
	}
}

func (d *memoryData) DeleteArrival(_ context.Context, id int64) error {
	if _, ok := d.arrivals[id]; !ok {
		return &warehouse.NotFoundError{Entity: "arrival", ID: id}
	}
	delete(d.arrivals, id)
	return nil
}

func (d *memoryData) PairTotal(_ context.Context, key warehouse.PairKey) (int64, error) {
	var total int64
	for _, a := range d.arrivals {
		for _, l := range a.Lines {
			if l.Key() == key {
				total += l.Quantity
			}
		}
	}
	return total, nil
}

func (d *memoryData) Balance(_ context.Context, filter warehouse.BalanceFilter) ([]warehouse.BalanceEntry, error) {
	var lines []warehouse.ArrivalLine
	for _, a := range d.arrivals {
		lines = append(lines, a.Lines...)
	}
	names := func(kind warehouse.CatalogKind, id int64) string {
		return d.entries[kind][id].Name
	}
	return warehouse.Aggregate(lines, names, filter), nil
}

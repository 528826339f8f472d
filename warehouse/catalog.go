/*
catalog.go - Resource and unit operations

PURPOSE:
  Plain CRUD for catalog entries plus the one-way archive transition.
  Resources and units follow identical rules, so each operation is written
  once against a CatalogKind and exposed under both names.

RULES:
  - Names are validated per kind and unique per kind.
  - Archived entries cannot be renamed.
  - Archiving fails when the entry is already archived or when any arrival
    line references it. The reference check and the write share one
    transaction, so a concurrent arrival cannot sneak in between.
*/
package warehouse

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Catalog runs resource and unit operations against a transactional store.
type Catalog struct {
	store    TxStore
	logger   *zap.Logger
	observer Observer
}

// NewCatalog creates a catalog service over store.
func NewCatalog(store TxStore, opts ...Option) *Catalog {
	o := buildOptions(opts)
	return &Catalog{store: store, logger: o.logger, observer: o.observer}
}

// =============================================================================
// RESOURCES
// =============================================================================

func (c *Catalog) CreateResource(ctx context.Context, name string) (*CatalogEntry, error) {
	return c.Create(ctx, KindResource, name)
}

func (c *Catalog) UpdateResource(ctx context.Context, id int64, name string) (*CatalogEntry, error) {
	return c.Update(ctx, KindResource, id, name)
}

func (c *Catalog) ArchiveResource(ctx context.Context, id int64) error {
	return c.Archive(ctx, KindResource, id)
}

func (c *Catalog) GetResource(ctx context.Context, id int64) (*CatalogEntry, error) {
	return c.Get(ctx, KindResource, id)
}

func (c *Catalog) ListResources(ctx context.Context, filter CatalogFilter) ([]CatalogEntry, error) {
	return c.List(ctx, KindResource, filter)
}

// =============================================================================
// UNITS
// =============================================================================

func (c *Catalog) CreateUnit(ctx context.Context, name string) (*CatalogEntry, error) {
	return c.Create(ctx, KindUnit, name)
}

func (c *Catalog) UpdateUnit(ctx context.Context, id int64, name string) (*CatalogEntry, error) {
	return c.Update(ctx, KindUnit, id, name)
}

func (c *Catalog) ArchiveUnit(ctx context.Context, id int64) error {
	return c.Archive(ctx, KindUnit, id)
}

func (c *Catalog) GetUnit(ctx context.Context, id int64) (*CatalogEntry, error) {
	return c.Get(ctx, KindUnit, id)
}

func (c *Catalog) ListUnits(ctx context.Context, filter CatalogFilter) ([]CatalogEntry, error) {
	return c.List(ctx, KindUnit, filter)
}

// =============================================================================
// KIND-GENERIC OPERATIONS
// =============================================================================

// Create stores a new active entry.
func (c *Catalog) Create(ctx context.Context, kind CatalogKind, name string) (*CatalogEntry, error) {
	if err := ValidateName(kind, name); err != nil {
		return nil, c.finish(OpCreateEntry, err, kind, zap.String("name", name))
	}

	entry := &CatalogEntry{Kind: kind, Name: name, State: StateActive}
	err := runTx(ctx, c.store, OpCreateEntry, c.observer, c.logger, func(s Store) error {
		if err := ensureUniqueName(ctx, s, kind, name, 0); err != nil {
			return err
		}
		entry.ID = 0
		return s.InsertEntry(ctx, entry)
	})
	if err != nil {
		return nil, c.finish(OpCreateEntry, err, kind, zap.String("name", name))
	}
	c.finish(OpCreateEntry, nil, kind, zap.Int64("id", entry.ID), zap.String("name", name))
	return entry, nil
}

// Update renames an active entry.
func (c *Catalog) Update(ctx context.Context, kind CatalogKind, id int64, name string) (*CatalogEntry, error) {
	if err := ValidateName(kind, name); err != nil {
		return nil, c.finish(OpUpdateEntry, err, kind, zap.Int64("id", id))
	}

	var updated CatalogEntry
	err := runTx(ctx, c.store, OpUpdateEntry, c.observer, c.logger, func(s Store) error {
		current, err := loadEntry(ctx, s, kind, id)
		if err != nil {
			return err
		}
		if current.IsArchived() {
			return &ArchivedReferenceError{Kind: kind, ID: id, Name: current.Name}
		}
		if err := ensureUniqueName(ctx, s, kind, name, id); err != nil {
			return err
		}
		updated = *current
		updated.Name = name
		return s.UpdateEntry(ctx, updated)
	})
	if err != nil {
		return nil, c.finish(OpUpdateEntry, err, kind, zap.Int64("id", id))
	}
	c.finish(OpUpdateEntry, nil, kind, zap.Int64("id", id), zap.String("name", name))
	return &updated, nil
}

// Archive moves an unreferenced entry to the archived state.
func (c *Catalog) Archive(ctx context.Context, kind CatalogKind, id int64) error {
	err := runTx(ctx, c.store, OpArchiveEntry, c.observer, c.logger, func(s Store) error {
		current, err := loadEntry(ctx, s, kind, id)
		if err != nil {
			return err
		}
		inUse, err := s.IsReferenced(ctx, kind, id)
		if err != nil {
			return fmt.Errorf("failed to check references of %s %d: %w", kind, id, err)
		}
		next, err := current.State.Archive(kind, id, inUse)
		if err != nil {
			var inUseErr *EntityInUseError
			if errors.As(err, &inUseErr) {
				inUseErr.Name = current.Name
			}
			return err
		}
		current.State = next
		return s.UpdateEntry(ctx, *current)
	})
	return c.finish(OpArchiveEntry, err, kind, zap.Int64("id", id))
}

// Get returns one entry.
func (c *Catalog) Get(ctx context.Context, kind CatalogKind, id int64) (*CatalogEntry, error) {
	return loadEntry(ctx, c.store, kind, id)
}

// List returns entries matching filter.
func (c *Catalog) List(ctx context.Context, kind CatalogKind, filter CatalogFilter) ([]CatalogEntry, error) {
	return c.store.ListEntries(ctx, kind, filter)
}

func (c *Catalog) finish(op string, err error, kind CatalogKind, fields ...zap.Field) error {
	return finish(c.logger, c.observer, op, err, append(fields, zap.String("kind", string(kind)))...)
}

func loadEntry(ctx context.Context, s CatalogStore, kind CatalogKind, id int64) (*CatalogEntry, error) {
	e, err := s.GetEntry(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %d: %w", kind, id, err)
	}
	if e == nil {
		return nil, &NotFoundError{Entity: string(kind), ID: id}
	}
	return e, nil
}

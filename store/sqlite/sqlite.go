/*
Package sqlite provides a SQLite-backed implementation of warehouse.TxStore.

PURPOSE:
  Persists resources, units, arrivals and arrival lines in SQLite. Balances
  are never stored; they are summed from arrival_lines on every read.

KEY TABLES:
  resources, units:  Catalog entries with a unique name and an archive flag
  arrivals:          Header rows, unique number, date stored as UTC text
  arrival_lines:     Signed quantities per (resource, unit), cascading deletes

INDEXES:
  - idx_arrival_lines_pair: Pair totals and balance (hot path)
  - idx_arrivals_number, idx_resources_name, idx_units_name: Uniqueness

CONCURRENCY:
  The database is opened with a single connection and _txlock=immediate, so
  every WithTx takes the write lock at BEGIN. Together with the process mutex
  this serializes check-and-write sequences; a SQLITE_BUSY after the busy
  timeout surfaces as warehouse.ConcurrencyConflictError.

MIGRATION:
  Versioned goose migrations are embedded and applied on New().

USAGE:
  store, err := sqlite.New("./data/warehouse.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := warehouse.NewLedger(store)

SEE ALSO:
  - warehouse/store.go: Interface definitions
  - warehouse/store/memory.go: In-memory implementation for testing
  - store/postgres: Server-grade implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/warp/warehouse-ledger/warehouse"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// dateLayout is fixed width so text comparison orders like time.
const dateLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements warehouse.TxStore using SQLite.
type Store struct {
	queries
	db *sqlx.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path and applies
// pending migrations. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	store, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Open opens the database without touching the schema.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and makes SQLite's
	// single-writer rule explicit.
	db.SetMaxOpenConns(1)

	return &Store{queries: queries{x: db}, db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies pending migrations and returns the versions applied.
func (s *Store) Migrate(ctx context.Context) ([]int64, error) {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db.DB, fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return nil, err
	}
	versions := make([]int64, 0, len(results))
	for _, r := range results {
		versions = append(versions, r.Source.Version)
	}
	return versions, nil
}

// =============================================================================
// TRANSACTIONAL STORE (warehouse.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. fn receives a view bound
// to the transaction; it must not use the outer Store.
func (s *Store) WithTx(ctx context.Context, fn func(store warehouse.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	defer tx.Rollback()

	if err := fn(queries{x: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"arrival_lines", "arrivals", "resources", "units", "sqlite_sequence"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// QUERIES - shared by the Store and its transaction views
// =============================================================================

type queries struct {
	x sqlx.ExtContext
}

type entryRow struct {
	ID         int64  `db:"id"`
	Name       string `db:"name"`
	IsArchived bool   `db:"is_archived"`
}

func (r entryRow) entry(kind warehouse.CatalogKind) warehouse.CatalogEntry {
	return warehouse.CatalogEntry{ID: r.ID, Kind: kind, Name: r.Name, State: warehouse.ArchiveStateOf(r.IsArchived)}
}

type arrivalRow struct {
	ID     int64  `db:"id"`
	Number string `db:"number"`
	Date   string `db:"date"`
}

type lineRow struct {
	ID         int64 `db:"id"`
	ArrivalID  int64 `db:"arrival_id"`
	ResourceID int64 `db:"resource_id"`
	UnitID     int64 `db:"unit_id"`
	Quantity   int64 `db:"quantity"`
}

type balanceRow struct {
	ResourceID   int64  `db:"resource_id"`
	UnitID       int64  `db:"unit_id"`
	ResourceName string `db:"resource_name"`
	UnitName     string `db:"unit_name"`
	Quantity     int64  `db:"quantity"`
}

func tableFor(kind warehouse.CatalogKind) string {
	if kind == warehouse.KindUnit {
		return "units"
	}
	return "resources"
}

func columnFor(kind warehouse.CatalogKind) string {
	if kind == warehouse.KindUnit {
		return "unit_id"
	}
	return "resource_id"
}

// =============================================================================
// CATALOG
// =============================================================================

func (q queries) GetEntry(ctx context.Context, kind warehouse.CatalogKind, id int64) (*warehouse.CatalogEntry, error) {
	return q.getEntry(ctx, kind, "SELECT id, name, is_archived FROM "+tableFor(kind)+" WHERE id = ?", id)
}

func (q queries) FindEntryByName(ctx context.Context, kind warehouse.CatalogKind, name string) (*warehouse.CatalogEntry, error) {
	return q.getEntry(ctx, kind, "SELECT id, name, is_archived FROM "+tableFor(kind)+" WHERE name = ?", name)
}

func (q queries) getEntry(ctx context.Context, kind warehouse.CatalogKind, query string, arg any) (*warehouse.CatalogEntry, error) {
	var row entryRow
	if err := sqlx.GetContext(ctx, q.x, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("get "+string(kind), err)
	}
	e := row.entry(kind)
	return &e, nil
}

func (q queries) ListEntries(ctx context.Context, kind warehouse.CatalogKind, filter warehouse.CatalogFilter) ([]warehouse.CatalogEntry, error) {
	query := "SELECT id, name, is_archived FROM " + tableFor(kind) + " WHERE 1=1"
	var args []any
	if filter.NameContains != "" {
		query += " AND instr(name, ?) > 0"
		args = append(args, filter.NameContains)
	}
	if filter.Archived != nil {
		query += " AND is_archived = ?"
		args = append(args, *filter.Archived)
	}
	query += " ORDER BY id"

	var rows []entryRow
	if err := sqlx.SelectContext(ctx, q.x, &rows, query, args...); err != nil {
		return nil, classify("list "+string(kind), err)
	}
	out := make([]warehouse.CatalogEntry, len(rows))
	for i, r := range rows {
		out[i] = r.entry(kind)
	}
	return out, nil
}

func (q queries) InsertEntry(ctx context.Context, entry *warehouse.CatalogEntry) error {
	res, err := q.x.ExecContext(ctx,
		"INSERT INTO "+tableFor(entry.Kind)+" (name, is_archived) VALUES (?, ?)",
		entry.Name, entry.IsArchived())
	if err != nil {
		return classifyWrite("insert "+string(entry.Kind), err, &warehouse.DuplicateKeyError{Entity: string(entry.Kind), Field: "name", Value: entry.Name})
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read %s id: %w", entry.Kind, err)
	}
	entry.ID = id
	return nil
}

func (q queries) UpdateEntry(ctx context.Context, entry warehouse.CatalogEntry) error {
	res, err := q.x.ExecContext(ctx,
		"UPDATE "+tableFor(entry.Kind)+" SET name = ?, is_archived = ? WHERE id = ?",
		entry.Name, entry.IsArchived(), entry.ID)
	if err != nil {
		return classifyWrite("update "+string(entry.Kind), err, &warehouse.DuplicateKeyError{Entity: string(entry.Kind), Field: "name", Value: entry.Name})
	}
	return requireRow(res, string(entry.Kind), entry.ID)
}

func (q queries) IsReferenced(ctx context.Context, kind warehouse.CatalogKind, id int64) (bool, error) {
	var exists bool
	query := "SELECT EXISTS (SELECT 1 FROM arrival_lines WHERE " + columnFor(kind) + " = ?)"
	if err := sqlx.GetContext(ctx, q.x, &exists, query, id); err != nil {
		return false, classify("check references", err)
	}
	return exists, nil
}

// =============================================================================
// ARRIVALS
// =============================================================================

func (q queries) GetArrival(ctx context.Context, id int64) (*warehouse.Arrival, error) {
	return q.getArrival(ctx, "SELECT id, number, date FROM arrivals WHERE id = ?", id)
}

func (q queries) FindArrivalByNumber(ctx context.Context, number string) (*warehouse.Arrival, error) {
	return q.getArrival(ctx, "SELECT id, number, date FROM arrivals WHERE number = ?", number)
}

func (q queries) getArrival(ctx context.Context, query string, arg any) (*warehouse.Arrival, error) {
	var row arrivalRow
	if err := sqlx.GetContext(ctx, q.x, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("get arrival", err)
	}
	arrivals, err := q.withLines(ctx, []arrivalRow{row})
	if err != nil {
		return nil, err
	}
	return &arrivals[0], nil
}

func (q queries) ListArrivals(ctx context.Context, f warehouse.ArrivalFilter) ([]warehouse.Arrival, error) {
	query := "SELECT id, number, date FROM arrivals WHERE 1=1"
	var args []any
	if f.From != nil {
		query += " AND date >= ?"
		args = append(args, formatDate(*f.From))
	}
	if f.To != nil {
		query += " AND date <= ?"
		args = append(args, formatDate(*f.To))
	}
	if len(f.Numbers) > 0 {
		query += " AND number IN (?)"
		args = append(args, f.Numbers)
	}
	if len(f.ResourceIDs) > 0 {
		query += " AND id IN (SELECT arrival_id FROM arrival_lines WHERE resource_id IN (?))"
		args = append(args, f.ResourceIDs)
	}
	if len(f.UnitIDs) > 0 {
		query += " AND id IN (SELECT arrival_id FROM arrival_lines WHERE unit_id IN (?))"
		args = append(args, f.UnitIDs)
	}
	query += " ORDER BY date, id"

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to expand arrival filter: %w", err)
	}

	var rows []arrivalRow
	if err := sqlx.SelectContext(ctx, q.x, &rows, q.x.Rebind(query), args...); err != nil {
		return nil, classify("list arrivals", err)
	}
	return q.withLines(ctx, rows)
}

// withLines loads the lines of all given arrivals with one query.
func (q queries) withLines(ctx context.Context, rows []arrivalRow) ([]warehouse.Arrival, error) {
	out := make([]warehouse.Arrival, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	ids := make([]int64, len(rows))
	index := make(map[int64]int, len(rows))
	for i, r := range rows {
		date, err := time.Parse(dateLayout, r.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date of arrival %d: %w", r.ID, err)
		}
		out[i] = warehouse.Arrival{ID: r.ID, Number: r.Number, Date: date, Lines: []warehouse.ArrivalLine{}}
		ids[i] = r.ID
		index[r.ID] = i
	}

	query, args, err := sqlx.In(
		"SELECT id, arrival_id, resource_id, unit_id, quantity FROM arrival_lines WHERE arrival_id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	var lines []lineRow
	if err := sqlx.SelectContext(ctx, q.x, &lines, q.x.Rebind(query), args...); err != nil {
		return nil, classify("load arrival lines", err)
	}
	for _, l := range lines {
		a := &out[index[l.ArrivalID]]
		a.Lines = append(a.Lines, warehouse.ArrivalLine{
			ID:         l.ID,
			ArrivalID:  l.ArrivalID,
			ResourceID: l.ResourceID,
			UnitID:     l.UnitID,
			Quantity:   l.Quantity,
		})
	}
	return out, nil
}

func (q queries) InsertArrival(ctx context.Context, arrival *warehouse.Arrival) error {
	res, err := q.x.ExecContext(ctx,
		"INSERT INTO arrivals (number, date) VALUES (?, ?)",
		arrival.Number, formatDate(arrival.Date))
	if err != nil {
		return classifyWrite("insert arrival", err, &warehouse.DuplicateKeyError{Entity: "arrival", Field: "number", Value: arrival.Number})
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read arrival id: %w", err)
	}
	arrival.ID = id
	return q.insertLines(ctx, arrival)
}

func (q queries) ReplaceArrival(ctx context.Context, arrival *warehouse.Arrival) error {
	res, err := q.x.ExecContext(ctx,
		"UPDATE arrivals SET number = ?, date = ? WHERE id = ?",
		arrival.Number, formatDate(arrival.Date), arrival.ID)
	if err != nil {
		return classifyWrite("update arrival", err, &warehouse.DuplicateKeyError{Entity: "arrival", Field: "number", Value: arrival.Number})
	}
	if err := requireRow(res, "arrival", arrival.ID); err != nil {
		return err
	}
	if _, err := q.x.ExecContext(ctx, "DELETE FROM arrival_lines WHERE arrival_id = ?", arrival.ID); err != nil {
		return classify("clear arrival lines", err)
	}
	return q.insertLines(ctx, arrival)
}

func (q queries) insertLines(ctx context.Context, arrival *warehouse.Arrival) error {
	for i := range arrival.Lines {
		l := &arrival.Lines[i]
		l.ArrivalID = arrival.ID
		res, err := q.x.ExecContext(ctx,
			"INSERT INTO arrival_lines (arrival_id, resource_id, unit_id, quantity) VALUES (?, ?, ?, ?)",
			l.ArrivalID, l.ResourceID, l.UnitID, l.Quantity)
		if err != nil {
			return classify("insert arrival line", err)
		}
		if l.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read arrival line id: %w", err)
		}
	}
	return nil
}

func (q queries) DeleteArrival(ctx context.Context, id int64) error {
	res, err := q.x.ExecContext(ctx, "DELETE FROM arrivals WHERE id = ?", id)
	if err != nil {
		return classify("delete arrival", err)
	}
	return requireRow(res, "arrival", id)
}

// =============================================================================
// BALANCE
// =============================================================================

func (q queries) PairTotal(ctx context.Context, key warehouse.PairKey) (int64, error) {
	var total int64
	err := sqlx.GetContext(ctx, q.x, &total,
		"SELECT COALESCE(SUM(quantity), 0) FROM arrival_lines WHERE resource_id = ? AND unit_id = ?",
		key.ResourceID, key.UnitID)
	if err != nil {
		return 0, classify("sum pair", err)
	}
	return total, nil
}

func (q queries) Balance(ctx context.Context, filter warehouse.BalanceFilter) ([]warehouse.BalanceEntry, error) {
	query := `
		SELECT l.resource_id, l.unit_id, r.name AS resource_name, u.name AS unit_name,
		       SUM(l.quantity) AS quantity
		FROM arrival_lines l
		JOIN resources r ON r.id = l.resource_id
		JOIN units u ON u.id = l.unit_id
		WHERE 1=1`
	var args []any
	if len(filter.ResourceIDs) > 0 {
		query += " AND l.resource_id IN (?)"
		args = append(args, filter.ResourceIDs)
	}
	if len(filter.UnitIDs) > 0 {
		query += " AND l.unit_id IN (?)"
		args = append(args, filter.UnitIDs)
	}
	query += " GROUP BY l.resource_id, l.unit_id, r.name, u.name ORDER BY l.resource_id, l.unit_id"

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to expand balance filter: %w", err)
	}

	var rows []balanceRow
	if err := sqlx.SelectContext(ctx, q.x, &rows, q.x.Rebind(query), args...); err != nil {
		return nil, classify("balance", err)
	}
	out := make([]warehouse.BalanceEntry, len(rows))
	for i, r := range rows {
		out[i] = warehouse.BalanceEntry(r)
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func requireRow(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return &warehouse.NotFoundError{Entity: entity, ID: id}
	}
	return nil
}

// classify maps lock contention to ConcurrencyConflictError and wraps
// everything else.
func classify(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return &warehouse.ConcurrencyConflictError{Op: op, Err: err}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// classifyWrite additionally maps unique index violations to dup.
func classifyWrite(op string, err error, dup *warehouse.DuplicateKeyError) error {
	if isUniqueConstraintError(err) {
		return dup
	}
	return classify(op, err)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

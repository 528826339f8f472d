/*
Package postgres provides a PostgreSQL-backed implementation of warehouse.TxStore.

PURPOSE:
  Same relations and semantics as store/sqlite, on a pgx connection pool.

CONCURRENCY:
  WithTx runs at SERIALIZABLE isolation. Two transactions that read the same
  pair total and both write lines for it cannot both commit; the loser gets
  SQLSTATE 40001, which is returned as warehouse.ConcurrencyConflictError and
  retried once by the ledger.

ERROR MAPPING:
  40001, 40P01 -> warehouse.ConcurrencyConflictError
  23505        -> warehouse.DuplicateKeyError
  other        -> wrapped, surfaces as an internal failure

SEE ALSO:
  - store/sqlite: Embedded implementation with the same schema
*/
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/warp/warehouse-ledger/warehouse"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// Store implements warehouse.TxStore using PostgreSQL.
type Store struct {
	queries
	pool *pgxpool.Pool
}

// New connects to dsn and applies pending migrations. maxConns <= 0 keeps
// the pool default.
func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	store, err := Open(ctx, dsn, maxConns)
	if err != nil {
		return nil, err
	}
	if _, err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Open connects to dsn without touching the schema.
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{queries: queries{q: pool}, pool: pool}, nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate applies pending migrations and returns the versions applied.
func (s *Store) Migrate(ctx context.Context) ([]int64, error) {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
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

// WithTx executes fn within a serializable transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store warehouse.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classify("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "TRUNCATE arrival_lines, arrivals, resources, units RESTART IDENTITY")
	if err != nil {
		return fmt.Errorf("failed to reset: %w", err)
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	q querier
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

func (q queries) GetEntry(ctx context.Context, kind warehouse.CatalogKind, id int64) (*warehouse.CatalogEntry, error) {
	return q.getEntry(ctx, kind, "SELECT id, name, is_archived FROM "+tableFor(kind)+" WHERE id = $1", id)
}

func (q queries) FindEntryByName(ctx context.Context, kind warehouse.CatalogKind, name string) (*warehouse.CatalogEntry, error) {
	return q.getEntry(ctx, kind, "SELECT id, name, is_archived FROM "+tableFor(kind)+" WHERE name = $1", name)
}

func (q queries) getEntry(ctx context.Context, kind warehouse.CatalogKind, query string, arg any) (*warehouse.CatalogEntry, error) {
	e := warehouse.CatalogEntry{Kind: kind}
	var archived bool
	err := q.q.QueryRow(ctx, query, arg).Scan(&e.ID, &e.Name, &archived)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get "+string(kind), err)
	}
	e.State = warehouse.ArchiveStateOf(archived)
	return &e, nil
}

func (q queries) ListEntries(ctx context.Context, kind warehouse.CatalogKind, filter warehouse.CatalogFilter) ([]warehouse.CatalogEntry, error) {
	query := "SELECT id, name, is_archived FROM " + tableFor(kind) + " WHERE 1=1"
	var args []any
	if filter.NameContains != "" {
		args = append(args, filter.NameContains)
		query += fmt.Sprintf(" AND strpos(name, $%d) > 0", len(args))
	}
	if filter.Archived != nil {
		args = append(args, *filter.Archived)
		query += fmt.Sprintf(" AND is_archived = $%d", len(args))
	}
	query += " ORDER BY id"

	rows, err := q.q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list "+string(kind), err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (warehouse.CatalogEntry, error) {
		e := warehouse.CatalogEntry{Kind: kind}
		var archived bool
		err := row.Scan(&e.ID, &e.Name, &archived)
		e.State = warehouse.ArchiveStateOf(archived)
		return e, err
	})
	if err != nil {
		return nil, classify("list "+string(kind), err)
	}
	return out, nil
}

func (q queries) InsertEntry(ctx context.Context, entry *warehouse.CatalogEntry) error {
	err := q.q.QueryRow(ctx,
		"INSERT INTO "+tableFor(entry.Kind)+" (name, is_archived) VALUES ($1, $2) RETURNING id",
		entry.Name, entry.IsArchived()).Scan(&entry.ID)
	if err != nil {
		return classifyWrite("insert "+string(entry.Kind), err, &warehouse.DuplicateKeyError{Entity: string(entry.Kind), Field: "name", Value: entry.Name})
	}
	return nil
}

func (q queries) UpdateEntry(ctx context.Context, entry warehouse.CatalogEntry) error {
	tag, err := q.q.Exec(ctx,
		"UPDATE "+tableFor(entry.Kind)+" SET name = $1, is_archived = $2 WHERE id = $3",
		entry.Name, entry.IsArchived(), entry.ID)
	if err != nil {
		return classifyWrite("update "+string(entry.Kind), err, &warehouse.DuplicateKeyError{Entity: string(entry.Kind), Field: "name", Value: entry.Name})
	}
	if tag.RowsAffected() == 0 {
		return &warehouse.NotFoundError{Entity: string(entry.Kind), ID: entry.ID}
	}
	return nil
}

func (q queries) IsReferenced(ctx context.Context, kind warehouse.CatalogKind, id int64) (bool, error) {
	var exists bool
	err := q.q.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM arrival_lines WHERE "+columnFor(kind)+" = $1)", id).Scan(&exists)
	if err != nil {
		return false, classify("check references", err)
	}
	return exists, nil
}

func (q queries) GetArrival(ctx context.Context, id int64) (*warehouse.Arrival, error) {
	return q.getArrival(ctx, "SELECT id, number, date FROM arrivals WHERE id = $1", id)
}

func (q queries) FindArrivalByNumber(ctx context.Context, number string) (*warehouse.Arrival, error) {
	return q.getArrival(ctx, "SELECT id, number, date FROM arrivals WHERE number = $1", number)
}

func (q queries) getArrival(ctx context.Context, query string, arg any) (*warehouse.Arrival, error) {
	rows, err := q.q.Query(ctx, query, arg)
	if err != nil {
		return nil, classify("get arrival", err)
	}
	arrivals, err := q.collectArrivals(ctx, rows)
	if err != nil {
		return nil, err
	}
	if len(arrivals) == 0 {
		return nil, nil
	}
	return &arrivals[0], nil
}

func (q queries) ListArrivals(ctx context.Context, f warehouse.ArrivalFilter) ([]warehouse.Arrival, error) {
	query := "SELECT id, number, date FROM arrivals WHERE 1=1"
	var args []any
	if f.From != nil {
		args = append(args, *f.From)
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		query += fmt.Sprintf(" AND date <= $%d", len(args))
	}
	if len(f.Numbers) > 0 {
		args = append(args, f.Numbers)
		query += fmt.Sprintf(" AND number = ANY($%d)", len(args))
	}
	if len(f.ResourceIDs) > 0 {
		args = append(args, f.ResourceIDs)
		query += fmt.Sprintf(" AND id IN (SELECT arrival_id FROM arrival_lines WHERE resource_id = ANY($%d))", len(args))
	}
	if len(f.UnitIDs) > 0 {
		args = append(args, f.UnitIDs)
		query += fmt.Sprintf(" AND id IN (SELECT arrival_id FROM arrival_lines WHERE unit_id = ANY($%d))", len(args))
	}
	query += " ORDER BY date, id"

	rows, err := q.q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list arrivals", err)
	}
	return q.collectArrivals(ctx, rows)
}

func (q queries) collectArrivals(ctx context.Context, rows pgx.Rows) ([]warehouse.Arrival, error) {
	arrivals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (warehouse.Arrival, error) {
		a := warehouse.Arrival{Lines: []warehouse.ArrivalLine{}}
		err := row.Scan(&a.ID, &a.Number, &a.Date)
		a.Date = a.Date.UTC()
		return a, err
	})
	if err != nil {
		return nil, classify("load arrivals", err)
	}
	if len(arrivals) == 0 {
		return arrivals, nil
	}

	ids := make([]int64, len(arrivals))
	index := make(map[int64]int, len(arrivals))
	for i, a := range arrivals {
		ids[i] = a.ID
		index[a.ID] = i
	}

	lineRows, err := q.q.Query(ctx,
		"SELECT id, arrival_id, resource_id, unit_id, quantity FROM arrival_lines WHERE arrival_id = ANY($1) ORDER BY id", ids)
	if err != nil {
		return nil, classify("load arrival lines", err)
	}
	lines, err := pgx.CollectRows(lineRows, pgx.RowToStructByPos[warehouse.ArrivalLine])
	if err != nil {
		return nil, classify("load arrival lines", err)
	}
	for _, l := range lines {
		a := &arrivals[index[l.ArrivalID]]
		a.Lines = append(a.Lines, l)
	}
	return arrivals, nil
}

func (q queries) InsertArrival(ctx context.Context, arrival *warehouse.Arrival) error {
	err := q.q.QueryRow(ctx,
		"INSERT INTO arrivals (number, date) VALUES ($1, $2) RETURNING id",
		arrival.Number, arrival.Date).Scan(&arrival.ID)
	if err != nil {
		return classifyWrite("insert arrival", err, &warehouse.DuplicateKeyError{Entity: "arrival", Field: "number", Value: arrival.Number})
	}
	return q.insertLines(ctx, arrival)
}

func (q queries) ReplaceArrival(ctx context.Context, arrival *warehouse.Arrival) error {
	tag, err := q.q.Exec(ctx,
		"UPDATE arrivals SET number = $1, date = $2 WHERE id = $3",
		arrival.Number, arrival.Date, arrival.ID)
	if err != nil {
		return classifyWrite("update arrival", err, &warehouse.DuplicateKeyError{Entity: "arrival", Field: "number", Value: arrival.Number})
	}
	if tag.RowsAffected() == 0 {
		return &warehouse.NotFoundError{Entity: "arrival", ID: arrival.ID}
	}
	if _, err := q.q.Exec(ctx, "DELETE FROM arrival_lines WHERE arrival_id = $1", arrival.ID); err != nil {
		return classify("clear arrival lines", err)
	}
	return q.insertLines(ctx, arrival)
}

func (q queries) insertLines(ctx context.Context, arrival *warehouse.Arrival) error {
	for i := range arrival.Lines {
		l := &arrival.Lines[i]
		l.ArrivalID = arrival.ID
		err := q.q.QueryRow(ctx,
			"INSERT INTO arrival_lines (arrival_id, resource_id, unit_id, quantity) VALUES ($1, $2, $3, $4) RETURNING id",
			l.ArrivalID, l.ResourceID, l.UnitID, l.Quantity).Scan(&l.ID)
		if err != nil {
			return classify("insert arrival line", err)
		}
	}
	return nil
}

func (q queries) DeleteArrival(ctx context.Context, id int64) error {
	tag, err := q.q.Exec(ctx, "DELETE FROM arrivals WHERE id = $1", id)
	if err != nil {
		return classify("delete arrival", err)
	}
	if tag.RowsAffected() == 0 {
		return &warehouse.NotFoundError{Entity: "arrival", ID: id}
	}
	return nil
}

func (q queries) PairTotal(ctx context.Context, key warehouse.PairKey) (int64, error) {
	var total int64
	err := q.q.QueryRow(ctx,
		"SELECT COALESCE(SUM(quantity), 0)::BIGINT FROM arrival_lines WHERE resource_id = $1 AND unit_id = $2",
		key.ResourceID, key.UnitID).Scan(&total)
	if err != nil {
		return 0, classify("sum pair", err)
	}
	return total, nil
}

func (q queries) Balance(ctx context.Context, filter warehouse.BalanceFilter) ([]warehouse.BalanceEntry, error) {
	query := `
		SELECT l.resource_id, l.unit_id, r.name, u.name, SUM(l.quantity)::BIGINT
		FROM arrival_lines l
		JOIN resources r ON r.id = l.resource_id
		JOIN units u ON u.id = l.unit_id
		WHERE 1=1`
	var args []any
	if len(filter.ResourceIDs) > 0 {
		args = append(args, filter.ResourceIDs)
		query += fmt.Sprintf(" AND l.resource_id = ANY($%d)", len(args))
	}
	if len(filter.UnitIDs) > 0 {
		args = append(args, filter.UnitIDs)
		query += fmt.Sprintf(" AND l.unit_id = ANY($%d)", len(args))
	}
	query += " GROUP BY l.resource_id, l.unit_id, r.name, u.name ORDER BY l.resource_id, l.unit_id"

	rows, err := q.q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("balance", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[warehouse.BalanceEntry])
	if err != nil {
		return nil, classify("balance", err)
	}
	return out, nil
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return &warehouse.ConcurrencyConflictError{Op: op, Err: err}
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func classifyWrite(op string, err error, dup *warehouse.DuplicateKeyError) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return dup
	}
	return classify(op, err)
}

package warehouse_test

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/warehouse-ledger/warehouse"
	"github.com/warp/warehouse-ledger/warehouse/store"
)

// =============================================================================
// FIXTURE
// =============================================================================

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *store.Memory
	ledger  *warehouse.Ledger
	catalog *warehouse.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemory()
	return &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   s,
		ledger:  warehouse.NewLedger(s),
		catalog: warehouse.NewCatalog(s),
	}
}

func (f *fixture) resource(name string) int64 {
	f.t.Helper()
	e, err := f.catalog.CreateResource(f.ctx, name)
	require.NoError(f.t, err)
	return e.ID
}

func (f *fixture) unit(name string) int64 {
	f.t.Helper()
	e, err := f.catalog.CreateUnit(f.ctx, name)
	require.NoError(f.t, err)
	return e.ID
}

func (f *fixture) totals() map[warehouse.PairKey]int64 {
	f.t.Helper()
	entries, err := f.ledger.GetBalance(f.ctx, warehouse.BalanceFilter{})
	require.NoError(f.t, err)
	return warehouse.Totals(entries)
}

func (f *fixture) total(r, u int64) int64 {
	return f.totals()[key(r, u)]
}

func jan(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func arrivalIn(number string, date time.Time, lines ...warehouse.LineInput) warehouse.ArrivalInput {
	return warehouse.ArrivalInput{Number: number, Date: date, Lines: lines}
}

func li(r, u, q int64) warehouse.LineInput {
	return warehouse.LineInput{ResourceID: r, UnitID: u, Quantity: q}
}

// =============================================================================
// WALKTHROUGH
// =============================================================================

func TestLedger_Walkthrough(t *testing.T) {
	f := newFixture(t)
	bolt := f.resource("Bolt")
	pcs := f.unit("pcs")

	// GIVEN: A-1 receives 10 Bolt/pcs
	a1, err := f.ledger.CreateArrival(f.ctx, arrivalIn("A-1", jan(1), li(bolt, pcs, 10)))
	require.NoError(t, err)
	assert.Equal(t, int64(10), f.total(bolt, pcs))

	// WHEN: A-1 is corrected down to 3
	require.NoError(t, f.ledger.UpdateArrival(f.ctx, a1, arrivalIn("A-1", jan(1), li(bolt, pcs, 3))))
	assert.Equal(t, int64(3), f.total(bolt, pcs))

	// WHEN: A-1 would take the pair to -2
	err = f.ledger.UpdateArrival(f.ctx, a1, arrivalIn("A-1", jan(1), li(bolt, pcs, -2)))

	// THEN: rejected, named, nothing written
	var nb *warehouse.NegativeBalanceError
	require.ErrorAs(t, err, &nb)
	assert.Equal(t, "Bolt", nb.ResourceName)
	assert.Equal(t, "pcs", nb.UnitName)
	assert.Equal(t, int64(3), f.total(bolt, pcs))

	// WHEN: A-2 adds 5, A-1 is deleted
	a2, err := f.ledger.CreateArrival(f.ctx, arrivalIn("A-2", jan(2), li(bolt, pcs, 5)))
	require.NoError(t, err)
	assert.Equal(t, int64(8), f.total(bolt, pcs))
	require.NoError(t, f.ledger.DeleteArrival(f.ctx, a1))
	assert.Equal(t, int64(5), f.total(bolt, pcs))

	// THEN: Bolt cannot be archived while A-2 references it
	err = f.catalog.ArchiveResource(f.ctx, bolt)
	var inUse *warehouse.EntityInUseError
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, "Bolt", inUse.Name)

	// WHEN: A-2 is deleted, archiving succeeds
	require.NoError(t, f.ledger.DeleteArrival(f.ctx, a2))
	require.NoError(t, f.catalog.ArchiveResource(f.ctx, bolt))

	// THEN: new arrivals cannot reference the archived resource
	_, err = f.ledger.CreateArrival(f.ctx, arrivalIn("A-3", jan(3), li(bolt, pcs, 1)))
	assert.ErrorIs(t, err, warehouse.ErrArchivedReference)
}

// =============================================================================
// INVARIANTS
// =============================================================================

func TestLedger_RandomSequenceKeepsBalancesNonNegative(t *testing.T) {
	f := newFixture(t)
	resources := []int64{f.resource("Bolt"), f.resource("Nut")}
	units := []int64{f.unit("pcs"), f.unit("kg")}
	rng := rand.New(rand.NewSource(42))

	randomLines := func() []warehouse.LineInput {
		n := rng.Intn(3)
		lines := make([]warehouse.LineInput, n)
		for i := range lines {
			lines[i] = li(resources[rng.Intn(2)], units[rng.Intn(2)], int64(rng.Intn(16)-5))
		}
		return lines
	}

	var ids []int64
	for i := 0; i < 300; i++ {
		before := f.totals()

		var err error
		switch op := rng.Intn(3); {
		case op == 0 || len(ids) == 0:
			var id int64
			id, err = f.ledger.CreateArrival(f.ctx, arrivalIn("N-"+strconv.Itoa(i), jan(1+i%28), randomLines()...))
			if err == nil {
				ids = append(ids, id)
			}
		case op == 1:
			id := ids[rng.Intn(len(ids))]
			err = f.ledger.UpdateArrival(f.ctx, id, arrivalIn("U-"+strconv.Itoa(i), jan(1+i%28), randomLines()...))
		default:
			j := rng.Intn(len(ids))
			err = f.ledger.DeleteArrival(f.ctx, ids[j])
			if err == nil {
				ids = append(ids[:j], ids[j+1:]...)
			}
		}

		after := f.totals()
		for k, q := range after {
			require.GreaterOrEqual(t, q, int64(0), "step %d pair %s", i, k)
		}
		if err != nil {
			require.ErrorIs(t, err, warehouse.ErrNegativeBalance, "step %d", i)
			require.Equal(t, before, after, "rejected step %d must not change balances", i)
		}
	}
}

func TestLedger_BalanceIsSumOfPersistedLines(t *testing.T) {
	f := newFixture(t)
	bolt, nut := f.resource("Bolt"), f.resource("Nut")
	pcs := f.unit("pcs")

	_, err := f.ledger.CreateArrival(f.ctx, arrivalIn("A-1", jan(1), li(bolt, pcs, 10), li(nut, pcs, 4)))
	require.NoError(t, err)
	_, err = f.ledger.CreateArrival(f.ctx, arrivalIn("A-2", jan(2), li(bolt, pcs, -3), li(bolt, pcs, 1)))
	require.NoError(t, err)

	arrivals, err := f.ledger.ListArrivals(f.ctx, warehouse.ArrivalFilter{})
	require.NoError(t, err)
	var lines []warehouse.ArrivalLine
	for _, a := range arrivals {
		lines = append(lines, a.Lines...)
	}

	assert.Equal(t, warehouse.Totals(warehouse.Aggregate(lines, nil, warehouse.BalanceFilter{})), f.totals())
	assert.Equal(t, int64(8), f.total(bolt, pcs))
}

func TestLedger_IncreasesAreNeverRejected(t *testing.T) {
	f := newFixture(t)
	bolt := f.resource("Bolt")
	pcs, kg := f.unit("pcs"), f.unit("kg")

	a1, err := f.ledger.CreateArrival(f.ctx, arrivalIn("A-1", jan(1), li(bolt, pcs, 2)))
	require.NoError(t, err)

	// WHEN: an update only raises contributions, including a brand new pair
	err = f.ledger.UpdateArrival(f.ctx, a1, arrivalIn("A-1", jan(1), li(bolt, pcs, 7), li(bolt, kg, 1)))

	// THEN
	require.NoError(t, err)
	assert.Equal(t, int64(7), f.total(bolt, pcs))
	assert.Equal(t, int64(1), f.total(bolt, kg))
}

func TestLedger_RejectionLeavesArrivalUntouched(t *testing.T) {
	f := newFixture(t)
	bolt, nut := f.resource("Bolt"), f.resource("Nut")
	pcs := f.unit("pcs")

	a1, err := f.ledger.CreateArrival(f.ctx, arrivalIn("A-1", jan(1), li(bolt, pcs, 5), li(nut, pcs, 5)))
	require.NoError(t, err)
	_, err = f.ledger.CreateArrival(f.ctx, arrivalIn("A-2", jan(2), li(nut, pcs, -5)))
	require.NoError(t, err)

	// WHEN: the update raises Bolt but drops Nut below zero
	err = f.ledger.UpdateArrival(f.ctx, a1, arrivalIn("A-1-renamed", jan(5), li(bolt, pcs, 50)))
	require.ErrorIs(t, err, warehouse.ErrNegativeBalance)

	// THEN: header and lines are as before
	got, err := f.ledger.GetArrival(f.ctx, a1)
	require.NoError(t, err)
	assert.Equal(t, "A-1", got.Number)
	assert.Equal(t, jan(1), got.Date)
	assert.Equal(t, warehouse.LineSet{key(bolt, pcs): 5, key(nut, pcs): 5}, warehouse.NewLineSet(got.Lines))

	// AND: deleting A-1 is rejected too
	assert.ErrorIs(t, f.ledger.DeleteArrival(f.ctx, a1), warehouse.ErrNegativeBalance)
}

func TestLedger_CorrectionBackedByOtherArrivals(t *testing.T) {
	f := newFixture(t)
	bolt := f.resource("Bolt")
	pcs := f.unit("pcs")

	_, err := f.ledger.CreateArrival(f.ctx, arrivalIn("A-1", jan(1), li(bolt, pcs, 10)))
	require.NoError(t, err)

	_, err = f.ledger.CreateArrival(f.ctx, arrivalIn("C-1", jan(2), li(bolt, pcs, -10)))
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.total(bolt, pcs))

	_, err = f.ledger.CreateArrival(f.ctx, arrivalIn("C-2", jan(3), li(bolt, pcs, -1)))
	assert.ErrorIs(t, err, warehouse.ErrNegativeBalance)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestLedger_Validation(t *testing.T) {
	f := newFixture(t)
	bolt := f.resource("Bolt")
	pcs := f.unit("pcs")

	tests := []struct {
		name string
		in   warehouse.ArrivalInput
		want error
	}{
		{"empty number", arrivalIn("  ", jan(1)), warehouse.ErrValidation},
		{"long number", arrivalIn(string(make([]byte, 51)), jan(1)), warehouse.ErrValidation},
		{"missing date", arrivalIn("A-1", time.Time{}), warehouse.ErrValidation},
		{"missing resource", arrivalIn("A-1", jan(1), li(0, pcs, 1)), warehouse.ErrValidation},
		{"unknown unit", arrivalIn("A-1", jan(1), li(bolt, 999, 1)), warehouse.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.CreateArrival(f.ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLedger_EmptyArrivalAllowed(t *testing.T) {
	f := newFixture(t)

	id, err := f.ledger.CreateArrival(f.ctx, arrivalIn("A-0", jan(1)))
	require.NoError(t, err)

	got, err := f.ledger.GetArrival(f.ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got.Lines)
}

func TestLedger_DuplicateNumber(t *testing.T) {
	f := newFixture(t)

	a1, err := f.ledger.CreateArrival(f.ctx, arrivalIn("A-1", jan(1)))
	require.NoError(t, err)
	a2, err := f.ledger.CreateArrival(f.ctx, arrivalIn("A-2", jan(1)))
	require.NoError(t, err)

	_, err = f.ledger.CreateArrival(f.ctx, arrivalIn("A-1", jan(2)))
	assert.ErrorIs(t, err, warehouse.ErrDuplicateKey)

	assert.ErrorIs(t, f.ledger.UpdateArrival(f.ctx, a2, arrivalIn("A-1", jan(2))), warehouse.ErrDuplicateKey)
	assert.NoError(t, f.ledger.UpdateArrival(f.ctx, a1, arrivalIn("A-1", jan(3))), "keeping own number is fine")
}

func TestLedger_MissingArrival(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.GetArrival(f.ctx, 42)
	assert.ErrorIs(t, err, warehouse.ErrNotFound)
	assert.ErrorIs(t, f.ledger.UpdateArrival(f.ctx, 42, arrivalIn("A-1", jan(1))), warehouse.ErrNotFound)
	assert.ErrorIs(t, f.ledger.DeleteArrival(f.ctx, 42), warehouse.ErrNotFound)
}

// =============================================================================
// RETRY
// =============================================================================

// conflictingStore fails the first n transactions with a conflict.
type conflictingStore struct {
	*store.Memory
	remaining int
	calls     int
}

func (c *conflictingStore) WithTx(ctx context.Context, fn func(warehouse.Store) error) error {
	c.calls++
	if c.remaining > 0 {
		c.remaining--
		return &warehouse.ConcurrencyConflictError{Op: "commit", Err: errors.New("database is locked")}
	}
	return c.Memory.WithTx(ctx, fn)
}

type countingObserver struct {
	retries   []string
	mutations map[string]error
}

func (o *countingObserver) ObserveMutation(op string, err error) { o.mutations[op] = err }
func (o *countingObserver) ObserveRetry(op string)               { o.retries = append(o.retries, op) }

func TestLedger_RetriesOnceOnConflict(t *testing.T) {
	s := &conflictingStore{Memory: store.NewMemory(), remaining: 1}
	obs := &countingObserver{mutations: map[string]error{}}
	ledger := warehouse.NewLedger(s, warehouse.WithObserver(obs))

	id, err := ledger.CreateArrival(context.Background(), arrivalIn("A-1", jan(1)))

	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Equal(t, 2, s.calls)
	assert.Equal(t, []string{warehouse.OpCreateArrival}, obs.retries)
	assert.NoError(t, obs.mutations[warehouse.OpCreateArrival])
}

func TestLedger_SecondConflictIsReturned(t *testing.T) {
	s := &conflictingStore{Memory: store.NewMemory(), remaining: 2}
	obs := &countingObserver{mutations: map[string]error{}}
	ledger := warehouse.NewLedger(s, warehouse.WithObserver(obs))

	_, err := ledger.CreateArrival(context.Background(), arrivalIn("A-1", jan(1)))

	assert.ErrorIs(t, err, warehouse.ErrConcurrencyConflict)
	assert.Equal(t, 2, s.calls)
	assert.ErrorIs(t, obs.mutations[warehouse.OpCreateArrival], warehouse.ErrConcurrencyConflict)
}

func TestLedger_BalanceDecomposesByResource(t *testing.T) {
	f := newFixture(t)
	bolt, nut := f.resource("Bolt"), f.resource("Nut")
	pcs, kg := f.unit("pcs"), f.unit("kg")

	_, err := f.ledger.CreateArrival(f.ctx, arrivalIn("A-1", jan(1), li(bolt, pcs, 10), li(nut, kg, 3), li(bolt, kg, 1)))
	require.NoError(t, err)
	_, err = f.ledger.CreateArrival(f.ctx, arrivalIn("A-2", jan(2), li(bolt, pcs, -10), li(nut, pcs, 6)))
	require.NoError(t, err)

	// WHEN: the balance is read once per resource
	merged := map[warehouse.PairKey]int64{}
	for _, r := range []int64{bolt, nut} {
		entries, err := f.ledger.GetBalance(f.ctx, warehouse.BalanceFilter{ResourceIDs: []int64{r}})
		require.NoError(t, err)
		for k, q := range warehouse.Totals(entries) {
			merged[k] += q
		}
	}

	// THEN: the parts add up to the unfiltered balance
	assert.Equal(t, f.totals(), merged)
	assert.Len(t, merged, 4, "net-zero pairs are kept")
}

func TestLedger_QuantityBounds(t *testing.T) {
	f := newFixture(t)
	bolt := f.resource("Bolt")
	pcs := f.unit("pcs")

	_, err := f.ledger.CreateArrival(f.ctx, arrivalIn("A-1", jan(1), li(bolt, pcs, 10)))
	require.NoError(t, err)
	a2, err := f.ledger.CreateArrival(f.ctx, arrivalIn("A-2", jan(2), li(bolt, pcs, 5)))
	require.NoError(t, err)

	tests := []struct {
		name  string
		lines []warehouse.LineInput
		field string
	}{
		{"min int64", []warehouse.LineInput{li(bolt, pcs, math.MinInt64)}, "lines[0].quantity"},
		{"max int64", []warehouse.LineInput{li(bolt, pcs, math.MaxInt64)}, "lines[0].quantity"},
		{"just above int32", []warehouse.LineInput{li(bolt, pcs, math.MaxInt32 + 1)}, "lines[0].quantity"},
		{"wrapping duplicates", []warehouse.LineInput{li(bolt, pcs, math.MinInt64), li(bolt, pcs, math.MinInt64), li(bolt, pcs, 1)}, "lines[0].quantity"},
		{"summed duplicates", []warehouse.LineInput{li(bolt, pcs, math.MaxInt32), li(bolt, pcs, 1)}, "lines[1].quantity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// WHEN: the quantity is out of range on update and on create
			err := f.ledger.UpdateArrival(f.ctx, a2, arrivalIn("A-2", jan(2), tt.lines...))

			// THEN: rejected before any balance check, nothing written
			var ve *warehouse.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)

			_, err = f.ledger.CreateArrival(f.ctx, arrivalIn("A-3", jan(3), tt.lines...))
			assert.ErrorIs(t, err, warehouse.ErrValidation)

			assert.Equal(t, int64(15), f.total(bolt, pcs))
		})
	}

	// Limits themselves are accepted.
	require.NoError(t, f.ledger.UpdateArrival(f.ctx, a2, arrivalIn("A-2", jan(2), li(bolt, pcs, math.MaxInt32))))
	assert.Equal(t, int64(10+math.MaxInt32), f.total(bolt, pcs))
	assert.ErrorIs(t, f.ledger.UpdateArrival(f.ctx, a2, arrivalIn("A-2", jan(2), li(bolt, pcs, -math.MaxInt32))),
		warehouse.ErrNegativeBalance)
}

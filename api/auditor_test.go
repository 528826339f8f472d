package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/warehouse-ledger/warehouse"
	"github.com/warp/warehouse-ledger/warehouse/store"
)

type auditCounts struct {
	mu       sync.Mutex
	runs     int
	pairs    int
	negative int
}

func (c *auditCounts) ObserveAudit(pairs, negative int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
	c.pairs, c.negative = pairs, negative
}

func (c *auditCounts) snapshot() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs, c.pairs, c.negative
}

func TestBalanceAuditor_ReportsNegativePairs(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	core, logs := observer.New(zapcore.InfoLevel)
	h := NewHandler(mem, zap.NewNop())

	bolt, err := h.Catalog.CreateResource(ctx, "Bolt")
	require.NoError(t, err)
	pcs, err := h.Catalog.CreateUnit(ctx, "pcs")
	require.NoError(t, err)
	_, err = h.Ledger.CreateArrival(ctx, warehouse.ArrivalInput{Number: "A-1", Date: time.Now(), Lines: []warehouse.LineInput{
		{ResourceID: bolt.ID, UnitID: pcs.ID, Quantity: 2},
	}})
	require.NoError(t, err)

	// GIVEN: a write that bypasses the ledger
	require.NoError(t, mem.InsertArrival(ctx, &warehouse.Arrival{Number: "X-1", Date: time.Now(), Lines: []warehouse.ArrivalLine{
		{ResourceID: bolt.ID, UnitID: pcs.ID, Quantity: -5},
	}}))

	counts := &auditCounts{}
	auditor := NewBalanceAuditor(h.Ledger, zap.New(core), counts)

	// WHEN
	report, err := auditor.RunNow(ctx)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pairs)
	require.Len(t, report.Negative, 1)
	assert.Equal(t, int64(-3), report.Negative[0].Quantity)
	require.NotNil(t, auditor.LastReport())
	assert.Equal(t, report, *auditor.LastReport())

	runs, pairs, negative := counts.snapshot()
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, pairs)
	assert.Equal(t, 1, negative)

	entries := logs.FilterMessage("negative balance found").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Bolt", entries[0].ContextMap()["resource"])
}

func TestBalanceAuditor_StartStop(t *testing.T) {
	h := NewHandler(store.NewMemory(), zap.NewNop())
	counts := &auditCounts{}
	auditor := NewBalanceAuditor(h.Ledger, nil, counts)
	auditor.CheckInterval = 10 * time.Millisecond

	auditor.Start()
	assert.Eventually(t, func() bool {
		runs, _, _ := counts.snapshot()
		return runs >= 2
	}, time.Second, 5*time.Millisecond)
	auditor.Stop()

	runs, _, _ := counts.snapshot()
	time.Sleep(30 * time.Millisecond)
	after, _, _ := counts.snapshot()
	assert.Equal(t, runs, after, "no runs after Stop")
	assert.NotNil(t, auditor.LastReport())

	auditor.Stop()
}

func TestBalanceAuditor_DisabledInterval(t *testing.T) {
	h := NewHandler(store.NewMemory(), zap.NewNop())
	counts := &auditCounts{}
	auditor := NewBalanceAuditor(h.Ledger, nil, counts)
	auditor.CheckInterval = 0

	auditor.Start()
	auditor.Stop()

	runs, _, _ := counts.snapshot()
	assert.Zero(t, runs)
	assert.Nil(t, auditor.LastReport())
}

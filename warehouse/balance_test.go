package warehouse_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/warehouse-ledger/warehouse"
)

func line(r, u, q int64) warehouse.ArrivalLine {
	return warehouse.ArrivalLine{ResourceID: r, UnitID: u, Quantity: q}
}

func TestAggregate_SumsPerPairSorted(t *testing.T) {
	lines := []warehouse.ArrivalLine{line(2, 1, 5), line(1, 1, 10), line(1, 1, -4), line(1, 2, 3)}
	names := func(kind warehouse.CatalogKind, id int64) string {
		if kind == warehouse.KindResource {
			return map[int64]string{1: "Bolt", 2: "Nut"}[id]
		}
		return map[int64]string{1: "pcs", 2: "box"}[id]
	}

	got := warehouse.Aggregate(lines, names, warehouse.BalanceFilter{})

	assert.Equal(t, []warehouse.BalanceEntry{
		{ResourceID: 1, UnitID: 1, ResourceName: "Bolt", UnitName: "pcs", Quantity: 6},
		{ResourceID: 1, UnitID: 2, ResourceName: "Bolt", UnitName: "box", Quantity: 3},
		{ResourceID: 2, UnitID: 1, ResourceName: "Nut", UnitName: "pcs", Quantity: 5},
	}, got)
}

func TestAggregate_KeepsZeroPairs(t *testing.T) {
	got := warehouse.Aggregate([]warehouse.ArrivalLine{line(1, 1, 4), line(1, 1, -4)}, nil, warehouse.BalanceFilter{})

	assert.Equal(t, []warehouse.BalanceEntry{{ResourceID: 1, UnitID: 1, Quantity: 0}}, got)
}

func TestAggregate_Filter(t *testing.T) {
	lines := []warehouse.ArrivalLine{line(1, 1, 1), line(1, 2, 2), line(2, 1, 3), line(2, 2, 4)}

	got := warehouse.Aggregate(lines, nil, warehouse.BalanceFilter{ResourceIDs: []int64{2}, UnitIDs: []int64{1, 2}})
	assert.Len(t, got, 2)

	got = warehouse.Aggregate(lines, nil, warehouse.BalanceFilter{UnitIDs: []int64{2}})
	assert.Equal(t, map[warehouse.PairKey]int64{key(1, 2): 2, key(2, 2): 4}, warehouse.Totals(got))
}

func TestBalanceFilter_Matches(t *testing.T) {
	assert.True(t, warehouse.BalanceFilter{}.Matches(key(9, 9)))
	assert.True(t, warehouse.BalanceFilter{ResourceIDs: []int64{1, 9}}.Matches(key(9, 1)))
	assert.False(t, warehouse.BalanceFilter{UnitIDs: []int64{1}}.Matches(key(9, 2)))
}

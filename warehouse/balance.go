/*
balance.go - Balance aggregation

PURPOSE:
  Folds arrival lines into one quantity per (resource, unit) pair. The
  memory store uses Aggregate directly; the SQL stores compute the same
  result with GROUP BY.

RULES:
  - Filters are OR-ed within a list and AND-ed across lists
  - Pairs that net to zero are kept
  - Output is ordered by resource id, then unit id

SEE ALSO:
  - consistency.go: Reads single pair totals before a mutation
  - store.go: BalanceReader
*/
package warehouse

import (
	"slices"
	"sort"
)

// Matches reports whether a pair passes the filter.
func (f BalanceFilter) Matches(key PairKey) bool {
	if len(f.ResourceIDs) > 0 && !slices.Contains(f.ResourceIDs, key.ResourceID) {
		return false
	}
	if len(f.UnitIDs) > 0 && !slices.Contains(f.UnitIDs, key.UnitID) {
		return false
	}
	return true
}

// NameLookup resolves catalog names while aggregating.
type NameLookup func(kind CatalogKind, id int64) string

// Aggregate sums line quantities per pair for lines passing the filter.
// Pairs that net to zero are kept. Output is ordered by resource id, then unit id.
func Aggregate(lines []ArrivalLine, names NameLookup, filter BalanceFilter) []BalanceEntry {
	sums := make(map[PairKey]int64)
	for _, l := range lines {
		k := l.Key()
		if !filter.Matches(k) {
			continue
		}
		sums[k] += l.Quantity
	}

	out := make([]BalanceEntry, 0, len(sums))
	for k, q := range sums {
		e := BalanceEntry{ResourceID: k.ResourceID, UnitID: k.UnitID, Quantity: q}
		if names != nil {
			e.ResourceName = names(KindResource, k.ResourceID)
			e.UnitName = names(KindUnit, k.UnitID)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out
}

// Totals folds balance entries into a pair -> quantity map.
func Totals(entries []BalanceEntry) map[PairKey]int64 {
	out := make(map[PairKey]int64, len(entries))
	for _, e := range entries {
		out[e.Key()] += e.Quantity
	}
	return out
}

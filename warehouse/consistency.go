/*
consistency.go - Non-negative balance check for arrival mutations

PURPOSE:
  Decides whether replacing one arrival's line set with another keeps every
  (resource, unit) total at or above zero. Creation is the transition
  {} -> new, deletion is old -> {}, update is old -> new.

ALGORITHM:
  1. old = contribution of the arrival's persisted lines
  2. new = contribution of the proposed lines
  3. delta = new - old over the union of keys, missing entries are 0
  4. Only keys with delta < 0 are checked. For each one, the global total
     of the pair (which already includes the old contribution) is read and
     total + delta must stay >= 0.
  5. The first failing key is reported by resource and unit name.

  The cost is one total per decreased pair of the mutated arrival, not a
  scan of the whole ledger.

ATOMICITY:
  CheckTransition must be called with the Store handed out by
  TxStore.WithTx, and the write must happen in the same callback.

SEE ALSO:
  - ledger.go: Calls CheckTransition for create, update and delete
*/
package warehouse

import (
	"context"
	"fmt"
	"sort"
)

// PairDelta is the change one mutation applies to one pair.
type PairDelta struct {
	Key   PairKey
	Delta int64
}

// Deltas returns delta = proposed - old for every key present in either set,
// sorted by key. Zero deltas are left out.
func Deltas(old, proposed LineSet) []PairDelta {
	keys := make(map[PairKey]struct{}, len(old)+len(proposed))
	for k := range old {
		keys[k] = struct{}{}
	}
	for k := range proposed {
		keys[k] = struct{}{}
	}

	out := make([]PairDelta, 0, len(keys))
	for k := range keys {
		if d := proposed[k] - old[k]; d != 0 {
			out = append(out, PairDelta{Key: k, Delta: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// Decreases returns only the pairs whose contribution goes down. These are
// the pairs that need a balance check; everything else can only help.
func Decreases(old, proposed LineSet) []PairDelta {
	all := Deltas(old, proposed)
	out := all[:0]
	for _, d := range all {
		if d.Delta < 0 {
			out = append(out, d)
		}
	}
	return out
}

// CheckTransition rejects the transition old -> proposed with a
// NegativeBalanceError if it would take any pair below zero.
func CheckTransition(ctx context.Context, balances BalanceReader, catalog CatalogStore, old, proposed LineSet) error {
	for _, d := range Decreases(old, proposed) {
		total, err := balances.PairTotal(ctx, d.Key)
		if err != nil {
			return fmt.Errorf("failed to read balance of %s: %w", d.Key, err)
		}
		if total+d.Delta >= 0 {
			continue
		}

		nb := &NegativeBalanceError{
			ResourceID: d.Key.ResourceID,
			UnitID:     d.Key.UnitID,
			Balance:    total,
			Delta:      d.Delta,
		}
		nb.ResourceName, err = entryName(ctx, catalog, KindResource, d.Key.ResourceID)
		if err != nil {
			return err
		}
		nb.UnitName, err = entryName(ctx, catalog, KindUnit, d.Key.UnitID)
		if err != nil {
			return err
		}
		return nb
	}
	return nil
}

func entryName(ctx context.Context, catalog CatalogStore, kind CatalogKind, id int64) (string, error) {
	e, err := catalog.GetEntry(ctx, kind, id)
	if err != nil {
		return "", fmt.Errorf("failed to load %s %d: %w", kind, id, err)
	}
	if e == nil {
		return "", nil
	}
	return e.Name, nil
}

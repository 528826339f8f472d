/*
guard.go - Field validation, uniqueness and catalog reference checks

PURPOSE:
  The checks that run before any write, apart from the balance check:
  - ValidateName / ValidateArrival: field-level rules
  - ensureUniqueNumber / ensureUniqueName: no two rows share a key
  - ensureUsable: lines only point at existing, active catalog entries

  Uniqueness is also enforced by unique indexes in every store. The
  lookups here give a precise error; the index catches races.
*/
package warehouse

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// MaxArrivalNumberLength is the longest accepted arrival number, in runes.
const MaxArrivalNumberLength = 50

// MaxLineQuantity bounds the magnitude of a line quantity and of the summed
// quantity of one pair within an arrival.
const MaxLineQuantity = math.MaxInt32

// ValidateName checks a catalog name for the given kind.
func ValidateName(kind CatalogKind, name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Rule: "must not be empty"}
	}
	if max := kind.MaxNameLength(); utf8.RuneCountInString(name) > max {
		return &ValidationError{Field: "name", Rule: fmt.Sprintf("must be at most %d characters", max)}
	}
	return nil
}

// ValidateArrival checks the header and line fields of an arrival input.
func ValidateArrival(in ArrivalInput) error {
	if strings.TrimSpace(in.Number) == "" {
		return &ValidationError{Field: "number", Rule: "must not be empty"}
	}
	if utf8.RuneCountInString(in.Number) > MaxArrivalNumberLength {
		return &ValidationError{Field: "number", Rule: fmt.Sprintf("must be at most %d characters", MaxArrivalNumberLength)}
	}
	if in.Date.IsZero() {
		return &ValidationError{Field: "date", Rule: "is required"}
	}
	sums := make(map[PairKey]int64, len(in.Lines))
	for i, l := range in.Lines {
		if l.ResourceID <= 0 {
			return &ValidationError{Field: fmt.Sprintf("lines[%d].resource_id", i), Rule: "is required"}
		}
		if l.UnitID <= 0 {
			return &ValidationError{Field: fmt.Sprintf("lines[%d].unit_id", i), Rule: "is required"}
		}
		if l.Quantity > MaxLineQuantity || l.Quantity < -MaxLineQuantity {
			return &ValidationError{Field: fmt.Sprintf("lines[%d].quantity", i), Rule: quantityRule}
		}
		// Both operands are bounded, so the sum cannot wrap.
		sums[l.Key()] += l.Quantity
		if q := sums[l.Key()]; q > MaxLineQuantity || q < -MaxLineQuantity {
			return &ValidationError{Field: fmt.Sprintf("lines[%d].quantity", i), Rule: "sum for the pair " + quantityRule}
		}
	}
	return nil
}

var quantityRule = fmt.Sprintf("must be between %d and %d", -MaxLineQuantity, MaxLineQuantity)

func ensureUniqueNumber(ctx context.Context, s LedgerStore, number string, selfID int64) error {
	existing, err := s.FindArrivalByNumber(ctx, number)
	if err != nil {
		return fmt.Errorf("failed to look up arrival number: %w", err)
	}
	if existing != nil && existing.ID != selfID {
		return &DuplicateKeyError{Entity: "arrival", Field: "number", Value: number}
	}
	return nil
}

func ensureUniqueName(ctx context.Context, s CatalogStore, kind CatalogKind, name string, selfID int64) error {
	existing, err := s.FindEntryByName(ctx, kind, name)
	if err != nil {
		return fmt.Errorf("failed to look up %s name: %w", kind, err)
	}
	if existing != nil && existing.ID != selfID {
		return &DuplicateKeyError{Entity: string(kind), Field: "name", Value: name}
	}
	return nil
}

// ensureUsable checks that every resource and unit referenced by lines
// exists and is not archived. Each id is loaded once.
func ensureUsable(ctx context.Context, s CatalogStore, lines []LineInput) error {
	seen := make(map[CatalogKind]map[int64]bool, 2)
	check := func(kind CatalogKind, id int64) error {
		if seen[kind] == nil {
			seen[kind] = make(map[int64]bool)
		}
		if seen[kind][id] {
			return nil
		}
		seen[kind][id] = true

		e, err := s.GetEntry(ctx, kind, id)
		if err != nil {
			return fmt.Errorf("failed to load %s %d: %w", kind, id, err)
		}
		if e == nil {
			return &NotFoundError{Entity: string(kind), ID: id}
		}
		if e.IsArchived() {
			return &ArchivedReferenceError{Kind: kind, ID: id, Name: e.Name}
		}
		return nil
	}

	for _, l := range lines {
		if err := check(KindResource, l.ResourceID); err != nil {
			return err
		}
		if err := check(KindUnit, l.UnitID); err != nil {
			return err
		}
	}
	return nil
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  warehouse domain types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done by the warehouse services, not in DTOs. Handlers only
  reject bodies that cannot be decoded or dates that cannot be parsed.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"time"

	"github.com/warp/warehouse-ledger/warehouse"
)

// dateLayouts are accepted for arrival dates and date filters, in order.
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02"}

// =============================================================================
// CATALOG
// =============================================================================

// EntryDTO represents a resource or unit in API responses.
type EntryDTO struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	IsArchived bool   `json:"is_archived"`
}

// NameRequest is the body for creating or renaming a resource or unit.
type NameRequest struct {
	Name string `json:"name"`
}

func toEntryDTO(e warehouse.CatalogEntry) EntryDTO {
	return EntryDTO{ID: e.ID, Name: e.Name, IsArchived: e.IsArchived()}
}

func toEntryDTOs(entries []warehouse.CatalogEntry) []EntryDTO {
	out := make([]EntryDTO, len(entries))
	for i, e := range entries {
		out[i] = toEntryDTO(e)
	}
	return out
}

// =============================================================================
// ARRIVALS
// =============================================================================

// ArrivalDTO represents an arrival with its lines.
type ArrivalDTO struct {
	ID     int64     `json:"id"`
	Number string    `json:"number"`
	Date   string    `json:"date"`
	Lines  []LineDTO `json:"lines"`
}

// LineDTO represents one arrival line. Names are filled on reads.
type LineDTO struct {
	ID           int64  `json:"id"`
	ResourceID   int64  `json:"resource_id"`
	ResourceName string `json:"resource_name,omitempty"`
	UnitID       int64  `json:"unit_id"`
	UnitName     string `json:"unit_name,omitempty"`
	Quantity     int64  `json:"quantity"`
}

// ArrivalRequest is the body for creating or updating an arrival.
type ArrivalRequest struct {
	Number string        `json:"number"`
	Date   string        `json:"date"`
	Lines  []LineRequest `json:"lines"`
}

// LineRequest is one proposed line.
type LineRequest struct {
	ResourceID int64 `json:"resource_id"`
	UnitID     int64 `json:"unit_id"`
	Quantity   int64 `json:"quantity"`
}

// CreatedResponse carries the id of a created arrival.
type CreatedResponse struct {
	ID int64 `json:"id"`
}

func (r ArrivalRequest) toInput() (warehouse.ArrivalInput, error) {
	in := warehouse.ArrivalInput{Number: r.Number, Lines: make([]warehouse.LineInput, len(r.Lines))}
	if r.Date != "" {
		d, err := parseDate(r.Date)
		if err != nil {
			return in, err
		}
		in.Date = d
	}
	for i, l := range r.Lines {
		in.Lines[i] = warehouse.LineInput{ResourceID: l.ResourceID, UnitID: l.UnitID, Quantity: l.Quantity}
	}
	return in, nil
}

func toArrivalDTO(a warehouse.Arrival, names warehouse.NameLookup) ArrivalDTO {
	dto := ArrivalDTO{
		ID:     a.ID,
		Number: a.Number,
		Date:   a.Date.UTC().Format(time.RFC3339),
		Lines:  make([]LineDTO, len(a.Lines)),
	}
	for i, l := range a.Lines {
		dto.Lines[i] = LineDTO{
			ID:           l.ID,
			ResourceID:   l.ResourceID,
			ResourceName: names(warehouse.KindResource, l.ResourceID),
			UnitID:       l.UnitID,
			UnitName:     names(warehouse.KindUnit, l.UnitID),
			Quantity:     l.Quantity,
		}
	}
	return dto
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q (use RFC 3339 or YYYY-MM-DD)", s)
}

// =============================================================================
// BALANCE
// =============================================================================

// BalanceDTO is the on-hand quantity of one (resource, unit) pair.
type BalanceDTO struct {
	ResourceID   int64  `json:"resource_id"`
	ResourceName string `json:"resource_name"`
	UnitID       int64  `json:"unit_id"`
	UnitName     string `json:"unit_name"`
	Quantity     int64  `json:"quantity"`
}

func toBalanceDTOs(entries []warehouse.BalanceEntry) []BalanceDTO {
	out := make([]BalanceDTO, len(entries))
	for i, e := range entries {
		out[i] = BalanceDTO{
			ResourceID:   e.ResourceID,
			ResourceName: e.ResourceName,
			UnitID:       e.UnitID,
			UnitName:     e.UnitName,
			Quantity:     e.Quantity,
		}
	}
	return out
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

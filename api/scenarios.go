/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built data sets that populate the store through the same
  catalog and ledger services the API uses, so every rule applies while
  loading.

AVAILABLE SCENARIOS:
  basic-stock:      A few resources and units, several arrivals
  corrections:      Bolt/pcs with a correcting arrival (negative line)
  archived-catalog: Active and archived entries side by side

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create resources and units
 3. Record arrivals
 4. Optionally archive unreferenced entries

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "corrections"}

NOTE:
  Scenarios reset the store. Only use in development/demo environments.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/warehouse-ledger/warehouse"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, h *Handler) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "basic-stock",
			Name:        "Basic Stock",
			Description: "Three resources in three units across four arrivals",
		},
		load: loadBasicStockScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "corrections",
			Name:        "Corrections",
			Description: "Bolt/pcs received twice, then corrected down by a negative line",
		},
		load: loadCorrectionsScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "archived-catalog",
			Name:        "Archived Catalog",
			Description: "Retired resource and unit kept for history next to active ones",
		},
		load: loadArchivedCatalogScenario,
	},
}

// ScenarioIDs lists the known scenario ids in display order.
func ScenarioIDs() []string {
	ids := make([]string, len(scenarios))
	for i, s := range scenarios {
		ids[i] = s.ID
	}
	return ids
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s.ScenarioDTO)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads the requested scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.Load(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
			return
		}
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.currentScenario = ""

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var errUnknownScenario = errors.New("unknown scenario")

// Load resets the store and loads scenario id. Loads are serialized.
func (h *Handler) Load(ctx context.Context, id string) error {
	var sc *scenario
	for i := range scenarios {
		if scenarios[i].ID == id {
			sc = &scenarios[i]
		}
	}
	if sc == nil {
		return errUnknownScenario
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	h.currentScenario = ""

	if err := sc.load(ctx, h); err != nil {
		return fmt.Errorf("failed to load scenario %s: %w", id, err)
	}
	h.currentScenario = id
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// seeder collects ids by name while a scenario is built.
type seeder struct {
	ctx       context.Context
	h         *Handler
	resources map[string]int64
	units     map[string]int64
	err       error
}

func newSeeder(ctx context.Context, h *Handler) *seeder {
	return &seeder{ctx: ctx, h: h, resources: map[string]int64{}, units: map[string]int64{}}
}

func (s *seeder) resource(names ...string) {
	for _, n := range names {
		if s.err != nil {
			return
		}
		var e *warehouse.CatalogEntry
		e, s.err = s.h.Catalog.CreateResource(s.ctx, n)
		if s.err == nil {
			s.resources[n] = e.ID
		}
	}
}

func (s *seeder) unit(names ...string) {
	for _, n := range names {
		if s.err != nil {
			return
		}
		var e *warehouse.CatalogEntry
		e, s.err = s.h.Catalog.CreateUnit(s.ctx, n)
		if s.err == nil {
			s.units[n] = e.ID
		}
	}
}

type seedLine struct {
	resource, unit string
	qty            int64
}

func (s *seeder) arrival(number string, date time.Time, lines ...seedLine) {
	if s.err != nil {
		return
	}
	in := warehouse.ArrivalInput{Number: number, Date: date}
	for _, l := range lines {
		in.Lines = append(in.Lines, warehouse.LineInput{
			ResourceID: s.resources[l.resource],
			UnitID:     s.units[l.unit],
			Quantity:   l.qty,
		})
	}
	_, s.err = s.h.Ledger.CreateArrival(s.ctx, in)
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func loadBasicStockScenario(ctx context.Context, h *Handler) error {
	s := newSeeder(ctx, h)
	s.resource("Bolt", "Nut", "Washer")
	s.unit("pcs", "kg", "box")
	s.arrival("A-1", day(2024, 1, 1), seedLine{"Bolt", "pcs", 10}, seedLine{"Nut", "pcs", 25})
	s.arrival("A-2", day(2024, 1, 8), seedLine{"Bolt", "box", 2}, seedLine{"Washer", "kg", 4})
	s.arrival("A-3", day(2024, 1, 15), seedLine{"Nut", "pcs", 15})
	s.arrival("A-4", day(2024, 2, 1), seedLine{"Washer", "kg", 6}, seedLine{"Bolt", "pcs", 5})
	return s.err
}

func loadCorrectionsScenario(ctx context.Context, h *Handler) error {
	s := newSeeder(ctx, h)
	s.resource("Bolt")
	s.unit("pcs")
	s.arrival("A-1", day(2024, 1, 1), seedLine{"Bolt", "pcs", 10})
	s.arrival("A-2", day(2024, 1, 5), seedLine{"Bolt", "pcs", 5})
	// Correction: four pieces were counted twice.
	s.arrival("C-1", day(2024, 1, 6), seedLine{"Bolt", "pcs", -4})
	return s.err
}

func loadArchivedCatalogScenario(ctx context.Context, h *Handler) error {
	s := newSeeder(ctx, h)
	s.resource("Bolt", "Rivet")
	s.unit("pcs", "dozen")
	s.arrival("A-1", day(2024, 3, 1), seedLine{"Bolt", "pcs", 12})
	if s.err != nil {
		return s.err
	}
	if err := h.Catalog.ArchiveResource(ctx, s.resources["Rivet"]); err != nil {
		return err
	}
	return h.Catalog.ArchiveUnit(ctx, s.units["dozen"])
}

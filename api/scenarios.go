/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates lots, a demo driver account and
	reservations through the engine, so every rule is enforced exactly as
	for live traffic.

AVAILABLE SCENARIOS:

	downtown:  Three lots at different prices with a few cars parked
	lifecycle: One lot walked through book, failed shrink, release,
	           refused removal of a used spot and a successful shrink

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Re-create the admin account
 3. Register the demo driver
 4. Create lots and reservations through the engine

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "downtown"}

NOTE:

	Scenarios reset the database. The endpoints are only mounted when
	ENABLE_SCENARIOS is set.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/parking-engine/identity"
	"github.com/warp/parking-engine/parking"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const (
	demoDriverEmail    = "driver@email.com"
	demoDriverPassword = "driver"
)

var scenarios = []ScenarioDTO{
	{
		ID:          "downtown",
		Name:        "Downtown",
		Description: "Three lots at different prices, some spots occupied",
	},
	{
		ID:          "lifecycle",
		Name:        "Spot Lifecycle",
		Description: "Book, shrink refused while occupied, release, shrink refused for a used spot, shrink to 1",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario wipes the database and loads the requested scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}

	var load func(context.Context, parking.UserID) error
	switch req.ScenarioID {
	case "downtown":
		load = h.loadDowntownScenario
	case "lifecycle":
		load = h.loadLifecycleScenario
	default:
		writeErrorCode(w, http.StatusBadRequest, "validation", "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	driver, err := h.resetForScenario(ctx)
	if err != nil {
		h.fail(w, "Failed to reset database", err)
		return
	}
	if err := load(ctx, driver); err != nil {
		h.fail(w, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.log.Info("scenario loaded", zap.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"driver":   demoDriverEmail,
	})
}

// resetForScenario clears all data, restores the admin account and
// registers the demo driver.
func (h *Handler) resetForScenario(ctx context.Context) (parking.UserID, error) {
	if err := h.Store.Reset(ctx); err != nil {
		return "", err
	}
	h.currentScenario = ""

	if h.adminEmail != "" {
		if _, err := h.Identity.EnsureAdmin(ctx, h.adminEmail, h.adminPassword); err != nil {
			return "", err
		}
	}
	driver, err := h.Identity.Register(ctx, identity.RegisterInput{
		Email:    demoDriverEmail,
		Password: demoDriverPassword,
		Name:     "Demo Driver",
	})
	if err != nil {
		return "", err
	}
	return driver.ID, nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadDowntownScenario(ctx context.Context, driver parking.UserID) error {
	lots := []parking.LotInput{
		{Name: "Downtown Garage", HourlyPrice: decimal.RequireFromString("4.50"), Address: "12 Market St", PostalCode: "94105", Capacity: 10},
		{Name: "Harbor Lot", HourlyPrice: decimal.RequireFromString("3.00"), Address: "1 Pier Rd", PostalCode: "94111", Capacity: 6},
		{Name: "Station Deck", HourlyPrice: decimal.RequireFromString("2.75"), Address: "400 Rail Ave", PostalCode: "94107", Capacity: 8},
	}

	var created []*parking.Lot
	for _, in := range lots {
		lot, err := h.Engine.CreateLot(ctx, parking.SystemActor, in)
		if err != nil {
			return fmt.Errorf("create lot %s: %w", in.Name, err)
		}
		created = append(created, lot)
	}

	// Three cars in the garage, one in the harbor lot. One garage
	// reservation is released so revenue is non-zero.
	bookings := []struct {
		lot     *parking.Lot
		vehicle string
	}{
		{created[0], "DEMO-001"},
		{created[0], "DEMO-002"},
		{created[0], "DEMO-003"},
		{created[1], "DEMO-004"},
	}
	var first *parking.Reservation
	for _, b := range bookings {
		res, err := h.Engine.BookFirstAvailable(ctx, parking.SystemActor, b.lot.ID, driver, b.vehicle)
		if err != nil {
			return fmt.Errorf("book %s: %w", b.vehicle, err)
		}
		if first == nil {
			first = res
		}
	}
	_, err := h.Engine.Release(ctx, parking.SystemActor, first.ID)
	return err
}

func (h *Handler) loadLifecycleScenario(ctx context.Context, driver parking.UserID) error {
	lot, err := h.Engine.CreateLot(ctx, parking.SystemActor, parking.LotInput{
		Name:        "Lifecycle Lot",
		HourlyPrice: decimal.NewFromInt(10),
		Address:     "3 Test Way",
		PostalCode:  "10001",
		Capacity:    3,
	})
	if err != nil {
		return err
	}

	spots, err := h.Reporter.Spots(ctx, lot.ID)
	if err != nil {
		return err
	}
	res, err := h.Engine.Book(ctx, parking.SystemActor, parking.BookingRequest{
		SpotID:    spots[0].ID,
		UserID:    driver,
		VehicleID: "LIFE-001",
	})
	if err != nil {
		return err
	}

	if _, err := h.Engine.Resize(ctx, parking.SystemActor, lot.ID, 0); !errors.Is(err, parking.ErrBelowOccupied) {
		return fmt.Errorf("expected shrink below occupied to fail, got %v", err)
	}
	if _, err := h.Engine.Release(ctx, parking.SystemActor, res.ID); err != nil {
		return err
	}
	if _, err := h.Engine.Resize(ctx, parking.SystemActor, lot.ID, 0); !errors.Is(err, parking.ErrEverOccupiedRemoval) {
		return fmt.Errorf("expected removal of used spot to fail, got %v", err)
	}
	_, err = h.Engine.Resize(ctx, parking.SystemActor, lot.ID, 1)
	return err
}

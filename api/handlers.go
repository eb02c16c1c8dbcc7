/*
handlers.go - HTTP API handlers for the parking reservation engine

PURPOSE:
  Exposes the parking engine via REST API. Handles HTTP request/response
  and JSON serialization, and delegates every decision to the engine.

ENDPOINTS:
  Auth:
    POST   /api/auth/register              Create an account
    POST   /api/auth/login                 Exchange credentials for a token

  Lots (any caller):
    GET    /api/lots                       List active lots
    GET    /api/lots/{id}                  Lot details
    GET    /api/lots/{id}/spots            Spots in number order
    GET    /api/lots/{id}/occupancy        Occupied / available counts

  Lots (admin):
    POST   /api/lots                       Create lot with N spots
    PUT    /api/lots/{id}                  Update fields and/or capacity
    POST   /api/lots/{id}/resize           Change capacity only
    DELETE /api/lots/{id}                  Deactivate
    POST   /api/lots/{id}/activate         Reactivate
    DELETE /api/spots/{id}                 Remove a never-used spot
    GET    /api/lots/{id}/revenue          Revenue report
    GET    /api/reports/summary            All lots with occupancy and revenue

  Reservations (authenticated):
    POST   /api/lots/{id}/reservations     Book first available spot
    POST   /api/spots/{id}/reservations    Book a specific spot
    GET    /api/reservations/{id}          Reservation with lot context
    POST   /api/reservations/{id}/release  Release and charge
    GET    /api/reservations/{id}/estimate Current cost
    GET    /api/reservations/{id}/receipt  PDF receipt
    GET    /api/users/{id}/reservations    History, newest first

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing/invalid token, bad credentials
  - 403: Not allowed for this actor
  - 404: Resource not found
  - 409: State conflict or policy violation
  - 500: Internal errors

SEE ALSO:
  - dto.go:        Request/response data structures
  - middleware.go: Auth, logging, rate limiting
  - scenarios.go:  Demo scenario loaders
  - server.go:     Router setup
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/warp/parking-engine/identity"
	"github.com/warp/parking-engine/parking"
	"github.com/warp/parking-engine/receipt"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Maintainer is the store surface used by health checks and scenario loading.
type Maintainer interface {
	Ping(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Deps are the collaborators a Handler needs.
type Deps struct {
	Engine   *parking.Engine
	Reporter *parking.Reporter
	Identity *identity.Service
	Store    Maintainer
	Logger   *zap.Logger

	// Admin account re-created after a scenario wipes the database.
	AdminEmail    string
	AdminPassword string
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *parking.Engine
	Reporter *parking.Reporter
	Identity *identity.Service
	Store    Maintainer

	log           *zap.Logger
	adminEmail    string
	adminPassword string

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

func NewHandler(d Deps) *Handler {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Engine:        d.Engine,
		Reporter:      d.Reporter,
		Identity:      d.Identity,
		Store:         d.Store,
		log:           log,
		adminEmail:    d.AdminEmail,
		adminPassword: d.AdminPassword,
	}
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.log.Error("health check failed", zap.Error(err))
		writeErrorCode(w, http.StatusServiceUnavailable, "unavailable", "Database unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	u, err := h.Identity.Register(r.Context(), identity.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		Name:       req.Name,
		Phone:      req.Phone,
		Address:    req.Address,
		PostalCode: req.PostalCode,
	})
	if err != nil {
		h.fail(w, "Failed to register", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}

	sess, err := h.Identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, "Login failed", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionDTO{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		User:      toUserDTO(sess.User),
	})
}

// =============================================================================
// LOT HANDLERS
// =============================================================================

// ListLots returns active lots. Admins may pass ?include_inactive=true.
func (h *Handler) ListLots(w http.ResponseWriter, r *http.Request) {
	var filter parking.LotFilter
	if actor, ok := ActorFrom(r.Context()); ok && actor.IsAdmin {
		filter.IncludeInactive, _ = strconv.ParseBool(r.URL.Query().Get("include_inactive"))
	}

	lots, err := h.Reporter.Lots(r.Context(), filter)
	if err != nil {
		h.fail(w, "Failed to list lots", err)
		return
	}
	writeJSON(w, http.StatusOK, toLotDTOs(lots))
}

func (h *Handler) GetLot(w http.ResponseWriter, r *http.Request) {
	lot, err := h.Reporter.Lot(r.Context(), lotID(r))
	if err != nil {
		h.fail(w, "Failed to get lot", err)
		return
	}
	writeJSON(w, http.StatusOK, toLotDTO(*lot))
}

func (h *Handler) ListSpots(w http.ResponseWriter, r *http.Request) {
	spots, err := h.Reporter.Spots(r.Context(), lotID(r))
	if err != nil {
		h.fail(w, "Failed to list spots", err)
		return
	}
	writeJSON(w, http.StatusOK, toSpotDTOs(spots))
}

func (h *Handler) GetOccupancy(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Reporter.LotOccupancy(r.Context(), lotID(r))
	if err != nil {
		h.fail(w, "Failed to get occupancy", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) CreateLot(w http.ResponseWriter, r *http.Request) {
	var req CreateLotRequest
	if !decode(w, r, &req) {
		return
	}

	lot, err := h.Engine.CreateLot(r.Context(), actor(r), req.toInput())
	if err != nil {
		h.fail(w, "Failed to create lot", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLotDTO(*lot))
}

func (h *Handler) UpdateLot(w http.ResponseWriter, r *http.Request) {
	var req UpdateLotRequest
	if !decode(w, r, &req) {
		return
	}

	lot, err := h.Engine.UpdateLot(r.Context(), actor(r), lotID(r), req.toUpdate())
	if err != nil {
		h.fail(w, "Failed to update lot", err)
		return
	}
	writeJSON(w, http.StatusOK, toLotDTO(*lot))
}

func (h *Handler) ResizeLot(w http.ResponseWriter, r *http.Request) {
	var req ResizeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Capacity == nil {
		writeErrorCode(w, http.StatusBadRequest, "validation", "capacity is required", nil)
		return
	}

	lot, err := h.Engine.Resize(r.Context(), actor(r), lotID(r), *req.Capacity)
	if err != nil {
		h.fail(w, "Failed to resize lot", err)
		return
	}
	writeJSON(w, http.StatusOK, toLotDTO(*lot))
}

// DeleteLot deactivates the lot. Spots and history are kept.
func (h *Handler) DeleteLot(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteLot(r.Context(), actor(r), lotID(r)); err != nil {
		h.fail(w, "Failed to delete lot", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ActivateLot(w http.ResponseWriter, r *http.Request) {
	lot, err := h.Engine.ActivateLot(r.Context(), actor(r), lotID(r))
	if err != nil {
		h.fail(w, "Failed to activate lot", err)
		return
	}
	writeJSON(w, http.StatusOK, toLotDTO(*lot))
}

func (h *Handler) DeleteSpot(w http.ResponseWriter, r *http.Request) {
	id := parking.SpotID(chi.URLParam(r, "id"))
	if err := h.Engine.DeleteSpot(r.Context(), actor(r), id); err != nil {
		h.fail(w, "Failed to delete spot", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

func (h *Handler) GetRevenue(w http.ResponseWriter, r *http.Request) {
	report, err := h.Reporter.LotRevenue(r.Context(), lotID(r))
	if err != nil {
		h.fail(w, "Failed to get revenue", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.Reporter.Summary(r.Context())
	if err != nil {
		h.fail(w, "Failed to build summary", err)
		return
	}

	dtos := make([]LotSummaryDTO, len(summaries))
	for i, s := range summaries {
		dtos[i] = LotSummaryDTO{
			Lot:       toLotDTO(s.Lot),
			Occupancy: s.Occupancy,
			Revenue:   s.Revenue,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

func (h *Handler) BookFirstAvailable(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Engine.BookFirstAvailable(r.Context(), actor(r), lotID(r),
		parking.UserID(req.UserID), req.VehicleID)
	if err != nil {
		h.fail(w, "Failed to book", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationDTO(*res))
}

func (h *Handler) BookSpot(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Engine.Book(r.Context(), actor(r), parking.BookingRequest{
		SpotID:    parking.SpotID(chi.URLParam(r, "id")),
		UserID:    parking.UserID(req.UserID),
		VehicleID: req.VehicleID,
	})
	if err != nil {
		h.fail(w, "Failed to book", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationDTO(*res))
}

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	v, err := h.Reporter.Reservation(r.Context(), actor(r), reservationID(r))
	if err != nil {
		h.fail(w, "Failed to get reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationViewDTO(*v))
}

func (h *Handler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	id := reservationID(r)
	cost, err := h.Engine.Release(r.Context(), actor(r), id)
	if err != nil {
		h.fail(w, "Failed to release", err)
		return
	}
	writeJSON(w, http.StatusOK, ReleaseResponse{ReservationID: string(id), Cost: cost})
}

func (h *Handler) GetEstimate(w http.ResponseWriter, r *http.Request) {
	v, err := h.Reporter.Reservation(r.Context(), actor(r), reservationID(r))
	if err != nil {
		h.fail(w, "Failed to estimate", err)
		return
	}
	writeJSON(w, http.StatusOK, EstimateResponse{
		ReservationID: string(v.ID),
		Cost:          v.Cost,
		Final:         v.Final,
		AsOf:          v.AsOf,
	})
}

func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	v, err := h.Reporter.Reservation(r.Context(), actor(r), reservationID(r))
	if err != nil {
		h.fail(w, "Failed to get receipt", err)
		return
	}

	// Render into a buffer so a failure can still produce a JSON error.
	var buf bytes.Buffer
	if err := receipt.Render(&buf, *v, v.AsOf); err != nil {
		h.fail(w, "Failed to render receipt", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", "receipt-"+string(v.ID)+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) ListUserReservations(w http.ResponseWriter, r *http.Request) {
	userID := parking.UserID(chi.URLParam(r, "id"))
	views, err := h.Reporter.UserHistory(r.Context(), actor(r), userID)
	if err != nil {
		h.fail(w, "Failed to list reservations", err)
		return
	}

	dtos := make([]ReservationDTO, len(views))
	for i, v := range views {
		dtos[i] = toReservationViewDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func actor(r *http.Request) parking.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}

func lotID(r *http.Request) parking.LotID {
	return parking.LotID(chi.URLParam(r, "id"))
}

func reservationID(r *http.Request) parking.ReservationID {
	return parking.ReservationID(chi.URLParam(r, "id"))
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_json", "Invalid request body", err)
		return false
	}
	return true
}

// fail maps a domain error to a status code. Unexpected errors are logged
// and their text is not sent to the client.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		h.log.Error(message, zap.Error(err))
		writeErrorCode(w, status, code, message, nil)
		return
	}
	writeErrorCode(w, status, code, message, errorDetails(err))
}

func classify(err error) (int, string) {
	var (
		below *parking.BelowOccupiedError
		ever  *parking.EverOccupiedRemovalError
	)
	switch {
	case parking.IsClientError(err):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, parking.ErrInvalidCredentials), errors.Is(err, identity.ErrTokenInvalid):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, parking.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case parking.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &below):
		return http.StatusConflict, "below_occupied"
	case errors.As(err, &ever):
		return http.StatusConflict, "ever_occupied_removal"
	case errors.Is(err, parking.ErrAlreadyOccupied):
		return http.StatusConflict, "already_occupied"
	case errors.Is(err, parking.ErrAlreadyClosed):
		return http.StatusConflict, "already_closed"
	case errors.Is(err, parking.ErrLotFull):
		return http.StatusConflict, "lot_full"
	case errors.Is(err, parking.ErrLotInactive):
		return http.StatusConflict, "lot_inactive"
	case errors.Is(err, parking.ErrDuplicateEmail):
		return http.StatusConflict, "duplicate_email"
	case parking.IsConflict(err):
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, "internal"
}

// errorDetails exposes the structured fields of domain errors.
func errorDetails(err error) any {
	var (
		verr  *parking.ValidationError
		below *parking.BelowOccupiedError
		ever  *parking.EverOccupiedRemovalError
	)
	switch {
	case errors.As(err, &verr):
		return map[string]string{"field": verr.Field, "message": verr.Message}
	case errors.As(err, &below):
		return map[string]int{"requested": below.Requested, "occupied": below.Occupied}
	case errors.As(err, &ever):
		return map[string][]string{"spots": ever.Spots}
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string, details any) {
	resp := ErrorResponse{Error: message, Code: code}
	switch d := details.(type) {
	case nil:
	case error:
		resp.Details = d.Error()
	default:
		resp.Details = d
	}
	writeJSON(w, status, resp)
}

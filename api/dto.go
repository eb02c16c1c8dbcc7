/*
dto.go - Data Transfer Objects for the HTTP API

PURPOSE:
  Request and response shapes for the JSON API. Domain types stay free of
  JSON concerns; conversion happens here.

MONEY:
  Prices and costs are decimal.Decimal, which marshals as a JSON string
  ("12.50"). Requests accept either a string or a number.

TIME:
  All timestamps are RFC 3339 in UTC.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/parking-engine/parking"
)

// =============================================================================
// AUTH DTOs
// =============================================================================

type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	PostalCode string `json:"postal_code"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SessionDTO struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      UserDTO   `json:"user"`
}

type UserDTO struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone,omitempty"`
	Address    string    `json:"address,omitempty"`
	PostalCode string    `json:"postal_code,omitempty"`
	IsAdmin    bool      `json:"is_admin"`
	CreatedAt  time.Time `json:"created_at"`
}

// =============================================================================
// LOT DTOs
// =============================================================================

type LotDTO struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	HourlyPrice decimal.Decimal `json:"hourly_price"`
	Address     string          `json:"address"`
	PostalCode  string          `json:"postal_code"`
	TotalSpots  int             `json:"total_spots"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type CreateLotRequest struct {
	Name        string          `json:"name"`
	HourlyPrice decimal.Decimal `json:"hourly_price"`
	Address     string          `json:"address"`
	PostalCode  string          `json:"postal_code"`
	Capacity    int             `json:"capacity"`
}

// UpdateLotRequest carries optional fields; omitted fields are unchanged.
type UpdateLotRequest struct {
	Name        *string          `json:"name"`
	HourlyPrice *decimal.Decimal `json:"hourly_price"`
	Address     *string          `json:"address"`
	PostalCode  *string          `json:"postal_code"`
	Capacity    *int             `json:"capacity"`
}

type ResizeRequest struct {
	Capacity *int `json:"capacity"`
}

type SpotDTO struct {
	ID           string    `json:"id"`
	LotID        string    `json:"lot_id"`
	Number       int       `json:"number"`
	Label        string    `json:"label"`
	Occupied     bool      `json:"occupied"`
	EverOccupied bool      `json:"ever_occupied"`
	CreatedAt    time.Time `json:"created_at"`
}

// =============================================================================
// RESERVATION DTOs
// =============================================================================

// BookRequest books a spot. UserID is only honoured for admins.
type BookRequest struct {
	UserID    string `json:"user_id,omitempty"`
	VehicleID string `json:"vehicle_id"`
}

type ReservationDTO struct {
	ID         string           `json:"id"`
	SpotID     string           `json:"spot_id"`
	UserID     string           `json:"user_id"`
	VehicleID  string           `json:"vehicle_id"`
	StartTime  time.Time        `json:"start_time"`
	EndTime    *time.Time       `json:"end_time,omitempty"`
	HourlyRate decimal.Decimal  `json:"hourly_rate"`
	Cost       *decimal.Decimal `json:"cost,omitempty"`
	Open       bool             `json:"open"`

	// Populated on reads that join lot context.
	LotID     string `json:"lot_id,omitempty"`
	LotName   string `json:"lot_name,omitempty"`
	SpotLabel string `json:"spot_label,omitempty"`
}

type ReleaseResponse struct {
	ReservationID string          `json:"reservation_id"`
	Cost          decimal.Decimal `json:"cost"`
}

type EstimateResponse struct {
	ReservationID string          `json:"reservation_id"`
	Cost          decimal.Decimal `json:"cost"`
	Final         bool            `json:"final"`
	AsOf          time.Time       `json:"as_of"`
}

// =============================================================================
// REPORT DTOs
// =============================================================================

type LotSummaryDTO struct {
	Lot       LotDTO                    `json:"lot"`
	Occupancy parking.OccupancySnapshot `json:"occupancy"`
	Revenue   parking.RevenueReport     `json:"revenue"`
}

// =============================================================================
// SCENARIO DTOs
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERROR DTO
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toUserDTO(u *parking.User) UserDTO {
	return UserDTO{
		ID:         string(u.ID),
		Email:      u.Email,
		Name:       u.Name,
		Phone:      u.Phone,
		Address:    u.Address,
		PostalCode: u.PostalCode,
		IsAdmin:    u.IsAdmin,
		CreatedAt:  u.CreatedAt,
	}
}

func toLotDTO(l parking.Lot) LotDTO {
	return LotDTO{
		ID:          string(l.ID),
		Name:        l.Name,
		HourlyPrice: l.HourlyPrice,
		Address:     l.Address,
		PostalCode:  l.PostalCode,
		TotalSpots:  l.TotalSpots,
		Active:      l.Active,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}

func toLotDTOs(lots []parking.Lot) []LotDTO {
	dtos := make([]LotDTO, len(lots))
	for i, l := range lots {
		dtos[i] = toLotDTO(l)
	}
	return dtos
}

func toSpotDTOs(spots []parking.Spot) []SpotDTO {
	dtos := make([]SpotDTO, len(spots))
	for i, s := range spots {
		dtos[i] = SpotDTO{
			ID:           string(s.ID),
			LotID:        string(s.LotID),
			Number:       s.Number,
			Label:        s.Label,
			Occupied:     s.Occupied,
			EverOccupied: s.EverOccupied,
			CreatedAt:    s.CreatedAt,
		}
	}
	return dtos
}

func toReservationDTO(r parking.Reservation) ReservationDTO {
	return ReservationDTO{
		ID:         string(r.ID),
		SpotID:     string(r.SpotID),
		UserID:     string(r.UserID),
		VehicleID:  r.VehicleID,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
		HourlyRate: r.HourlyRate,
		Cost:       r.Cost,
		Open:       r.IsOpen(),
	}
}

func toReservationViewDTO(v parking.ReservationView) ReservationDTO {
	dto := toReservationDTO(v.Reservation)
	cost := v.Cost
	dto.Cost = &cost
	dto.LotID = string(v.LotID)
	dto.LotName = v.LotName
	dto.SpotLabel = v.SpotLabel
	return dto
}

func (req CreateLotRequest) toInput() parking.LotInput {
	return parking.LotInput{
		Name:        req.Name,
		HourlyPrice: req.HourlyPrice,
		Address:     req.Address,
		PostalCode:  req.PostalCode,
		Capacity:    req.Capacity,
	}
}

func (req UpdateLotRequest) toUpdate() parking.LotUpdate {
	return parking.LotUpdate{
		Name:        req.Name,
		HourlyPrice: req.HourlyPrice,
		Address:     req.Address,
		PostalCode:  req.PostalCode,
		Capacity:    req.Capacity,
	}
}

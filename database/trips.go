package database

import (
	"fmt"
	"strconv"
	"strings"

	"tripledger/models"
	"tripledger/validator"
)

// TripStore is the repository for trip records, built on the manager's
// cached reads and transactional writes. Every mutation invalidates the
// cached trip queries before returning.
type TripStore struct {
	manager  *Manager
	validate *validator.Validator
}

func NewTripStore(manager *Manager) *TripStore {
	return &TripStore{manager: manager, validate: validator.New()}
}

// GetByID returns the trip with the given id, or nil when it does not exist.
func (s *TripStore) GetByID(id int64) (*models.Trip, error) {
	rows, err := s.manager.QueryPrepared("get_trip_by_id", true, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return tripFromRow(rows[0]), nil
}

// List returns trips newest-first, paginated.
func (s *TripStore) List(limit, offset int) ([]models.Trip, error) {
	rows, err := s.manager.QueryPrepared("get_trips_paginated", true, limit, offset)
	if err != nil {
		return nil, err
	}
	return tripsFromRows(rows), nil
}

// SearchByCustomer returns trips whose customer name contains term.
func (s *TripStore) SearchByCustomer(term string) ([]models.Trip, error) {
	rows, err := s.manager.QueryPrepared("search_trips_by_customer", true, "%"+term+"%")
	if err != nil {
		return nil, err
	}
	return tripsFromRows(rows), nil
}

// SearchByRoute returns trips matching origin and destination fragments.
func (s *TripStore) SearchByRoute(origin, destination string) ([]models.Trip, error) {
	rows, err := s.manager.QueryPrepared("search_trips_by_route", true, "%"+origin+"%", "%"+destination+"%")
	if err != nil {
		return nil, err
	}
	return tripsFromRows(rows), nil
}

// NextCode derives the next trip code from the most recently inserted one by
// incrementing its numeric suffix. A fresh table starts at C001.
func (s *TripStore) NextCode() (string, error) {
	rows, err := s.manager.QueryPrepared("get_next_trip_code", false)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "C001", nil
	}

	last, _ := rows[0].String("ma_chuyen")
	prefix := strings.TrimRight(last, "0123456789")
	digits := last[len(prefix):]
	if digits == "" {
		return "C001", nil
	}

	n, err := strconv.Atoi(digits)
	if err != nil {
		return "", fmt.Errorf("trip code %q has a malformed numeric suffix: %w", last, err)
	}
	return fmt.Sprintf("%s%0*d", prefix, len(digits), n+1), nil
}

// Create validates and inserts a trip, assigning the generated id. The
// cached trip reads are invalidated afterwards.
func (s *TripStore) Create(trip *models.Trip) error {
	if err := s.validate.Validate(trip); err != nil {
		return err
	}

	id, err := s.manager.Insert(`
		INSERT INTO trips (ma_chuyen, khach_hang, diem_di, diem_den, gia_ca, khoan_luong, chi_phi_khac, ghi_chu)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		trip.Code, trip.Customer, trip.Origin, trip.Destination,
		trip.Price, trip.Payroll, trip.OtherCosts, trip.Notes,
	)
	if err != nil {
		return err
	}
	trip.ID = id

	s.manager.InvalidateCache("trips")
	return nil
}

// Update validates and rewrites a trip row by id.
func (s *TripStore) Update(trip *models.Trip) error {
	if err := s.validate.Validate(trip); err != nil {
		return err
	}

	affected, err := s.manager.Exec(`
		UPDATE trips SET
			ma_chuyen = ?, khach_hang = ?, diem_di = ?, diem_den = ?,
			gia_ca = ?, khoan_luong = ?, chi_phi_khac = ?, ghi_chu = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		trip.Code, trip.Customer, trip.Origin, trip.Destination,
		trip.Price, trip.Payroll, trip.OtherCosts, trip.Notes, trip.ID,
	)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("trip %d not found", trip.ID)
	}

	s.manager.InvalidateCache("trips")
	return nil
}

// Delete removes a trip by id.
func (s *TripStore) Delete(id int64) error {
	affected, err := s.manager.Exec("DELETE FROM trips WHERE id = ?", id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("trip %d not found", id)
	}

	s.manager.InvalidateCache("trips")
	return nil
}

// AutocompleteCustomers returns distinct customer names containing term.
func (s *TripStore) AutocompleteCustomers(term string) ([]string, error) {
	rows, err := s.manager.QueryPrepared("autocomplete_customers", true, "%"+term+"%")
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if name, ok := row.String("khach_hang"); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

func tripFromRow(row Row) *models.Trip {
	trip := &models.Trip{}
	trip.ID, _ = row.Int("id")
	trip.Code, _ = row.String("ma_chuyen")
	trip.Customer, _ = row.String("khach_hang")
	trip.Origin, _ = row.String("diem_di")
	trip.Destination, _ = row.String("diem_den")
	trip.Price, _ = row.Int("gia_ca")
	trip.Payroll, _ = row.Int("khoan_luong")
	trip.OtherCosts, _ = row.Int("chi_phi_khac")
	trip.Notes, _ = row.String("ghi_chu")
	trip.CreatedAt, _ = row.Time("created_at")
	trip.UpdatedAt, _ = row.Time("updated_at")
	return trip
}

func tripsFromRows(rows []Row) []models.Trip {
	trips := make([]models.Trip, 0, len(rows))
	for _, row := range rows {
		trips = append(trips, *tripFromRow(row))
	}
	return trips
}

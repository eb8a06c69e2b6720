package models

import "time"

// Trip is one transport-trip record. Column names follow the established
// Vietnamese schema (ma_chuyen = trip code, khach_hang = customer,
// diem_di/diem_den = origin/destination, gia_ca = price).
type Trip struct {
	ID          int64     `json:"id"`
	Code        string    `json:"ma_chuyen" validate:"required,max=10"`
	Customer    string    `json:"khach_hang" validate:"required,max=255"`
	Origin      string    `json:"diem_di" validate:"max=255"`
	Destination string    `json:"diem_den" validate:"max=255"`
	Price       int64     `json:"gia_ca" validate:"gte=0"`
	Payroll     int64     `json:"khoan_luong" validate:"gte=0"`
	OtherCosts  int64     `json:"chi_phi_khac" validate:"gte=0"`
	Notes       string    `json:"ghi_chu"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CompanyPrice is a negotiated rate for a customer and route, used to
// pre-fill new trips.
type CompanyPrice struct {
	ID          int64     `json:"id"`
	CompanyName string    `json:"company_name" validate:"required,max=255"`
	Customer    string    `json:"khach_hang" validate:"required,max=255"`
	Origin      string    `json:"diem_di" validate:"max=255"`
	Destination string    `json:"diem_den" validate:"max=255"`
	Price       int64     `json:"gia_ca" validate:"gte=0"`
	Payroll     int64     `json:"khoan_luong" validate:"gte=0"`
	CreatedAt   time.Time `json:"created_at"`
}

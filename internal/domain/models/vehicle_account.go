package models

import "github.com/shopspring/decimal"

type VehicleStatus string

const (
	VehicleActive    VehicleStatus = "active"
	VehicleInactive  VehicleStatus = "inactive"
	VehicleSuspended VehicleStatus = "suspended"
)

// VehicleAccount holds the money-bearing balances of one registered vehicle.
type VehicleAccount struct {
	ID                 int64           `json:"id"`
	MemberID           int64           `json:"member_id"`
	RegistrationNumber string          `json:"registration_number"`
	SavingsBalance     decimal.Decimal `json:"savings_balance"`
	OutstandingLoan    decimal.Decimal `json:"outstanding_loan"`
	Status             VehicleStatus   `json:"status"`
}

// Balance is the read-only view returned by the ledger.
type Balance struct {
	VehicleID       int64           `json:"matatu_id"`
	Savings         decimal.Decimal `json:"savings"`
	OutstandingLoan decimal.Decimal `json:"outstanding_loan"`
	Status          VehicleStatus   `json:"status"`
}

// Totals aggregates balances across the fleet.
type Totals struct {
	Savings         decimal.Decimal `json:"total_savings"`
	OutstandingLoan decimal.Decimal `json:"total_loans"`
}

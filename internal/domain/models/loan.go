package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoanType string

const (
	LoanNormal    LoanType = "normal"
	LoanEmergency LoanType = "emergency"
)

func (t LoanType) Valid() bool {
	return t == LoanNormal || t == LoanEmergency
}

type LoanStatus string

const (
	LoanPending     LoanStatus = "pending"
	LoanApproved    LoanStatus = "approved"
	LoanDisapproved LoanStatus = "disapproved"
	LoanDisbursed   LoanStatus = "disbursed"
	LoanRepaid      LoanStatus = "repaid"
)

// Open reports whether the loan still counts against the one-open-loan rules.
func (s LoanStatus) Open() bool {
	return s == LoanPending || s == LoanApproved || s == LoanDisbursed
}

type Loan struct {
	ID            int64           `json:"loanId"`
	VehicleID     *int64          `json:"matatuId,omitempty"`
	ApplicantID   int64           `json:"applicantId"`
	Type          LoanType        `json:"loanType"`
	AmountApplied decimal.Decimal `json:"amountApplied"`
	AmountIssued  decimal.Decimal `json:"amountIssued"`
	Status        LoanStatus      `json:"status"`
	Guarantors    []int64         `json:"guarantors,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	DecidedAt     *time.Time      `json:"decidedAt,omitempty"`
}

// LoanApplication is the validated input of a new loan.
type LoanApplication struct {
	ApplicantID int64
	Type        LoanType
	VehicleID   *int64
	Amount      decimal.Decimal
	Guarantors  []int64
}

// LoanDecision is the payload handed to the notification dispatcher.
type LoanDecision struct {
	LoanID       int64           `json:"loan_id"`
	ApplicantID  int64           `json:"applicant_id"`
	Type         LoanType        `json:"loan_type"`
	Status       LoanStatus      `json:"status"`
	AmountIssued decimal.Decimal `json:"amount_issued"`
	Reason       string          `json:"reason,omitempty"`
	DecidedAt    time.Time       `json:"decided_at"`
}

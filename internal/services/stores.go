package services

import (
	"context"
	"time"

	"sacco/internal/domain/models"
	"sacco/internal/gateway"

	"github.com/shopspring/decimal"
)

// LedgerStore is the single writer of vehicle balances.
type LedgerStore interface {
	GetBalance(ctx context.Context, vehicleID int64) (models.Balance, error)
	PrimaryVehicle(ctx context.Context, memberID int64) (int64, error)
	GetVehicle(ctx context.Context, vehicleID int64) (models.VehicleAccount, error)
	FindVehicleByRegistration(ctx context.Context, registration string) (models.VehicleAccount, error)
	Totals(ctx context.Context) (models.Totals, error)
	DisburseLoan(ctx context.Context, vehicleID int64, amount decimal.Decimal, loanID int64) error
	ApplyAllocation(ctx context.Context, checkoutRequestID string, vehicleID int64, plan models.AllocationPlanner) (models.AllocationResult, error)
}

type LoanStore interface {
	CreateLoan(ctx context.Context, app models.LoanApplication, createdAt time.Time) (models.Loan, error)
	GetLoan(ctx context.Context, loanID int64) (models.Loan, error)
	ListPendingLoans(ctx context.Context, applicantID *int64) ([]models.Loan, error)
	ListLoansByVehicle(ctx context.Context, vehicleID int64) ([]models.Loan, error)
	DisapproveLoan(ctx context.Context, loanID int64, reason string, decidedAt time.Time) error
	MarkLoansRepaid(ctx context.Context, vehicleID int64) (int64, error)
}

type PaymentStore interface {
	CreatePayment(ctx context.Context, p models.PaymentRequest) error
	GetPayment(ctx context.Context, checkoutRequestID string) (models.PaymentRequest, error)
	SettlePayment(ctx context.Context, checkoutRequestID string, out models.PaymentOutcome, at time.Time) (models.PaymentRequest, bool, error)
	ListStalePayments(ctx context.Context, before time.Time, limit int) ([]models.PaymentRequest, error)
}

type MemberStore interface {
	GetMemberByLogin(ctx context.Context, login string) (models.Member, error)
}

// PaymentGateway is the mobile-money provider.
type PaymentGateway interface {
	InitiateCollection(ctx context.Context, req gateway.CollectionRequest) (string, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (models.PaymentOutcome, error)
}

// Notifier delivers loan decisions to the external notification dispatcher.
type Notifier interface {
	NotifyLoanDecision(ctx context.Context, d models.LoanDecision) error
}

// Lease is a short-lived exclusive claim on a key across service instances.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

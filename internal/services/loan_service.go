package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sacco/internal/domain"
	"sacco/internal/domain/models"
	"sacco/internal/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultEmergencyCeiling is the largest emergency loan a member may apply for.
var DefaultEmergencyCeiling = decimal.NewFromInt(30000)

const notifyTimeout = 10 * time.Second

// LoanService runs the loan state machine:
// pending -> disbursed -> repaid, pending -> disapproved.
type LoanService struct {
	Ledger           LedgerStore
	Loans            LoanStore
	Guarantors       GuarantorPolicy
	Notifier         Notifier
	EmergencyCeiling decimal.Decimal
	Now              func() time.Time

	notifications sync.WaitGroup
}

func (s *LoanService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *LoanService) ceiling() decimal.Decimal {
	if s.EmergencyCeiling.IsPositive() {
		return s.EmergencyCeiling
	}
	return DefaultEmergencyCeiling
}

// ApplyLoan validates an application for its type and records it as pending.
func (s *LoanService) ApplyLoan(ctx context.Context, app models.LoanApplication) (models.Loan, error) {
	if !app.Type.Valid() {
		return models.Loan{}, domain.ValidationError{Field: "loanType", Msg: "must be normal or emergency", Err: domain.ErrInvalidLoanType}
	}
	if !app.Amount.IsPositive() {
		return models.Loan{}, domain.ValidationError{Field: "amountApplied", Msg: "must be greater than zero", Err: domain.ErrInvalidAmount}
	}

	switch app.Type {
	case models.LoanNormal:
		if app.VehicleID == nil || *app.VehicleID <= 0 {
			return models.Loan{}, domain.ValidationError{Field: "matatuId", Msg: "required for normal loans", Err: domain.ErrMissingVehicle}
		}
		v, err := s.ownVehicle(ctx, app.ApplicantID, *app.VehicleID)
		if err != nil {
			return models.Loan{}, err
		}
		if app.Amount.GreaterThan(v.SavingsBalance) {
			return models.Loan{}, domain.BusinessRuleError{
				Rule: "InsufficientSavings",
				Msg:  fmt.Sprintf("amount %s exceeds savings %s", utils.FormatShillings(app.Amount), utils.FormatShillings(v.SavingsBalance)),
				Err:  domain.ErrInsufficientSavings,
			}
		}
		app.Guarantors = nil
	case models.LoanEmergency:
		if app.Amount.GreaterThan(s.ceiling()) {
			return models.Loan{}, domain.BusinessRuleError{
				Rule: "EmergencyLoanCeilingExceeded",
				Msg:  fmt.Sprintf("emergency loans are limited to %s", utils.FormatShillings(s.ceiling())),
				Err:  domain.ErrEmergencyCeilingExceeded,
			}
		}
		if app.VehicleID != nil {
			if _, err := s.ownVehicle(ctx, app.ApplicantID, *app.VehicleID); err != nil {
				return models.Loan{}, err
			}
		}
		ids, err := s.Guarantors.ValidateGuarantors(ctx, app.ApplicantID, app.Guarantors)
		if err != nil {
			return models.Loan{}, err
		}
		app.Guarantors = ids
	}

	loan, err := s.Loans.CreateLoan(ctx, app, s.now())
	if err != nil {
		return models.Loan{}, err
	}
	utils.LogEvent(utils.RequestIDFrom(ctx), "loan", "apply", "loan application recorded",
		zap.Int64("loan_id", loan.ID), zap.String("loan_type", string(loan.Type)), zap.String("amount", loan.AmountApplied.String()))
	return loan, nil
}

// ownVehicle loads the vehicle a loan is applied against; it must belong to
// the applicant.
func (s *LoanService) ownVehicle(ctx context.Context, applicantID, vehicleID int64) (models.VehicleAccount, error) {
	if vehicleID <= 0 {
		return models.VehicleAccount{}, domain.ValidationError{Field: "matatuId", Msg: "invalid vehicle id", Err: domain.ErrMissingVehicle}
	}
	v, err := s.Ledger.GetVehicle(ctx, vehicleID)
	if err != nil {
		return models.VehicleAccount{}, err
	}
	if v.MemberID != applicantID {
		return models.VehicleAccount{}, domain.ValidationError{Field: "matatuId", Msg: "vehicle does not belong to the applicant", Err: domain.ErrVehicleNotOwned}
	}
	return v, nil
}

// ApproveLoan disburses amountIssued and marks the loan disbursed. When
// expected is set the loan must be of that type.
func (s *LoanService) ApproveLoan(ctx context.Context, loanID int64, amountIssued decimal.Decimal, expected models.LoanType) (models.Loan, error) {
	if !amountIssued.IsPositive() {
		return models.Loan{}, domain.ValidationError{Field: "amountIssued", Msg: "must be greater than zero", Err: domain.ErrInvalidAmount}
	}
	loan, err := s.pendingLoan(ctx, loanID, expected)
	if err != nil {
		return models.Loan{}, err
	}

	var vehicleID int64
	if loan.VehicleID != nil {
		vehicleID = *loan.VehicleID
	} else {
		// emergency loans are booked against the applicant's primary vehicle
		if vehicleID, err = s.Ledger.PrimaryVehicle(ctx, loan.ApplicantID); err != nil {
			return models.Loan{}, err
		}
	}

	if err := s.Ledger.DisburseLoan(ctx, vehicleID, amountIssued, loanID); err != nil {
		return models.Loan{}, err
	}

	loan, err = s.Loans.GetLoan(ctx, loanID)
	if err != nil {
		return models.Loan{}, err
	}
	utils.LogEvent(utils.RequestIDFrom(ctx), "loan", "approve", "loan disbursed",
		zap.Int64("loan_id", loanID), zap.Int64("vehicle_id", vehicleID), zap.String("amount_issued", amountIssued.String()))
	s.notify(ctx, loan)
	return loan, nil
}

// DisapproveLoan rejects a pending loan with a reason; balances are untouched.
func (s *LoanService) DisapproveLoan(ctx context.Context, loanID int64, reason string, expected models.LoanType) (models.Loan, error) {
	reason = utils.NormalizeSpace(reason)
	if reason == "" {
		return models.Loan{}, domain.ValidationError{Field: "reason", Msg: "required", Err: domain.ErrMissingReason}
	}
	if _, err := s.pendingLoan(ctx, loanID, expected); err != nil {
		return models.Loan{}, err
	}
	if err := s.Loans.DisapproveLoan(ctx, loanID, reason, s.now()); err != nil {
		return models.Loan{}, err
	}

	loan, err := s.Loans.GetLoan(ctx, loanID)
	if err != nil {
		return models.Loan{}, err
	}
	utils.LogEvent(utils.RequestIDFrom(ctx), "loan", "disapprove", "loan disapproved", zap.Int64("loan_id", loanID))
	s.notify(ctx, loan)
	return loan, nil
}

func (s *LoanService) pendingLoan(ctx context.Context, loanID int64, expected models.LoanType) (models.Loan, error) {
	if loanID <= 0 {
		return models.Loan{}, domain.ValidationError{Field: "loanId", Msg: "invalid loan id"}
	}
	loan, err := s.Loans.GetLoan(ctx, loanID)
	if err != nil {
		return models.Loan{}, err
	}
	if expected != "" && loan.Type != expected {
		return models.Loan{}, domain.ValidationError{Field: "loanId", Msg: fmt.Sprintf("loan %d is not a %s loan", loanID, expected), Err: domain.ErrInvalidLoanType}
	}
	if loan.Status != models.LoanPending {
		return models.Loan{}, domain.BusinessRuleError{Rule: "LoanNotPending", Msg: fmt.Sprintf("loan %d is %s", loanID, loan.Status), Err: domain.ErrLoanNotPending}
	}
	return loan, nil
}

// MarkRepaid closes the vehicle's disbursed loans once its outstanding balance is zero.
func (s *LoanService) MarkRepaid(ctx context.Context, vehicleID int64) error {
	n, err := s.Loans.MarkLoansRepaid(ctx, vehicleID)
	if err != nil {
		return err
	}
	if n > 0 {
		utils.LogEvent(utils.RequestIDFrom(ctx), "loan", "repaid", "loans closed", zap.Int64("vehicle_id", vehicleID), zap.Int64("loans", n))
	}
	return nil
}

// PendingLoans lists pending loans visible to the caller.
func (s *LoanService) PendingLoans(ctx context.Context, caller domain.RequestContext) ([]models.Loan, error) {
	if caller.IsStaff() {
		return s.Loans.ListPendingLoans(ctx, nil)
	}
	id := int64(caller.UserID)
	return s.Loans.ListPendingLoans(ctx, &id)
}

// FinancialStatus is the per-vehicle statement shown on the member dashboard.
type FinancialStatus struct {
	models.Balance
	Loans []models.Loan `json:"loans"`
}

func (s *LoanService) FinancialStatus(ctx context.Context, vehicleID int64) (FinancialStatus, error) {
	bal, err := s.Ledger.GetBalance(ctx, vehicleID)
	if err != nil {
		return FinancialStatus{}, err
	}
	loans, err := s.Loans.ListLoansByVehicle(ctx, vehicleID)
	if err != nil {
		return FinancialStatus{}, err
	}
	return FinancialStatus{Balance: bal, Loans: loans}, nil
}

func (s *LoanService) Totals(ctx context.Context) (models.Totals, error) {
	return s.Ledger.Totals(ctx)
}

// notify hands the decision to the dispatcher without blocking or failing the caller.
func (s *LoanService) notify(ctx context.Context, loan models.Loan) {
	if s.Notifier == nil {
		return
	}
	d := models.LoanDecision{
		LoanID:       loan.ID,
		ApplicantID:  loan.ApplicantID,
		Type:         loan.Type,
		Status:       loan.Status,
		AmountIssued: loan.AmountIssued,
		Reason:       loan.Reason,
		DecidedAt:    s.now(),
	}
	if loan.DecidedAt != nil {
		d.DecidedAt = *loan.DecidedAt
	}

	reqID := utils.RequestIDFrom(ctx)
	detached := context.WithoutCancel(ctx)
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		nctx, cancel := context.WithTimeout(detached, notifyTimeout)
		defer cancel()
		if err := s.Notifier.NotifyLoanDecision(nctx, d); err != nil {
			utils.LogError(reqID, "loan", "notify", err, zap.Int64("loan_id", d.LoanID))
		}
	}()
}

// WaitNotifications blocks until in-flight notifications finish.
func (s *LoanService) WaitNotifications() {
	s.notifications.Wait()
}

package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	intconfig "sacco/internal/config"
	intdb "sacco/internal/db"
	"sacco/internal/domain"
	"sacco/internal/domain/models"

	"github.com/shopspring/decimal"
)

var errAlreadyApplied = errors.New("allocation already applied")

// LedgerRepository is the MySQL-backed ledger. Every write locks the
// vehicle_accounts row so savings and outstanding loan move together.
type LedgerRepository struct {
	DB  *sql.DB
	Now func() time.Time
}

func (r LedgerRepository) db() *sql.DB {
	if r.DB != nil {
		return r.DB
	}
	return intconfig.DB
}

func (r LedgerRepository) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r LedgerRepository) GetBalance(ctx context.Context, vehicleID int64) (models.Balance, error) {
	return scanBalance(ctx, r.db(), vehicleID, false)
}

func scanBalance(ctx context.Context, q intdb.QueryRower, vehicleID int64, lock bool) (models.Balance, error) {
	if vehicleID <= 0 {
		return models.Balance{}, domain.ValidationError{Field: "matatu_id", Msg: "invalid vehicle id"}
	}
	query := `SELECT savings_balance, outstanding_loan, status FROM vehicle_accounts WHERE id=?`
	if lock {
		query += ` FOR UPDATE`
	}
	b := models.Balance{VehicleID: vehicleID}
	var status string
	if err := q.QueryRowContext(ctx, query, vehicleID).Scan(&b.Savings, &b.OutstandingLoan, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Balance{}, domain.NotFoundError{Resource: "vehicle", Err: err}
		}
		return models.Balance{}, fmt.Errorf("read balance: %w", err)
	}
	b.Status = models.VehicleStatus(status)
	return b, nil
}

// PrimaryVehicle returns the member's lowest-id vehicle account.
func (r LedgerRepository) PrimaryVehicle(ctx context.Context, memberID int64) (int64, error) {
	var id int64
	err := r.db().QueryRowContext(ctx,
		`SELECT id FROM vehicle_accounts WHERE member_id=? ORDER BY id ASC LIMIT 1`, memberID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.NotFoundError{Resource: "vehicle", Err: err}
		}
		return 0, fmt.Errorf("read primary vehicle: %w", err)
	}
	return id, nil
}

func (r LedgerRepository) GetVehicle(ctx context.Context, vehicleID int64) (models.VehicleAccount, error) {
	if vehicleID <= 0 {
		return models.VehicleAccount{}, domain.ValidationError{Field: "matatu_id", Msg: "invalid vehicle id"}
	}
	return r.readVehicle(ctx, `id=?`, vehicleID)
}

func (r LedgerRepository) FindVehicleByRegistration(ctx context.Context, registration string) (models.VehicleAccount, error) {
	return r.readVehicle(ctx, `registration_number=?`, registration)
}

func (r LedgerRepository) readVehicle(ctx context.Context, where string, arg any) (models.VehicleAccount, error) {
	var v models.VehicleAccount
	var status string
	err := r.db().QueryRowContext(ctx, `
		SELECT id, member_id, registration_number, savings_balance, outstanding_loan, status
		FROM vehicle_accounts
		WHERE `+where+` LIMIT 1`, arg).Scan(
		&v.ID, &v.MemberID, &v.RegistrationNumber, &v.SavingsBalance, &v.OutstandingLoan, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.VehicleAccount{}, domain.NotFoundError{Resource: "vehicle", Err: err}
		}
		return models.VehicleAccount{}, fmt.Errorf("read vehicle: %w", err)
	}
	v.Status = models.VehicleStatus(status)
	return v, nil
}

func (r LedgerRepository) Totals(ctx context.Context) (models.Totals, error) {
	var t models.Totals
	err := r.db().QueryRowContext(ctx,
		`SELECT COALESCE(SUM(savings_balance),0), COALESCE(SUM(outstanding_loan),0) FROM vehicle_accounts`).
		Scan(&t.Savings, &t.OutstandingLoan)
	if err != nil {
		return models.Totals{}, fmt.Errorf("read totals: %w", err)
	}
	return t, nil
}

// DisburseLoan adds amount to the vehicle's outstanding loan and moves the
// loan from pending to disbursed in the same transaction.
func (r LedgerRepository) DisburseLoan(ctx context.Context, vehicleID int64, amount decimal.Decimal, loanID int64) error {
	if !amount.IsPositive() {
		return domain.ValidationError{Field: "amountIssued", Msg: "must be greater than zero", Err: domain.ErrInvalidAmount}
	}
	decidedAt := r.now()

	return intdb.WithTx(ctx, r.db(), func(tx *sql.Tx) error {
		var status string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM loans WHERE id=? FOR UPDATE`, loanID).Scan(&status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.NotFoundError{Resource: "loan", Err: err}
			}
			return fmt.Errorf("lock loan: %w", err)
		}
		if models.LoanStatus(status) != models.LoanPending {
			return domain.BusinessRuleError{Rule: "LoanNotPending", Msg: fmt.Sprintf("loan %d is %s", loanID, status), Err: domain.ErrLoanNotPending}
		}

		bal, err := scanBalance(ctx, tx, vehicleID, true)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE vehicle_accounts SET outstanding_loan=? WHERE id=?`,
			bal.OutstandingLoan.Add(amount), vehicleID); err != nil {
			return fmt.Errorf("update outstanding loan: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE loans SET status=?, amount_issued=?, vehicle_id=?, decided_at=?
			WHERE id=?`, string(models.LoanDisbursed), amount, vehicleID, decidedAt, loanID); err != nil {
			return fmt.Errorf("update loan: %w", err)
		}
		return nil
	})
}

// ApplyAllocation applies the planner's split exactly once per checkoutRequestID.
func (r LedgerRepository) ApplyAllocation(ctx context.Context, checkoutRequestID string, vehicleID int64, plan models.AllocationPlanner) (models.AllocationResult, error) {
	if checkoutRequestID == "" {
		return models.AllocationResult{}, domain.ValidationError{Field: "CheckoutRequestID", Msg: "required"}
	}
	res := models.AllocationResult{CheckoutRequestID: checkoutRequestID}

	err := intdb.WithTx(ctx, r.db(), func(tx *sql.Tx) error {
		bal, err := scanBalance(ctx, tx, vehicleID, true)
		if err != nil {
			return err
		}

		stored, found, err := readAllocation(ctx, tx, checkoutRequestID, true)
		if err != nil {
			return err
		}
		if found {
			res.Allocation = stored
			res.Balance = bal
			return nil
		}

		alloc := clampAllocation(plan(bal), bal)
		next := bal
		next.Savings = bal.Savings.Add(alloc.SavingsContribution)
		next.OutstandingLoan = bal.OutstandingLoan.Sub(alloc.LoanRepayment)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_allocations
				(checkout_request_id, vehicle_id, operations_fee, insurance, savings_contribution, loan_repayment, applied_at)
			VALUES (?,?,?,?,?,?,?)`,
			checkoutRequestID, vehicleID, alloc.OperationsFee, alloc.Insurance,
			alloc.SavingsContribution, alloc.LoanRepayment, r.now()); err != nil {
			if intdb.IsDuplicateKey(err) {
				return errAlreadyApplied
			}
			return fmt.Errorf("record allocation: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE vehicle_accounts SET savings_balance=?, outstanding_loan=? WHERE id=?`,
			next.Savings, next.OutstandingLoan, vehicleID); err != nil {
			return fmt.Errorf("update balances: %w", err)
		}

		res.Allocation = alloc
		res.Balance = next
		res.Applied = true
		return nil
	})
	if errors.Is(err, errAlreadyApplied) {
		return r.replay(ctx, checkoutRequestID, vehicleID)
	}
	if err != nil {
		return models.AllocationResult{}, err
	}
	return res, nil
}

func (r LedgerRepository) replay(ctx context.Context, checkoutRequestID string, vehicleID int64) (models.AllocationResult, error) {
	stored, _, err := readAllocation(ctx, r.db(), checkoutRequestID, false)
	if err != nil {
		return models.AllocationResult{}, err
	}
	bal, err := r.GetBalance(ctx, vehicleID)
	if err != nil {
		return models.AllocationResult{}, err
	}
	return models.AllocationResult{CheckoutRequestID: checkoutRequestID, Allocation: stored, Balance: bal}, nil
}

func readAllocation(ctx context.Context, q intdb.QueryRower, checkoutRequestID string, lock bool) (models.Allocation, bool, error) {
	query := `
		SELECT operations_fee, insurance, savings_contribution, loan_repayment
		FROM ledger_allocations WHERE checkout_request_id=?`
	if lock {
		query += ` FOR UPDATE`
	}
	var a models.Allocation
	err := q.QueryRowContext(ctx, query, checkoutRequestID).Scan(&a.OperationsFee, &a.Insurance, &a.SavingsContribution, &a.LoanRepayment)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Allocation{}, false, nil
	}
	if err != nil {
		return models.Allocation{}, false, fmt.Errorf("read allocation: %w", err)
	}
	return a, true, nil
}

// clampAllocation never lets a repayment push the loan below zero and never
// lets a bucket go negative. The surplus repayment is not credited anywhere;
// planners are expected to redirect it before it reaches the ledger.
func clampAllocation(a models.Allocation, bal models.Balance) models.Allocation {
	zero := decimal.Zero
	a.OperationsFee = decimal.Max(a.OperationsFee, zero)
	a.Insurance = decimal.Max(a.Insurance, zero)
	a.SavingsContribution = decimal.Max(a.SavingsContribution, zero)
	a.LoanRepayment = decimal.Min(decimal.Max(a.LoanRepayment, zero), bal.OutstandingLoan)
	return a
}

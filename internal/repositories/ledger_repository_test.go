package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"sacco/internal/domain"
	"sacco/internal/domain/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fixedPlanner(a models.Allocation) models.AllocationPlanner {
	return func(models.Balance) models.Allocation { return a }
}

func balanceRows(savings, loan string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"savings_balance", "outstanding_loan", "status"}).AddRow(savings, loan, "active")
}

func TestApplyAllocationAppliesOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM vehicle_accounts WHERE id=\? FOR UPDATE`).WithArgs(int64(7)).
		WillReturnRows(balanceRows("20000.00", "15000.00"))
	mock.ExpectQuery(`FROM ledger_allocations WHERE checkout_request_id=\? FOR UPDATE`).WithArgs("ws_CO_1").
		WillReturnRows(sqlmock.NewRows([]string{"operations_fee", "insurance", "savings_contribution", "loan_repayment"}))
	mock.ExpectExec(`INSERT INTO ledger_allocations`).
		WithArgs("ws_CO_1", int64(7), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE vehicle_accounts SET savings_balance=\?, outstanding_loan=\? WHERE id=\?`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := LedgerRepository{DB: db, Now: func() time.Time { return fixedNow }}
	res, err := repo.ApplyAllocation(context.Background(), "ws_CO_1", 7, fixedPlanner(models.Allocation{
		OperationsFee:       dec("1000"),
		Insurance:           dec("0"),
		SavingsContribution: dec("4000"),
		LoanRepayment:       dec("15000"),
	}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Applied {
		t.Fatalf("expected allocation to be applied")
	}
	if !res.Balance.Savings.Equal(dec("24000")) {
		t.Fatalf("savings = %s, want 24000", res.Balance.Savings)
	}
	if !res.Balance.OutstandingLoan.IsZero() {
		t.Fatalf("outstanding = %s, want 0", res.Balance.OutstandingLoan)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyAllocationReplayDoesNotTouchBalances(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM vehicle_accounts WHERE id=\? FOR UPDATE`).WithArgs(int64(7)).
		WillReturnRows(balanceRows("24000.00", "0.00"))
	mock.ExpectQuery(`FROM ledger_allocations WHERE checkout_request_id=\? FOR UPDATE`).WithArgs("ws_CO_1").
		WillReturnRows(sqlmock.NewRows([]string{"operations_fee", "insurance", "savings_contribution", "loan_repayment"}).
			AddRow("1000.00", "0.00", "4000.00", "15000.00"))
	mock.ExpectCommit()

	called := false
	repo := LedgerRepository{DB: db}
	res, err := repo.ApplyAllocation(context.Background(), "ws_CO_1", 7, func(models.Balance) models.Allocation {
		called = true
		return models.Allocation{}
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Applied {
		t.Fatalf("replay must not report a new allocation")
	}
	if called {
		t.Fatalf("planner must not run on replay")
	}
	if !res.Allocation.LoanRepayment.Equal(dec("15000")) {
		t.Fatalf("stored allocation not returned, got %+v", res.Allocation)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyAllocationDuplicateKeyFallsBackToReplay(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM vehicle_accounts WHERE id=\? FOR UPDATE`).WithArgs(int64(7)).
		WillReturnRows(balanceRows("20000.00", "15000.00"))
	mock.ExpectQuery(`FROM ledger_allocations WHERE checkout_request_id=\? FOR UPDATE`).WithArgs("ws_CO_1").
		WillReturnRows(sqlmock.NewRows([]string{"operations_fee", "insurance", "savings_contribution", "loan_repayment"}))
	mock.ExpectExec(`INSERT INTO ledger_allocations`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()
	mock.ExpectQuery(`FROM ledger_allocations WHERE checkout_request_id=\?`).WithArgs("ws_CO_1").
		WillReturnRows(sqlmock.NewRows([]string{"operations_fee", "insurance", "savings_contribution", "loan_repayment"}).
			AddRow("1000.00", "0.00", "4000.00", "15000.00"))
	mock.ExpectQuery(`SELECT savings_balance, outstanding_loan, status FROM vehicle_accounts WHERE id=\?`).WithArgs(int64(7)).
		WillReturnRows(balanceRows("24000.00", "0.00"))

	repo := LedgerRepository{DB: db}
	res, err := repo.ApplyAllocation(context.Background(), "ws_CO_1", 7, fixedPlanner(models.Allocation{
		SavingsContribution: dec("4000"),
		LoanRepayment:       dec("15000"),
	}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Applied {
		t.Fatalf("losing writer must observe a no-op")
	}
	if !res.Balance.Savings.Equal(dec("24000")) {
		t.Fatalf("savings = %s, want 24000", res.Balance.Savings)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyAllocationUnknownVehicle(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM vehicle_accounts WHERE id=\? FOR UPDATE`).WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"savings_balance", "outstanding_loan", "status"}))
	mock.ExpectRollback()

	_, err = LedgerRepository{DB: db}.ApplyAllocation(context.Background(), "ws_CO_2", 99, fixedPlanner(models.Allocation{}))
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDisburseLoanMovesLoanAndBalanceTogether(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM loans WHERE id=\? FOR UPDATE`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectQuery(`FROM vehicle_accounts WHERE id=\? FOR UPDATE`).WithArgs(int64(7)).
		WillReturnRows(balanceRows("20000.00", "1000.00"))
	mock.ExpectExec(`UPDATE vehicle_accounts SET outstanding_loan=\? WHERE id=\?`).
		WithArgs("6000", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE loans SET status=\?, amount_issued=\?, vehicle_id=\?, decided_at=\?`).
		WithArgs("disbursed", "5000", int64(7), fixedNow, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := LedgerRepository{DB: db, Now: func() time.Time { return fixedNow }}
	if err := repo.DisburseLoan(context.Background(), 7, dec("5000"), 3); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDisburseLoanRejectsDecidedLoan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM loans WHERE id=\? FOR UPDATE`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("disapproved"))
	mock.ExpectRollback()

	err = LedgerRepository{DB: db}.DisburseLoan(context.Background(), 7, dec("5000"), 3)
	if !errors.Is(err, domain.ErrLoanNotPending) {
		t.Fatalf("expected ErrLoanNotPending, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetBalanceRejectsInvalidID(t *testing.T) {
	_, err := LedgerRepository{}.GetBalance(context.Background(), 0)
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestClampAllocationCapsRepaymentAtOutstanding(t *testing.T) {
	got := clampAllocation(models.Allocation{
		OperationsFee:       dec("-1"),
		SavingsContribution: dec("100"),
		LoanRepayment:       dec("500"),
	}, models.Balance{OutstandingLoan: dec("200")})

	if !got.LoanRepayment.Equal(dec("200")) {
		t.Fatalf("repayment = %s, want 200", got.LoanRepayment)
	}
	if !got.OperationsFee.IsZero() {
		t.Fatalf("negative fee should clamp to zero, got %s", got.OperationsFee)
	}
}

func TestGetVehicleReadsOwner(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`FROM vehicle_accounts\s+WHERE id=\? LIMIT 1`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "member_id", "registration_number", "savings_balance", "outstanding_loan", "status"}).
			AddRow(7, 1, "KBZ123A", "20000.00", "0.00", "active"))
	mock.ExpectQuery(`FROM vehicle_accounts\s+WHERE id=\? LIMIT 1`).WithArgs(int64(999)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "member_id", "registration_number", "savings_balance", "outstanding_loan", "status"}))

	repo := LedgerRepository{DB: db}
	v, err := repo.GetVehicle(context.Background(), 7)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if v.MemberID != 1 || !v.SavingsBalance.Equal(dec("20000")) {
		t.Fatalf("unexpected vehicle %+v", v)
	}
	if _, err := repo.GetVehicle(context.Background(), 999); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

package services

import (
	"context"
	"errors"
	"testing"

	"sacco/internal/domain"
	"sacco/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyNormalLoanWithinSavings(t *testing.T) {
	e := newEngine(t)

	loan, err := e.loans.ApplyLoan(context.Background(), models.LoanApplication{
		ApplicantID: 1, Type: models.LoanNormal, VehicleID: ptr(7), Amount: dec("15000"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.LoanPending, loan.Status)
	assert.True(t, loan.AmountIssued.IsZero())
	assert.Equal(t, int64(7), *loan.VehicleID)
}

func TestApplyNormalLoanRejectsAmountAboveSavings(t *testing.T) {
	e := newEngine(t)

	_, err := e.loans.ApplyLoan(context.Background(), models.LoanApplication{
		ApplicantID: 1, Type: models.LoanNormal, VehicleID: ptr(7), Amount: dec("25000"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientSavings)
	assert.True(t, domain.IsBusinessRule(err))
}

func TestApplyNormalLoanValidation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 1, Type: models.LoanNormal, Amount: dec("100")})
	assert.ErrorIs(t, err, domain.ErrMissingVehicle)

	_, err = e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 1, Type: models.LoanNormal, VehicleID: ptr(7), Amount: dec("0")})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 1, Type: "salary", VehicleID: ptr(7), Amount: dec("100")})
	assert.ErrorIs(t, err, domain.ErrInvalidLoanType)
}

func TestApplyNormalLoanRejectsSecondPending(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	app := models.LoanApplication{ApplicantID: 1, Type: models.LoanNormal, VehicleID: ptr(7), Amount: dec("1000")}

	_, err := e.loans.ApplyLoan(ctx, app)
	require.NoError(t, err)
	_, err = e.loans.ApplyLoan(ctx, app)
	assert.ErrorIs(t, err, domain.ErrDuplicatePendingLoan)
}

func TestApplyEmergencyLoanAboveCeiling(t *testing.T) {
	e := newEngine(t)

	_, err := e.loans.ApplyLoan(context.Background(), models.LoanApplication{
		ApplicantID: 1, Type: models.LoanEmergency, Amount: dec("35000"), Guarantors: []int64{2},
	})
	assert.ErrorIs(t, err, domain.ErrEmergencyCeilingExceeded)
}

func TestApplyEmergencyLoanCeilingIsConfigurable(t *testing.T) {
	e := newEngine(t)
	e.loans.EmergencyCeiling = dec("40000")

	_, err := e.loans.ApplyLoan(context.Background(), models.LoanApplication{
		ApplicantID: 1, Type: models.LoanEmergency, Amount: dec("35000"), Guarantors: []int64{2},
	})
	assert.NoError(t, err)
}

func TestApplyEmergencyLoanGuarantorRules(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 1, Type: models.LoanEmergency, Amount: dec("5000")})
	assert.ErrorIs(t, err, domain.ErrInvalidGuarantor)

	_, err = e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 1, Type: models.LoanEmergency, Amount: dec("5000"), Guarantors: []int64{2, 3}})
	require.ErrorIs(t, err, domain.ErrInvalidGuarantor)
	var rule domain.BusinessRuleError
	require.True(t, errors.As(err, &rule))
	assert.Equal(t, int64(3), rule.MemberID)

	loan, err := e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 1, Type: models.LoanEmergency, Amount: dec("5000"), Guarantors: []int64{2, 2}})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, loan.Guarantors)
	assert.Nil(t, loan.VehicleID)

	_, err = e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 1, Type: models.LoanEmergency, Amount: dec("1000"), Guarantors: []int64{2}})
	assert.ErrorIs(t, err, domain.ErrDuplicateEmergencyLoan)
}

func TestApproveLoanIncreasesOutstandingByIssuedAmount(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	loan, err := e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 1, Type: models.LoanNormal, VehicleID: ptr(7), Amount: dec("15000")})
	require.NoError(t, err)

	approved, err := e.loans.ApproveLoan(ctx, loan.ID, dec("12000"), models.LoanNormal)
	require.NoError(t, err)
	assert.Equal(t, models.LoanDisbursed, approved.Status)
	assert.True(t, approved.AmountIssued.Equal(dec("12000")))

	bal, err := e.store.GetBalance(ctx, 7)
	require.NoError(t, err)
	assert.True(t, bal.OutstandingLoan.Equal(dec("12000")), "outstanding %s", bal.OutstandingLoan)
	assert.True(t, bal.Savings.Equal(dec("20000")))

	_, err = e.loans.ApproveLoan(ctx, loan.ID, dec("12000"), models.LoanNormal)
	assert.ErrorIs(t, err, domain.ErrLoanNotPending)

	e.loans.WaitNotifications()
	decisions := e.notifier.all()
	require.Len(t, decisions, 1)
	assert.Equal(t, models.LoanDisbursed, decisions[0].Status)
}

func TestApproveEmergencyLoanBooksPrimaryVehicle(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	loan, err := e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 1, Type: models.LoanEmergency, Amount: dec("8000"), Guarantors: []int64{2}})
	require.NoError(t, err)

	_, err = e.loans.ApproveLoan(ctx, loan.ID, dec("8000"), models.LoanNormal)
	assert.ErrorIs(t, err, domain.ErrInvalidLoanType)

	approved, err := e.loans.ApproveLoan(ctx, loan.ID, dec("8000"), models.LoanEmergency)
	require.NoError(t, err)
	require.NotNil(t, approved.VehicleID)
	assert.Equal(t, int64(7), *approved.VehicleID)

	bal, _ := e.store.GetBalance(ctx, 7)
	assert.True(t, bal.OutstandingLoan.Equal(dec("8000")))
}

func TestApproveLoanSucceedsWhenNotifierFails(t *testing.T) {
	e := newEngine(t)
	e.loans.Notifier = failingNotifier{}
	ctx := context.Background()

	loan, err := e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 1, Type: models.LoanNormal, VehicleID: ptr(7), Amount: dec("1000")})
	require.NoError(t, err)

	approved, err := e.loans.ApproveLoan(ctx, loan.ID, dec("1000"), "")
	require.NoError(t, err)
	e.loans.WaitNotifications()

	stored, err := e.store.GetLoan(ctx, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanDisbursed, stored.Status)
}

func TestDisapproveLoanLeavesBalancesAlone(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	loan, err := e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 1, Type: models.LoanNormal, VehicleID: ptr(7), Amount: dec("1000")})
	require.NoError(t, err)

	_, err = e.loans.DisapproveLoan(ctx, loan.ID, "   ", models.LoanNormal)
	assert.ErrorIs(t, err, domain.ErrMissingReason)

	out, err := e.loans.DisapproveLoan(ctx, loan.ID, "  insufficient   trip records ", models.LoanNormal)
	require.NoError(t, err)
	assert.Equal(t, models.LoanDisapproved, out.Status)
	assert.Equal(t, "insufficient trip records", out.Reason)

	bal, _ := e.store.GetBalance(ctx, 7)
	assert.True(t, bal.OutstandingLoan.IsZero())
	assert.True(t, bal.Savings.Equal(dec("20000")))

	_, err = e.loans.ApproveLoan(ctx, loan.ID, dec("1000"), models.LoanNormal)
	assert.ErrorIs(t, err, domain.ErrLoanNotPending)
}

func TestPendingLoansScopedToCaller(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 1, Type: models.LoanNormal, VehicleID: ptr(7), Amount: dec("1000")})
	require.NoError(t, err)
	_, err = e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 4, Type: models.LoanEmergency, Amount: dec("1000"), Guarantors: []int64{2}})
	require.NoError(t, err)

	mine, err := e.loans.PendingLoans(ctx, domain.RequestContext{UserID: 4, Role: domain.RoleMember})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, int64(4), mine[0].ApplicantID)

	all, err := e.loans.PendingLoans(ctx, domain.RequestContext{UserID: 99, Role: domain.RoleFinance})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFinancialStatusIncludesLoans(t *testing.T) {
	e := newEngine(t)
	e.disburse(t, "3000")

	st, err := e.loans.FinancialStatus(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, st.OutstandingLoan.Equal(dec("3000")))
	require.Len(t, st.Loans, 1)

	totals, err := e.loans.Totals(context.Background())
	require.NoError(t, err)
	assert.True(t, totals.Savings.Equal(dec("33000")))
	assert.True(t, totals.OutstandingLoan.Equal(dec("4200")))
}

func TestApplyNormalLoanOnAnotherMembersVehicleIsRejected(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 4, Type: models.LoanNormal, VehicleID: ptr(7), Amount: dec("15000")})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.ErrorIs(t, err, domain.ErrVehicleNotOwned)

	pending, err := e.loans.PendingLoans(ctx, domain.RequestContext{UserID: 10, Role: domain.RoleFinance})
	require.NoError(t, err)
	assert.Empty(t, pending)
	bal, _ := e.store.GetBalance(ctx, 7)
	assert.True(t, bal.OutstandingLoan.IsZero())
}

func TestApplyEmergencyLoanChecksNamedVehicle(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 1, Type: models.LoanEmergency, VehicleID: ptr(999), Amount: dec("5000"), Guarantors: []int64{2}})
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))

	_, err = e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 1, Type: models.LoanEmergency, VehicleID: ptr(8), Amount: dec("5000"), Guarantors: []int64{2}})
	assert.ErrorIs(t, err, domain.ErrVehicleNotOwned)

	// rejected applications must not block a valid one
	loan, err := e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 1, Type: models.LoanEmergency, VehicleID: ptr(7), Amount: dec("5000"), Guarantors: []int64{2}})
	require.NoError(t, err)
	assert.Equal(t, models.LoanPending, loan.Status)
}

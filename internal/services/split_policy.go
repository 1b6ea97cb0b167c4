package services

import (
	"fmt"

	"sacco/internal/domain/models"

	"github.com/shopspring/decimal"
)

// SplitPolicy is the configured share of each remittance taken for
// operations, insurance and loan repayment. Savings gets the remainder.
type SplitPolicy struct {
	OperationsRatio decimal.Decimal
	InsuranceRatio  decimal.Decimal
	LoanRatio       decimal.Decimal
}

func (p SplitPolicy) Validate() error {
	for name, r := range map[string]decimal.Decimal{"operations": p.OperationsRatio, "insurance": p.InsuranceRatio, "loan": p.LoanRatio} {
		if r.IsNegative() {
			return fmt.Errorf("split ratio %s is negative", name)
		}
	}
	if sum := p.OperationsRatio.Add(p.InsuranceRatio).Add(p.LoanRatio); sum.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("split ratios add up to %s, more than 1", sum.String())
	}
	return nil
}

// Allocate splits amount against the current balance. The repayment share is
// capped at the outstanding loan and the excess goes to savings.
func (p SplitPolicy) Allocate(amount decimal.Decimal, bal models.Balance) models.Allocation {
	fee := amount.Mul(p.OperationsRatio).Round(2)
	insurance := amount.Mul(p.InsuranceRatio).Round(2)
	repay := amount.Mul(p.LoanRatio).Round(2)

	// rounding may overshoot by a cent
	if over := fee.Add(insurance).Add(repay).Sub(amount); over.IsPositive() {
		repay = decimal.Max(repay.Sub(over), decimal.Zero)
	}
	savings := amount.Sub(fee).Sub(insurance).Sub(repay)

	outstanding := decimal.Max(bal.OutstandingLoan, decimal.Zero)
	if repay.GreaterThan(outstanding) {
		savings = savings.Add(repay.Sub(outstanding))
		repay = outstanding
	}

	return models.Allocation{
		OperationsFee:       fee,
		Insurance:           insurance,
		SavingsContribution: savings,
		LoanRepayment:       repay,
	}
}

// Planner binds Allocate to one payment amount for the ledger.
func (p SplitPolicy) Planner(amount decimal.Decimal) models.AllocationPlanner {
	return func(bal models.Balance) models.Allocation {
		return p.Allocate(amount, bal)
	}
}

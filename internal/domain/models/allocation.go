package models

import "github.com/shopspring/decimal"

// Allocation splits a completed payment across the SACCO's buckets.
type Allocation struct {
	OperationsFee       decimal.Decimal `json:"operations_fee"`
	Insurance           decimal.Decimal `json:"insurance"`
	SavingsContribution decimal.Decimal `json:"savings_contribution"`
	LoanRepayment       decimal.Decimal `json:"loan_repayment"`
}

func (a Allocation) Total() decimal.Decimal {
	return a.OperationsFee.Add(a.Insurance).Add(a.SavingsContribution).Add(a.LoanRepayment)
}

// AllocationPlanner computes the allocation against the locked balance.
type AllocationPlanner func(current Balance) Allocation

// AllocationResult is returned by the ledger after an apply attempt.
type AllocationResult struct {
	CheckoutRequestID string     `json:"CheckoutRequestID"`
	Allocation        Allocation `json:"allocation"`
	Balance           Balance    `json:"balance"`
	// Applied is false when the key had already been applied.
	Applied bool `json:"applied"`
}

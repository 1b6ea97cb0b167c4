package services

import (
	"context"
	"fmt"

	"sacco/internal/domain"
)

// GuarantorPolicy accepts a guarantor set only if every member in it has
// savings on their primary vehicle and no outstanding loan.
type GuarantorPolicy struct {
	Ledger LedgerStore
}

// ValidateGuarantors returns the de-duplicated candidate list, or an
// InvalidGuarantor error naming the first member that fails.
func (p GuarantorPolicy) ValidateGuarantors(ctx context.Context, applicantID int64, candidates []int64) ([]int64, error) {
	ids := uniqueIDs(candidates)
	if len(ids) == 0 {
		return nil, domain.BusinessRuleError{Rule: "InvalidGuarantor", Msg: "at least one guarantor is required", Err: domain.ErrInvalidGuarantor}
	}

	for _, id := range ids {
		if id <= 0 {
			return nil, invalidGuarantor(id, "unknown member")
		}
		if id == applicantID {
			return nil, invalidGuarantor(id, "applicant cannot guarantee their own loan")
		}
		vehicleID, err := p.Ledger.PrimaryVehicle(ctx, id)
		if err != nil {
			if domain.IsNotFound(err) {
				return nil, invalidGuarantor(id, "has no savings account")
			}
			return nil, err
		}
		bal, err := p.Ledger.GetBalance(ctx, vehicleID)
		if err != nil {
			return nil, err
		}
		if !bal.Savings.IsPositive() {
			return nil, invalidGuarantor(id, "has no savings")
		}
		if bal.OutstandingLoan.IsPositive() {
			return nil, invalidGuarantor(id, "has an unpaid loan")
		}
	}
	return ids, nil
}

func invalidGuarantor(memberID int64, why string) error {
	return domain.BusinessRuleError{
		Rule:     "InvalidGuarantor",
		Msg:      fmt.Sprintf("guarantor %d %s", memberID, why),
		MemberID: memberID,
		Err:      domain.ErrInvalidGuarantor,
	}
}

func uniqueIDs(in []int64) []int64 {
	seen := make(map[int64]struct{}, len(in))
	out := make([]int64, 0, len(in))
	for _, id := range in {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

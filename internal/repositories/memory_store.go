package repositories

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"sacco/internal/domain"
	"sacco/internal/domain/models"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps the whole ledger in process memory behind one mutex.
// It backs STORE=memory runs and the service tests.
type MemoryStore struct {
	mu          sync.Mutex
	members     map[int64]models.Member
	vehicles    map[int64]models.VehicleAccount
	loans       map[int64]models.Loan
	payments    map[string]models.PaymentRequest
	allocations map[string]models.Allocation
	nextLoanID  int64
	Now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		members:     map[int64]models.Member{},
		vehicles:    map[int64]models.VehicleAccount{},
		loans:       map[int64]models.Loan{},
		payments:    map[string]models.PaymentRequest{},
		allocations: map[string]models.Allocation{},
	}
}

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *MemoryStore) AddMember(m models.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[m.ID] = m
}

func (s *MemoryStore) AddVehicle(v models.VehicleAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.Status == "" {
		v.Status = models.VehicleActive
	}
	s.vehicles[v.ID] = v
}

func (s *MemoryStore) balanceLocked(vehicleID int64) (models.Balance, error) {
	v, ok := s.vehicles[vehicleID]
	if !ok {
		return models.Balance{}, domain.NotFoundError{Resource: "vehicle"}
	}
	return models.Balance{VehicleID: v.ID, Savings: v.SavingsBalance, OutstandingLoan: v.OutstandingLoan, Status: v.Status}, nil
}

func (s *MemoryStore) GetBalance(_ context.Context, vehicleID int64) (models.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(vehicleID)
}

func (s *MemoryStore) PrimaryVehicle(_ context.Context, memberID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best int64
	for id, v := range s.vehicles {
		if v.MemberID == memberID && (best == 0 || id < best) {
			best = id
		}
	}
	if best == 0 {
		return 0, domain.NotFoundError{Resource: "vehicle"}
	}
	return best, nil
}

func (s *MemoryStore) GetVehicle(_ context.Context, vehicleID int64) (models.VehicleAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[vehicleID]
	if !ok {
		return models.VehicleAccount{}, domain.NotFoundError{Resource: "vehicle"}
	}
	return v, nil
}

func (s *MemoryStore) FindVehicleByRegistration(_ context.Context, registration string) (models.VehicleAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.vehicles {
		if strings.EqualFold(v.RegistrationNumber, registration) {
			return v, nil
		}
	}
	return models.VehicleAccount{}, domain.NotFoundError{Resource: "vehicle"}
}

func (s *MemoryStore) Totals(_ context.Context) (models.Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := models.Totals{Savings: decimal.Zero, OutstandingLoan: decimal.Zero}
	for _, v := range s.vehicles {
		t.Savings = t.Savings.Add(v.SavingsBalance)
		t.OutstandingLoan = t.OutstandingLoan.Add(v.OutstandingLoan)
	}
	return t, nil
}

func (s *MemoryStore) DisburseLoan(_ context.Context, vehicleID int64, amount decimal.Decimal, loanID int64) error {
	if !amount.IsPositive() {
		return domain.ValidationError{Field: "amountIssued", Msg: "must be greater than zero", Err: domain.ErrInvalidAmount}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.loans[loanID]
	if !ok {
		return domain.NotFoundError{Resource: "loan"}
	}
	if l.Status != models.LoanPending {
		return domain.BusinessRuleError{Rule: "LoanNotPending", Msg: fmt.Sprintf("loan %d is %s", loanID, l.Status), Err: domain.ErrLoanNotPending}
	}
	v, ok := s.vehicles[vehicleID]
	if !ok {
		return domain.NotFoundError{Resource: "vehicle"}
	}

	v.OutstandingLoan = v.OutstandingLoan.Add(amount)
	s.vehicles[vehicleID] = v

	at := s.now()
	vid := vehicleID
	l.Status = models.LoanDisbursed
	l.AmountIssued = amount
	l.VehicleID = &vid
	l.DecidedAt = &at
	s.loans[loanID] = l
	return nil
}

func (s *MemoryStore) ApplyAllocation(_ context.Context, checkoutRequestID string, vehicleID int64, plan models.AllocationPlanner) (models.AllocationResult, error) {
	if checkoutRequestID == "" {
		return models.AllocationResult{}, domain.ValidationError{Field: "CheckoutRequestID", Msg: "required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, err := s.balanceLocked(vehicleID)
	if err != nil {
		return models.AllocationResult{}, err
	}
	if stored, ok := s.allocations[checkoutRequestID]; ok {
		return models.AllocationResult{CheckoutRequestID: checkoutRequestID, Allocation: stored, Balance: bal}, nil
	}

	alloc := clampAllocation(plan(bal), bal)
	v := s.vehicles[vehicleID]
	v.SavingsBalance = v.SavingsBalance.Add(alloc.SavingsContribution)
	v.OutstandingLoan = v.OutstandingLoan.Sub(alloc.LoanRepayment)
	s.vehicles[vehicleID] = v
	s.allocations[checkoutRequestID] = alloc

	next, _ := s.balanceLocked(vehicleID)
	return models.AllocationResult{CheckoutRequestID: checkoutRequestID, Allocation: alloc, Balance: next, Applied: true}, nil
}

func (s *MemoryStore) CreateLoan(_ context.Context, app models.LoanApplication, createdAt time.Time) (models.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch app.Type {
	case models.LoanNormal:
		if app.VehicleID == nil {
			return models.Loan{}, domain.ValidationError{Field: "matatuId", Msg: "required for normal loans", Err: domain.ErrMissingVehicle}
		}
		if _, ok := s.vehicles[*app.VehicleID]; !ok {
			return models.Loan{}, domain.NotFoundError{Resource: "vehicle"}
		}
		for _, l := range s.loans {
			if l.Type == models.LoanNormal && l.VehicleID != nil && *l.VehicleID == *app.VehicleID &&
				(l.Status == models.LoanPending || l.Status == models.LoanApproved) {
				return models.Loan{}, domain.BusinessRuleError{Rule: "DuplicatePendingLoan", Msg: "vehicle already has a pending loan", Err: domain.ErrDuplicatePendingLoan}
			}
		}
	case models.LoanEmergency:
		if _, ok := s.members[app.ApplicantID]; !ok {
			return models.Loan{}, domain.NotFoundError{Resource: "member"}
		}
		for _, l := range s.loans {
			if l.Type == models.LoanEmergency && l.ApplicantID == app.ApplicantID && l.Status.Open() {
				return models.Loan{}, domain.BusinessRuleError{Rule: "DuplicateEmergencyLoan", Msg: "applicant already has an open emergency loan", Err: domain.ErrDuplicateEmergencyLoan}
			}
		}
	default:
		return models.Loan{}, domain.ValidationError{Field: "loanType", Msg: "must be normal or emergency", Err: domain.ErrInvalidLoanType}
	}

	s.nextLoanID++
	l := models.Loan{
		ID:            s.nextLoanID,
		VehicleID:     app.VehicleID,
		ApplicantID:   app.ApplicantID,
		Type:          app.Type,
		AmountApplied: app.Amount,
		AmountIssued:  decimal.Zero,
		Status:        models.LoanPending,
		Guarantors:    append([]int64(nil), app.Guarantors...),
		CreatedAt:     createdAt,
	}
	s.loans[l.ID] = l
	return l, nil
}

func (s *MemoryStore) GetLoan(_ context.Context, loanID int64) (models.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loans[loanID]
	if !ok {
		return models.Loan{}, domain.NotFoundError{Resource: "loan"}
	}
	return l, nil
}

func (s *MemoryStore) ListPendingLoans(_ context.Context, applicantID *int64) ([]models.Loan, error) {
	return s.filterLoans(func(l models.Loan) bool {
		return l.Status == models.LoanPending && (applicantID == nil || l.ApplicantID == *applicantID)
	}, false), nil
}

func (s *MemoryStore) ListLoansByVehicle(_ context.Context, vehicleID int64) ([]models.Loan, error) {
	return s.filterLoans(func(l models.Loan) bool {
		return l.VehicleID != nil && *l.VehicleID == vehicleID
	}, true), nil
}

func (s *MemoryStore) filterLoans(keep func(models.Loan) bool, newestFirst bool) []models.Loan {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Loan{}
	for _, l := range s.loans {
		if keep(l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) DisapproveLoan(_ context.Context, loanID int64, reason string, decidedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loans[loanID]
	if !ok {
		return domain.NotFoundError{Resource: "loan"}
	}
	if l.Status != models.LoanPending {
		return domain.BusinessRuleError{Rule: "LoanNotPending", Msg: fmt.Sprintf("loan %d is %s", loanID, l.Status), Err: domain.ErrLoanNotPending}
	}
	l.Status = models.LoanDisapproved
	l.Reason = reason
	l.DecidedAt = &decidedAt
	s.loans[loanID] = l
	return nil
}

func (s *MemoryStore) MarkLoansRepaid(_ context.Context, vehicleID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[vehicleID]
	if !ok || !v.OutstandingLoan.IsZero() {
		return 0, nil
	}
	var n int64
	for id, l := range s.loans {
		if l.VehicleID != nil && *l.VehicleID == vehicleID && l.Status == models.LoanDisbursed {
			l.Status = models.LoanRepaid
			s.loans[id] = l
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreatePayment(_ context.Context, p models.PaymentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.CheckoutRequestID]; ok {
		return domain.ConflictError{Resource: "payment request", Msg: "CheckoutRequestID already recorded"}
	}
	s.payments[p.CheckoutRequestID] = p
	return nil
}

func (s *MemoryStore) GetPayment(_ context.Context, checkoutRequestID string) (models.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[checkoutRequestID]
	if !ok {
		return models.PaymentRequest{}, domain.NotFoundError{Resource: "payment request"}
	}
	return p, nil
}

func (s *MemoryStore) SettlePayment(_ context.Context, checkoutRequestID string, out models.PaymentOutcome, at time.Time) (models.PaymentRequest, bool, error) {
	if !out.Status.Terminal() {
		return models.PaymentRequest{}, false, fmt.Errorf("settle payment: %q is not terminal", out.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[checkoutRequestID]
	if !ok {
		return models.PaymentRequest{}, false, domain.NotFoundError{Resource: "payment request"}
	}
	if p.Status != models.PaymentInitiated {
		return p, false, nil
	}
	p.Status = out.Status
	p.ReceiptNumber = out.ReceiptNumber
	p.ResultDesc = out.ResultDesc
	p.UpdatedAt = at
	s.payments[checkoutRequestID] = p
	return p, true, nil
}

func (s *MemoryStore) ListStalePayments(_ context.Context, before time.Time, limit int) ([]models.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.PaymentRequest{}
	for _, p := range s.payments {
		if !p.CreatedAt.Before(before) {
			continue
		}
		_, allocated := s.allocations[p.CheckoutRequestID]
		if p.Status == models.PaymentInitiated || (p.Status == models.PaymentCompleted && !allocated) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetMemberByLogin(_ context.Context, login string) (models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	login = strings.TrimSpace(login)
	for _, m := range s.members {
		if (m.Email != "" && strings.EqualFold(m.Email, login)) || (m.Phone != "" && m.Phone == login) {
			return m, nil
		}
	}
	return models.Member{}, domain.NotFoundError{Resource: "member"}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sacco/internal/domain/models"
	"sacco/internal/gateway"
	"sacco/internal/repositories"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(v int64) *int64 { return &v }

// fakeGateway answers STK calls from memory.
type fakeGateway struct {
	mu          sync.Mutex
	next        int
	initErr     error
	outcome     models.PaymentOutcome
	queryErr    error
	queryDelay  time.Duration
	initiated   []gateway.CollectionRequest
	queryCalls  atomic.Int32
	initiations atomic.Int32
}

func (g *fakeGateway) InitiateCollection(_ context.Context, req gateway.CollectionRequest) (string, error) {
	g.initiations.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initErr != nil {
		return "", g.initErr
	}
	g.next++
	g.initiated = append(g.initiated, req)
	return fmt.Sprintf("ws_CO_%d", g.next), nil
}

func (g *fakeGateway) QueryStatus(_ context.Context, _ string) (models.PaymentOutcome, error) {
	g.queryCalls.Add(1)
	if g.queryDelay > 0 {
		time.Sleep(g.queryDelay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queryErr != nil {
		return models.PaymentOutcome{}, g.queryErr
	}
	return g.outcome, nil
}

func (g *fakeGateway) setOutcome(o models.PaymentOutcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcome = o
}

type recordingNotifier struct {
	mu        sync.Mutex
	decisions []models.LoanDecision
}

func (n *recordingNotifier) NotifyLoanDecision(_ context.Context, d models.LoanDecision) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.decisions = append(n.decisions, d)
	return nil
}

func (n *recordingNotifier) all() []models.LoanDecision {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.LoanDecision(nil), n.decisions...)
}

type failingNotifier struct{}

func (failingNotifier) NotifyLoanDecision(context.Context, models.LoanDecision) error {
	return errors.New("smtp relay down")
}

type engine struct {
	store       *repositories.MemoryStore
	gateway     *fakeGateway
	notifier    *recordingNotifier
	loans       *LoanService
	collections *CollectionService
}

// newEngine seeds member 1 (applicant) with vehicle 7, member 2 with a clean
// guarantor vehicle 8, and member 3 whose vehicle 9 still owes money.
func newEngine(t *testing.T) *engine {
	t.Helper()
	store := repositories.NewMemoryStore()
	store.Now = func() time.Time { return testNow }
	store.AddMember(models.Member{ID: 1, Name: "Amina", Phone: "0712345678"})
	store.AddMember(models.Member{ID: 2, Name: "Brian", Phone: "0722000000"})
	store.AddMember(models.Member{ID: 3, Name: "Chebet", Phone: "0733000000"})
	store.AddMember(models.Member{ID: 4, Name: "Daudi", Phone: "0744000000"})
	store.AddVehicle(models.VehicleAccount{ID: 7, MemberID: 1, RegistrationNumber: "KBZ123A", SavingsBalance: dec("20000"), OutstandingLoan: dec("0")})
	store.AddVehicle(models.VehicleAccount{ID: 8, MemberID: 2, RegistrationNumber: "KCA456B", SavingsBalance: dec("5000"), OutstandingLoan: dec("0")})
	store.AddVehicle(models.VehicleAccount{ID: 9, MemberID: 3, RegistrationNumber: "KCB789C", SavingsBalance: dec("8000"), OutstandingLoan: dec("1200")})

	gw := &fakeGateway{}
	notifier := &recordingNotifier{}
	loans := &LoanService{
		Ledger:     store,
		Loans:      store,
		Guarantors: GuarantorPolicy{Ledger: store},
		Notifier:   notifier,
		Now:        func() time.Time { return testNow },
	}
	collections := &CollectionService{
		Ledger:       store,
		Payments:     store,
		Gateway:      gw,
		Repayments:   loans,
		Split:        SplitPolicy{OperationsRatio: dec("0"), InsuranceRatio: dec("0"), LoanRatio: dec("0.75")},
		PollInterval: 2 * time.Millisecond,
		PollAttempts: 3,
		Now:          func() time.Time { return testNow },
	}
	t.Cleanup(func() {
		collections.Wait()
		loans.WaitNotifications()
	})
	return &engine{store: store, gateway: gw, notifier: notifier, loans: loans, collections: collections}
}

// disburse puts amount on vehicle 7 through an approved normal loan.
func (e *engine) disburse(t *testing.T, amount string) models.Loan {
	t.Helper()
	ctx := context.Background()
	loan, err := e.loans.ApplyLoan(ctx, models.LoanApplication{ApplicantID: 1, Type: models.LoanNormal, VehicleID: ptr(7), Amount: dec(amount)})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	loan, err = e.loans.ApproveLoan(ctx, loan.ID, dec(amount), models.LoanNormal)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	return loan
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"sacco/internal/domain"
	"sacco/internal/domain/models"
	"sacco/internal/gateway"
	"sacco/internal/utils"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollAttempts = 10
)

var errStillPending = errors.New("payment still pending")

// RepaymentTracker is told when a vehicle's loan balance may have reached zero.
type RepaymentTracker interface {
	MarkRepaid(ctx context.Context, vehicleID int64) error
}

// CollectionService turns a member remittance into exactly one ledger
// allocation, bridging the provider's asynchronous confirmation.
type CollectionService struct {
	Ledger     LedgerStore
	Payments   PaymentStore
	Gateway    PaymentGateway
	Repayments RepaymentTracker
	Split      SplitPolicy
	Lease      Lease

	PollInterval time.Duration
	PollAttempts int
	Now          func() time.Time

	queries    singleflight.Group
	background sync.WaitGroup

	mu       sync.Mutex
	lifetime context.Context
	stop     context.CancelFunc
}

// CollectionInput is a processPayment request. Either VehicleID or
// RegistrationNumber identifies the vehicle.
type CollectionInput struct {
	VehicleID          int64
	RegistrationNumber string
	Phone              string
	Amount             decimal.Decimal
}

func (s *CollectionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *CollectionService) interval() time.Duration {
	if s.PollInterval > 0 {
		return s.PollInterval
	}
	return DefaultPollInterval
}

func (s *CollectionService) attempts() int {
	if s.PollAttempts > 0 {
		return s.PollAttempts
	}
	return DefaultPollAttempts
}

// InitiateCollection validates the request, sends the STK push and records an
// initiated PaymentRequest. Nothing is stored when the gateway call fails.
func (s *CollectionService) InitiateCollection(ctx context.Context, in CollectionInput) (models.PaymentRequest, error) {
	phone := strings.TrimSpace(in.Phone)
	if !utils.IsLocalMobile(phone) {
		return models.PaymentRequest{}, domain.ValidationError{Field: "phone", Msg: "must be a 10-digit number starting with 07", Err: domain.ErrInvalidPhone}
	}
	if !in.Amount.IsPositive() {
		return models.PaymentRequest{}, domain.ValidationError{Field: "amount", Msg: "must be greater than zero", Err: domain.ErrInvalidAmount}
	}

	vehicleID, reference, err := s.resolveVehicle(ctx, in)
	if err != nil {
		return models.PaymentRequest{}, err
	}

	checkoutID, err := s.Gateway.InitiateCollection(ctx, gateway.CollectionRequest{
		Phone:            phone,
		Amount:           in.Amount,
		AccountReference: reference,
		Description:      "SACCO remittance",
	})
	if err != nil {
		return models.PaymentRequest{}, domain.GatewayError{Op: "stk_push", Err: err}
	}

	at := s.now()
	p := models.PaymentRequest{
		CheckoutRequestID: checkoutID,
		VehicleID:         vehicleID,
		Amount:            in.Amount,
		Phone:             phone,
		AccountReference:  reference,
		Status:            models.PaymentInitiated,
		CreatedAt:         at,
		UpdatedAt:         at,
	}
	if err := s.Payments.CreatePayment(ctx, p); err != nil {
		return models.PaymentRequest{}, err
	}

	utils.LogEvent(utils.RequestIDFrom(ctx), "payment", "initiate", "collection initiated",
		zap.String("checkout_request_id", checkoutID), zap.Int64("vehicle_id", vehicleID), zap.String("amount", in.Amount.String()))
	return p, nil
}

func (s *CollectionService) resolveVehicle(ctx context.Context, in CollectionInput) (int64, string, error) {
	reg := utils.NormalizeRegistration(in.RegistrationNumber)
	if in.VehicleID > 0 {
		if _, err := s.Ledger.GetBalance(ctx, in.VehicleID); err != nil {
			return 0, "", err
		}
		if reg == "" {
			reg = fmt.Sprintf("MATATU-%d", in.VehicleID)
		}
		return in.VehicleID, reg, nil
	}
	if reg == "" {
		return 0, "", domain.ValidationError{Field: "matatu_id", Msg: "vehicle is required", Err: domain.ErrMissingVehicle}
	}
	v, err := s.Ledger.FindVehicleByRegistration(ctx, reg)
	if err != nil {
		return 0, "", err
	}
	return v.ID, reg, nil
}

// PollStatus reports the current state of a PaymentRequest, asking the
// gateway only while it is still initiated. Safe to call repeatedly and
// concurrently.
func (s *CollectionService) PollStatus(ctx context.Context, checkoutRequestID string) (models.PaymentRequest, error) {
	checkoutRequestID = strings.TrimSpace(checkoutRequestID)
	if checkoutRequestID == "" {
		return models.PaymentRequest{}, domain.ValidationError{Field: "CheckoutRequestID", Msg: "required"}
	}
	p, err := s.Payments.GetPayment(ctx, checkoutRequestID)
	if err != nil {
		return models.PaymentRequest{}, err
	}
	if p.Status.Terminal() {
		// a crash between settle and allocate is repaired here
		if p.Status == models.PaymentCompleted {
			if err := s.allocate(ctx, p); err != nil {
				return p, err
			}
		}
		return p, nil
	}

	// shared by every collapsed caller, so one caller leaving must not cancel it
	qctx := context.WithoutCancel(ctx)
	v, err, _ := s.queries.Do(checkoutRequestID, func() (any, error) {
		return s.Gateway.QueryStatus(qctx, checkoutRequestID)
	})
	if err != nil {
		return p, domain.GatewayError{Op: "stk_query", Err: err}
	}
	outcome := v.(models.PaymentOutcome)
	if !outcome.Status.Terminal() {
		return p, nil
	}
	return s.settle(ctx, p, outcome)
}

// HandleCallback applies a push confirmation from the gateway.
func (s *CollectionService) HandleCallback(ctx context.Context, checkoutRequestID string, outcome models.PaymentOutcome) (models.PaymentRequest, error) {
	p, err := s.Payments.GetPayment(ctx, checkoutRequestID)
	if err != nil {
		return models.PaymentRequest{}, err
	}
	if p.Status.Terminal() {
		if p.Status == models.PaymentCompleted {
			return p, s.allocate(ctx, p)
		}
		return p, nil
	}
	if !outcome.Status.Terminal() {
		return p, nil
	}
	return s.settle(ctx, p, outcome)
}

func (s *CollectionService) settle(ctx context.Context, p models.PaymentRequest, outcome models.PaymentOutcome) (models.PaymentRequest, error) {
	updated, changed, err := s.Payments.SettlePayment(ctx, p.CheckoutRequestID, outcome, s.now())
	if err != nil {
		return p, err
	}
	if changed {
		utils.LogEvent(utils.RequestIDFrom(ctx), "payment", "settle", "payment settled",
			zap.String("checkout_request_id", p.CheckoutRequestID), zap.String("status", string(updated.Status)),
			zap.String("receipt", updated.ReceiptNumber))
	}
	if updated.Status == models.PaymentCompleted {
		if err := s.allocate(ctx, updated); err != nil {
			return updated, err
		}
	}
	return updated, nil
}

// allocate applies the split once per CheckoutRequestID; repeats are no-ops.
func (s *CollectionService) allocate(ctx context.Context, p models.PaymentRequest) error {
	res, err := s.Ledger.ApplyAllocation(ctx, p.CheckoutRequestID, p.VehicleID, s.Split.Planner(p.Amount))
	if err != nil {
		utils.LogError(utils.RequestIDFrom(ctx), "payment", "allocate", err, zap.String("checkout_request_id", p.CheckoutRequestID))
		return err
	}
	if res.Applied {
		utils.LogEvent(utils.RequestIDFrom(ctx), "payment", "allocate", "allocation applied",
			zap.String("checkout_request_id", p.CheckoutRequestID),
			zap.String("savings", res.Allocation.SavingsContribution.String()),
			zap.String("loan_repayment", res.Allocation.LoanRepayment.String()),
			zap.String("total", res.Allocation.Total().String()))
	}
	if s.Repayments != nil && res.Balance.OutstandingLoan.IsZero() {
		return s.Repayments.MarkRepaid(ctx, p.VehicleID)
	}
	return nil
}

// Reconcile polls at a fixed interval until the payment settles or the
// attempt budget runs out. Running out yields ErrPaymentTimeout and leaves
// the request initiated so a later poll or callback can still settle it.
func (s *CollectionService) Reconcile(ctx context.Context, checkoutRequestID string) (models.PaymentRequest, error) {
	var last models.PaymentRequest
	var lastErr error

	op := func() (models.PaymentRequest, error) {
		p, err := s.PollStatus(ctx, checkoutRequestID)
		if p.CheckoutRequestID != "" {
			last = p
		}
		if err != nil {
			lastErr = err
			if domain.IsNotFound(err) || domain.IsValidation(err) {
				return p, backoff.Permanent(err)
			}
			return p, err
		}
		switch p.Status {
		case models.PaymentCompleted:
			return p, nil
		case models.PaymentFailed, models.PaymentTimedOut:
			return p, backoff.Permanent(domain.PaymentError{CheckoutRequestID: checkoutRequestID, Desc: p.ResultDesc, Err: domain.ErrPaymentFailed})
		}
		lastErr = errStillPending
		return p, errStillPending
	}

	p, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.interval())),
		backoff.WithMaxTries(uint(s.attempts())),
		backoff.WithMaxElapsedTime(s.interval()*time.Duration(s.attempts()+1)),
	)
	if err == nil {
		return p, nil
	}

	var perr domain.PaymentError
	switch {
	case errors.As(err, &perr):
		return last, perr
	case domain.IsNotFound(err), domain.IsValidation(err):
		return last, err
	}

	desc := "confirmation not received; poll again later"
	if lastErr != nil && !errors.Is(lastErr, errStillPending) {
		desc = lastErr.Error()
	}
	return last, domain.PaymentError{CheckoutRequestID: checkoutRequestID, Desc: desc, Err: domain.ErrPaymentTimeout}
}

func (s *CollectionService) serviceContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifetime == nil {
		s.lifetime, s.stop = context.WithCancel(context.Background())
	}
	return s.lifetime
}

// ReconcileInBackground runs Reconcile detached from the caller's lifetime
// until it settles, its budget runs out or Stop is called.
// A lease keeps a second instance from looping over the same request.
func (s *CollectionService) ReconcileInBackground(ctx context.Context, checkoutRequestID string) {
	reqID := utils.RequestIDFrom(ctx)
	detached := context.WithoutCancel(ctx)
	budget := s.interval()*time.Duration(s.attempts()) + time.Minute
	service := s.serviceContext()

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		rctx, cancel := context.WithTimeout(detached, budget)
		defer cancel()
		unhook := context.AfterFunc(service, cancel)
		defer unhook()

		key := "reconcile:" + checkoutRequestID
		if s.Lease != nil {
			token, ok, err := s.Lease.Acquire(rctx, key, budget)
			switch {
			case err != nil:
				// lease store down: reconcile anyway, the ledger key still guards the allocation
				utils.LogError(reqID, "payment", "lease", err, zap.String("checkout_request_id", checkoutRequestID))
			case !ok:
				return
			default:
				defer func() { _ = s.Lease.Release(context.WithoutCancel(rctx), key, token) }()
			}
		}

		p, err := s.Reconcile(rctx, checkoutRequestID)
		if err != nil {
			utils.LogError(reqID, "payment", "reconcile", err, zap.String("checkout_request_id", checkoutRequestID))
			return
		}
		utils.LogEvent(reqID, "payment", "reconcile", "payment reconciled",
			zap.String("checkout_request_id", checkoutRequestID), zap.String("status", string(p.Status)))
	}()
}

// Wait blocks until background reconciliations finish.
func (s *CollectionService) Wait() {
	s.background.Wait()
}

// Stop cancels background reconciliations and waits for them to return.
// Requests they leave initiated are picked up by the sweeper.
func (s *CollectionService) Stop() {
	s.serviceContext()
	s.stop()
	s.background.Wait()
}

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
)

type PaymentRepository struct {
	DB *sql.DB
}

func (r PaymentRepository) db() *sql.DB {
	if r.DB != nil {
		return r.DB
	}
	return intconfig.DB
}

const paymentColumns = `
	checkout_request_id, vehicle_id, amount, phone, account_reference,
	status, receipt_number, result_desc, created_at, updated_at`

func scanPayment(row rowScanner) (models.PaymentRequest, error) {
	var p models.PaymentRequest
	var status string
	if err := row.Scan(&p.CheckoutRequestID, &p.VehicleID, &p.Amount, &p.Phone, &p.AccountReference,
		&status, &p.ReceiptNumber, &p.ResultDesc, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return models.PaymentRequest{}, err
	}
	p.Status = models.PaymentStatus(status)
	return p, nil
}

func (r PaymentRepository) CreatePayment(ctx context.Context, p models.PaymentRequest) error {
	_, err := r.db().ExecContext(ctx, `
		INSERT INTO payment_requests (`+paymentColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.CheckoutRequestID, p.VehicleID, p.Amount, p.Phone, p.AccountReference,
		string(p.Status), p.ReceiptNumber, p.ResultDesc, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if intdb.IsDuplicateKey(err) {
			return domain.ConflictError{Resource: "payment request", Msg: "CheckoutRequestID already recorded", Err: err}
		}
		return fmt.Errorf("insert payment request: %w", err)
	}
	return nil
}

func (r PaymentRepository) GetPayment(ctx context.Context, checkoutRequestID string) (models.PaymentRequest, error) {
	row := r.db().QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payment_requests WHERE checkout_request_id=?`, checkoutRequestID)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.PaymentRequest{}, domain.NotFoundError{Resource: "payment request", Err: err}
		}
		return models.PaymentRequest{}, fmt.Errorf("read payment request: %w", err)
	}
	return p, nil
}

// SettlePayment moves an initiated request to its terminal outcome. The
// returned flag is false when another caller settled it first; the stored
// state is returned either way.
func (r PaymentRepository) SettlePayment(ctx context.Context, checkoutRequestID string, out models.PaymentOutcome, at time.Time) (models.PaymentRequest, bool, error) {
	if !out.Status.Terminal() {
		return models.PaymentRequest{}, false, fmt.Errorf("settle payment: %q is not terminal", out.Status)
	}
	res, err := r.db().ExecContext(ctx, `
		UPDATE payment_requests
		SET status=?, receipt_number=?, result_desc=?, updated_at=?
		WHERE checkout_request_id=? AND status=?`,
		string(out.Status), out.ReceiptNumber, out.ResultDesc, at, checkoutRequestID, string(models.PaymentInitiated))
	if err != nil {
		return models.PaymentRequest{}, false, fmt.Errorf("settle payment: %w", err)
	}
	n, _ := res.RowsAffected()

	p, err := r.GetPayment(ctx, checkoutRequestID)
	if err != nil {
		return models.PaymentRequest{}, false, err
	}
	return p, n > 0, nil
}

// ListStalePayments returns requests created before the cutoff that still
// need work, oldest first: initiated ones, and completed ones with no ledger
// allocation recorded.
func (r PaymentRepository) ListStalePayments(ctx context.Context, before time.Time, limit int) ([]models.PaymentRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db().QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payment_requests
		WHERE (status=? OR (status=? AND NOT EXISTS (
			SELECT 1 FROM ledger_allocations a
			WHERE a.checkout_request_id = payment_requests.checkout_request_id)))
		AND created_at < ?
		ORDER BY created_at ASC LIMIT ?`,
		string(models.PaymentInitiated), string(models.PaymentCompleted), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale payments: %w", err)
	}
	defer rows.Close()

	out := []models.PaymentRequest{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

package repositories

import (
	"context"
	"testing"

	"sacco/internal/domain"
	"sacco/internal/domain/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
)

func paymentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"checkout_request_id", "vehicle_id", "amount", "phone", "account_reference",
		"status", "receipt_number", "result_desc", "created_at", "updated_at"})
}

func TestCreatePaymentDuplicateIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO payment_requests`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err = PaymentRepository{DB: db}.CreatePayment(context.Background(), models.PaymentRequest{
		CheckoutRequestID: "ws_CO_1",
		VehicleID:         7,
		Amount:            dec("20000"),
		Status:            models.PaymentInitiated,
	})
	if !domain.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSettlePaymentLosingWriterSeesStoredState(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE payment_requests`).
		WithArgs("completed", "QK12", "ok", fixedNow, "ws_CO_1", "initiated").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM payment_requests WHERE checkout_request_id=\?`).WithArgs("ws_CO_1").
		WillReturnRows(paymentRows().AddRow("ws_CO_1", 7, "20000.00", "0712345678", "KBZ123A",
			"completed", "QK12", "ok", fixedNow, fixedNow))

	p, changed, err := PaymentRepository{DB: db}.SettlePayment(context.Background(), "ws_CO_1",
		models.PaymentOutcome{Status: models.PaymentCompleted, ReceiptNumber: "QK12", ResultDesc: "ok"}, fixedNow)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if changed {
		t.Fatalf("no row was updated, changed must be false")
	}
	if p.Status != models.PaymentCompleted || p.ReceiptNumber != "QK12" {
		t.Fatalf("unexpected payment %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettlePaymentRejectsNonTerminalOutcome(t *testing.T) {
	_, _, err := PaymentRepository{}.SettlePayment(context.Background(), "ws_CO_1",
		models.PaymentOutcome{Status: models.PaymentInitiated}, fixedNow)
	if err == nil {
		t.Fatalf("expected error for non-terminal outcome")
	}
}

func TestListStalePaymentsDefaultsLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`FROM payment_requests\s+WHERE \(status=\? OR \(status=\? AND NOT EXISTS`).
		WithArgs("initiated", "completed", fixedNow, 100).
		WillReturnRows(paymentRows().AddRow("ws_CO_9", 7, "500.00", "0712345678", "KBZ123A",
			"initiated", "", "", fixedNow, fixedNow))

	out, err := PaymentRepository{DB: db}.ListStalePayments(context.Background(), fixedNow, 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(out) != 1 || out[0].CheckoutRequestID != "ws_CO_9" {
		t.Fatalf("unexpected payments %+v", out)
	}
}

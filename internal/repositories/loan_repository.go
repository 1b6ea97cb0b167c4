package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	intconfig "sacco/internal/config"
	intdb "sacco/internal/db"
	"sacco/internal/domain"
	"sacco/internal/domain/models"
)

type LoanRepository struct {
	DB *sql.DB
}

func (r LoanRepository) db() *sql.DB {
	if r.DB != nil {
		return r.DB
	}
	return intconfig.DB
}

const loanColumns = `
	l.id, l.vehicle_id, l.applicant_id, l.loan_type, l.amount_applied, l.amount_issued,
	l.status, l.reason, l.created_at, l.decided_at,
	COALESCE((SELECT GROUP_CONCAT(g.member_id ORDER BY g.member_id) FROM loan_guarantors g WHERE g.loan_id = l.id), '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (models.Loan, error) {
	var (
		l          models.Loan
		vehicleID  sql.NullInt64
		loanType   string
		status     string
		decidedAt  sql.NullTime
		guarantors string
	)
	if err := row.Scan(&l.ID, &vehicleID, &l.ApplicantID, &loanType, &l.AmountApplied, &l.AmountIssued,
		&status, &l.Reason, &l.CreatedAt, &decidedAt, &guarantors); err != nil {
		return models.Loan{}, err
	}
	if vehicleID.Valid {
		v := vehicleID.Int64
		l.VehicleID = &v
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		l.DecidedAt = &t
	}
	l.Type = models.LoanType(loanType)
	l.Status = models.LoanStatus(status)
	l.Guarantors = parseIDList(guarantors)
	return l, nil
}

func parseIDList(s string) []int64 {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	out := []int64{}
	for _, part := range strings.Split(s, ",") {
		if n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// CreateLoan inserts a pending loan. The duplicate-loan check runs under a row
// lock on the vehicle (normal) or the applicant (emergency).
func (r LoanRepository) CreateLoan(ctx context.Context, app models.LoanApplication, createdAt time.Time) (models.Loan, error) {
	loan := models.Loan{
		VehicleID:     app.VehicleID,
		ApplicantID:   app.ApplicantID,
		Type:          app.Type,
		AmountApplied: app.Amount,
		Status:        models.LoanPending,
		Guarantors:    app.Guarantors,
		CreatedAt:     createdAt,
	}

	err := intdb.WithTx(ctx, r.db(), func(tx *sql.Tx) error {
		var open int
		switch app.Type {
		case models.LoanNormal:
			if app.VehicleID == nil {
				return domain.ValidationError{Field: "matatuId", Msg: "required for normal loans", Err: domain.ErrMissingVehicle}
			}
			if _, err := scanBalance(ctx, tx, *app.VehicleID, true); err != nil {
				return err
			}
			if err := tx.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM loans
				WHERE vehicle_id=? AND loan_type=? AND status IN (?,?)`,
				*app.VehicleID, string(models.LoanNormal), string(models.LoanPending), string(models.LoanApproved)).Scan(&open); err != nil {
				return fmt.Errorf("count pending loans: %w", err)
			}
			if open > 0 {
				return domain.BusinessRuleError{Rule: "DuplicatePendingLoan", Msg: "vehicle already has a pending loan", Err: domain.ErrDuplicatePendingLoan}
			}
		case models.LoanEmergency:
			var id int64
			if err := tx.QueryRowContext(ctx, `SELECT id FROM members WHERE id=? FOR UPDATE`, app.ApplicantID).Scan(&id); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return domain.NotFoundError{Resource: "member", Err: err}
				}
				return fmt.Errorf("lock member: %w", err)
			}
			if err := tx.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM loans
				WHERE applicant_id=? AND loan_type=? AND status IN (?,?,?)`,
				app.ApplicantID, string(models.LoanEmergency),
				string(models.LoanPending), string(models.LoanApproved), string(models.LoanDisbursed)).Scan(&open); err != nil {
				return fmt.Errorf("count open emergency loans: %w", err)
			}
			if open > 0 {
				return domain.BusinessRuleError{Rule: "DuplicateEmergencyLoan", Msg: "applicant already has an open emergency loan", Err: domain.ErrDuplicateEmergencyLoan}
			}
		default:
			return domain.ValidationError{Field: "loanType", Msg: "must be normal or emergency", Err: domain.ErrInvalidLoanType}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO loans (vehicle_id, applicant_id, loan_type, amount_applied, amount_issued, status, created_at)
			VALUES (?,?,?,?,0,?,?)`,
			intdb.NullInt64(app.VehicleID), app.ApplicantID, string(app.Type), app.Amount, string(models.LoanPending), createdAt)
		if err != nil {
			return fmt.Errorf("insert loan: %w", err)
		}
		loan.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert loan id: %w", err)
		}

		for _, g := range app.Guarantors {
			if _, err := tx.ExecContext(ctx, `INSERT INTO loan_guarantors (loan_id, member_id) VALUES (?,?)`, loan.ID, g); err != nil {
				return fmt.Errorf("insert guarantor: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return models.Loan{}, err
	}
	return loan, nil
}

func (r LoanRepository) GetLoan(ctx context.Context, loanID int64) (models.Loan, error) {
	row := r.db().QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans l WHERE l.id=?`, loanID)
	l, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Loan{}, domain.NotFoundError{Resource: "loan", Err: err}
		}
		return models.Loan{}, fmt.Errorf("read loan: %w", err)
	}
	return l, nil
}

// ListPendingLoans returns pending loans, optionally only those of one applicant.
func (r LoanRepository) ListPendingLoans(ctx context.Context, applicantID *int64) ([]models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans l WHERE l.status=?`
	args := []any{string(models.LoanPending)}
	if applicantID != nil {
		query += ` AND l.applicant_id=?`
		args = append(args, *applicantID)
	}
	query += ` ORDER BY l.created_at ASC, l.id ASC`
	return r.list(ctx, query, args...)
}

func (r LoanRepository) ListLoansByVehicle(ctx context.Context, vehicleID int64) ([]models.Loan, error) {
	return r.list(ctx, `SELECT `+loanColumns+` FROM loans l WHERE l.vehicle_id=? ORDER BY l.id DESC`, vehicleID)
}

func (r LoanRepository) list(ctx context.Context, query string, args ...any) ([]models.Loan, error) {
	rows, err := r.db().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	defer rows.Close()

	out := []models.Loan{}
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loans: %w", err)
	}
	return out, nil
}

// DisapproveLoan moves a pending loan to disapproved; balances are untouched.
func (r LoanRepository) DisapproveLoan(ctx context.Context, loanID int64, reason string, decidedAt time.Time) error {
	res, err := r.db().ExecContext(ctx, `
		UPDATE loans SET status=?, reason=?, decided_at=?
		WHERE id=? AND status=?`,
		string(models.LoanDisapproved), reason, decidedAt, loanID, string(models.LoanPending))
	if err != nil {
		return fmt.Errorf("disapprove loan: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	l, err := r.GetLoan(ctx, loanID)
	if err != nil {
		return err
	}
	return domain.BusinessRuleError{Rule: "LoanNotPending", Msg: fmt.Sprintf("loan %d is %s", loanID, l.Status), Err: domain.ErrLoanNotPending}
}

// MarkLoansRepaid closes disbursed loans of a vehicle whose outstanding balance is zero.
func (r LoanRepository) MarkLoansRepaid(ctx context.Context, vehicleID int64) (int64, error) {
	res, err := r.db().ExecContext(ctx, `
		UPDATE loans SET status=?
		WHERE vehicle_id=? AND status=?
		  AND (SELECT outstanding_loan FROM vehicle_accounts WHERE id=?) = 0`,
		string(models.LoanRepaid), vehicleID, string(models.LoanDisbursed), vehicleID)
	if err != nil {
		return 0, fmt.Errorf("mark loans repaid: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

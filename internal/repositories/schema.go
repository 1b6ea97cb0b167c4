package repositories

import (
	"context"
	"database/sql"
	"fmt"
)

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS members (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	phone VARCHAR(20) NOT NULL DEFAULT '',
	email VARCHAR(255) NOT NULL DEFAULT '',
	password_hash VARCHAR(255) NOT NULL DEFAULT '',
	role VARCHAR(20) NOT NULL DEFAULT 'member',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	KEY idx_member_email (email),
	KEY idx_member_phone (phone)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS vehicle_accounts (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	member_id BIGINT NOT NULL,
	registration_number VARCHAR(20) NOT NULL,
	savings_balance DECIMAL(14,2) NOT NULL DEFAULT 0,
	outstanding_loan DECIMAL(14,2) NOT NULL DEFAULT 0,
	status VARCHAR(20) NOT NULL DEFAULT 'active',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE KEY uniq_registration (registration_number),
	KEY idx_member (member_id),
	CONSTRAINT chk_savings_non_negative CHECK (savings_balance >= 0),
	CONSTRAINT chk_loan_non_negative CHECK (outstanding_loan >= 0)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS loans (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	vehicle_id BIGINT NULL,
	applicant_id BIGINT NOT NULL,
	loan_type VARCHAR(20) NOT NULL,
	amount_applied DECIMAL(14,2) NOT NULL,
	amount_issued DECIMAL(14,2) NOT NULL DEFAULT 0,
	status VARCHAR(20) NOT NULL DEFAULT 'pending',
	reason VARCHAR(500) NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	decided_at DATETIME NULL,
	KEY idx_loan_vehicle_status (vehicle_id, status),
	KEY idx_loan_applicant_type (applicant_id, loan_type, status)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS loan_guarantors (
	loan_id BIGINT NOT NULL,
	member_id BIGINT NOT NULL,
	PRIMARY KEY (loan_id, member_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS payment_requests (
	checkout_request_id VARCHAR(100) PRIMARY KEY,
	vehicle_id BIGINT NOT NULL,
	amount DECIMAL(14,2) NOT NULL,
	phone VARCHAR(20) NOT NULL,
	account_reference VARCHAR(50) NOT NULL DEFAULT '',
	status VARCHAR(20) NOT NULL DEFAULT 'initiated',
	receipt_number VARCHAR(50) NOT NULL DEFAULT '',
	result_desc VARCHAR(255) NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	KEY idx_payment_status_created (status, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS ledger_allocations (
	checkout_request_id VARCHAR(100) PRIMARY KEY,
	vehicle_id BIGINT NOT NULL,
	operations_fee DECIMAL(14,2) NOT NULL,
	insurance DECIMAL(14,2) NOT NULL,
	savings_contribution DECIMAL(14,2) NOT NULL,
	loan_repayment DECIMAL(14,2) NOT NULL,
	applied_at DATETIME NOT NULL,
	KEY idx_allocation_vehicle (vehicle_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}

// EnsureSchema creates the engine tables when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("db not available")
	}
	for _, ddl := range schemaDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

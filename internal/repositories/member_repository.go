package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	intconfig "sacco/internal/config"
	"sacco/internal/domain"
	"sacco/internal/domain/models"
)

type MemberRepository struct {
	DB *sql.DB
}

func (r MemberRepository) db() *sql.DB {
	if r.DB != nil {
		return r.DB
	}
	return intconfig.DB
}

// GetMemberByLogin looks a member up by email or phone.
func (r MemberRepository) GetMemberByLogin(ctx context.Context, login string) (models.Member, error) {
	login = strings.TrimSpace(login)
	var m models.Member
	err := r.db().QueryRowContext(ctx, `
		SELECT id, name, phone, email, role, password_hash
		FROM members
		WHERE email = ? OR phone = ?
		LIMIT 1`, login, login).Scan(&m.ID, &m.Name, &m.Phone, &m.Email, &m.Role, &m.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Member{}, domain.NotFoundError{Resource: "member", Err: err}
		}
		return models.Member{}, fmt.Errorf("read member: %w", err)
	}
	return m, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sacco/internal/domain"
	"sacco/internal/domain/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var ErrBadCredentials = errors.New("email/phone or password is incorrect")

// Claims are carried in the finance API bearer tokens.
type Claims struct {
	MemberID int64  `json:"member_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type AuthService struct {
	Members MemberStore
	Secret  []byte
	TTL     time.Duration
	Now     func() time.Time
}

func (s AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Login checks the password and returns a signed token for the member.
func (s AuthService) Login(ctx context.Context, login, password string) (string, models.Member, error) {
	if strings.TrimSpace(login) == "" || password == "" {
		return "", models.Member{}, domain.ValidationError{Field: "login", Msg: "email/phone and password are required"}
	}
	m, err := s.Members.GetMemberByLogin(ctx, login)
	if err != nil {
		if domain.IsNotFound(err) {
			return "", models.Member{}, ErrBadCredentials
		}
		return "", models.Member{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)); err != nil {
		return "", models.Member{}, ErrBadCredentials
	}
	token, err := s.IssueToken(m)
	if err != nil {
		return "", models.Member{}, err
	}
	return token, m, nil
}

func (s AuthService) IssueToken(m models.Member) (string, error) {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	role := m.Role
	if role == "" {
		role = domain.RoleMember
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		MemberID: m.ID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(s.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates an HS256 token and returns the caller it names.
func ParseToken(secret []byte, raw string) (domain.RequestContext, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.RequestContext{}, err
	}
	if claims.MemberID <= 0 {
		return domain.RequestContext{}, errors.New("token without member_id")
	}
	return domain.RequestContext{UserID: domain.ID(claims.MemberID), Role: claims.Role}, nil
}

// HashPassword is used when seeding members.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

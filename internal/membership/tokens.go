package membership

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Claims is the token payload: the member id in "sub" plus its role.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 member tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for the member.
func (m *TokenManager) Issue(member *Member) (string, error) {
	now := m.now()
	claims := Claims{
		Role: member.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   member.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			Issuer:    "shelfshare/membership",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Parse verifies the signature and expiry and returns the principal.
func (m *TokenManager) Parse(raw string) (Principal, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	tok, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("parse token: %w", err)
	}
	if !tok.Valid {
		return Principal{}, errors.New("invalid token")
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("token subject: %w", err)
	}
	if !claims.Role.Valid() {
		return Principal{}, fmt.Errorf("token role %q unknown", claims.Role)
	}
	return Principal{UserID: id, Role: claims.Role}, nil
}

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims are the custom claims embedded in every access token.
type Claims struct {
	TenantID    string         `json:"tenant_id"`
	Username    string         `json:"username"`
	Role        string         `json:"role"`
	Permissions []string       `json:"perms"`
	Levels      map[string]int `json:"levels"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for p and returns it with its expiry.
func (t *TokenIssuer) Issue(p *Principal) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(t.ttl)
	claims := Claims{
		TenantID:    p.Tenant.String(),
		Username:    p.Username,
		Role:        p.Role,
		Permissions: p.Permissions,
		Levels:      p.Levels,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.User.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies tokenStr and rebuilds the Principal it was issued for.
func (t *TokenIssuer) Parse(tokenStr string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(tk *jwt.Token) (interface{}, error) {
		if _, ok := tk.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return &Principal{
		User:        userID,
		Tenant:      tenantID,
		Username:    claims.Username,
		Role:        claims.Role,
		Permissions: claims.Permissions,
		Levels:      claims.Levels,
	}, nil
}

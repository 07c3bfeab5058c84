package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lalith-99/chatlink/models"
)

// Claims is the payload inside every bearer token the auth collaborator
// issues. The core parses it CLIENT-SIDE for two reasons:
//
//  1. Identity: user/tenant/role come out of the token without a network
//     round-trip at session start.
//  2. Expiry: a token we can see is already expired gets mapped to an auth
//     failure locally, before we waste a dial on a handshake the server
//     will reject anyway.
//
// Why embed jwt.RegisteredClaims?
//   - Standard fields (ExpiresAt, IssuedAt, Issuer) come for free and
//     ParseWithClaims validates expiry against them automatically.
type Claims struct {
	UserID   uuid.UUID   `json:"user_id"`
	TenantID uuid.UUID   `json:"tenant_id"`
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
	jwt.RegisteredClaims
}

// ErrCredential marks a token problem that re-authentication fixes and
// retrying does not: bad signature, expired, malformed. The transport's
// circuit breaker counts these; it does NOT count network failures.
var ErrCredential = errors.New("credential rejected")

// ParseToken validates a JWT string and extracts the claims.
//
// It verifies the HMAC signature, the expiry, and that the signing method
// really is HMAC (rejecting alg-confusion tokens signed with "none" or RSA).
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredential, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", ErrCredential)
	}

	return claims, nil
}

// IdentityFromToken derives the session Identity from a bearer token.
// This is the only place a credential becomes an Identity; everything
// downstream (directory, notifier, transport) receives the struct and
// never re-parses the token.
func IdentityFromToken(tokenString, secret string) (models.Identity, error) {
	claims, err := ParseToken(tokenString, secret)
	if err != nil {
		return models.Identity{}, err
	}
	return models.Identity{
		UserID:   claims.UserID,
		TenantID: claims.TenantID,
		Email:    claims.Email,
		Role:     claims.Role,
	}, nil
}

// Expired reports whether the token's expiry has passed without verifying
// the signature. Used as a cheap local pre-flight before a dial; the real
// validation still happens at the collaborator.
func Expired(tokenString string) bool {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, &Claims{})
	if err != nil {
		// Unparseable is as good as expired: the handshake will reject it.
		return true
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}

// GenerateToken creates a signed JWT for a given identity.
//
// The production issuer lives in the auth collaborator; this stays here so
// tests (and local harnesses) can mint credentials the parser accepts.
func GenerateToken(id models.Identity, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		UserID:   id.UserID,
		TenantID: id.TenantID,
		Email:    id.Email,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "chatlink",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

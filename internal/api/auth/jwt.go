// Package auth issues and validates the tokens used by machines and
// administrators.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired is returned for a well-formed token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for any other token that fails validation.
	ErrTokenInvalid = errors.New("token invalid")
)

// TokenKind distinguishes machine tokens from administrator tokens.
type TokenKind string

const (
	KindMachine TokenKind = "machine"
	KindAdmin   TokenKind = "admin"
)

// Claims represents the JWT claims of an access token. Subject is the
// machine ID for machine tokens and the username for admin tokens.
type Claims struct {
	jwt.RegisteredClaims
	Kind TokenKind `json:"knd"`
	Name string    `json:"name,omitempty"`
}

// JWTService handles JWT token generation and validation.
type JWTService struct {
	secret     []byte
	issuer     string
	machineTTL time.Duration
	adminTTL   time.Duration
	now        func() time.Time
}

// NewJWTService creates a new JWT service.
func NewJWTService(secret []byte, machineTTL, adminTTL time.Duration) *JWTService {
	if machineTTL <= 0 {
		machineTTL = 30 * time.Minute
	}
	if adminTTL <= 0 {
		adminTTL = time.Hour
	}
	return &JWTService{
		secret:     secret,
		issuer:     "siemlite",
		machineTTL: machineTTL,
		adminTTL:   adminTTL,
		now:        time.Now,
	}
}

// IssueMachineToken creates a short-lived token for a registered machine.
func (s *JWTService) IssueMachineToken(machineID, name string) (string, error) {
	return s.issue(KindMachine, machineID, name, s.machineTTL)
}

// IssueAdminToken creates a token for an administrator.
func (s *JWTService) IssueAdminToken(username string) (string, error) {
	return s.issue(KindAdmin, username, username, s.adminTTL)
}

func (s *JWTService) issue(kind TokenKind, subject, name string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Kind: kind,
		Name: name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Validate parses tokenString and checks that it is a token of kind.
func (s *JWTService) Validate(tokenString string, kind TokenKind) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrTokenInvalid, kind, claims.Kind)
	}
	return claims, nil
}

// MachineTTL returns the machine token lifetime.
func (s *JWTService) MachineTTL() time.Duration {
	return s.machineTTL
}

// AdminTTL returns the admin token lifetime.
func (s *JWTService) AdminTTL() time.Duration {
	return s.adminTTL
}

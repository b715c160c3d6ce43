package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestJWTService() *JWTService {
	return NewJWTService([]byte("test-secret-key-at-least-32-bytes!"), 30*time.Minute, time.Hour)
}

func TestJWTService_MachineToken(t *testing.T) {
	svc := newTestJWTService()

	token, err := svc.IssueMachineToken("machine-1", "web-01")
	if err != nil {
		t.Fatalf("IssueMachineToken() error = %v", err)
	}

	claims, err := svc.Validate(token, KindMachine)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.Subject != "machine-1" {
		t.Errorf("Subject = %q, want machine-1", claims.Subject)
	}
	if claims.Name != "web-01" {
		t.Errorf("Name = %q, want web-01", claims.Name)
	}
	if claims.Issuer != "siemlite" {
		t.Errorf("Issuer = %q, want siemlite", claims.Issuer)
	}
	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if ttl != 30*time.Minute {
		t.Errorf("ttl = %v, want 30m", ttl)
	}
}

func TestJWTService_KindMismatch(t *testing.T) {
	svc := newTestJWTService()

	machineToken, _ := svc.IssueMachineToken("machine-1", "web-01")
	if _, err := svc.Validate(machineToken, KindAdmin); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("machine token as admin: err = %v, want ErrTokenInvalid", err)
	}

	adminToken, _ := svc.IssueAdminToken("admin")
	if _, err := svc.Validate(adminToken, KindMachine); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("admin token as machine: err = %v, want ErrTokenInvalid", err)
	}
	if _, err := svc.Validate(adminToken, KindAdmin); err != nil {
		t.Errorf("admin token as admin: err = %v", err)
	}
}

func TestJWTService_Expired(t *testing.T) {
	svc := newTestJWTService()
	issued := time.Now().Add(-2 * time.Hour)
	svc.now = func() time.Time { return issued }

	token, err := svc.IssueMachineToken("machine-1", "web-01")
	if err != nil {
		t.Fatalf("IssueMachineToken() error = %v", err)
	}

	svc.now = time.Now
	if _, err := svc.Validate(token, KindMachine); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Validate() error = %v, want ErrTokenExpired", err)
	}
}

func TestJWTService_WrongSecret(t *testing.T) {
	svc := newTestJWTService()
	other := NewJWTService([]byte("another-secret-key-of-enough-size"), 0, 0)

	token, _ := other.IssueMachineToken("machine-1", "web-01")
	if _, err := svc.Validate(token, KindMachine); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Validate() error = %v, want ErrTokenInvalid", err)
	}
}

func TestJWTService_RejectsOtherAlgorithms(t *testing.T) {
	svc := newTestJWTService()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "siemlite",
			Subject:   "machine-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Kind: KindMachine,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := svc.Validate(signed, KindMachine); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Validate() error = %v, want ErrTokenInvalid", err)
	}
}

func TestJWTService_Garbage(t *testing.T) {
	svc := newTestJWTService()
	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := svc.Validate(tok, KindAdmin); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("Validate(%q) error = %v, want ErrTokenInvalid", tok, err)
		}
	}
}

func TestAPIToken(t *testing.T) {
	token, hash, err := GenerateAPIToken()
	if err != nil {
		t.Fatalf("GenerateAPIToken() error = %v", err)
	}
	if len(token) != len(apiTokenPrefix)+64 {
		t.Errorf("token length = %d", len(token))
	}
	if hash != HashAPIToken(token) {
		t.Error("hash does not match HashAPIToken(token)")
	}
	if !TokenMatches(token, hash) {
		t.Error("TokenMatches() = false for its own hash")
	}
	if TokenMatches(token+"x", hash) {
		t.Error("TokenMatches() = true for a different token")
	}

	other, _, _ := GenerateAPIToken()
	if other == token {
		t.Error("two generated tokens are equal")
	}
}

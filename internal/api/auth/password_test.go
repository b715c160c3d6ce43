package auth

import (
	"errors"
	"testing"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid", "Correct-Horse-9", false},
		{"too short", "Ab1!", true},
		{"no upper", "correct-horse-9", true},
		{"no lower", "CORRECT-HORSE-9", true},
		{"no digit", "Correct-Horse-X", true},
		{"no special", "CorrectHorse99", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePassword(%q) error = %v, wantErr %v", tt.password, err, tt.wantErr)
			}
			var pve *PasswordValidationError
			if err != nil && !errors.As(err, &pve) {
				t.Errorf("error type = %T, want *PasswordValidationError", err)
			}
		})
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("Correct-Horse-9")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !IsPasswordHash(hash) {
		t.Errorf("IsPasswordHash(%q) = false", hash)
	}
	if !CheckPassword(hash, "Correct-Horse-9") {
		t.Error("CheckPassword() = false for the right password")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("CheckPassword() = true for a wrong password")
	}
	if CheckPassword("", "anything") {
		t.Error("CheckPassword() = true for an empty hash")
	}
	if IsPasswordHash("plaintext") {
		t.Error("IsPasswordHash(plaintext) = true")
	}
}

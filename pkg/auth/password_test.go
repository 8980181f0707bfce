package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordAndCheckPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("pw123456")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" || hash == "pw123456" {
		t.Fatalf("expected salted hash, got %q", hash)
	}
	if !CheckPassword("pw123456", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
}

func TestHashPasswordIsSalted(t *testing.T) {
	first, err := HashPassword("same")
	if err != nil {
		t.Fatalf("hash first: %v", err)
	}
	second, err := HashPassword("same")
	if err != nil {
		t.Fatalf("hash second: %v", err)
	}
	if first == second {
		t.Fatalf("expected different hashes for the same password")
	}
}

func TestCheckPasswordRejectsEmptyHash(t *testing.T) {
	if CheckPassword("", "") {
		t.Fatalf("empty stored hash must never match")
	}
}

func TestCheckPasswordWithoutHashDoesBcryptWork(t *testing.T) {
	if cost, err := bcrypt.Cost(dummyHash()); err != nil || cost != bcrypt.DefaultCost {
		t.Fatalf("dummy hash cost = %d, %v; want %d", cost, err, bcrypt.DefaultCost)
	}
	hash, err := HashPassword("pw123456")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	dummyHash()

	start := time.Now()
	CheckPassword("pw123456", hash)
	known := time.Since(start)

	start = time.Now()
	CheckPassword("pw123456", "")
	unknown := time.Since(start)

	if unknown < known/4 {
		t.Fatalf("empty-hash check took %v, real check %v; expected comparable bcrypt work", unknown, known)
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("pw123456"); err != nil {
		t.Fatalf("expected valid password, got: %v", err)
	}
	if err := ValidatePassword(""); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("expected ErrPasswordRequired, got: %v", err)
	}
	if err := ValidatePassword(strings.Repeat("a", 73)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got: %v", err)
	}
}

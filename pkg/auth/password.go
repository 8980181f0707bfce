package auth

import (
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores input beyond 72 bytes, so longer passwords are rejected up front.
const maxPasswordBytes = 72

var (
	ErrPasswordRequired = errors.New("password required")
	ErrPasswordTooLong  = errors.New("password must be at most 72 bytes")
)

// HashPassword returns a salted bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// dummyHash is compared against when there is no stored hash, so unknown
// accounts cost the same bcrypt work as real ones.
var dummyHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("eduflow-no-such-account"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
})

// CheckPassword reports whether password matches the stored bcrypt hash. An
// empty stored hash never matches but still runs a full comparison.
func CheckPassword(password, stored string) bool {
	if strings.TrimSpace(stored) == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// ValidatePassword enforces the input constraints bcrypt can honour.
func ValidatePassword(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	if len(password) > maxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

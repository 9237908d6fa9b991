package users

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const maxPasswordBytes = 72

var (
	// ErrPasswordMismatch indicates the raw password does not match the stored hash.
	ErrPasswordMismatch = errors.New("users: password mismatch")
)

const decoyPassword = "bookshelf-decoy-password"

// HashPassword returns a salted bcrypt hash of raw at the given cost.
func HashPassword(raw string, cost int) (string, error) {
	if len(raw) == 0 || len(raw) > maxPasswordBytes {
		return "", fmt.Errorf("%w: length must be 1..%d bytes", ErrInvalidPassword, maxPasswordBytes)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPassword compares raw against a stored bcrypt hash.
func CheckPassword(hash, raw string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)); err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordMismatch, err)
	}
	return nil
}

// utils/otp.go
package utils

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrCodeHashMismatch is returned by CompareCode when the code does not match.
var ErrCodeHashMismatch = errors.New("verification code does not match")

// GenerateNumericCode returns a uniformly random code of length decimal digits.
func GenerateNumericCode(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("code length must be positive")
	}

	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// HashCode hashes a verification code for storage.
func HashCode(code string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CompareCode checks code against a hash produced by HashCode.
func CompareCode(hash, code string) error {
	if hash == "" {
		return ErrCodeHashMismatch
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(code))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrCodeHashMismatch
	}
	return err
}

// HashPassword hashes an account password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches a hash from HashPassword.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

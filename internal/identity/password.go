package identity

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var errEmptyPassword = errors.New("password is empty")

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with the stored hash of u.
func (u User) VerifyPassword(password string) error {
	if u.PasswordHash == "" || password == "" {
		return errEmptyPassword
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
}

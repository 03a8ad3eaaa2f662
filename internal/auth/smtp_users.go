package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// SMTPUsers checks SMTP submission logins against bcrypt hashes.
type SMTPUsers struct {
	hashes map[string][]byte
}

// NewSMTPUsers creates SMTPUsers from username to bcrypt hash pairs.
func NewSMTPUsers(users map[string]string) (*SMTPUsers, error) {
	hashes := make(map[string][]byte, len(users))
	for name, hash := range users {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("smtp user %q: invalid bcrypt hash: %w", name, err)
		}
		hashes[name] = []byte(hash)
	}
	return &SMTPUsers{hashes: hashes}, nil
}

// Len returns the number of configured users.
func (u *SMTPUsers) Len() int { return len(u.hashes) }

// Authenticate verifies password for username.
func (u *SMTPUsers) Authenticate(username, password string) error {
	hash, ok := u.hashes[username]
	if !ok {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword returns a bcrypt hash suitable for the smtp_users setting.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

package auth

import (
	"fmt"

	"kampus.org/internal/errs"
)

var (
	// ErrInvalidToken indicates a missing, malformed, expired or consumed credential.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", errs.ErrUnauthenticated)
	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", errs.ErrUnauthenticated)
)

package auth

import "errors"

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrIdentityMismatch means a request acts for an employee other than the token subject.
	ErrIdentityMismatch = errors.New("auth: employee does not match token subject")
)

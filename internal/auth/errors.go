package auth

import "errors"

var (
	ErrMissingSecret    = errors.New("auth: jwt secret is not configured")
	ErrEmptyPassword    = errors.New("auth: password is empty")
	ErrUnexpectedMethod = errors.New("auth: unexpected signing method")
)

const (
	msgMissingHeader   = "No authorization header provided"
	msgMalformedHeader = "Invalid authorization header format"
	msgExpiredToken    = "Token has expired"
	msgInvalidToken    = "Invalid token"
)

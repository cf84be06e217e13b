package service

import "errors"

var (
	ErrValidation         = errors.New("validation error")
	ErrCredentialMissing  = errors.New("workspace has no credential")
	ErrGatewayRejected    = errors.New("slack rejected the request")
	ErrGatewayUnreachable = errors.New("slack unreachable")
	ErrOAuthNotConfigured = errors.New("slack oauth is not configured")
)

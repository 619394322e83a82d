package auth

import "errors"

var (
	ErrUnknownProvider = errors.New("unknown oidc provider")
	ErrNoIdentity      = errors.New("token carries no usable identity")
	ErrUnauthenticated = errors.New("no identity provided")
)

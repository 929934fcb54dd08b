package password

import "errors"

var (
	ErrPasswordEmpty   = errors.New("password is empty")
	ErrPasswordTooLong = errors.New("password is too long")
	ErrInvalidHash     = errors.New("invalid password hash")
)

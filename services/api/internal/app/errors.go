package app

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is the parent of every request validation failure.
	ErrInvalidInput = errors.New("invalid input")

	ErrInvalidEmail        = fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	ErrUsernameRequired    = fmt.Errorf("%w: username is required", ErrInvalidInput)
	ErrInputTextRequired   = fmt.Errorf("%w: input text is required", ErrInvalidInput)
	ErrSessionNameRequired = fmt.Errorf("%w: session name is required", ErrInvalidInput)
	ErrInvalidDuration     = fmt.Errorf("%w: duration minutes must be >= 0", ErrInvalidInput)

	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrUnauthorized       = errors.New("could not validate credentials")
	ErrNotFound           = errors.New("not found")
)

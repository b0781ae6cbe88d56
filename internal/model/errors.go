package model

import "errors"

var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrMissingCommand      = errors.New("command provider should specify the command")
)

package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrSourceEmpty  = errors.New("no images found in source")
	ErrTransform    = errors.New("image transform failed")
	ErrUpstream     = errors.New("upstream failure")
	ErrNameTaken    = errors.New("username already taken")
)

package model

import (
	"errors"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInProgress        = errors.New("operation already in progress")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrZoneNotFound      = errors.New("hosted zone not found")
	ErrNoWebServer       = errors.New("no web server detected")
	ErrToolFailure       = errors.New("external tool failed")
	ErrParseFailure      = errors.New("unable to parse certificate expiry")
	ErrTimeout           = errors.New("timed out")
	ErrConfigInvalid     = errors.New("proxy configuration invalid")
)

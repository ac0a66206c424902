package core

import "errors"

var (
	// Tag decoding errors
	ErrShortRecord   = errors.New("decoystation: record too short to carry a tag")
	ErrTagMismatch   = errors.New("decoystation: tag authentication failed")
	ErrTagVersion    = errors.New("decoystation: unsupported tag payload")
	ErrDecodeFault   = errors.New("decoystation: fault while reading payload")
	ErrInvalidKey    = errors.New("decoystation: invalid station key")
	ErrLowOrderPoint = errors.New("decoystation: low order client point")

	// Destination selection errors
	ErrNoAddress = errors.New("decoystation: no selectable decoy address")

	// Notification errors
	ErrBadRegistration = errors.New("decoystation: malformed registration message")

	// Configuration errors
	ErrConfigInvalid = errors.New("decoystation: invalid configuration")
)

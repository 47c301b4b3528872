package otp

import "errors"

var (
	ErrCapabilityDisabled = errors.New("otp: application disabled by device configuration")
	ErrNotConfigured      = errors.New("otp: slot is not configured")
	ErrChallengeSlot      = errors.New("otp: challenge-response slot is not button-generable")
	ErrButtonTimeout      = errors.New("otp: button confirmation timed out")
)

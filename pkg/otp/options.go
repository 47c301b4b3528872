package otp

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// ButtonWaiter blocks until the user confirms presence with a button
// press. A non-nil error means timeout or cancellation.
type ButtonWaiter interface {
	Wait(ctx context.Context) error
}

// ButtonWaiterFunc adapts a function to the ButtonWaiter interface.
type ButtonWaiterFunc func(ctx context.Context) error

func (f ButtonWaiterFunc) Wait(ctx context.Context) error {
	return f(ctx)
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock replaces the time-since-boot source used for the rolling OTP
// timestamp field.
func WithClock(clock func() time.Duration) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithRand replaces the random source for the rolling OTP filler bytes.
func WithRand(r io.Reader) Option {
	return func(e *Engine) {
		e.rand = r
	}
}

func WithKeyboard(kb KeyboardWriter) Option {
	return func(e *Engine) {
		e.keyboard = kb
	}
}

// WithButtonWaiter installs the external button-confirmation hook used by
// challenge-response slots carrying the button-trigger flag. Without one,
// confirmation is granted immediately.
func WithButtonWaiter(w ButtonWaiter) Option {
	return func(e *Engine) {
		e.button = w
	}
}

func WithVersion(major, minor byte) Option {
	return func(e *Engine) {
		e.versionMajor = major
		e.versionMinor = minor
	}
}

package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const correlationAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewCorrelationID returns a short opaque id attached to every query request.
// It is returned to the caller on errors and logged alongside full context,
// so user-facing errors stay generic while remaining traceable internally.
func NewCorrelationID() string {
	id, err := gonanoid.Generate(correlationAlphabet, 16)
	if err != nil {
		// gonanoid only fails when the system entropy source does, in
		// which case the process has bigger problems.
		return "corr-unavailable"
	}
	return id
}

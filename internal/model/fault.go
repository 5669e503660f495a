package model

import (
	"errors"
	"fmt"
)

// FaultClass partitions adjudication faults by how they are handled.
type FaultClass string

const (
	// FaultInput is a configuration or data fact; retrying cannot help.
	FaultInput FaultClass = "input"
	// FaultContention is a lost race on an accumulator; retried locally.
	FaultContention FaultClass = "contention"
	// FaultIntegrity is a broken invariant; the line is rejected, never guessed.
	FaultIntegrity FaultClass = "integrity"
)

// Fault is an adjudication error carrying a machine-readable reason code.
type Fault struct {
	Code  ReasonCode
	Class FaultClass
	Msg   string
	Err   error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Msg, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Msg)
}

func (f *Fault) Unwrap() error { return f.Err }

// Is matches any Fault with the same code, so callers can compare against
// the package-level sentinels with errors.Is.
func (f *Fault) Is(target error) bool {
	var t *Fault
	if errors.As(target, &t) {
		return t.Code == f.Code
	}
	return false
}

// NewFault builds a Fault. Class is derived from the code.
func NewFault(code ReasonCode, format string, args ...any) *Fault {
	return &Fault{Code: code, Class: classOf(code), Msg: fmt.Sprintf(format, args...)}
}

// WrapFault builds a Fault around a lower-level error.
func WrapFault(err error, code ReasonCode, format string, args ...any) *Fault {
	f := NewFault(code, format, args...)
	f.Err = err
	return f
}

// AsFault extracts a Fault from err's chain.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Sentinels for errors.Is comparisons.
var (
	ErrMemberNotFound          = &Fault{Code: ReasonMemberNotFound}
	ErrNotEligible             = &Fault{Code: ReasonNotEligible}
	ErrAmbiguousCoverage       = &Fault{Code: ReasonAmbiguousCoverage}
	ErrRuleNotFound            = &Fault{Code: ReasonRuleNotFound}
	ErrAmbiguousRule           = &Fault{Code: ReasonAmbiguousRule}
	ErrCyclicBenefitMapping    = &Fault{Code: ReasonCyclicBenefitMapping}
	ErrConflict                = &Fault{Code: ReasonConflict}
	ErrConcurrentUpdateTimeout = &Fault{Code: ReasonConcurrentUpdateTimeout}
	ErrLedgerMismatch          = &Fault{Code: ReasonLedgerMismatch}
	ErrNegativeRemaining       = &Fault{Code: ReasonNegativeRemaining}
)

func classOf(code ReasonCode) FaultClass {
	switch code {
	case ReasonConflict, ReasonConcurrentUpdateTimeout, ReasonLockTimeout:
		return FaultContention
	case ReasonLedgerMismatch, ReasonNegativeRemaining, ReasonNegativeBalance, ReasonInternalError:
		return FaultIntegrity
	default:
		return FaultInput
	}
}

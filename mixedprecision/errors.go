// Package mixedprecision - A graph rewrite that moves eligible operators of
// a relay graph into a caller-chosen numeric precision.
//
// Operators are classified by Color: Green operators always execute at the
// target precision, Red operators never do, and Gray operators follow their
// inputs. A per-invocation cast cache guarantees at most one conversion
// node per (source, dtype) pair and collapses immediate round trips. The
// pass is a pure function of its inputs; its registry and policy tables are
// immutable configuration.
package mixedprecision

import (
	"errors"
	"fmt"
)

// PassError is a fatal condition encountered while rewriting a graph. The
// pass aborts rather than emit a partially rewritten or ill-typed module.
type PassError struct {
	// Code identifies the error category.
	Code PassErrorCode

	// Message is a human-readable description.
	Message string

	// Op names the operator being rewritten, when known.
	Op string
}

// PassErrorCode categorizes pass errors.
type PassErrorCode string

const (
	// ErrCodeUnresolvedType indicates an input node without a resolved
	// dtype; the caller skipped type inference.
	ErrCodeUnresolvedType PassErrorCode = "UNRESOLVED_TYPE"

	// ErrCodeUnsupportedConversion indicates a conversion was requested
	// for a dtype the pass does not understand (non-numeric selectors,
	// unresolved types).
	ErrCodeUnsupportedConversion PassErrorCode = "UNSUPPORTED_CONVERSION"

	// ErrCodeBranchTypeMismatch indicates a conditional's arms could not
	// be unified to a common dtype after rewriting.
	ErrCodeBranchTypeMismatch PassErrorCode = "BRANCH_TYPE_MISMATCH"

	// ErrCodeBadConfig indicates the caller-supplied options are
	// internally inconsistent.
	ErrCodeBadConfig PassErrorCode = "BAD_CONFIG"
)

// Error implements the error interface.
func (e *PassError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (op=%s)", e.Code, e.Message, e.Op)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsUnsupportedConversion reports whether err is an unsupported-conversion
// failure, unwrapping as needed.
func IsUnsupportedConversion(err error) bool {
	return hasCode(err, ErrCodeUnsupportedConversion)
}

// IsBranchTypeMismatch reports whether err is an arm-unification failure,
// unwrapping as needed.
func IsBranchTypeMismatch(err error) bool {
	return hasCode(err, ErrCodeBranchTypeMismatch)
}

// IsUnresolvedType reports whether err is a precondition failure on the
// input graph's types, unwrapping as needed.
func IsUnresolvedType(err error) bool {
	return hasCode(err, ErrCodeUnresolvedType)
}

func hasCode(err error, code PassErrorCode) bool {
	var pe *PassError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

func newUnsupportedConversion(op string, format string, args ...interface{}) *PassError {
	return &PassError{
		Code:    ErrCodeUnsupportedConversion,
		Message: fmt.Sprintf(format, args...),
		Op:      op,
	}
}

func newBranchTypeMismatch(format string, args ...interface{}) *PassError {
	return &PassError{
		Code:    ErrCodeBranchTypeMismatch,
		Message: fmt.Sprintf(format, args...),
	}
}

func newBadConfig(format string, args ...interface{}) *PassError {
	return &PassError{
		Code:    ErrCodeBadConfig,
		Message: fmt.Sprintf(format, args...),
	}
}

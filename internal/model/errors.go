package model

import (
	"context"
	"errors"
)

// Error taxonomy. Only ErrRepository aborts a review; every other kind is
// recorded against a step or file in the result.
var (
	ErrParseDegraded         = errors.New("parse degraded")
	ErrRuleEvaluation        = errors.New("rule evaluation failed")
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	ErrStepTimeout           = errors.New("step timed out")
	ErrIncompleteCoverage    = errors.New("incomplete coverage")
	ErrRepository            = errors.New("rule repository error")
	ErrCancelled             = errors.New("review cancelled")
)

// ErrorKind names a taxonomy entry for audit records.
type ErrorKind string

const (
	KindNone                  ErrorKind = ""
	KindParseDegraded         ErrorKind = "parse_degraded"
	KindRuleEvaluation        ErrorKind = "rule_evaluation_failure"
	KindCapabilityUnavailable ErrorKind = "capability_unavailable"
	KindStepTimeout           ErrorKind = "step_timeout"
	KindIncompleteCoverage    ErrorKind = "incomplete_coverage"
	KindRepository            ErrorKind = "repository_error"
	KindCancelled             ErrorKind = "cancelled"
)

// Kind classifies err into the taxonomy. Unclassified errors count as rule
// evaluation failures.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrStepTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindStepTimeout
	case errors.Is(err, ErrCapabilityUnavailable):
		return KindCapabilityUnavailable
	case errors.Is(err, ErrRepository):
		return KindRepository
	case errors.Is(err, ErrParseDegraded):
		return KindParseDegraded
	case errors.Is(err, ErrIncompleteCoverage):
		return KindIncompleteCoverage
	default:
		return KindRuleEvaluation
	}
}

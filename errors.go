package ruleswp

import (
	"errors"
	"strings"
)

// Error kinds reported by the Executor. Every error returned from
// Executor.Execute is an *Error whose Kind is one of these, so callers can
// use errors.Is to decide how to react.
var (
	// ErrRuleSetNotFound means there is no definition for the rule set name.
	ErrRuleSetNotFound = errors.New("rule set not found")

	// ErrFactConstruction means a caller-supplied input could not be turned
	// into a valid fact.
	ErrFactConstruction = errors.New("fact construction failed")

	// ErrRuleExecution means the inference engine failed: a condition or
	// action returned an error, or the cycle limit was reached.
	ErrRuleExecution = errors.New("rule execution failed")

	// ErrResultExtraction means a requested fact could not be read after
	// execution.
	ErrResultExtraction = errors.New("result extraction failed")
)

// Errors describing the underlying cause of a failure.
var (
	ErrInvalidRuleSet = errors.New("invalid rule set")
	ErrCycleLimit     = errors.New("cycle limit reached")
	ErrDuplicateFact  = errors.New("duplicate fact")
	ErrFactNotFound   = errors.New("fact not found")
	ErrInvalidFact    = errors.New("invalid fact")
)

// Error is returned by the Executor and the Engine. It identifies the kind of
// failure and keeps the underlying cause.
type Error struct {
	// One of ErrRuleSetNotFound, ErrFactConstruction, ErrRuleExecution or
	// ErrResultExtraction
	Kind error

	// The rule set being executed, if known
	RuleSet string

	// The rule being matched or fired when the failure happened, if any
	Rule string

	// The fact involved, if any
	Fact string

	// The underlying error
	Err error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.RuleSet != "" {
		sb.WriteString(": rule set '" + e.RuleSet + "'")
	}
	if e.Rule != "" {
		sb.WriteString(", rule '" + e.Rule + "'")
	}
	if e.Fact != "" {
		sb.WriteString(", fact '" + e.Fact + "'")
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap makes both the kind and the cause visible to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the kind of a failure returned by the Executor, or nil if err
// is not an *Error.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

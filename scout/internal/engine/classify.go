package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/hazyhaar/signalscout/scout/internal/site"
)

// FailureClass categorizes a target failure.
type FailureClass string

const (
	ClassTimeout     FailureClass = "timeout"      // content never rendered, navigation timed out
	ClassNotFound    FailureClass = "not_found"    // account or page missing
	ClassBlocked     FailureClass = "blocked"      // protected, suspended, captcha
	ClassRateLimited FailureClass = "rate_limited" // platform throttling
	ClassAuth        FailureClass = "auth"         // login wall mid-run
	ClassUnknown     FailureClass = "unknown"
)

// Sentinel errors.
var (
	// ErrAuthRequired is returned when the login probe fires during a target.
	ErrAuthRequired = errors.New("engine: authentication required")
	// ErrContentTimeout is returned when content never rendered within the bound.
	ErrContentTimeout = errors.New("engine: content not loaded")
	// ErrFatal wraps faults that must abort the whole run.
	ErrFatal = errors.New("engine: fatal")
)

// TargetError is a classified, target-scoped failure. The run continues
// with the next target.
type TargetError struct {
	Target site.Target
	Class  FailureClass
	Err    error
}

func (e *TargetError) Error() string {
	return "engine: target " + e.Target.String() + ": " + string(e.Class) + ": " + e.Err.Error()
}

func (e *TargetError) Unwrap() error { return e.Err }

// Fatal marks err as run-aborting.
func Fatal(err error) error {
	if err == nil || errors.Is(err, ErrFatal) {
		return err
	}
	return &fatalError{err: err}
}

type fatalError struct{ err error }

func (e *fatalError) Error() string   { return "engine: fatal: " + e.err.Error() }
func (e *fatalError) Unwrap() []error { return []error{ErrFatal, e.err} }

// IsFatal reports whether err aborts the run.
func IsFatal(err error) bool { return errors.Is(err, ErrFatal) }

// ClassOf returns the failure class carried by err, classifying bare errors
// from their message.
func ClassOf(err error) FailureClass {
	if err == nil {
		return ""
	}
	var te *TargetError
	if errors.As(err, &te) {
		return te.Class
	}
	return Classify(err)
}

// Classify maps a navigation or snapshot error to a failure class.
func Classify(err error) FailureClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthRequired):
		return ClassAuth
	case errors.Is(err, ErrContentTimeout), errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"), strings.Contains(msg, "rate limit"):
		return ClassRateLimited
	case strings.Contains(msg, "404"), strings.Contains(msg, "not found"):
		return ClassNotFound
	case strings.Contains(msg, "403"), strings.Contains(msg, "forbidden"), strings.Contains(msg, "captcha"):
		return ClassBlocked
	case isNetworkError(msg):
		return ClassTimeout
	}
	return ClassUnknown
}

func classFromCondition(c site.Condition) FailureClass {
	switch c {
	case site.ConditionNotFound:
		return ClassNotFound
	case site.ConditionBlocked:
		return ClassBlocked
	case site.ConditionRateLimited:
		return ClassRateLimited
	}
	return ClassTimeout
}

func isNetworkError(msg string) bool {
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "err_name_not_resolved") ||
		strings.Contains(msg, "err_internet_disconnected") ||
		strings.Contains(msg, "err_connection")
}

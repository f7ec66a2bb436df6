package runtime

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateModule is returned when registering a second module with
	// the same ID.
	ErrDuplicateModule = errors.New("module already registered")

	// ErrInvalidModule is returned for nil modules or empty IDs.
	ErrInvalidModule = errors.New("invalid module")
)

// ErrorKind tells the runtime how to react to a module error.
type ErrorKind int

const (
	// KindFailure rolls the transaction back and logs the error.
	KindFailure ErrorKind = iota
	// KindDeliberateRollback rolls the transaction back without logging.
	KindDeliberateRollback
	// KindNeedsReinitialization logs the error, marks the module and lets
	// the transaction proceed.
	KindNeedsReinitialization
)

func (k ErrorKind) String() string {
	switch k {
	case KindDeliberateRollback:
		return "deliberate_rollback"
	case KindNeedsReinitialization:
		return "needs_reinitialization"
	default:
		return "failure"
	}
}

// ModuleError is an error raised by a module, tagged with its kind. Errors
// that are not ModuleErrors count as KindFailure.
type ModuleError struct {
	Kind   ErrorKind
	Module string
	Err    error
}

func (e *ModuleError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("module %s: %s: %v", e.Module, e.Kind, e.Err)
}

func (e *ModuleError) Unwrap() error { return e.Err }

// Rollback asks the runtime to roll the transaction back quietly.
func Rollback(reason string) error {
	return &ModuleError{Kind: KindDeliberateRollback, Err: errors.New(reason)}
}

// NeedsReinitialization reports that the module's own state is stale.
func NeedsReinitialization(err error) error {
	return &ModuleError{Kind: KindNeedsReinitialization, Err: err}
}

// KindOf classifies err.
func KindOf(err error) ErrorKind {
	var me *ModuleError
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindFailure
}

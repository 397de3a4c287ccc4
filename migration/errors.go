package migration

import (
	"errors"
	"fmt"
)

// Kind classifies migration errors independently of the failing layer.
type Kind string

// Error kinds. The fatal set terminates a job without an analyzer round.
const (
	KindPlanInputMissing    Kind = "plan_input_missing"
	KindPlanParseFailed     Kind = "plan_parse_failed"
	KindRegistryUnavailable Kind = "registry_unavailable"
	KindSandboxUnavailable  Kind = "sandbox_unavailable"
	KindSandboxTimeout      Kind = "sandbox_timeout"
	KindInstallFailure      Kind = "install_failure"
	KindRuntimeFailure      Kind = "runtime_failure"
	KindHealthFailure       Kind = "health_failure"
	KindTestFailure         Kind = "test_failure"
	KindToolUnavailable     Kind = "tool_unavailable"
	KindToolTimeout         Kind = "tool_timeout"
	KindModelUnavailable    Kind = "model_unavailable"
	KindModelParseFailed    Kind = "model_parse_failed"
	KindCodeHostDenied      Kind = "code_host_denied"
	KindCancelled           Kind = "cancelled"
	KindBudgetExhausted     Kind = "budget_exhausted"
)

// Error is a typed migration error carrying its kind.
type Error struct {
	Kind Kind
	err  error
}

// NewError wraps err with a migration error kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, err: err}
}

// Errorf builds a typed migration error from a format string.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.err.Error())
}

func (e *Error) Unwrap() error {
	return e.err
}

// KindOf extracts the migration error kind, or "" when err carries none.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}

// fatalKinds terminate a job immediately; the router never sends them
// to the analyzer.
var fatalKinds = map[Kind]bool{
	KindSandboxUnavailable: true,
	KindPlanInputMissing:   true,
	KindCancelled:          true,
	KindBudgetExhausted:    true,
}

// IsFatalKind reports whether the kind terminates a job without
// recovery.
func IsFatalKind(k Kind) bool {
	return fatalKinds[k]
}

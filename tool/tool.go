package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/polytool/polytool/core"
	"github.com/polytool/polytool/internal/util"
)

// Tool is the interface all executable tools implement. Parameters returns
// a JSON schema object describing the expected arguments. MaxLatency is the
// wall-clock budget the gateway enforces per invocation.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	MaxLatency() time.Duration
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// UnknownToolError indicates a call referenced a name absent from the
// registry.
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Tool)
}

// ErrorKind implements core.Kinder.
func (e *UnknownToolError) ErrorKind() core.Kind { return core.KindCapability }

// SchemaViolationError indicates the arguments failed schema validation.
// It carries every violation found, not just the first.
type SchemaViolationError struct {
	Tool       string
	Violations []util.Violation
}

func (e *SchemaViolationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("tool %q arguments invalid: %s", e.Tool, strings.Join(msgs, "; "))
}

// ErrorKind implements core.Kinder.
func (e *SchemaViolationError) ErrorKind() core.Kind { return core.KindCapability }

// TimeoutError indicates an invocation exceeded its latency budget. The
// underlying execution may still be running; its outcome is unknown.
type TimeoutError struct {
	Tool   string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %q exceeded latency budget %s", e.Tool, e.Budget)
}

// ErrorKind implements core.Kinder.
func (e *TimeoutError) ErrorKind() core.Kind { return core.KindTimeout }

// ExecutionError wraps a failure returned (or panicked) by the tool itself.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %q execution failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ErrorKind implements core.Kinder.
func (e *ExecutionError) ErrorKind() core.Kind { return core.KindTransient }

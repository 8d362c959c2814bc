package core

import (
	"errors"
	"fmt"
)

// Sentinel causes used to classify tool invocation failures.
var (
	// ErrTimeout marks a tool invocation that exceeded its bounded wait.
	ErrTimeout = errors.New("invocation timed out")
)

// ToolsetNotFoundError indicates a toolset name absent from its provider.
type ToolsetNotFoundError struct {
	Toolset string
}

func (e *ToolsetNotFoundError) Error() string {
	return fmt.Sprintf("toolset %q not found", e.Toolset)
}

// ConnectionError indicates a network or handshake failure against a tool
// provider. It is fatal to the step that encounters it.
type ConnectionError struct {
	Endpoint string
	Cause    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Endpoint, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error { return e.Cause }

// AuthError indicates credential rejection by a tool provider. Fatal to the step.
type AuthError struct {
	Endpoint string
	Cause    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication against %s rejected: %v", e.Endpoint, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *AuthError) Unwrap() error { return e.Cause }

// ToolInvocationError indicates a single tool call failed (remote error,
// timeout or malformed response). It is recoverable: the step surfaces it to
// the model as an error-carrying tool response instead of aborting.
type ToolInvocationError struct {
	Tool  string
	Cause error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %s invocation failed: %v", e.Tool, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ToolInvocationError) Unwrap() error { return e.Cause }

// ToolLoopExceededError indicates a step hit its bound on tool-call rounds
// without the model producing a final answer.
type ToolLoopExceededError struct {
	Step      string
	MaxRounds int
}

func (e *ToolLoopExceededError) Error() string {
	return fmt.Sprintf("step %s exceeded %d tool-call rounds", e.Step, e.MaxRounds)
}

// StepExecutionError indicates a pipeline step failed fatally.
type StepExecutionError struct {
	Step  string
	Cause error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StepExecutionError) Unwrap() error { return e.Cause }

// InvalidPipelineError indicates a pipeline specification that cannot be built
// (empty step sequence, duplicate step names, unresolved tools).
type InvalidPipelineError struct {
	Reason string
}

func (e *InvalidPipelineError) Error() string {
	return fmt.Sprintf("invalid pipeline: %s", e.Reason)
}

// PipelineExecutionError reports a failed pipeline run. Partial holds the
// context accumulated up to and including the failing step so callers can
// inspect partial progress.
type PipelineExecutionError struct {
	FailedStep string
	Partial    *ExecutionContext
	Cause      error
}

func (e *PipelineExecutionError) Error() string {
	return fmt.Sprintf("pipeline aborted at step %s: %v", e.FailedStep, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *PipelineExecutionError) Unwrap() error { return e.Cause }

// MissingConfigurationError indicates a required setting was absent at build time.
type MissingConfigurationError struct {
	Name string
}

func (e *MissingConfigurationError) Error() string {
	return fmt.Sprintf("missing required configuration %s", e.Name)
}

package agent

import "github.com/agentpipe/agentpipe/core"

// InstructionProvider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from the accumulated execution
// context, environment, etc.
type InstructionProvider interface {
	Instruction(*core.ExecutionContext) (string, error)
}

// InstructionFunc is a functional adapter to allow ordinary functions to be
// used as providers.
type InstructionFunc func(*core.ExecutionContext) (string, error)

// Instruction implements InstructionProvider.
func (f InstructionFunc) Instruction(ec *core.ExecutionContext) (string, error) { return f(ec) }

// Instruction represents either a static instruction string or a dynamic
// provider. This mirrors a union of string | provider in a Go-idiomatic way.
type Instruction struct {
	text     string
	provider InstructionProvider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p InstructionProvider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(*core.ExecutionContext) (string, error)) Instruction {
	return Instruction{provider: InstructionFunc(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(ec *core.ExecutionContext) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ec)
	}
	return i.text, nil
}

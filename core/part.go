package core

// Part represents a polymorphic segment of role-based turn content. Concrete
// part types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string // Plain UTF-8 text
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// FunctionCall describes a tool invocation request surfaced by a model.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`        // Correlation id matching the eventual response
	Name      string `json:"name"`                // Tool name
	Arguments string `json:"arguments,omitempty"` // Serialized JSON argument payload
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall
}

// isPart implements the Part interface for FunctionCallPart.
func (FunctionCallPart) isPart() {}

// FunctionResponse records the outcome of a tool invocation. Exactly one of
// Response or Error is meaningful; both empty means the tool returned nothing.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"` // Matches originating FunctionCall ID
	Name     string `json:"name"`         // Tool name
	Response any    `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse
}

// isPart implements the Part interface for FunctionResponsePart.
func (FunctionResponsePart) isPart() {}

// Package core defines the shared data model of agentpipe: conversation turns
// and their polymorphic content parts, the append-only ExecutionContext threaded
// through a pipeline run, and the error taxonomy used across packages.
//
// Design principles:
//   - ExecutionContext is owned by exactly one pipeline run; it grows by
//     appending turns and is never rewritten or reordered.
//   - Parts form a closed set (text, function call, function response) so tool
//     dispatch is checked rather than duck-typed.
//   - Errors carry enough structure (step name, tool name, partial context) for
//     callers to classify failures without string matching.
package core

// Package model defines the minimal interface pipeline steps use to drive
// language-model inference, the normalized request/response structures shared
// by all provider backends, and a deterministic mock for tests. Concrete
// backends live in subpackages (openai, anthropic, gemini).
package model

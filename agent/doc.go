// Package agent contains the execution layer: StepAgent drives a single
// model-plus-tools conversation step, Pipeline runs steps strictly in
// declared order over one evolving execution context, and LoopPipeline
// repeats a pipeline body under an iteration bound.
//
// Steps never run concurrently within a pipeline; ordering is the contract.
// Context flows forward only — each step sees every turn produced before it
// and appends its own.
package agent

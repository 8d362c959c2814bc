// Package agentpipe provides a high-level façade for assembling tool-using
// LLM pipelines. Most applications interact with this package by:
//  1. Loading a Config (config.FromEnv or hand-built)
//  2. Creating a Builder via New() with a model
//  3. Declaring steps with AddStep (instruction + toolset names per backend)
//  4. Calling Build() to resolve toolsets, wire the pipeline and the A2A
//     serving adapter
//  5. Deferring Runtime.Close() so every backend connection is released
//
// The façade owns construction order: providers are built first and
// registered with a lifecycle.Manager, toolsets are resolved fail-fast so a
// missing toolset aborts startup rather than a mid-pipeline run, and the
// serving adapter is wired last around the validated pipeline.
package agentpipe

import (
	"context"
	"fmt"

	"github.com/agentpipe/agentpipe/a2a"
	"github.com/agentpipe/agentpipe/agent"
	"github.com/agentpipe/agentpipe/config"
	"github.com/agentpipe/agentpipe/core"
	"github.com/agentpipe/agentpipe/lifecycle"
	"github.com/agentpipe/agentpipe/logging"
	"github.com/agentpipe/agentpipe/model"
	"github.com/agentpipe/agentpipe/tool"
	"github.com/agentpipe/agentpipe/tool/mcp"
	"github.com/agentpipe/agentpipe/tool/toolbox"
)

// StepSpec declares one pipeline step before toolset resolution.
type StepSpec struct {
	// Name is the step's unique name within the pipeline.
	Name string
	// Instruction is the step's system prompt.
	Instruction string
	// CatalogToolsets are resolved from the Toolbox catalog provider.
	CatalogToolsets []string
	// FunctionToolsets are resolved from the MCP provider.
	FunctionToolsets []string
	// ExtraToolsets are attached as-is (local FunctionTools, tests).
	ExtraToolsets []*tool.Toolset
	// MaxToolRounds overrides the step's tool-call bound when > 0.
	MaxToolRounds int
}

// Options configure the Builder.
type Options struct {
	// Logger is passed through to every component. Defaults to NoOpLogger.
	Logger logging.Logger
	// Hooks run before each step (cooldowns, gating).
	Hooks []agent.BeforeStepHook
	// PipelineName names the pipeline and the served agent. Defaults to "pipeline".
	PipelineName string
	// Description appears on the served agent card.
	Description string
}

// Builder assembles a Runtime from a Config, a model and step declarations.
type Builder struct {
	cfg    config.Config
	model  model.Model
	steps  []StepSpec
	opts   Options
	logger logging.Logger
}

// New creates a Builder. The model is shared by every step.
func New(cfg config.Config, m model.Model, optFns ...func(o *Options)) *Builder {
	opts := Options{
		Logger:       logging.NoOpLogger{},
		PipelineName: "pipeline",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Builder{cfg: cfg, model: m, opts: opts, logger: opts.Logger}
}

// AddStep appends a step declaration. Steps execute in the order added.
func (b *Builder) AddStep(spec StepSpec) *Builder {
	b.steps = append(b.steps, spec)
	return b
}

// Runtime is the assembled system: the pipeline, its serving adapter and the
// lifecycle manager owning every backend connection.
type Runtime struct {
	Pipeline *agent.Pipeline
	Server   *a2a.Server
	Config   config.Config

	lifecycle *lifecycle.Manager
}

// Close releases every backend connection exactly once.
func (r *Runtime) Close() error {
	return r.lifecycle.ReleaseAll()
}

// Build wires the runtime: providers, toolset resolution (fail-fast), step
// agents, pipeline validation and the A2A adapter. On any failure the
// already-constructed providers are released before returning.
func (b *Builder) Build(ctx context.Context) (*Runtime, error) {
	if b.model == nil {
		return nil, &core.InvalidPipelineError{Reason: "builder requires a model"}
	}

	manager := lifecycle.NewManager(func(o *lifecycle.Options) {
		o.Logger = b.logger
	})

	catalog := toolbox.NewProvider(b.cfg.DBToolsURL, func(o *toolbox.Options) {
		o.AuthToken = b.cfg.DBToolsAuthToken
		o.Logger = b.logger
	})
	manager.Register(catalog)

	functions := mcp.NewProvider(mcp.ConnectionConfig{
		Transport: "sse",
		ServerURL: b.cfg.FunctionToolsURL,
		Headers:   authHeaders(b.cfg.FunctionToolsAuthToken),
		Timeout:   b.cfg.ToolTimeout,
	}, func(o *mcp.Options) {
		o.Logger = b.logger
	})
	manager.Register(functions)

	return b.assemble(ctx, manager, catalog, functions)
}

// assemble drives construction against already-registered providers and
// releases them on any failure, so a half-built runtime never leaks
// connections.
func (b *Builder) assemble(
	ctx context.Context,
	manager *lifecycle.Manager,
	catalog tool.Provider,
	functions tool.Provider,
) (*Runtime, error) {
	runtime, err := b.build(ctx, manager, catalog, functions)
	if err != nil {
		if releaseErr := manager.ReleaseAll(); releaseErr != nil {
			b.logger.Warn("agentpipe.build_cleanup_failed", "error", releaseErr)
		}
		return nil, err
	}
	return runtime, nil
}

func (b *Builder) build(
	ctx context.Context,
	manager *lifecycle.Manager,
	catalog tool.Provider,
	functions tool.Provider,
) (*Runtime, error) {
	steps := make([]*agent.StepAgent, 0, len(b.steps))
	for _, spec := range b.steps {
		toolsets, err := b.resolveToolsets(ctx, spec, catalog, functions)
		if err != nil {
			return nil, err
		}

		step, err := agent.NewStepAgent(spec.Name, b.model, func(o *agent.StepOptions) {
			o.Instruction = agent.NewInstructionFromText(spec.Instruction)
			o.Toolsets = toolsets
			o.Logger = b.logger
			if spec.MaxToolRounds > 0 {
				o.MaxToolRounds = spec.MaxToolRounds
			}
		})
		if err != nil {
			return nil, &core.InvalidPipelineError{Reason: err.Error()}
		}
		steps = append(steps, step)
	}

	pipeline, err := agent.NewPipeline(b.opts.PipelineName, steps, func(o *agent.PipelineOptions) {
		o.Hooks = b.opts.Hooks
		o.Logger = b.logger
	})
	if err != nil {
		return nil, err
	}

	srv, err := a2a.New(pipeline, b.cfg.PublicURL, func(o *a2a.Options) {
		o.Description = b.opts.Description
		o.Skills = a2a.SkillsFromPipeline(pipeline)
		o.Logger = b.logger
	})
	if err != nil {
		return nil, fmt.Errorf("wire serving adapter: %w", err)
	}

	return &Runtime{
		Pipeline:  pipeline,
		Server:    srv,
		Config:    b.cfg,
		lifecycle: manager,
	}, nil
}

// resolveToolsets fetches every toolset a step declares. Resolution failures
// abort the build so misconfiguration is caught at startup.
func (b *Builder) resolveToolsets(
	ctx context.Context,
	spec StepSpec,
	catalog tool.Provider,
	functions tool.Provider,
) ([]*tool.Toolset, error) {
	var toolsets []*tool.Toolset
	for _, name := range spec.CatalogToolsets {
		ts, err := catalog.Resolve(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("step %s: resolve catalog toolset %q: %w", spec.Name, name, err)
		}
		toolsets = append(toolsets, ts)
	}
	for _, name := range spec.FunctionToolsets {
		ts, err := functions.Resolve(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("step %s: resolve function toolset %q: %w", spec.Name, name, err)
		}
		toolsets = append(toolsets, ts)
	}
	return append(toolsets, spec.ExtraToolsets...), nil
}

func authHeaders(token string) map[string]string {
	if token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

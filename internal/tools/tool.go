// Package tools implements the Tool Registry & Executor (C3): tool
// registration, system-prompt and provider-schema generation, parsing of the
// three tool-invocation text formats an LLM may emit, fuzzy name resolution,
// and concurrent, panic-safe execution.
package tools

import (
	"context"

	"github.com/tenexhq/orchestrator/pkg/models"
)

// Tool is a named, typed operation callable by an LLM via a structured
// block.
type Tool interface {
	Name() string
	Description() string
	Params() []models.Param
	Execute(ctx context.Context, args []byte) (*models.ToolResponse, error)
}

// FuncTool adapts a plain function into a Tool, the way ad hoc tools are
// usually registered (shell, read_specs, update_spec, etc. — their
// transports live elsewhere, but this is their registration shape).
type FuncTool struct {
	name        string
	description string
	params      []models.Param
	fn          func(ctx context.Context, args []byte) (*models.ToolResponse, error)
}

// NewFuncTool builds a Tool from a name, description, parameter schema, and
// execute function.
func NewFuncTool(name, description string, params []models.Param, fn func(ctx context.Context, args []byte) (*models.ToolResponse, error)) *FuncTool {
	return &FuncTool{name: name, description: description, params: params, fn: fn}
}

func (t *FuncTool) Name() string             { return t.name }
func (t *FuncTool) Description() string      { return t.description }
func (t *FuncTool) Params() []models.Param   { return t.params }

func (t *FuncTool) Execute(ctx context.Context, args []byte) (*models.ToolResponse, error) {
	return t.fn(ctx, args)
}

// Package strategy implements the Strategy Engine: the four coordination
// patterns a Team can execute under — single responder, hierarchical,
// parallel, and phased delivery.
package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/tenexhq/orchestrator/pkg/models"
)

// Invoker runs one agent's turn against input (typically the task
// description, or a delegation/review prompt derived from it) and returns
// its response. Strategies are invocation-mechanism agnostic: the
// coordinator supplies an Invoker backed by per-agent agentruntime.Runtime
// instances.
type Invoker interface {
	Invoke(ctx context.Context, agentName, input string) (models.AgentResponse, error)
}

// Strategy executes a formed Team's task under one coordination pattern.
type Strategy interface {
	Execute(ctx context.Context, team *models.Team, requestText string) (*models.StrategyExecutionResult, error)
}

// For builds the Strategy implementation team.Strategy selects.
func For(strategy models.Strategy, invoker Invoker) (Strategy, error) {
	switch strategy {
	case models.StrategySingle:
		return &SingleResponder{invoker: invoker}, nil
	case models.StrategyHierarchical:
		return &Hierarchical{invoker: invoker}, nil
	case models.StrategyParallel:
		return &Parallel{invoker: invoker}, nil
	case models.StrategyPhased:
		return &Phased{invoker: invoker}, nil
	default:
		return nil, fmt.Errorf("strategy: unknown strategy %q", strategy)
	}
}

// invokeMember runs invoker for agentName and appends a response or error to
// result under mu, the shared bookkeeping pattern Hierarchical and Phased use
// for their concurrent member calls.
// The response's Metadata is tagged with phase, per the common contract that
// every recorded response carries a phase label.
func invokeMember(ctx context.Context, invoker Invoker, agentName, input, phase string, mu *sync.Mutex, result *models.StrategyExecutionResult) {
	resp, err := invoker.Invoke(ctx, agentName, input)
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		result.AddError(fmt.Errorf("%s: %w", agentName, err))
		return
	}
	resp.Metadata = mergeMetadata(resp.Metadata, "phase", phase)
	result.Responses = append(result.Responses, resp)
}

// mergeMetadata sets key=value on meta, allocating meta if it is nil.
func mergeMetadata(meta map[string]any, key string, value any) map[string]any {
	if meta == nil {
		meta = make(map[string]any, 1)
	}
	meta[key] = value
	return meta
}

package strategy

import (
	"context"
	"fmt"

	"github.com/tenexhq/orchestrator/pkg/models"
)

// SingleResponder invokes only team.Lead with the original request text.
type SingleResponder struct {
	invoker Invoker
}

// Execute implements Strategy.
func (s *SingleResponder) Execute(ctx context.Context, team *models.Team, requestText string) (*models.StrategyExecutionResult, error) {
	result := models.NewStrategyExecutionResult()

	resp, err := s.invoker.Invoke(ctx, team.Lead, requestText)
	if err != nil {
		result.Success = false
		result.AddError(fmt.Errorf("%s: %w", team.Lead, err))
		return result, nil
	}
	resp.Metadata = mergeMetadata(resp.Metadata, "phase", "single")
	result.Responses = append(result.Responses, resp)
	return result, nil
}

package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/tenexhq/orchestrator/pkg/models"
)

// Hierarchical runs the lead's analysis, delegates to every non-lead member
// in its own sub-conversation, then has the lead review the combined
// output. It succeeds if the analyse and review phases both complete,
// regardless of individual member failures in between — a member's failure
// degrades the review's input, it does not abort the strategy.
type Hierarchical struct {
	invoker Invoker
}

// Execute implements Strategy.
func (s *Hierarchical) Execute(ctx context.Context, team *models.Team, requestText string) (*models.StrategyExecutionResult, error) {
	result := models.NewStrategyExecutionResult()

	analysis, err := s.invoker.Invoke(ctx, team.Lead, "Analyse this request and outline the plan for your team:\n\n"+requestText)
	if err != nil {
		result.Success = false
		result.AddError(fmt.Errorf("analyse phase: %s: %w", team.Lead, err))
		return result, nil
	}
	analysis.Metadata = mergeMetadata(analysis.Metadata, "phase", "analysis")
	result.Responses = append(result.Responses, analysis)

	members := team.NonLeadMembers()
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, member := range members {
		member := member
		subConvID := team.ConversationID + "-" + member
		prompt := fmt.Sprintf("You were delegated this task as part of conversation %s:\n\n%s\n\nLead's plan:\n%s", subConvID, requestText, analysis.Response)
		wg.Add(1)
		go func() {
			defer wg.Done()
			invokeMember(ctx, s.invoker, member, prompt, "execution", &mu, result)
		}()
	}
	wg.Wait()

	review, err := s.invoker.Invoke(ctx, team.Lead, "Review the team's output and produce the final response:\n\n"+summarizeResponses(result.Responses))
	if err != nil {
		result.Success = false
		result.AddError(fmt.Errorf("review phase: %s: %w", team.Lead, err))
		return result, nil
	}
	review.Metadata = mergeMetadata(review.Metadata, "phase", "review")
	result.Responses = append(result.Responses, review)

	result.Success = true
	return result, nil
}

func summarizeResponses(responses []models.AgentResponse) string {
	out := ""
	for _, r := range responses {
		out += fmt.Sprintf("[%s]: %s\n\n", r.AgentName, r.Response)
	}
	return out
}

package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/tenexhq/orchestrator/internal/jsonrepair"
	"github.com/tenexhq/orchestrator/pkg/models"
)

// phasePlan is one phase of the lead's delivery plan: a name and brief, the
// team members who should work it, and the deliverables it is expected to
// produce. Agents is substituted with every non-lead member (or the lead
// alone, for a lead-only team) when a phase names none.
type phasePlan struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Agents       []string `json:"agents"`
	Deliverables []string `json:"deliverables"`
}

type phasePlanResponse struct {
	Phases []phasePlan `json:"phases"`
}

// defaultPhases is substituted when the lead's plan omits phases entirely.
var defaultPhases = []phasePlan{
	{Name: "Analysis & Design"},
	{Name: "Core Implementation"},
	{Name: "Integration & Enhancement"},
	{Name: "Testing & Finalisation"},
}

// Phased has the lead draft an ordered phase plan, then works the plan one
// phase at a time: every phase's named agents run concurrently against that
// phase's brief, after which the lead reviews the phase's combined output
// before the next phase begins. A final step has the lead produce the
// overall answer from the last review. Like Hierarchical, a phase-agent's
// failure degrades that phase's review input without aborting the run;
// only a failure in planning, a phase review, or the final integration
// fails the strategy outright.
type Phased struct {
	invoker Invoker
}

// Execute implements Strategy.
func (s *Phased) Execute(ctx context.Context, team *models.Team, requestText string) (*models.StrategyExecutionResult, error) {
	result := models.NewStrategyExecutionResult()

	planPrompt := fmt.Sprintf(
		"Plan the phases needed to deliver this request. Respond with JSON of the shape "+
			`{"phases":[{"name":string,"description":string,"agents":[string],"deliverables":[string]}]}`+
			".\n\nRequest:\n%s", requestText)
	planResp, err := s.invoker.Invoke(ctx, team.Lead, planPrompt)
	if err != nil {
		result.Success = false
		result.AddError(fmt.Errorf("plan phase: %s: %w", team.Lead, err))
		return result, nil
	}
	planResp.Metadata = mergeMetadata(planResp.Metadata, "phase", "planning")
	result.Responses = append(result.Responses, planResp)

	phases := parsePhasePlan(planResp.Response)
	if len(phases) == 0 {
		phases = defaultPhases
	}
	result.Metadata["phaseCount"] = len(phases)

	nonLead := team.NonLeadMembers()
	priorOutput := requestText

	for i, phase := range phases {
		agents := phase.Agents
		if len(agents) == 0 {
			agents = nonLead
		}
		if len(agents) == 0 {
			agents = []string{team.Lead}
		}

		label := fmt.Sprintf("phase_%d", i+1)
		brief := requestText
		if phase.Description != "" {
			brief = phase.Description
		}
		prompt := fmt.Sprintf("Phase %q:\n\n%s\n\nPrior phase output:\n%s", phase.Name, brief, priorOutput)

		phaseResult := models.NewStrategyExecutionResult()
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, agent := range agents {
			agent := agent
			wg.Add(1)
			go func() {
				defer wg.Done()
				invokeMember(ctx, s.invoker, agent, prompt, label, &mu, phaseResult)
			}()
		}
		wg.Wait()

		result.Responses = append(result.Responses, phaseResult.Responses...)
		result.Errors = append(result.Errors, phaseResult.Errors...)

		reviewPrompt := fmt.Sprintf("Review phase %q's output and summarise it for the next phase:\n\n%s", phase.Name, summarizeResponses(phaseResult.Responses))
		review, err := s.invoker.Invoke(ctx, team.Lead, reviewPrompt)
		if err != nil {
			result.Success = false
			result.AddError(fmt.Errorf("phase %q review: %s: %w", phase.Name, team.Lead, err))
			return result, nil
		}
		review.Metadata = mergeMetadata(review.Metadata, "phase", label+"_review")
		result.Responses = append(result.Responses, review)
		priorOutput = review.Response
	}

	final, err := s.invoker.Invoke(ctx, team.Lead, "Produce the final integrated answer for this request, drawing on every phase's work:\n\n"+priorOutput)
	if err != nil {
		result.Success = false
		result.AddError(fmt.Errorf("final integration: %s: %w", team.Lead, err))
		return result, nil
	}
	final.Metadata = mergeMetadata(final.Metadata, "phase", "final_integration")
	result.Responses = append(result.Responses, final)

	result.Success = true
	return result, nil
}

// parsePhasePlan repair-parses the lead's planning response into an ordered
// phase list, returning nil (substitute defaultPhases) on any parse failure
// or an empty phase list.
func parsePhasePlan(raw string) []phasePlan {
	var parsed phasePlanResponse
	if _, err := jsonrepair.Parse(raw, &parsed); err != nil {
		return nil
	}
	return parsed.Phases
}

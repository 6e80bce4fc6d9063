// Package analyser implements the Request Analyser & Team Former: a single
// planning LLM call that classifies an inbound request and assembles the
// Team that will handle it.
package analyser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tenexhq/orchestrator/internal/jsonrepair"
	"github.com/tenexhq/orchestrator/internal/llm"
	"github.com/tenexhq/orchestrator/pkg/models"
)

// defaultMaxTeamSize bounds team formation when the caller does not
// configure one explicitly.
const defaultMaxTeamSize = 5

// combinedAnalysisResponse is the planning LLM's raw output shape: the
// request classification plus a proposed team, repair-parsed the same way
// tool-call JSON is, since planning output is just as prone to minor
// formatting drift.
type combinedAnalysisResponse struct {
	RequestType          string            `json:"request_type"`
	RequiredCapabilities []string          `json:"required_capabilities"`
	EstimatedComplexity  int               `json:"estimated_complexity"`
	SuggestedStrategy    string            `json:"suggested_strategy"`
	Reasoning            string            `json:"reasoning"`
	Lead                 string            `json:"lead"`
	Members              []string          `json:"members"`
	Task                 taskDefinitionDTO `json:"task"`
}

type taskDefinitionDTO struct {
	Description        string   `json:"description"`
	SuccessCriteria    []string `json:"success_criteria"`
	RequiresGreenLight bool     `json:"requires_green_light"`
	Reviewers          []string `json:"reviewers"`
}

// Analyser forms a Team from an inbound request by issuing one planning
// call to a Provider and validating/repairing its output.
type Analyser struct {
	provider    llm.Provider
	genCfg      llm.Config
	maxTeamSize int
	logger      *slog.Logger
	idFn        func() string
}

// New builds an Analyser. maxTeamSize <= 0 uses defaultMaxTeamSize. idFn
// generates Team/TaskDefinition ids and has no default: the caller must
// supply one (typically uuid.NewString).
func New(provider llm.Provider, genCfg llm.Config, maxTeamSize int, logger *slog.Logger, idFn func() string) *Analyser {
	if maxTeamSize <= 0 {
		maxTeamSize = defaultMaxTeamSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyser{provider: provider, genCfg: genCfg, maxTeamSize: maxTeamSize, logger: logger.With("component", "analyser"), idFn: idFn}
}

// Analyse runs the planning call for requestText against the candidate
// agents and conversationID, returning the formed Team. On any planning
// failure (provider error or unrecoverable malformed output) it falls back
// to a deterministic single-agent team so the conversation is never left
// unhandled.
func (a *Analyser) Analyse(ctx context.Context, conversationID, requestText string, candidates []models.AgentDefinition) (*models.Team, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("analyser: no candidate agents available")
	}

	resp, err := a.plan(ctx, requestText, candidates)
	if err != nil {
		a.logger.Warn("planning call failed, falling back to deterministic single-agent team", "error", err)
		return a.fallbackTeam(conversationID, candidates), nil
	}

	team := a.buildTeam(conversationID, resp, candidates)
	return team, nil
}

func (a *Analyser) plan(ctx context.Context, requestText string, candidates []models.AgentDefinition) (*combinedAnalysisResponse, error) {
	prompt := buildPlanningPrompt(requestText, candidates)
	genResp, err := a.provider.Generate(ctx, []llm.Message{{Role: models.RoleUser, Content: prompt}}, a.genCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("planning call: %w", err)
	}

	var parsed combinedAnalysisResponse
	if _, err := jsonrepair.Parse(genResp.Content, &parsed); err != nil {
		return nil, fmt.Errorf("parse planning response: %w", err)
	}
	return &parsed, nil
}

func (a *Analyser) buildTeam(conversationID string, resp *combinedAnalysisResponse, candidates []models.AgentDefinition) *models.Team {
	valid := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		valid[c.Name] = true
	}

	members := make([]string, 0, len(resp.Members))
	seen := make(map[string]bool, len(resp.Members))
	for _, m := range resp.Members {
		if valid[m] && !seen[m] {
			members = append(members, m)
			seen[m] = true
		}
		if len(members) >= a.maxTeamSize {
			break
		}
	}

	lead := resp.Lead
	if !valid[lead] || lead == "" {
		lead = candidates[0].Name
	}
	if !seen[lead] {
		if len(members) >= a.maxTeamSize {
			members[len(members)-1] = lead
		} else {
			members = append(members, lead)
		}
	}
	if len(members) == 0 {
		members = []string{lead}
	}

	strategy := mapStrategy(resp.SuggestedStrategy)
	task := models.TaskDefinition{
		ID:                 a.idFn(),
		Description:        resp.Task.Description,
		SuccessCriteria:    resp.Task.SuccessCriteria,
		RequiresGreenLight: resp.Task.RequiresGreenLight,
		Reviewers:          resp.Task.Reviewers,
		EstimatedComplexity: resp.EstimatedComplexity,
	}
	// A task that requires sign-off needs a review step before it is
	// considered done; single-responder has no review phase, so green-light
	// tasks are upgraded to hierarchical, which does.
	if task.RequiresGreenLight && strategy == models.StrategySingle {
		strategy = models.StrategyHierarchical
	}

	return &models.Team{
		ID:             a.idFn(),
		ConversationID: conversationID,
		Lead:           lead,
		Members:        members,
		Strategy:       strategy,
		TaskDefinition: task,
		Formation: models.TeamFormation{
			Timestamp: time.Now(),
			Reasoning: resp.Reasoning,
			RequestAnalysis: models.RequestAnalysis{
				RequestType:          resp.RequestType,
				RequiredCapabilities: resp.RequiredCapabilities,
				EstimatedComplexity:  resp.EstimatedComplexity,
				SuggestedStrategy:    strategy,
				Reasoning:            resp.Reasoning,
			},
		},
	}
}

// fallbackTeam assembles a minimal, always-valid team when planning fails:
// the first candidate agent alone, running single-responder.
func (a *Analyser) fallbackTeam(conversationID string, candidates []models.AgentDefinition) *models.Team {
	lead := candidates[0].Name
	return &models.Team{
		ID:             a.idFn(),
		ConversationID: conversationID,
		Lead:           lead,
		Members:        []string{lead},
		Strategy:       models.StrategySingle,
		TaskDefinition: models.TaskDefinition{ID: a.idFn(), Description: "Respond to the request directly."},
		Formation: models.TeamFormation{
			Timestamp: time.Now(),
			Reasoning: "planning call failed; falling back to a single responder",
		},
	}
}

// mapStrategy maps a planner-suggested strategy name to a known Strategy,
// defaulting unknown/unrecognized values to hierarchical (the strategy best
// able to absorb an uncertain plan, since it reviews before finishing).
func mapStrategy(s string) models.Strategy {
	switch models.Strategy(s) {
	case models.StrategySingle, models.StrategyHierarchical, models.StrategyParallel, models.StrategyPhased:
		return models.Strategy(s)
	default:
		return models.StrategyHierarchical
	}
}

func buildPlanningPrompt(requestText string, candidates []models.AgentDefinition) string {
	prompt := "Analyse the following request and propose a team to handle it.\n\n" +
		"Request:\n" + requestText + "\n\nAvailable agents:\n"
	for _, c := range candidates {
		prompt += fmt.Sprintf("- %s: %s\n", c.Name, c.Description)
	}
	prompt += "\nRespond with a single JSON object: {\"request_type\":...,\"required_capabilities\":[...]," +
		"\"estimated_complexity\":1-5,\"suggested_strategy\":\"single|hierarchical|parallel|phased\"," +
		"\"reasoning\":...,\"lead\":\"agent name\",\"members\":[\"agent name\", ...]," +
		"\"task\":{\"description\":...,\"success_criteria\":[...],\"requires_green_light\":bool,\"reviewers\":[...]}}"
	return prompt
}

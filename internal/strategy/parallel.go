package strategy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tenexhq/orchestrator/pkg/models"
)

// Parallel invokes every team member concurrently and waits for all of
// them to settle, success or failure, before returning. This strategy never
// cancels a peer early — not on the first success, and not on the first
// failure — unlike a dependency-staged swarm that would short-circuit the
// remaining stages. Success requires at least one response.
type Parallel struct {
	invoker Invoker
}

// memberTiming records one member's invocation window and outcome, kept in
// result.Metadata["timings"] keyed by member name.
type memberTiming struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Execute implements Strategy.
func (s *Parallel) Execute(ctx context.Context, team *models.Team, requestText string) (*models.StrategyExecutionResult, error) {
	result := models.NewStrategyExecutionResult()

	var mu sync.Mutex
	var wg sync.WaitGroup
	timings := make(map[string]memberTiming, len(team.Members))
	contentByMember := make(map[string]string, len(team.Members))

	for _, member := range team.Members {
		member := member
		wg.Add(1)
		go func() {
			defer wg.Done()

			start := time.Now()
			resp, err := s.invoker.Invoke(ctx, member, requestText)
			end := time.Now()

			mu.Lock()
			defer mu.Unlock()

			timing := memberTiming{StartTime: start, EndTime: end, Success: err == nil}
			if err != nil {
				timing.Error = err.Error()
				result.AddError(fmt.Errorf("%s: %w", member, err))
			} else {
				resp.Metadata = mergeMetadata(resp.Metadata, "phase", "execution")
				result.Responses = append(result.Responses, resp)
				contentByMember[member] = resp.Response
			}
			timings[member] = timing
		}()
	}
	wg.Wait()

	result.Success = len(result.Responses) > 0
	result.Metadata["timings"] = timings
	result.Metadata["aggregatedContent"] = aggregateByMemberOrder(team.Members, contentByMember)

	return result, nil
}

// aggregateByMemberOrder concatenates "<name>: <response>" blocks in team
// member enumeration order, which need not match the order responses were
// appended in (that order reflects completion, not enumeration).
func aggregateByMemberOrder(members []string, contentByMember map[string]string) string {
	var b strings.Builder
	for _, member := range members {
		content, ok := contentByMember[member]
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%s: %s", member, content)
	}
	return b.String()
}

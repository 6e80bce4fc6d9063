// Command orchestratord runs the orchestration daemon: it loads the agent
// roster and connection config, subscribes to the event bus, and dispatches
// every inbound event to the coordinator until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tenexhq/orchestrator/internal/agentruntime"
	"github.com/tenexhq/orchestrator/internal/analyser"
	"github.com/tenexhq/orchestrator/internal/config"
	"github.com/tenexhq/orchestrator/internal/coordinator"
	"github.com/tenexhq/orchestrator/internal/eventbus"
	"github.com/tenexhq/orchestrator/internal/llm"
	"github.com/tenexhq/orchestrator/internal/store"
	"github.com/tenexhq/orchestrator/internal/tools"
	"github.com/tenexhq/orchestrator/internal/toolloop"
	"github.com/tenexhq/orchestrator/pkg/models"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	configPath := flag.String("config", "orchestrator.yaml", "path to the orchestrator's YAML config file")
	flag.Parse()

	if err := run(*configPath, logger); err != nil {
		logger.Error("orchestratord exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	convStore, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer convStore.Close()

	bus, err := eventbus.New(eventbus.Config{
		PrivateKey: os.Getenv(cfg.Bus.PrivateKeyEnv),
		Relays:     cfg.Bus.Relays,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("build event bus: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := bus.Connect(ctx); err != nil {
		return fmt.Errorf("connect event bus: %w", err)
	}

	runtimes, err := buildRuntimes(cfg, convStore, bus, logger)
	if err != nil {
		return fmt.Errorf("build agent runtimes: %w", err)
	}

	planningProfile, err := cfg.ProfileFor(cfg.Agents[0])
	if err != nil {
		return fmt.Errorf("resolve planning profile: %w", err)
	}
	planningProvider, err := llm.NewFactory().Get(planningProfile)
	if err != nil {
		return fmt.Errorf("build planning provider: %w", err)
	}

	az := analyser.New(planningProvider, llm.Config{Model: planningProfile.DefaultModel}, cfg.Team.MaxTeamSize, logger, uuid.NewString)

	coord := coordinator.New(coordinator.Config{
		Bus:            bus,
		Processed:      convStore,
		Analyser:       az,
		Runtimes:       runtimes,
		Agents:         cfg.Agents,
		ProjectAddress: cfg.ProjectAddress,
		Logger:         logger,
	})

	var wg sync.WaitGroup
	startCleanupLoop(ctx, &wg, convStore, cfg.Store.CleanupInterval, logger)

	events, err := bus.Subscribe(ctx, eventbus.Filter{Kinds: []models.Kind{models.KindChatMessage}})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	logger.Info("orchestratord started", "agents", len(cfg.Agents))
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case event, ok := <-events:
			if !ok {
				wg.Wait()
				return nil
			}
			if err := coord.HandleEvent(ctx, event); err != nil {
				logger.Error("event handling failed", "event_id", event.ID, "error", err)
			}
		}
	}
}

// buildRuntimes constructs one agentruntime.Runtime per configured agent,
// each wired to its own LLM provider (per its assigned profile) behind a
// toolloop.Wrapper and a freshly cloned tool registry.
func buildRuntimes(cfg *config.Config, convStore *store.Store, bus *eventbus.EventBus, logger *slog.Logger) (map[string]*agentruntime.Runtime, error) {
	factory := llm.NewFactory()
	registry := tools.NewRegistry()

	project := agentruntime.ProjectMetadata{
		AvailableAgents: cfg.Agents,
	}

	runtimes := make(map[string]*agentruntime.Runtime, len(cfg.Agents))
	for _, agent := range cfg.Agents {
		profile, err := cfg.ProfileFor(agent)
		if err != nil {
			return nil, err
		}
		provider, err := factory.Get(profile)
		if err != nil {
			return nil, fmt.Errorf("agent %q: build provider: %w", agent.Name, err)
		}

		wrapper := toolloop.New(&toolloop.Config{
			Provider: provider,
			Registry: registry.Clone(),
			GenCfg:   llm.Config{Model: profile.DefaultModel},
		}, logger, 0)

		runtimes[agent.Name] = agentruntime.New(agent, convStore, bus, wrapper, project)
	}
	return runtimes, nil
}

// startCleanupLoop runs the store's retention sweep once at startup and then
// on a ticker until ctx is cancelled, the background-maintenance counterpart
// to the request-path work the coordinator does.
func startCleanupLoop(ctx context.Context, wg *sync.WaitGroup, s *store.Store, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = config.DefaultCleanupInterval
	}

	sweep := func() {
		n, err := s.Cleanup(ctx, store.DefaultCleanupAge)
		if err != nil {
			logger.Error("conversation cleanup failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("cleaned up stale conversations", "count", n)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweep()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep()
			}
		}
	}()
}

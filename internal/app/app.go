// Package app assembles the runtime dependencies shared by the server
// and worker binaries from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-ap-lifecycle/internal/bus"
	"github.com/pesio-ai/be-ap-lifecycle/internal/config"
	"github.com/pesio-ai/be-ap-lifecycle/internal/extract"
	"github.com/pesio-ai/be-ap-lifecycle/internal/ledger"
	"github.com/pesio-ai/be-ap-lifecycle/internal/llm"
	"github.com/pesio-ai/be-ap-lifecycle/internal/notify"
	"github.com/pesio-ai/be-ap-lifecycle/internal/policy"
	"github.com/pesio-ai/be-ap-lifecycle/internal/store"
	"github.com/pesio-ai/be-ap-lifecycle/internal/worker"
)

// BuildStore opens the configured store, running migrations for the
// Postgres driver.
func BuildStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if err := store.Migrate(ctx, cfg.Store.PostgresDSN); err != nil {
			return nil, err
		}
		pg, err := store.NewPostgres(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		log.Info().Str("driver", "postgres").Msg("store ready")
		return pg, nil
	case "memory":
		log.Info().Str("driver", "memory").Msg("store ready")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("app: unknown store driver %q", cfg.Store.Driver)
	}
}

// BuildBus connects the configured bus.
func BuildBus(cfg config.Config, log zerolog.Logger) (bus.Bus, error) {
	switch cfg.Bus.Driver {
	case "jetstream":
		js, err := bus.NewJetStream(bus.JetStreamConfig{
			URL:        cfg.Bus.NATSURL,
			Stream:     cfg.Bus.Stream,
			MaxDeliver: cfg.Bus.MaxDeliver,
		}, log)
		if err != nil {
			return nil, err
		}
		log.Info().Str("driver", "jetstream").Str("stream", cfg.Bus.Stream).Msg("bus ready")
		return js, nil
	case "memory":
		log.Info().Str("driver", "memory").Msg("bus ready")
		return bus.NewMemory(cfg.Bus.MaxDeliver), nil
	default:
		return nil, fmt.Errorf("app: unknown bus driver %q", cfg.Bus.Driver)
	}
}

// BuildLedger wires the consumption ledger.
func BuildLedger(s store.Store, log zerolog.Logger) *ledger.Ledger {
	return ledger.New(s, log)
}

// BuildNotifier wires the bus-backed alert notifier the workers use for
// post-commit notifications.
func BuildNotifier(b bus.Bus, log zerolog.Logger) notify.Notifier {
	return notify.NewBusNotifier(b, log)
}

// BuildPolicies constructs the six step policies from configuration.
// External collaborators degrade to their static in-process stand-ins
// when no endpoint is configured.
func BuildPolicies(cfg config.Config, s store.Store, l *ledger.Ledger, log zerolog.Logger) worker.Policies {
	pcfg := policy.Config{
		MinExtractionConfidence: cfg.Policy.MinExtractionConfidence,
		DuplicateWindow:         time.Duration(cfg.Policy.DuplicateWindowDays) * 24 * time.Hour,
		AutoApprovalCeiling:     decimal.NewFromFloat(cfg.Policy.AutoApprovalCeiling),
	}

	var extractor extract.Extractor = &extract.Static{}
	if cfg.Extract.BaseURL != "" {
		extractor = extract.NewHTTPClient(cfg.Extract.BaseURL, cfg.Extract.APIKey, cfg.Extract.Timeout)
	}

	var advisor policy.Advisor = &policy.RuleAdvisor{Routes: cfg.Policy.ApproverRoutes}
	if cfg.LLM.BaseURL != "" {
		client := llm.NewHTTPClient(llm.Config{
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			APIKey:  cfg.LLM.APIKey,
			Timeout: cfg.LLM.Timeout,
		})
		advisor = policy.NewLLMAdvisor(client, cfg.Policy.ApproverCandidates)
	}

	return worker.Policies{
		Intake:   policy.NewIntake(pcfg, extractor),
		Validate: policy.NewValidate(pcfg, s),
		Budget:   policy.NewBudget(l),
		Approve:  policy.NewApprove(pcfg, advisor, log),
		Payment:  policy.NewPayment(s, policy.StaticBatcher{}),
		Settle:   policy.NewSettle(policy.StaticGateway{}),
	}
}

// WorkerConfig maps the config section onto the runtime tuning.
func WorkerConfig(cfg config.Config) worker.Config {
	return worker.Config{
		PullWait:      cfg.Worker.PullWait,
		PolicyTimeout: cfg.Worker.PolicyTimeout,
		CommitRetries: cfg.Worker.CommitRetries,
	}
}

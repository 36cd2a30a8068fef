package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-ap-lifecycle/internal/analytics"
	"github.com/pesio-ai/be-ap-lifecycle/internal/app"
	"github.com/pesio-ai/be-ap-lifecycle/internal/config"
	"github.com/pesio-ai/be-ap-lifecycle/internal/logger"
	"github.com/pesio-ai/be-ap-lifecycle/internal/worker"
)

func main() {
	var configPath string
	var steps []string

	root := &cobra.Command{
		Use:   "ap-worker",
		Short: "AP invoice lifecycle worker",
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("AP_CONFIG"), "path to the YAML config file")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run one or more pipeline steps until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorkers(configPath, steps)
		},
	}
	run.Flags().StringSliceVar(&steps, "step", []string{"all"},
		"steps to run: intake, validate, budget, approve, payment, settle, analytics, all")
	root.AddCommand(run)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runWorkers(configPath string, names []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New("ap-lifecycle-worker", cfg.Log.Level, cfg.Log.Pretty)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := app.BuildStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	b, err := app.BuildBus(cfg, log)
	if err != nil {
		return err
	}
	l := app.BuildLedger(st, log)

	selected, withTap, err := selectSteps(names, app.BuildPolicies(cfg, st, l, log))
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	notifier := app.BuildNotifier(b, log)
	wcfg := app.WorkerConfig(cfg)
	for _, step := range selected {
		w := worker.New(step, b, st, notifier, wcfg, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				log.Error().Err(err).Msg("worker exited")
			}
		}()
	}
	if withTap {
		tap := analytics.New(b, st, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tap.Run(ctx); err != nil {
				log.Error().Err(err).Msg("analytics tap exited")
			}
		}()
	}

	wg.Wait()
	return nil
}

// selectSteps resolves the --step flags against the pipeline.
func selectSteps(names []string, pols worker.Policies) ([]worker.Step, bool, error) {
	all := worker.Steps(pols)
	byAlias := map[string]worker.Step{
		"intake":   all[0],
		"validate": all[1],
		"budget":   all[2],
		"approve":  all[3],
		"payment":  all[4],
		"settle":   all[5],
	}

	var selected []worker.Step
	var withTap bool
	for _, name := range names {
		switch name {
		case "all":
			return all, true, nil
		case "analytics":
			withTap = true
		default:
			step, ok := byAlias[name]
			if !ok {
				return nil, false, fmt.Errorf("unknown step %q", name)
			}
			selected = append(selected, step)
		}
	}
	if len(selected) == 0 && !withTap {
		return nil, false, fmt.Errorf("no steps selected")
	}
	return selected, withTap, nil
}

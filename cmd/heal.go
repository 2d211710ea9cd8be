// -- cmd/heal.go --
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/candidates"
	"github.com/xkilldash9x/suture-cli/internal/healer"
	"github.com/xkilldash9x/suture-cli/internal/llmclient"
	"github.com/xkilldash9x/suture-cli/internal/observability"
	"github.com/xkilldash9x/suture-cli/internal/patcher"
	"github.com/xkilldash9x/suture-cli/internal/runner"
	"github.com/xkilldash9x/suture-cli/internal/selection"
)

var (
	healScriptPath  string
	healPageContext string
	healMaxAttempts int
	healWorkDir     string
)

var healCmd = &cobra.Command{
	Use:   "heal",
	Short: "Run a test script and heal classified failures until it passes or the attempt budget runs out.",
	Long: `Heal executes the given script with the configured test runner. When a run
fails, the output is classified; healable failures (broken locators, missing
imports or exports, single-line syntax and type errors) are patched and the
script is re-run. The full attempt history is reported and, when configured,
written to the audit directory.`,
	RunE: runHeal,
}

func init() {
	healCmd.Flags().StringVarP(&healScriptPath, "script", "s", "", "path to the test script to heal (required)")
	healCmd.Flags().StringVarP(&healPageContext, "page", "p", "", "page context the script exercises, used to scope candidate lookup (required)")
	healCmd.Flags().IntVar(&healMaxAttempts, "max-attempts", 0, "override healer.max_attempts")
	healCmd.Flags().StringVar(&healWorkDir, "work-dir", "", "override runner.work_dir")
	healCmd.MarkFlagRequired("script")
	healCmd.MarkFlagRequired("page")
	rootCmd.AddCommand(healCmd)
}

func runHeal(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()
	cfg := appCfg
	ctx := cmd.Context()

	if healMaxAttempts > 0 {
		cfg.Healer.MaxAttempts = healMaxAttempts
	}
	if healWorkDir != "" {
		cfg.Runner.WorkDir = healWorkDir
	}

	scriptContent, err := os.ReadFile(healScriptPath)
	if err != nil {
		return fmt.Errorf("failed to read script '%s': %w", healScriptPath, err)
	}

	store, closeStore, err := buildStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// The reasoning service is optional. Without it the selection policy
	// degrades to the static priority ordering and syntax/type failures
	// become non-healable.
	var llm schemas.LLMClient
	if client, err := llmclient.NewClient(cfg.Agent, logger); err != nil {
		logger.Warn("Reasoning service unavailable; continuing with deterministic healing only.", zap.Error(err))
	} else {
		llm = client
		defer llm.Close()
	}

	applier := patcher.NewApplier(logger)
	fixers := healer.DefaultFixers(healer.FixerDeps{
		Resolver:    candidates.NewResolver(store, logger),
		Policy:      selection.NewPolicy(llm, cfg.Agent.SelectionTimeout, logger),
		Applier:     applier,
		LLM:         llm,
		SearchRoots: cfg.Healer.SearchRoots,
		Logger:      logger,
	})

	execRunner, err := runner.New(cfg.Runner, logger)
	if err != nil {
		return err
	}

	orch, err := healer.New(execRunner, fixers, healer.Options{
		MaxAttempts: cfg.Healer.MaxAttempts,
		WorkDir:     cfg.Runner.WorkDir,
	}, logger)
	if err != nil {
		return err
	}

	result, healErr := orch.Heal(ctx, string(scriptContent), healPageContext)

	if cfg.Healer.AuditDir != "" && result != nil {
		if _, err := healer.WriteAudit(cfg.Healer.AuditDir, result, logger); err != nil {
			logger.Warn("Failed to write audit report.", zap.Error(err))
		}
	}
	if result != nil && !result.Success && cfg.Healer.RestoreOnFailure {
		if n, err := applier.Restore(); err != nil {
			logger.Error("Failed to restore patched files.", zap.Error(err))
		} else if n > 0 {
			logger.Info("Patched files restored to their original content.", zap.Int("files", n))
		}
	}
	if healErr != nil {
		return healErr
	}

	printSummary(cmd, result)
	if !result.Success {
		return fmt.Errorf("script did not pass after %d attempt(s); outcome: %s", len(result.Attempts), result.Outcome)
	}

	// On success the healed script replaces the input in place.
	if result.FinalScriptContent != string(scriptContent) {
		if err := os.WriteFile(healScriptPath, []byte(result.FinalScriptContent), 0o644); err != nil {
			return fmt.Errorf("failed to write healed script back to '%s': %w", healScriptPath, err)
		}
		logger.Info("Healed script written.", zap.String("path", healScriptPath))
	}
	return nil
}

// buildStore wires the configured candidate store backend and returns it
// together with its cleanup func.
func buildStore(ctx context.Context, logger *zap.Logger) (schemas.CandidateStore, func(), error) {
	cfg := appCfg
	switch cfg.Store.Type {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.Postgres.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		store, err := candidates.NewPGStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		store, err := candidates.NewFileStore(cfg.Store.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

func printSummary(cmd *cobra.Command, result *schemas.HealingResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session %s finished: %s\n", result.SessionID, result.Outcome)
	for _, rec := range result.Attempts {
		status := "failed"
		if rec.Signal.Kind == schemas.KindSuccess {
			status = "passed"
		} else if rec.Patched {
			status = "patched"
		}
		fmt.Fprintf(out, "  attempt %d: %-20s %s\n", rec.AttemptNumber, rec.Signal.Kind, status)
	}
}

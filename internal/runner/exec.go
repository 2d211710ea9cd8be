// Package runner invokes the external test harness as a subprocess. The
// healing engine treats the runner as opaque: it hands over the current
// script content and gets back an exit code plus captured output.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
	"github.com/xkilldash9x/suture-cli/internal/config"
)

// ExecRunner runs the configured test command (e.g. "npx playwright test")
// after writing the session's script content into the working directory.
type ExecRunner struct {
	log        *zap.Logger
	command    []string
	scriptFile string
	timeout    time.Duration
}

// New creates a runner from configuration.
func New(cfg config.RunnerConfig, logger *zap.Logger) (*ExecRunner, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("runner command must not be empty")
	}
	if cfg.ScriptFile == "" {
		return nil, fmt.Errorf("runner script file must not be empty")
	}
	return &ExecRunner{
		log:        logger.Named("runner"),
		command:    cfg.Command,
		scriptFile: cfg.ScriptFile,
		timeout:    cfg.Timeout,
	}, nil
}

// Run writes scriptContent to the configured script file under workDir and
// executes the test command there. A non-nil error means the harness itself
// could not run; test failures are reported through the exit code and
// output, never as an error.
func (r *ExecRunner) Run(ctx context.Context, scriptContent, workDir string, env map[string]string) (*schemas.RunResult, error) {
	scriptPath := filepath.Join(workDir, r.scriptFile)
	if err := os.WriteFile(scriptPath, []byte(scriptContent), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write script file '%s': %w", scriptPath, err)
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.command[0], r.command[1:]...)
	cmd.Dir = workDir
	cmd.Env = mergeEnv(os.Environ(), env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Debug("Invoking test runner.",
		zap.Strings("command", r.command),
		zap.String("work_dir", workDir),
		zap.String("script_file", r.scriptFile))

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &schemas.RunResult{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The harness ran and the test failed; that is a result, not
			// a runner fault.
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("test runner failed to execute: %w", err)
		}
	}

	r.log.Info("Test run finished.",
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", duration))
	return result, nil
}

// mergeEnv layers overrides on top of the inherited environment.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	merged := make([]string, len(base), len(base)+len(overrides))
	copy(merged, base)
	for k, v := range overrides {
		merged = append(merged, k+"="+v)
	}
	return merged
}

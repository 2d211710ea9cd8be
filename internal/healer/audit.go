package healer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// auditReport is the on-disk session record. It intentionally mirrors the
// in-memory result so a past run can be replayed during triage.
type auditReport struct {
	SessionID   string                  `json:"session_id"`
	GeneratedAt time.Time               `json:"generated_at"`
	Outcome     schemas.SessionOutcome  `json:"outcome"`
	Attempts    []schemas.AttemptRecord `json:"attempts"`
	FinalScript string                  `json:"final_script"`
}

// WriteAudit persists the full attempt history of a finished session as a
// JSON file under dir, creating the directory as needed. The file name
// embeds the session ID so successive runs never clobber each other.
func WriteAudit(dir string, result *schemas.HealingResult, logger *zap.Logger) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating audit directory '%s': %w", dir, err)
	}

	report := auditReport{
		SessionID:   result.SessionID,
		GeneratedAt: time.Now().UTC(),
		Outcome:     result.Outcome,
		Attempts:    result.Attempts,
		FinalScript: result.FinalScriptContent,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding audit report: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("session-%s.json", result.SessionID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing audit report: %w", err)
	}
	logger.Info("Audit report written.",
		zap.String("path", path),
		zap.Int("attempts", len(result.Attempts)))
	return path, nil
}

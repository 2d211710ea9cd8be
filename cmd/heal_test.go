// cmd/heal_test.go
package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

func TestHealCmd_IsRegistered(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"heal"})
	require.NoError(t, err)
	assert.Equal(t, "heal", cmd.Name())
}

func TestHealCmd_RequiredFlags(t *testing.T) {
	scriptFlag := healCmd.Flags().Lookup("script")
	require.NotNil(t, scriptFlag)
	assert.Equal(t, "true", scriptFlag.Annotations[cobra.BashCompOneRequiredFlag][0])

	pageFlag := healCmd.Flags().Lookup("page")
	require.NotNil(t, pageFlag)
	assert.Equal(t, "true", pageFlag.Annotations[cobra.BashCompOneRequiredFlag][0])
}

func TestPrintSummary(t *testing.T) {
	result := &schemas.HealingResult{
		SessionID: "sess-42",
		Success:   true,
		Outcome:   schemas.OutcomeSuccess,
		Attempts: []schemas.AttemptRecord{
			{AttemptNumber: 1, Signal: schemas.FailureSignal{Kind: schemas.KindLocatorError}, Patched: true},
			{AttemptNumber: 2, Signal: schemas.FailureSignal{Kind: schemas.KindSuccess}},
		},
	}

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	printSummary(cmd, result)

	out := buf.String()
	assert.Contains(t, out, "sess-42")
	assert.Contains(t, out, "success")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "locator_error")
	assert.Contains(t, lines[1], "patched")
	assert.Contains(t, lines[2], "passed")
}

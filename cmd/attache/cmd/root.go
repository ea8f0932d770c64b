// Package cmd implements the attache CLI.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/attachebot/attache/internal/app"
)

var rootCmd = &cobra.Command{
	Use:   "attache",
	Short: "Autonomous messaging representative for WhatsApp and Telegram",
	Long: `attache answers direct messages on your behalf: it coalesces bursts
into batches, queues them durably, and replies through a rate-limited,
tool-calling language model. Every contact, message and conversation is
persisted for later inspection.`,
}

// Execute runs the CLI and maps errors to exit codes: 0 clean, 1 fatal
// initialization or unrecoverable session conflict.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, app.ErrSessionConflict) {
			color.Red("session conflict: %v", err)
			return 1
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// Command virtru-e2e drives a real browser with the Virtru extension through
// Gmail: it sends a protected message and verifies the decrypted delivery.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kuitang/virtru-e2e/internal/harness"
	"github.com/kuitang/virtru-e2e/internal/obs"
)

var rootCmd = &cobra.Command{
	Use:           "virtru-e2e",
	Short:         "End-to-end test for the Virtru Gmail extension",
	Long:          `virtru-e2e launches Chrome or Edge with the Virtru extension side-loaded, sends an encrypted Gmail message and verifies the recipient sees it decrypted.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		levelFlag, _ := cmd.Flags().GetString("log-level")
		level, err := obs.ParseLevel(levelFlag)
		if err != nil {
			return usageError{err}
		}
		format, _ := cmd.Flags().GetString("log-format")
		if format != "json" && format != "text" {
			return usageError{fmt.Errorf("invalid log format %q (want json or text)", format)}
		}
		obs.Init(obs.Options{Level: level, Text: format == "text"})

		envFile, _ := cmd.Flags().GetString("env-file")
		return loadEnvFile(envFile, cmd.Flags().Changed("env-file"))
	},
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file to load before reading configuration")
	rootCmd.PersistentFlags().String("log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", "json", "json or text")
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var usage usageError
	if errors.As(err, &usage) {
		fmt.Fprintln(os.Stderr, "Error:", usage.err)
		os.Exit(2)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(max(harness.ExitCode(err), 1))
}

// usageError marks bad flags or configuration.
type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

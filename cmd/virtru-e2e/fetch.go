package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kuitang/virtru-e2e/internal/config"
	"github.com/kuitang/virtru-e2e/internal/extension"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch-extension [output-dir]",
	Short: "Download the Virtru extension and unpack it for side-loading",
	Long: `Resolves the current stable Chrome version (or CHROME_PRODVERSION), downloads
the extension VIRTRU_EXT_ID from the Chrome update service and extracts it into
output-dir (default VIRTRU_EXT_PATH), replacing its contents.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(os.Getenv)
		if err != nil {
			return usageError{err}
		}
		out := cfg.ExtensionPath
		if len(args) == 1 {
			out = args[0]
		}
		if err := extension.NewFetcher().Fetch(cmd.Context(), cfg.ExtensionID, cfg.ChromeProdVersion, out); err != nil {
			return err
		}
		cmd.Printf("Virtru extension extracted to %s\n", out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kuitang/virtru-e2e/internal/artifacts"
	"github.com/kuitang/virtru-e2e/internal/config"
	"github.com/kuitang/virtru-e2e/internal/harness"
	"github.com/kuitang/virtru-e2e/internal/notify"
	"github.com/kuitang/virtru-e2e/internal/obs"
	"github.com/kuitang/virtru-e2e/internal/s3client"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Send an encrypted message and verify decrypted delivery on each channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.PrintSummary(cmd.OutOrStdout())
		return runScenario(ctx, cmd, cfg)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("channels", "", "comma-separated browser channels, overrides BROWSER_CHANNELS")
	runCmd.Flags().Bool("headless", false, "run headless, overrides HEADLESS (the extension may not load)")
}

// loadEnvFile seeds the environment from a dotenv file. A missing default
// file is fine; a missing file named explicitly is not.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return usageError{err}
}

// loadConfig reads the environment once, applies flag overrides and
// validates everything before any browser starts.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	getenv := os.Getenv
	overrides := map[string]string{}
	if v, _ := cmd.Flags().GetString("channels"); cmd.Flags().Changed("channels") {
		overrides["BROWSER_CHANNELS"] = v
	}
	if cmd.Flags().Changed("headless") {
		v, _ := cmd.Flags().GetBool("headless")
		overrides["HEADLESS"] = map[bool]string{true: "true", false: "false"}[v]
	}
	if len(overrides) > 0 {
		getenv = func(key string) string {
			if v, ok := overrides[key]; ok {
				return v
			}
			return os.Getenv(key)
		}
	}

	cfg, err := config.Load(getenv)
	if err != nil {
		return nil, usageError{err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, usageError{err}
	}
	return cfg, nil
}

func runScenario(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	log := obs.Pkg("main")

	var upload artifacts.Uploader
	if cfg.UploadEnabled() {
		store, err := s3client.New(ctx, s3client.Config{
			Endpoint:        cfg.AWSEndpointS3,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			BucketName:      cfg.ArtifactBucket,
			Prefix:          "virtru-e2e",
		})
		if err != nil {
			return err
		}
		upload = store
	}

	var sender notify.Sender
	if cfg.ReportEmailEnabled() {
		sender = notify.NewResendSender(cfg.ResendAPIKey, cfg.ReportEmailFrom)
	}

	rec := artifacts.NewRecorder(cfg.ArtifactsDir, artifacts.NewRunID(), upload)
	log.Info("run_start", "run_id", rec.RunID(), "channels", strings.Join(cfg.Channels, ","))

	rep, err := harness.New(cfg, harness.OpenSession, rec, sender, nil).Run(ctx)
	cmd.Println(rep.Title())
	cmd.Println("Artifacts:", rec.Dir())
	return err
}

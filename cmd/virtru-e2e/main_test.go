package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, loadEnvFile(filepath.Join(dir, "missing.env"), false))

	err := loadEnvFile(filepath.Join(dir, "missing.env"), true)
	var usage usageError
	require.True(t, errors.As(err, &usage), "explicit missing file is a usage error: %v", err)

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("EMAIL_SUBJECT=From-File\n"), 0o600))
	t.Setenv("EMAIL_SUBJECT", "")
	os.Unsetenv("EMAIL_SUBJECT")
	require.NoError(t, loadEnvFile(path, true))
	require.Equal(t, "From-File", os.Getenv("EMAIL_SUBJECT"))
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	ext := t.TempDir()
	for k, v := range map[string]string{
		"GMAIL_USER":       "sender@example.com",
		"GMAIL_PASS":       "hunter2",
		"EMAIL_TO":         "recipient@example.com",
		"EMAIL_SUBJECT":    "Test-123",
		"EMAIL_BODY":       "Hello Secure World",
		"VIRTRU_EXT_PATH":  ext,
		"BROWSER_CHANNELS": "msedge",
		"HEADLESS":         "false",
	} {
		t.Setenv(k, v)
	}

	cmd := runCmd
	t.Cleanup(func() {
		_ = cmd.Flags().Set("channels", "")
		_ = cmd.Flags().Set("headless", "false")
		cmd.Flags().Lookup("channels").Changed = false
		cmd.Flags().Lookup("headless").Changed = false
	})
	require.NoError(t, cmd.Flags().Set("channels", "chrome,msedge"))
	require.NoError(t, cmd.Flags().Set("headless", "true"))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	require.Equal(t, []string{"chrome", "msedge"}, cfg.Channels)
	require.True(t, cfg.Headless)

	require.NoError(t, cmd.Flags().Set("channels", "firefox"))
	_, err = loadConfig(cmd)
	var usage usageError
	require.True(t, errors.As(err, &usage), "bad channel is a usage error: %v", err)
}

// Package config provides centralized configuration for the virtru-e2e harness.
// Configuration comes from environment variables (optionally seeded from a
// .env file by the CLI) and is read exactly once into an explicit Config that
// is passed to the launcher and the scenario runner. Nothing mutates the
// process environment after startup.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/virtru-e2e/internal/logutil"
)

const (
	DefaultChannel       = "msedge"
	DefaultExtensionPath = "extensions/virtru"
	DefaultExtensionID   = "nemmanchfojaehgkbgcfmdiidbopakpp"
	DefaultGmailBaseURL  = "https://mail.google.com"
	DefaultArtifactsDir  = "artifacts"
	defaultAWSRegion     = "auto"
)

// Artifact retention modes for traces and videos.
const (
	ModeOn              = "on"
	ModeOff             = "off"
	ModeRetainOnFailure = "retain-on-failure"
)

// Channels are the browser channels the harness can drive.
var Channels = []string{"chrome", "msedge"}

// Config holds all harness configuration.
type Config struct {
	// Gmail account
	GmailUser        string // GMAIL_USER
	GmailPass        string // GMAIL_PASS
	StorageStatePath string // STORAGE_STATE_PATH, Playwright storage-state JSON
	GmailBaseURL     string // GMAIL_BASE_URL

	// Scenario
	EmailTo      string // EMAIL_TO
	EmailSubject string // EMAIL_SUBJECT
	EmailBody    string // EMAIL_BODY

	// Browser
	Channels          []string // BROWSER_CHANNELS, comma separated
	Headless          bool     // HEADLESS
	ExtensionPath     string   // VIRTRU_EXT_PATH
	ExtensionID       string   // VIRTRU_EXT_ID
	ChromeProdVersion string   // CHROME_PRODVERSION

	// Timeouts
	ToggleTimeout       time.Duration // TOGGLE_TIMEOUT
	DeliveryTimeout     time.Duration // DELIVERY_TIMEOUT
	DecryptTimeout      time.Duration // DECRYPT_TIMEOUT
	BadgeTimeout        time.Duration // BADGE_TIMEOUT
	InboxReloadInterval time.Duration // INBOX_RELOAD_INTERVAL

	// Diagnostics
	ArtifactsDir string // ARTIFACTS_DIR
	TraceMode    string // TRACE
	VideoMode    string // VIDEO

	// Artifact upload (S3-compatible; optional)
	ArtifactBucket     string // ARTIFACT_BUCKET
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY

	// Report email (optional)
	ResendAPIKey    string // RESEND_API_KEY
	ReportEmailTo   string // REPORT_EMAIL_TO
	ReportEmailFrom string // REPORT_EMAIL_FROM
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Getenv looks up one variable; os.Getenv satisfies it.
type Getenv func(key string) string

// Load reads configuration through getenv. Malformed values (unknown
// channels, unparsable durations or booleans) are reported together as a
// ValidationError. Required scenario inputs are checked by Validate.
func Load(getenv Getenv) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	p := parser{getenv: getenv}
	cfg := &Config{}

	cfg.GmailUser = p.str("GMAIL_USER", "")
	cfg.GmailPass = getenv("GMAIL_PASS")
	cfg.StorageStatePath = p.str("STORAGE_STATE_PATH", "")
	cfg.GmailBaseURL = strings.TrimRight(p.str("GMAIL_BASE_URL", DefaultGmailBaseURL), "/")

	cfg.EmailTo = p.str("EMAIL_TO", "")
	cfg.EmailSubject = p.str("EMAIL_SUBJECT", "")
	cfg.EmailBody = getenv("EMAIL_BODY")

	cfg.Channels = p.channels("BROWSER_CHANNELS")
	cfg.Headless = p.boolean("HEADLESS", false)
	cfg.ExtensionPath = p.str("VIRTRU_EXT_PATH", DefaultExtensionPath)
	cfg.ExtensionID = p.str("VIRTRU_EXT_ID", DefaultExtensionID)
	cfg.ChromeProdVersion = p.str("CHROME_PRODVERSION", "")

	cfg.ToggleTimeout = p.duration("TOGGLE_TIMEOUT", 30*time.Second)
	cfg.DeliveryTimeout = p.duration("DELIVERY_TIMEOUT", 90*time.Second)
	cfg.DecryptTimeout = p.duration("DECRYPT_TIMEOUT", 90*time.Second)
	cfg.BadgeTimeout = p.duration("BADGE_TIMEOUT", 10*time.Second)
	cfg.InboxReloadInterval = p.duration("INBOX_RELOAD_INTERVAL", 2*time.Second)

	cfg.ArtifactsDir = p.str("ARTIFACTS_DIR", DefaultArtifactsDir)
	cfg.TraceMode = p.mode("TRACE", ModeRetainOnFailure)
	cfg.VideoMode = p.mode("VIDEO", ModeRetainOnFailure)

	cfg.ArtifactBucket = p.str("ARTIFACT_BUCKET", "")
	cfg.AWSEndpointS3 = p.str("AWS_ENDPOINT_URL_S3", "")
	cfg.AWSRegion = p.str("AWS_REGION", defaultAWSRegion)
	cfg.AWSAccessKeyID = p.str("AWS_ACCESS_KEY_ID", "")
	cfg.AWSSecretAccessKey = p.str("AWS_SECRET_ACCESS_KEY", "")

	cfg.ResendAPIKey = p.str("RESEND_API_KEY", "")
	cfg.ReportEmailTo = p.str("REPORT_EMAIL_TO", "")
	cfg.ReportEmailFrom = p.str("REPORT_EMAIL_FROM", "virtru-e2e@localhost")

	if len(p.errs) > 0 {
		return nil, &ValidationError{Errors: p.errs}
	}
	return cfg, nil
}

// Validate checks that everything the send-and-verify scenario needs is
// present. It runs before any browser is launched and names each missing
// variable.
func (c *Config) Validate() error {
	var errs []string

	if c.StorageStatePath == "" {
		if c.GmailUser == "" {
			errs = append(errs, "GMAIL_USER is required (or set STORAGE_STATE_PATH)")
		}
		if c.GmailPass == "" {
			errs = append(errs, "GMAIL_PASS is required (or set STORAGE_STATE_PATH)")
		}
	} else if _, err := os.Stat(c.StorageStatePath); err != nil {
		errs = append(errs, fmt.Sprintf("STORAGE_STATE_PATH %q is not readable: %v", c.StorageStatePath, err))
	}

	if c.EmailTo == "" {
		errs = append(errs, "EMAIL_TO is required")
	}
	if c.EmailSubject == "" {
		errs = append(errs, "EMAIL_SUBJECT is required")
	}
	if strings.TrimSpace(c.EmailBody) == "" {
		errs = append(errs, "EMAIL_BODY is required")
	}
	if len(c.Channels) == 0 {
		errs = append(errs, "BROWSER_CHANNELS must name at least one of chrome, msedge")
	}

	if info, err := os.Stat(c.ExtensionPath); err != nil || !info.IsDir() {
		errs = append(errs, fmt.Sprintf("Virtru extension not found at %s (run: virtru-e2e fetch-extension)", c.ExtensionPath))
	}

	for name, d := range map[string]time.Duration{
		"TOGGLE_TIMEOUT":        c.ToggleTimeout,
		"DELIVERY_TIMEOUT":      c.DeliveryTimeout,
		"DECRYPT_TIMEOUT":       c.DecryptTimeout,
		"BADGE_TIMEOUT":         c.BadgeTimeout,
		"INBOX_RELOAD_INTERVAL": c.InboxReloadInterval,
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}

	if c.ArtifactBucket != "" {
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required when ARTIFACT_BUCKET is set")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required when ARTIFACT_BUCKET is set")
		}
	}
	if c.ReportEmailTo != "" && c.ResendAPIKey == "" {
		errs = append(errs, "RESEND_API_KEY is required when REPORT_EMAIL_TO is set")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ResolvedExtensionPath returns the absolute extension directory.
func (c *Config) ResolvedExtensionPath() (string, error) {
	return filepath.Abs(c.ExtensionPath)
}

// UploadEnabled reports whether artifacts go to S3 as well as disk.
func (c *Config) UploadEnabled() bool { return c.ArtifactBucket != "" }

// ReportEmailEnabled reports whether the run report is emailed.
func (c *Config) ReportEmailEnabled() bool { return c.ReportEmailTo != "" }

// PrintSummary prints a redacted, human-readable summary of the configuration.
func (c *Config) PrintSummary(w io.Writer) {
	fields := map[string]string{
		"GMAIL_USER":            c.GmailUser,
		"GMAIL_PASS":            c.GmailPass,
		"STORAGE_STATE_PATH":    c.StorageStatePath,
		"GMAIL_BASE_URL":        c.GmailBaseURL,
		"EMAIL_TO":              c.EmailTo,
		"EMAIL_SUBJECT":         c.EmailSubject,
		"BROWSER_CHANNELS":      strings.Join(c.Channels, ","),
		"HEADLESS":              strconv.FormatBool(c.Headless),
		"VIRTRU_EXT_PATH":       c.ExtensionPath,
		"VIRTRU_EXT_ID":         c.ExtensionID,
		"ARTIFACTS_DIR":         c.ArtifactsDir,
		"TRACE":                 c.TraceMode,
		"VIDEO":                 c.VideoMode,
		"ARTIFACT_BUCKET":       c.ArtifactBucket,
		"AWS_SECRET_ACCESS_KEY": c.AWSSecretAccessKey,
		"RESEND_API_KEY":        c.ResendAPIKey,
		"REPORT_EMAIL_TO":       c.ReportEmailTo,
	}
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "virtru-e2e starting...")
	for _, pair := range logutil.SummaryLines(fields) {
		fmt.Fprintf(w, "  %s\n", pair)
	}
	fmt.Fprintf(w, "  timeouts: toggle=%s delivery=%s decrypt=%s badge=%s reload=%s\n",
		c.ToggleTimeout, c.DeliveryTimeout, c.DecryptTimeout, c.BadgeTimeout, c.InboxReloadInterval)
	fmt.Fprintln(w, "")
}

// Helper functions for parsing environment variables

type parser struct {
	getenv Getenv
	errs   []string
}

func (p *parser) str(key, defaultValue string) string {
	value := strings.TrimSpace(p.getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func (p *parser) boolean(key string, defaultValue bool) bool {
	value := strings.TrimSpace(p.getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s must be a boolean, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(p.getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		// A bare integer is a count of milliseconds.
		ms, intErr := strconv.Atoi(value)
		if intErr != nil {
			p.errs = append(p.errs, fmt.Sprintf("%s must be a duration like 30s, got %q", key, value))
			return defaultValue
		}
		parsed = time.Duration(ms) * time.Millisecond
	}
	return parsed
}

func (p *parser) mode(key, defaultValue string) string {
	value := strings.ToLower(p.str(key, defaultValue))
	switch value {
	case ModeOn, ModeOff, ModeRetainOnFailure:
		return value
	}
	p.errs = append(p.errs, fmt.Sprintf("%s must be one of on, off, retain-on-failure, got %q", key, value))
	return defaultValue
}

func (p *parser) channels(key string) []string {
	raw := p.str(key, DefaultChannel)
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		ch := strings.ToLower(strings.TrimSpace(part))
		if ch == "" || seen[ch] {
			continue
		}
		if !isChannel(ch) {
			p.errs = append(p.errs, fmt.Sprintf("%s: unsupported channel %q (want chrome or msedge)", key, ch))
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out
}

func isChannel(ch string) bool {
	return slices.Contains(Channels, ch)
}

// Package notify emails the run report. Resend delivers it in CI; the mock
// captures messages for tests and local runs.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/virtru-e2e/internal/obs"
)

// Message is one report email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// MockSender captures messages instead of sending them. When an outbox
// directory is set, each message is also written there as JSON.
type MockSender struct {
	mu        sync.Mutex
	Messages  []Message
	outboxDir string
	seq       uint64
}

// NewMockSender returns a mock. outboxDir may be empty.
func NewMockSender(outboxDir string) *MockSender {
	if outboxDir != "" {
		if err := os.MkdirAll(outboxDir, 0o755); err != nil {
			obs.Pkg("notify").Warn("outbox_dir_failed", "dir", outboxDir, "error", err)
			outboxDir = ""
		}
	}
	return &MockSender{outboxDir: outboxDir}
}

// Send records msg.
func (m *MockSender) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, msg)
	obs.From(ctx).Info("report_email_captured", "pkg", "notify", "to", msg.To, "subject", msg.Subject)
	return m.writeOutbox(msg)
}

// Last returns the most recent message, or the zero value.
func (m *MockSender) Last() Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		return Message{}
	}
	return m.Messages[len(m.Messages)-1]
}

// Count returns the number of captured messages.
func (m *MockSender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

type outboxEvent struct {
	Sequence       uint64 `json:"sequence"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Text           string `json:"text,omitempty"`
	SentAtUnixNano int64  `json:"sent_at_unix_nano"`
}

func (m *MockSender) writeOutbox(msg Message) error {
	if m.outboxDir == "" {
		return nil
	}
	m.seq++
	event := outboxEvent{
		Sequence:       m.seq,
		To:             msg.To,
		Subject:        msg.Subject,
		Text:           msg.Text,
		SentAtUnixNano: time.Now().UnixNano(),
	}
	finalPath := filepath.Join(m.outboxDir, fmt.Sprintf("%020d-%s.json", event.Sequence, sanitizeComponent(msg.To)))
	tempPath := finalPath + ".tmp"

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("write outbox temp file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename outbox file: %w", err)
	}
	return nil
}

var outboxSanitizePattern = regexp.MustCompile(`[^a-zA-Z0-9._@-]+`)

func sanitizeComponent(input string) string {
	safe := strings.TrimSpace(input)
	if safe == "" {
		return "unknown"
	}
	return outboxSanitizePattern.ReplaceAllString(safe, "_")
}

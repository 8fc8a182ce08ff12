package notify

import (
	"context"
	"fmt"
	"html"

	"github.com/resend/resend-go/v3"
)

// ResendSender implements Sender using the Resend API.
type ResendSender struct {
	client      *resend.Client
	fromAddress string
}

// NewResendSender returns a sender. fromAddress must be verified in Resend.
func NewResendSender(apiKey, fromAddress string) *ResendSender {
	return &ResendSender{
		client:      resend.NewClient(apiKey),
		fromAddress: fromAddress,
	}
}

// Send delivers msg.
func (r *ResendSender) Send(ctx context.Context, msg Message) error {
	_, err := r.client.Emails.SendWithContext(ctx, r.request(msg))
	if err != nil {
		return fmt.Errorf("resend: failed to send report: %w", err)
	}
	return nil
}

func (r *ResendSender) request(msg Message) *resend.SendEmailRequest {
	return &resend.SendEmailRequest{
		From:    r.fromAddress,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    wrapHTML(msg.Subject, msg.HTML),
		Text:    msg.Text,
	}
}

// wrapHTML puts the sanitized report body into a minimal email shell.
func wrapHTML(title, body string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>%s</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; line-height: 1.5; color: #333; max-width: 800px; margin: 0 auto; padding: 20px;">
%s
    <hr style="border: none; border-top: 1px solid #e0e0e0; margin: 20px 0;">
    <p style="color: #999; font-size: 12px;">Sent by virtru-e2e.</p>
</body>
</html>`, html.EscapeString(title), body)
}

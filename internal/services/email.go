package services

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"

	"github.com/resend/resend-go/v2"

	"github.com/campusloop/campusloop/internal/config"
	"github.com/campusloop/campusloop/internal/logging"
)

// Email is a message to be sent.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// EmailProvider is the interface for sending emails.
type EmailProvider interface {
	Send(ctx context.Context, email *Email) error
}

// EmailService sends transactional email through a configured provider.
type EmailService struct {
	provider    EmailProvider
	fromAddress string
	fromName    string
}

// NewEmailService picks the provider from configuration: resend in
// production, smtp for local dev (Mailpit), console otherwise.
func NewEmailService(cfg *config.EmailConfig) *EmailService {
	var provider EmailProvider
	switch cfg.Provider {
	case "resend":
		provider = NewResendProvider(cfg.ResendAPIKey, cfg.FromName, cfg.FromAddress)
	case "smtp":
		provider = NewSMTPProvider(cfg.SMTPHost, cfg.SMTPPort, cfg.FromName, cfg.FromAddress)
	default:
		provider = NewConsoleProvider()
	}

	return &EmailService{
		provider:    provider,
		fromAddress: cfg.FromAddress,
		fromName:    cfg.FromName,
	}
}

// SendNotificationEmail sends a pre-rendered notification email.
func (s *EmailService) SendNotificationEmail(ctx context.Context, to, subject, html, text string) error {
	return s.provider.Send(ctx, &Email{
		To:      to,
		Subject: subject,
		HTML:    html,
		Text:    text,
	})
}

// ResendProvider sends emails using the Resend API.
type ResendProvider struct {
	client *resend.Client
	from   string
}

func NewResendProvider(apiKey, fromName, fromAddress string) *ResendProvider {
	return &ResendProvider{
		client: resend.NewClient(apiKey),
		from:   fmt.Sprintf("%s <%s>", fromName, fromAddress),
	}
}

func (p *ResendProvider) Send(ctx context.Context, email *Email) error {
	params := &resend.SendEmailRequest{
		From:    p.from,
		To:      []string{email.To},
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Text,
	}

	_, err := p.client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("sending email via Resend: %w", err)
	}

	logging.Info("Email sent via Resend", map[string]interface{}{"to": email.To, "subject": email.Subject})
	return nil
}

// SMTPProvider sends emails via SMTP (for Mailpit in local dev).
type SMTPProvider struct {
	host        string
	port        int
	fromName    string
	fromAddress string
}

func NewSMTPProvider(host string, port int, fromName, fromAddress string) *SMTPProvider {
	return &SMTPProvider{host: host, port: port, fromName: fromName, fromAddress: fromAddress}
}

func (p *SMTPProvider) Send(ctx context.Context, email *Email) error {
	addr := fmt.Sprintf("%s:%d", p.host, p.port)

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s <%s>\r\n", p.fromName, p.fromAddress))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", email.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", email.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(email.HTML)

	if err := smtp.SendMail(addr, nil, p.fromAddress, []string{email.To}, buf.Bytes()); err != nil {
		return fmt.Errorf("sending email via SMTP: %w", err)
	}

	logging.Info("Email sent via SMTP", map[string]interface{}{"to": email.To, "subject": email.Subject})
	return nil
}

// ConsoleProvider logs emails to console (for development).
type ConsoleProvider struct{}

func NewConsoleProvider() *ConsoleProvider {
	return &ConsoleProvider{}
}

func (p *ConsoleProvider) Send(ctx context.Context, email *Email) error {
	logging.Info("=== EMAIL (Console Provider) ===", map[string]interface{}{"to": email.To, "subject": email.Subject})
	fmt.Printf("\n=== EMAIL ===\n")
	fmt.Printf("To: %s\n", email.To)
	fmt.Printf("Subject: %s\n", email.Subject)
	fmt.Printf("---\n")
	fmt.Printf("%s\n", email.Text)
	fmt.Printf("=============\n\n")
	return nil
}

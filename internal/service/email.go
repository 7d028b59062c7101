package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/resend/resend-go/v2"
)

// Mailer is the notification dispatcher contract. The auth service only
// ever treats dispatch failures as soft: state changes succeed whether
// or not the email went out.
type Mailer interface {
	SendVerificationEmail(email, token string) error
	SendPasswordResetEmail(email, token string) error
	SendWelcomeEmail(email, name string) error
}

type EmailService struct {
	client    *resend.Client
	fromEmail string
	isDev     bool
	appURL    string
	appName   string
}

func NewEmailService(apiKey, fromEmail, appURL, appName string, isDev bool) *EmailService {
	var client *resend.Client
	if apiKey != "" && !isDev {
		client = resend.NewClient(apiKey)
	}

	return &EmailService{
		client:    client,
		fromEmail: fromEmail,
		isDev:     isDev,
		appURL:    appURL,
		appName:   appName,
	}
}

func (s *EmailService) SendVerificationEmail(email, token string) error {
	verifyURL := fmt.Sprintf("%s/auth/verify-email?token=%s&email=%s", s.appURL, token, url.QueryEscape(email))
	subject, body := verificationEmailTemplate(verifyURL, s.appName)
	return s.send("email_verify", email, subject, body, verifyURL)
}

func (s *EmailService) SendPasswordResetEmail(email, token string) error {
	resetURL := fmt.Sprintf("%s/auth/reset-password?token=%s", s.appURL, token)
	subject, body := passwordResetEmailTemplate(resetURL, s.appName)
	return s.send("password_reset", email, subject, body, resetURL)
}

func (s *EmailService) SendWelcomeEmail(email, name string) error {
	dashboardURL := fmt.Sprintf("%s/app/dashboard", s.appURL)
	subject, body := welcomeEmailTemplate(name, dashboardURL, s.appName)
	return s.send("welcome", email, subject, body, dashboardURL)
}

func (s *EmailService) send(kind, to, subject, body, link string) error {
	if s.isDev {
		slog.Info("email sent (dev mode)", "type", kind, "to", to, "subject", subject, "url", link)
		return nil
	}

	if s.client == nil {
		return fmt.Errorf("email service not configured (missing RESEND_API_KEY)")
	}

	params := &resend.SendEmailRequest{
		From:    s.fromEmail,
		To:      []string{to},
		Subject: subject,
		Text:    body,
	}

	_, err := s.client.Emails.SendWithContext(context.Background(), params)
	if err == nil {
		slog.Info("email sent", "type", kind, "to", to)
	}
	return err
}

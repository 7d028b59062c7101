package service

import "fmt"

func verificationEmailTemplate(verifyURL, appName string) (string, string) {
	subject := "Verify your email address"
	body := fmt.Sprintf(`Click this link to verify your email address:
%s

This link expires in 24 hours.

If you didn't create an account, you can safely ignore this email.

Best,
The %s Team`, verifyURL, appName)

	return subject, body
}

func passwordResetEmailTemplate(resetURL, appName string) (string, string) {
	subject := "Reset your password"
	body := fmt.Sprintf(`You requested to reset your password. Click this link to choose a new one:
%s

This link expires in 1 hour and can only be used once.

If you didn't request this, you can safely ignore this email. Your password won't be changed.

Best,
The %s Team`, resetURL, appName)

	return subject, body
}

func welcomeEmailTemplate(name, dashboardURL, appName string) (string, string) {
	subject := fmt.Sprintf("Welcome to %s!", appName)
	greeting := "Hi,"
	if name != "" {
		greeting = fmt.Sprintf("Hi %s,", name)
	}
	body := fmt.Sprintf(`%s

Your email is verified and your account is active!

Get started: %s

If you have questions, reach out to our support team.

Best,
The %s Team`, greeting, dashboardURL, appName)

	return subject, body
}

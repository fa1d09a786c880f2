package mail

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/convobridge/gateway/config"
	"github.com/convobridge/gateway/workqueue"
	"github.com/domodwyer/mailyak/v3"
)

// JobTypeSendOTPEmail is the workqueue job type Mailer registers against.
const JobTypeSendOTPEmail = "send_email_otp"

// otpEmailPayload is the workqueue.Job.Payload shape for JobTypeSendOTPEmail.
type otpEmailPayload struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// Mailer handles sending emails and implements workqueue.Handler
type Mailer struct {
	host        string
	port        int
	username    string
	password    string
	from        string
	authMethod  string
	useTLS      bool
	useStartTLS bool
}

// Handle implements workqueue.Handler for OTP delivery jobs.
func (m *Mailer) Handle(ctx context.Context, job workqueue.Job) error {
	var payload otpEmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to parse email verification payload: %w", err)
	}

	return m.SendOTPEmail(ctx, payload.Email, payload.OTP)
}

var _ workqueue.Handler = (*Mailer)(nil)

// New creates a new Mailer instance from config
func New(cfg config.Smtp) *Mailer {
	return &Mailer{
		host:        cfg.Host,
		port:        cfg.Port,
		username:    cfg.Username,
		password:    cfg.Password,
		from:        cfg.From,
		authMethod:  cfg.AuthMethod,
		useTLS:      cfg.UseTLS,
		useStartTLS: cfg.UseStartTLS,
	}
}

// expiryMinutes mirrors send_otp_email's hardcoded 10-minute copy. It
// describes the code's lifetime to the reader; the actual TTL enforced
// on verification comes from config.TTL.Otp.
const expiryMinutes = 10

// SendOTPEmail sends the one-time verification code, grounded on
// EmailService.send_otp_email's HTML-plus-plain-text message.
func (m *Mailer) SendOTPEmail(ctx context.Context, email, otp string) error {
	var auth smtp.Auth
	switch m.authMethod {
	case "login":
		auth = &loginAuth{username: m.username, password: m.password}
	case "cram-md5":
		auth = smtp.CRAMMD5Auth(m.username, m.password)
	case "none":
		auth = nil
	default: // "plain" or empty
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	mail, err := mailyak.NewWithTLS(fmt.Sprintf("%s:%d", m.host, m.port), auth, &tls.Config{
		ServerName:         m.host,
		InsecureSkipVerify: !m.useTLS, // Only verify cert if using TLS
	})
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}

	mail.To(email)
	mail.From(m.from)
	mail.Subject("Your Email Verification Code")
	mail.HTML().Set(fmt.Sprintf(`
		<h1>Email Verification</h1>
		<p>Thank you for signing up. To complete your registration, please use the following verification code:</p>
		<p style="font-size: 28px; font-weight: bold; letter-spacing: 4px;">%s</p>
		<p>This code expires in %d minutes.</p>
		<p>If you didn't request this code, please ignore this email.</p>
	`, otp, expiryMinutes))
	mail.Plain().Set(fmt.Sprintf(
		"Your verification code is: %s\n\nThis code will expire in %d minutes.\n\nIf you didn't request this code, please ignore this email.",
		otp, expiryMinutes,
	))

	// Send email with context timeout
	done := make(chan error, 1)
	go func() {
		done <- mail.Send()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send OTP email: %w", err)
		}
	}

	slog.Info("sent OTP email", "email", email)
	return nil
}

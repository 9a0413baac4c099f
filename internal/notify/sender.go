package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quillpress/apiserver/config"
	"github.com/quillpress/apiserver/internal/logging"
)

const defaultSMTPTimeout = 30 * time.Second

// SMTPSender delivers mail through an SMTP relay. Every delivery runs under
// one deadline covering the dial and the whole conversation.
type SMTPSender struct {
	addr    string
	host    string
	auth    smtp.Auth
	from    string
	timeout time.Duration
	dialer  *net.Dialer
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}
	return &SMTPSender{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:    cfg.Host,
		auth:    auth,
		from:    cfg.From,
		timeout: timeout,
		dialer:  &net.Dialer{},
	}
}

func (s *SMTPSender) Deliver(ctx context.Context, mail Mail) error {
	if strings.ContainsAny(mail.To, "\r\n") || strings.ContainsAny(mail.Subject, "\r\n") {
		return fmt.Errorf("mail header contains a line break")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", s.addr, err)
	}
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("set smtp deadline: %w", err)
	}
	// Unblock any pending read or write as soon as the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer client.Close()

	if err := s.transmit(client, mail); err != nil {
		return err
	}
	return client.Quit()
}

func (s *SMTPSender) transmit(client *smtp.Client, mail Mail) error {
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if s.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(s.auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}
	if err := client.Mail(s.from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(mail.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(s.compose(mail)); err != nil {
		w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp end data: %w", err)
	}
	return nil
}

func (s *SMTPSender) compose(mail Mail) []byte {
	var b strings.Builder
	b.WriteString("From: " + s.from + "\r\n")
	b.WriteString("To: " + mail.To + "\r\n")
	b.WriteString("Subject: " + mail.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(mail.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// LogSender writes mail to the log instead of sending it. It is used when no
// SMTP host is configured.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logging.Component(logger, "mail-log")}
}

func (s *LogSender) Deliver(_ context.Context, mail Mail) error {
	s.logger.Info().Str("to", mail.To).Str("subject", mail.Subject).Msg("mail not sent; no smtp host configured")
	return nil
}

// NewSender picks SMTP when a host is configured and the log sender otherwise.
func NewSender(cfg config.SMTPConfig, logger zerolog.Logger) Sender {
	if strings.TrimSpace(cfg.Host) == "" {
		return NewLogSender(logger)
	}
	return NewSMTPSender(cfg)
}

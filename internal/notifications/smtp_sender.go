package notifications

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// SMTPConfig holds relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender relays messages through an SMTP server using PLAIN auth over STARTTLS.
type SMTPSender struct {
	cfg      SMTPConfig
	addr     string
	auth     smtp.Auth
	sendMail sendMailFunc
	clock    func() time.Time
}

// NewSMTPSender validates cfg and returns a sender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.From = strings.TrimSpace(cfg.From)
	if cfg.Host == "" {
		return nil, errors.New("smtp sender: host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp sender: from address is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPSender{
		cfg:      cfg,
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth:     auth,
		sendMail: smtp.SendMail,
		clock:    time.Now,
	}, nil
}

// Send delivers msg. net/smtp has no context support, so cancellation abandons the wait
// while the dial finishes in the background.
func (s *SMTPSender) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := msg.validate(); err != nil {
		return SendResult{}, err
	}
	id := ulid.Make().String()
	body := s.compose(id, msg)

	done := make(chan error, 1)
	go func() {
		done <- s.sendMail(s.addr, s.auth, s.cfg.From, []string{msg.To}, body)
	}()
	select {
	case <-ctx.Done():
		return SendResult{}, fmt.Errorf("smtp sender: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return SendResult{}, fmt.Errorf("smtp sender: deliver to %s: %w", msg.To, err)
		}
	}
	return SendResult{MessageID: id, Transport: "smtp"}, nil
}

func (s *SMTPSender) compose(id string, msg Message) []byte {
	var buf bytes.Buffer
	domainPart := s.cfg.Host
	if _, d, ok := strings.Cut(s.cfg.From, "@"); ok {
		domainPart = d
	}
	header := func(key, value string) {
		buf.WriteString(key)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	}
	header("From", s.cfg.From)
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", s.clock().UTC().Format(time.RFC1123Z))
	header("Message-ID", "<"+id+"@"+domainPart+">")
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.HTML, "\r\n", "\n"), "\n", "\r\n"))
	return buf.Bytes()
}

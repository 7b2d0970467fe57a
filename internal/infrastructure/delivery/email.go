package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// SendFunc matches smtp.SendMail so tests can capture messages.
type SendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailDeliverer sends the digest as a multipart HTML/Markdown email via SMTP.
type EmailDeliverer struct {
	host     string
	port     int
	username string
	password string
	from     string
	renderer *Renderer
	send     SendFunc
	now      func() time.Time
}

var _ ports.Deliverer = (*EmailDeliverer)(nil)

// NewEmailDeliverer wires SMTP settings; send may be nil for smtp.SendMail.
func NewEmailDeliverer(cfg config.EmailConfig, renderer *Renderer, send SendFunc) *EmailDeliverer {
	if send == nil {
		send = smtp.SendMail
	}
	return &EmailDeliverer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		renderer: renderer,
		send:     send,
		now:      time.Now,
	}
}

// Deliver renders and sends one email to all recipients. smtp.SendMail does not take a
// context, so ctx is only checked before sending.
func (p *EmailDeliverer) Deliver(ctx context.Context, message domain.DigestMessage) error {
	if len(message.Recipients) == 0 {
		return errors.New("email: no recipients configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rendered, err := p.renderer.Render(message)
	if err != nil {
		return fmt.Errorf("email: %w", err)
	}

	msg, err := p.buildMessage(rendered, message.Recipients)
	if err != nil {
		return fmt.Errorf("email: %w", err)
	}

	var auth smtp.Auth
	if p.username != "" {
		auth = smtp.PlainAuth("", p.username, p.password, p.host)
	}

	addr := fmt.Sprintf("%s:%d", p.host, p.port)
	if err := p.send(addr, auth, p.from, message.Recipients, msg); err != nil {
		return fmt.Errorf("email: failed to send: %w", err)
	}
	return nil
}

func (p *EmailDeliverer) buildMessage(rendered Rendered, to []string) ([]byte, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{contentType: `text/plain; charset="UTF-8"`, content: rendered.Text},
		{contentType: `text/html; charset="UTF-8"`, content: rendered.HTML},
	}
	for _, part := range parts {
		w, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {part.contentType}})
		if err != nil {
			return nil, fmt.Errorf("create mime part: %w", err)
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, fmt.Errorf("write mime part: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close mime writer: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", p.from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", rendered.Subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", p.now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", writer.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

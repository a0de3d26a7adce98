package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// ErrNoStartTLS is returned when the server does not offer STARTTLS. The
// credential is never sent over a plain connection.
var ErrNoStartTLS = errors.New("smtp server does not support STARTTLS")

// SMTPTransport delivers messages over SMTP with a mandatory STARTTLS
// upgrade and PLAIN authentication: dial, upgrade, authenticate, send, quit.
type SMTPTransport struct {
	Host     string
	Port     int
	Username string
	// DialTimeout bounds connection setup; ctx bounds the whole exchange.
	DialTimeout time.Duration
	TLSConfig   *tls.Config

	password string
}

// NewSMTPTransport returns a transport for host:port. The password is kept in
// memory only.
func NewSMTPTransport(host string, port int, username, password string) *SMTPTransport {
	return &SMTPTransport{
		Host:        host,
		Port:        port,
		Username:    username,
		DialTimeout: 30 * time.Second,
		password:    password,
	}
}

// String omits the credential so the transport is safe to log.
func (t *SMTPTransport) String() string {
	return fmt.Sprintf("smtp://%s@%s", t.Username, net.JoinHostPort(t.Host, strconv.Itoa(t.Port)))
}

// Send implements Transport. SMTP 5xx replies (including 535 authentication
// rejected and 550 unknown mailbox) are permanent; 4xx replies and network
// errors are transient.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(t.Host, strconv.Itoa(t.Port))

	dialer := &net.Dialer{Timeout: t.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock any pending read or write on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, t.Host)
	if err != nil {
		conn.Close()
		return classify("greeting", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); !ok {
		return Permanent(ErrNoStartTLS)
	}
	tlsCfg := t.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: t.Host, MinVersion: tls.VersionTLS12}
	}
	if err := c.StartTLS(tlsCfg); err != nil {
		return classify("starttls", err)
	}

	if t.Username != "" {
		auth := smtp.PlainAuth("", t.Username, t.password, t.Host)
		if err := c.Auth(auth); err != nil {
			return classify("auth", err)
		}
	}

	if err := c.Mail(msg.From); err != nil {
		return classify("mail from", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return classify("rcpt to", err)
	}

	w, err := c.Data()
	if err != nil {
		return classify("data", err)
	}
	if _, err := w.Write(buildMessage(msg, time.Now())); err != nil {
		return classify("data", err)
	}
	if err := w.Close(); err != nil {
		return classify("data", err)
	}

	if err := c.Quit(); err != nil {
		return classify("quit", err)
	}
	return nil
}

// classify wraps err with the SMTP phase and marks 5xx replies permanent.
func classify(phase string, err error) error {
	wrapped := fmt.Errorf("smtp %s: %w", phase, err)

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return Permanent(wrapped)
	}
	return wrapped
}

// buildMessage renders headers and a UTF-8 plain-text body with CRLF line
// endings.
func buildMessage(msg Message, now time.Time) []byte {
	var b bytes.Buffer
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}

	header("From", msg.From)
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")

	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}

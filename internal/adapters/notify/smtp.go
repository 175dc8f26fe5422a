package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/ogurasousui/codex-onboarding/internal/platform/config"
)

const (
	defaultSMTPTimeout = 30 * time.Second
	base64LineLength   = 76
)

// SMTPMailer は SMTP サーバーへ直接アクティベーションメールを送信します。
type SMTPMailer struct {
	cfg      config.SMTPConfig
	composer *Composer
	now      func() time.Time
}

// NewSMTPMailer は SMTPMailer を生成します。
func NewSMTPMailer(cfg config.SMTPConfig, composer *Composer) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, composer: composer, now: time.Now}
}

// Send はアクティベーションメールを組み立てて送信します。
func (m *SMTPMailer) Send(ctx context.Context, a Activation) error {
	msg, err := m.composer.Compose(a)
	if err != nil {
		return err
	}

	from := mail.Address{Name: m.cfg.FromName, Address: m.cfg.From}
	to := mail.Address{Name: a.Name, Address: msg.To}

	raw, err := buildMessage(from, to, msg, m.now())
	if err != nil {
		return fmt.Errorf("notify: build message: %w", err)
	}

	return m.deliver(ctx, msg.To, raw)
}

func (m *SMTPMailer) timeout() time.Duration {
	if m.cfg.Timeout > 0 {
		return m.cfg.Timeout
	}
	return defaultSMTPTimeout
}

func (m *SMTPMailer) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: m.timeout(), KeepAlive: 30 * time.Second}
	addr := m.cfg.Addr()

	if m.cfg.UseSSL {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: m.cfg.Host}}
		conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("notify: dial smtp server (ssl) %s: %w", addr, err)
		}
		return conn, nil
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("notify: dial smtp server %s: %w", addr, err)
	}
	return conn, nil
}

// deliver は 1 通分の SMTP セッションを実行します。
// use_ssl なら接続時に TLS、start_tls なら EHLO 後に STARTTLS、どちらもなければ平文で送信します。
func (m *SMTPMailer) deliver(ctx context.Context, to string, raw []byte) error {
	conn, err := m.dial(ctx)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(m.timeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return fmt.Errorf("notify: set deadline: %w", err)
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("notify: create smtp client: %w", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("notify: send hello: %w", err)
	}

	if m.cfg.StartTLS && !m.cfg.UseSSL {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return fmt.Errorf("notify: start tls: %w", err)
		}
	}

	if m.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("notify: authenticate (user: %s): %w", m.cfg.Username, err)
			}
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("notify: set sender (%s): %w", m.cfg.From, err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("notify: set recipient (%s): %w", to, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("notify: open data writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("notify: write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("notify: close data writer: %w", err)
	}

	return client.Quit()
}

// buildMessage は HTML とテキストの代替パートに QR コード画像を添えた multipart/related メッセージを生成します。
func buildMessage(from, to mail.Address, msg *Message, now time.Time) ([]byte, error) {
	var alt bytes.Buffer
	altWriter := multipart.NewWriter(&alt)
	if err := writeQuotedPart(altWriter, "text/plain; charset=UTF-8", msg.Text); err != nil {
		return nil, err
	}
	if err := writeQuotedPart(altWriter, "text/html; charset=UTF-8", msg.HTML); err != nil {
		return nil, err
	}
	if err := altWriter.Close(); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	related := multipart.NewWriter(&body)

	altPart, err := related.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"multipart/alternative; boundary=" + altWriter.Boundary()},
	})
	if err != nil {
		return nil, err
	}
	if _, err := altPart.Write(alt.Bytes()); err != nil {
		return nil, err
	}

	imgPart, err := related.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"image/png"},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Id":                {"<" + QRContentID + ">"},
		"Content-Disposition":       {`inline; filename="qrcode.png"`},
	})
	if err != nil {
		return nil, err
	}
	if _, err := imgPart.Write(wrapBase64(msg.QRCode)); err != nil {
		return nil, err
	}
	if err := related.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", from.String())
	fmt.Fprintf(&out, "To: %s\r\n", to.String())
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&out, "Date: %s\r\n", now.Format(time.RFC1123Z))
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/related; boundary=%s; type=\"multipart/alternative\"\r\n", related.Boundary())
	out.WriteString("\r\n")
	out.Write(body.Bytes())

	return out.Bytes(), nil
}

func writeQuotedPart(w *multipart.Writer, contentType, content string) error {
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return err
	}

	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(content)); err != nil {
		return err
	}
	return qp.Close()
}

func wrapBase64(data []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)

	var b bytes.Buffer
	for len(encoded) > base64LineLength {
		b.WriteString(encoded[:base64LineLength])
		b.WriteString("\r\n")
		encoded = encoded[base64LineLength:]
	}
	b.WriteString(encoded)
	b.WriteString("\r\n")
	return b.Bytes()
}

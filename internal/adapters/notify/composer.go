package notify

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/ogurasousui/codex-onboarding/internal/core/onboarding"
)

const (
	// QRContentID はメール本文から参照する QR コード画像の Content-ID です。
	QRContentID = "qrCodeImage"

	checkPath      = "/portal/onboarding/check/"
	qrSize         = 160
	expiryLayout   = "2006-01-02 15:04 MST"
	defaultSubject = "Digital Onboarding"
)

//go:embed templates/activation.html
var activationTemplate string

// Activation はアクティベーションメール 1 通分の情報です。
type Activation struct {
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Token      string    `json:"token"`
	ExpireDate time.Time `json:"expire_date"`
}

// ActivationFromUser はユーザーからアクティベーション情報を取り出します。
func ActivationFromUser(u *onboarding.User) Activation {
	return Activation{
		UserID:     u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Token:      u.ActivationToken,
		ExpireDate: u.ExpireDate,
	}
}

// Sender はアクティベーションを配送します。
type Sender interface {
	Send(ctx context.Context, a Activation) error
}

// Message は送信可能な状態に組み立てたメールです。
type Message struct {
	To      string
	Subject string
	Link    string
	HTML    string
	Text    string
	QRCode  []byte
}

// Composer はアクティベーションからリンク、QR コード、本文を組み立てます。
type Composer struct {
	baseURL string
	subject string
	tmpl    *template.Template
}

type templateData struct {
	Subject    string
	Name       string
	Link       string
	ExpireDate string
}

// NewComposer は Composer を生成します。baseURL の末尾のスラッシュは取り除きます。
func NewComposer(baseURL, subject string) (*Composer, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("notify: base url is required")
	}
	if subject == "" {
		subject = defaultSubject
	}

	tmpl, err := template.New("activation").Parse(activationTemplate)
	if err != nil {
		return nil, fmt.Errorf("notify: parse activation template: %w", err)
	}

	return &Composer{
		baseURL: strings.TrimRight(baseURL, "/"),
		subject: subject,
		tmpl:    tmpl,
	}, nil
}

// Link はトークンを検証するフロントエンドの URL を返します。
func (c *Composer) Link(token string) string {
	return c.baseURL + checkPath + token
}

// Compose はアクティベーションメールを組み立てます。
func (c *Composer) Compose(a Activation) (*Message, error) {
	if a.Email == "" {
		return nil, fmt.Errorf("notify: recipient email is required")
	}
	if a.Token == "" {
		return nil, fmt.Errorf("notify: activation token is required")
	}

	link := c.Link(a.Token)

	png, err := qrcode.Encode(link, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("notify: encode qr code: %w", err)
	}

	data := templateData{
		Subject:    c.subject,
		Name:       a.Name,
		Link:       link,
		ExpireDate: a.ExpireDate.UTC().Format(expiryLayout),
	}

	var html bytes.Buffer
	if err := c.tmpl.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("notify: render activation template: %w", err)
	}

	text := fmt.Sprintf(
		"Hi %s,\r\n\r\nOpen the following link to continue your onboarding:\r\n%s\r\n\r\nThe link will expire by %s\r\n\r\nIf this is a mistake just ignore this email.\r\n",
		a.Name, link, data.ExpireDate,
	)

	return &Message{
		To:      a.Email,
		Subject: c.subject,
		Link:    link,
		HTML:    html.String(),
		Text:    text,
		QRCode:  png,
	}, nil
}

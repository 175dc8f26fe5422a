package notify

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogurasousui/codex-onboarding/internal/core/onboarding"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func sampleActivation() Activation {
	return Activation{
		UserID:     "0b7f3c1e-2a4d-4f55-9b7e-1d2c3b4a5f60",
		Name:       "Alice <Admin>",
		Email:      "a@x.com",
		Token:      "0123456789abcdef0123456789abcdef",
		ExpireDate: time.Date(2030, 1, 2, 3, 4, 0, 0, time.UTC),
	}
}

func TestComposer_Link(t *testing.T) {
	c, err := NewComposer("https://portal.example.com/", "")
	require.NoError(t, err)

	assert.Equal(t,
		"https://portal.example.com/portal/onboarding/check/0123456789abcdef0123456789abcdef",
		c.Link("0123456789abcdef0123456789abcdef"),
	)
}

func TestComposer_Compose(t *testing.T) {
	c, err := NewComposer("https://portal.example.com", "Digital Onboarding")
	require.NoError(t, err)

	msg, err := c.Compose(sampleActivation())
	require.NoError(t, err)

	link := "https://portal.example.com/portal/onboarding/check/0123456789abcdef0123456789abcdef"

	assert.Equal(t, "a@x.com", msg.To)
	assert.Equal(t, "Digital Onboarding", msg.Subject)
	assert.Equal(t, link, msg.Link)
	assert.True(t, bytes.HasPrefix(msg.QRCode, pngSignature), "qr code should be a png")

	assert.Contains(t, msg.HTML, `href="`+link+`"`)
	assert.Contains(t, msg.HTML, `src="cid:qrCodeImage"`)
	assert.Contains(t, msg.HTML, "2030-01-02 03:04 UTC")
	assert.Contains(t, msg.HTML, "Alice &lt;Admin&gt;")
	assert.NotContains(t, msg.HTML, "Alice <Admin>")

	assert.Contains(t, msg.Text, link)
	assert.Contains(t, msg.Text, "2030-01-02 03:04 UTC")
}

func TestComposer_ComposeRejectsIncompleteActivation(t *testing.T) {
	c, err := NewComposer("https://portal.example.com", "")
	require.NoError(t, err)

	a := sampleActivation()
	a.Token = ""
	_, err = c.Compose(a)
	assert.Error(t, err)

	a = sampleActivation()
	a.Email = ""
	_, err = c.Compose(a)
	assert.Error(t, err)
}

func TestNewComposer_RequiresBaseURL(t *testing.T) {
	_, err := NewComposer("  ", "subject")
	assert.Error(t, err)
}

func TestActivationFromUser(t *testing.T) {
	expire := time.Now().UTC()
	a := ActivationFromUser(&onboarding.User{
		ID:              "id-1",
		Name:            "Bob",
		Email:           "b@x.com",
		ExpireDate:      expire,
		ActivationToken: strings.Repeat("b", 32),
	})

	assert.Equal(t, Activation{
		UserID:     "id-1",
		Name:       "Bob",
		Email:      "b@x.com",
		Token:      strings.Repeat("b", 32),
		ExpireDate: expire,
	}, a)
}

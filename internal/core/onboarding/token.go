package onboarding

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// TokenBytes はトークンの生成に使うランダムバイト数です。16 進表記で 32 文字になります。
const TokenBytes = 16

// TokenGenerator はアクティベーショントークンを生成します。
type TokenGenerator interface {
	Generate() (string, error)
}

// RandomTokenGenerator は暗号論的乱数からトークンを生成します。
type RandomTokenGenerator struct {
	Reader io.Reader
}

// NewRandomTokenGenerator は crypto/rand を利用する RandomTokenGenerator を返します。
func NewRandomTokenGenerator() *RandomTokenGenerator {
	return &RandomTokenGenerator{Reader: rand.Reader}
}

// Generate は 32 文字の 16 進文字列を返します。
func (g *RandomTokenGenerator) Generate() (string, error) {
	r := g.Reader
	if r == nil {
		r = rand.Reader
	}

	buf := make([]byte, TokenBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("token: read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Package ordernumber は人が読める注文番号を作る。
//
// 形式: yyyyMMddHHmmss-XXXXXX-NNNN
//
//	先頭   UTCの時刻（秒まで）
//	中央   ユーザーIDのSHA-256先頭6桁（16進・大文字）
//	末尾   0-9の乱数4桁
//
// 一意性は保証しない（同じユーザー・同じ秒なら1/10000で衝突）。主キーには使わない。
package ordernumber

import (
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"strings"
	"time"
)

const (
	timeLayout   = "20060102150405"
	segmentLen   = 6
	randomDigits = 4
)

type Generator struct {
	now   func() time.Time
	digit func() int
}

type Option func(*Generator)

// テスト用に時計を差し替える
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// 0-9を返す関数を差し替える
func WithDigitSource(digit func() int) Option {
	return func(g *Generator) {
		if digit != nil {
			g.digit = digit
		}
	}
}

func New(opts ...Option) *Generator {
	g := &Generator{
		now:   time.Now,
		digit: func() int { return rand.Intn(10) },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// 注文番号を作る
func (g *Generator) Generate(userID string) string {
	var b strings.Builder
	b.Grow(len(timeLayout) + 1 + segmentLen + 1 + randomDigits)

	b.WriteString(g.now().UTC().Format(timeLayout))
	b.WriteByte('-')
	b.WriteString(UserSegment(userID))
	b.WriteByte('-')
	for i := 0; i < randomDigits; i++ {
		d := g.digit()
		if d < 0 || d > 9 {
			d = ((d % 10) + 10) % 10
		}
		b.WriteByte(byte('0' + d))
	}
	return b.String()
}

// ユーザーIDから決まる中央の6桁
func UserSegment(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return strings.ToUpper(hex.EncodeToString(sum[:]))[:segmentLen]
}

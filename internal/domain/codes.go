package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"
)

// NewAcademyCode builds a teacher's enrollment code: the upper-cased first
// name followed by a three digit suffix, e.g. "ADA-417".
func NewAcademyCode(name string) string {
	first := strings.Fields(name)
	prefix := "GUILD"
	if len(first) > 0 {
		if p := lettersOnly(first[0]); p != "" {
			prefix = p
		}
	}
	return fmt.Sprintf("%s-%d", strings.ToUpper(prefix), suffix(100, 900))
}

// NewClassCode builds a class join code from the first three letters of the
// class name, e.g. "PYT-512".
func NewClassCode(name string) string {
	p := lettersOnly(name)
	if len(p) > 3 {
		p = p[:3]
	}
	for len(p) < 3 {
		p += "X"
	}
	return fmt.Sprintf("%s-%d", strings.ToUpper(p), suffix(100, 900))
}

// NewTAKey builds an observer access key, e.g. "W-KEY-4821".
func NewTAKey() string {
	return fmt.Sprintf("W-KEY-%d", suffix(1000, 9000))
}

// suffix returns base plus a uniform draw from [0, span). The codes are
// enrollment and observer credentials, so they come from crypto/rand.
func suffix(base, span int64) int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return base + n.Int64()
}

// NormalizeCode upper-cases and trims a user-entered code for lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func lettersOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

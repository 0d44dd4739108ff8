package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"
)

const (
	codeAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength    = 20
	codeGroupSize = 4
)

// GenerateCode returns a fresh code such as ABCD-EFGH-IJKL-MNOP-QRST,
// 20 symbols from a 36 symbol alphabet (about 103 bits).
func GenerateCode() (string, error) {
	return generateCode(rand.Reader)
}

func generateCode(random io.Reader) (string, error) {
	alphabetSize := big.NewInt(int64(len(codeAlphabet)))

	var b strings.Builder
	b.Grow(codeLength + codeLength/codeGroupSize)
	for i := 0; i < codeLength; i++ {
		if i > 0 && i%codeGroupSize == 0 {
			b.WriteByte('-')
		}
		n, err := rand.Int(random, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("generate license code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode trims surrounding whitespace and upper-cases. Dashes are kept as
// typed, so "ABCDEFGH..." and "ABCD-EFGH-..." are different codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Digest is the hex SHA-256 of the code, the only form of a code that is stored.
func Digest(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

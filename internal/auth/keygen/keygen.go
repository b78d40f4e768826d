// Package keygen generates authorization codes, token values and
// remember-me series/values from crypto/rand.
package keygen

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

const (
	// CodeAlphabet is the restricted alphabet of authorization codes.
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// DefaultCodeLength is the length of an authorization code.
	DefaultCodeLength = 6
	// TokenBytes is the entropy of an access or refresh token value.
	TokenBytes = 32
	// RememberMeBytes is the entropy of a remember-me series or value.
	RememberMeBytes = 16
)

// Generator produces random strings. Implementations must be safe for
// concurrent use.
type Generator interface {
	Generate() (string, error)
}

// CodeGenerator draws Length characters uniformly from Alphabet.
type CodeGenerator struct {
	Alphabet string
	Length   int
}

// NewCodeGenerator returns a generator for authorization codes.
func NewCodeGenerator(length int) *CodeGenerator {
	if length <= 0 {
		length = DefaultCodeLength
	}
	return &CodeGenerator{Alphabet: CodeAlphabet, Length: length}
}

// Generate implements Generator.
func (g *CodeGenerator) Generate() (string, error) {
	max := big.NewInt(int64(len(g.Alphabet)))
	out := make([]byte, g.Length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		out[i] = g.Alphabet[n.Int64()]
	}
	return string(out), nil
}

// BytesGenerator encodes Size random bytes.
type BytesGenerator struct {
	Size     int
	Encoding *base64.Encoding
}

// NewTokenGenerator returns a generator for opaque token values.
func NewTokenGenerator() *BytesGenerator {
	return &BytesGenerator{Size: TokenBytes, Encoding: base64.RawURLEncoding}
}

// NewRememberMeGenerator returns a generator for remember-me series and values.
func NewRememberMeGenerator() *BytesGenerator {
	return &BytesGenerator{Size: RememberMeBytes, Encoding: base64.StdEncoding}
}

// Generate implements Generator.
func (g *BytesGenerator) Generate() (string, error) {
	b := make([]byte, g.Size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return g.Encoding.EncodeToString(b), nil
}

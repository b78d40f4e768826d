package client

import (
	"golang.org/x/crypto/bcrypt"
)

// SecretEncoder hashes client secrets one way and matches presented
// secrets against stored hashes.
type SecretEncoder interface {
	Encode(plain string) (string, error)
	Matches(plain, encoded string) bool
}

// BcryptEncoder is the default SecretEncoder
type BcryptEncoder struct {
	Cost int
}

// NewBcryptEncoder creates an encoder using bcrypt.DefaultCost
func NewBcryptEncoder() *BcryptEncoder {
	return &BcryptEncoder{Cost: bcrypt.DefaultCost}
}

func (e *BcryptEncoder) Encode(plain string) (string, error) {
	cost := e.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (e *BcryptEncoder) Matches(plain, encoded string) bool {
	return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plain)) == nil
}

// Package codec mints and shape-checks opaque link identifiers.
//
// An id is a pure random lookup key: 22 characters drawn uniformly from
// [A-Za-z0-9], about 131 bits of entropy. It carries no payload and is never
// decoded; existence is decided by the link registry.
package codec

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	IdLength = 22
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var alphabetSize = big.NewInt(int64(len(alphabet)))

// Mint returns a fresh random identifier.
func Mint() (string, error) {
	buf := make([]byte, IdLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("mint id: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

// Validate checks the shape of a candidate id only.
func Validate(candidate string) bool {
	if len(candidate) != IdLength {
		return false
	}
	for i := 0; i < len(candidate); i++ {
		if !isAlnum(candidate[i]) {
			return false
		}
	}
	return true
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

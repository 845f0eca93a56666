package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	KeyLength   = 7
)

var alphabetSize = big.NewInt(int64(len(keyAlphabet)))

// GenerateKey returns a KeyLength-symbol key drawn uniformly from
// keyAlphabet using crypto/rand.
func GenerateKey() (string, error) {
	key := make([]byte, KeyLength)
	for i := range key {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("session: generate key: %w", err)
		}
		key[i] = keyAlphabet[n.Int64()]
	}
	return string(key), nil
}

package client

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
)

// LoadSession reads a solana-keygen JSON keypair file.
func LoadSession(path string) (*Session, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", path, err)
	}
	return NewSession(key), nil
}

// SaveKeygenFile writes key as a solana-keygen JSON byte array.
func SaveKeygenFile(path string, key solana.PrivateKey) error {
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	buf, err := json.Marshal(ints)
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o600)
}

package eth

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// KeySigner signs typed data with a local private key.
// It stands in for a browser wallet in tools and tests.
type KeySigner struct {
	key *ecdsa.PrivateKey
}

// NewKeySigner wraps key
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key}
}

// KeySignerFromHex parses a hex encoded secp256k1 private key
func KeySignerFromHex(hexKey string) (*KeySigner, error) {
	key, err := ParseKey(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	return &KeySigner{key: key}, nil
}

// ParseKey decodes a secp256k1 private key with or without the 0x prefix
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	return crypto.HexToECDSA(hexKey)
}

// Address returns the signer's account
func (s *KeySigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// SignTypedData signs data, honouring ctx cancellation
func (s *KeySigner) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Sign(data, s.key)
}

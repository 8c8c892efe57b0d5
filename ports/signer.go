package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer produces an EIP-712 signature for the connected account
type Signer interface {
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// SignerFunc adapts a function to Signer
type SignerFunc func(ctx context.Context, data apitypes.TypedData) ([]byte, error)

// SignTypedData calls f
func (f SignerFunc) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	return f(ctx, data)
}

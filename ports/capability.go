package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/fhebridge/core"
)

// InputBuilder accumulates plaintext values for one contract call.
// Handles are issued in the order values were added.
type InputBuilder interface {
	Add(width core.Width, value uint64) error
	Encrypt(ctx context.Context) (*core.EncryptedInput, error)
}

// UserDecryptRequest carries the handles to decrypt and the grant material authorizing it
type UserDecryptRequest struct {
	Pairs             []core.HandleContractPair
	PrivateKey        string
	PublicKey         string
	Signature         string
	ContractAddresses []common.Address
	UserAddress       common.Address
	StartTimestamp    int64
	DurationDays      int64
}

// Capability is the encrypt/decrypt surface of an FHE backend bound to one chain
type Capability interface {
	ChainID() uint64
	CreateEncryptedInput(contract, owner common.Address) InputBuilder
	GenerateKeypair() (core.Keypair, error)
	CreateEIP712(publicKey string, contracts []common.Address, startTimestamp, durationDays int64) (apitypes.TypedData, error)
	UserDecrypt(ctx context.Context, req UserDecryptRequest) (map[core.Handle]uint64, error)
}

// Engine is the local cryptographic core of the production SDK
type Engine interface {
	GenerateKeypair() (core.Keypair, error)
	// EncryptList packs values into one compact ciphertext list with a proof of knowledge
	EncryptList(ctx context.Context, publicKey, crs []byte, aux []byte, fields []core.Field) ([]byte, error)
	// Reconstruct recovers cleartexts from KMS shares re-encrypted under the keypair
	Reconstruct(ctx context.Context, kp core.Keypair, handles []core.Handle, shares [][]byte) ([]uint64, error)
}

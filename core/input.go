package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Handle is the on-chain reference to an encrypted value
type Handle [32]byte

// HexToHandle parses a 0x-prefixed 32 byte handle
func HexToHandle(s string) (Handle, error) {
	var h Handle
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return Handle{}, err
	}
	return h, nil
}

func (h Handle) Hex() string    { return hexutil.Encode(h[:]) }
func (h Handle) String() string { return h.Hex() }

// MarshalText encodes the handle as 0x-prefixed hex
func (h Handle) MarshalText() ([]byte, error) {
	return hexutil.Bytes(h[:]).MarshalText()
}

// UnmarshalText decodes a 0x-prefixed hex handle
func (h *Handle) UnmarshalText(input []byte) error {
	return hexutil.UnmarshalFixedText("Handle", input, h[:])
}

// Width is the bit width of an encrypted unsigned integer
type Width uint8

const (
	Width8  Width = 8
	Width16 Width = 16
	Width32 Width = 32
	Width64 Width = 64
)

// Valid reports whether w is a supported width
func (w Width) Valid() bool {
	switch w {
	case Width8, Width16, Width32, Width64:
		return true
	}
	return false
}

// Fits reports whether v can be represented in w bits
func (w Width) Fits(v uint64) bool {
	if w >= Width64 {
		return true
	}
	return v < uint64(1)<<w
}

// FHEType returns the type tag encoded in the handle
func (w Width) FHEType() byte {
	switch w {
	case Width8:
		return 2
	case Width16:
		return 3
	case Width32:
		return 4
	case Width64:
		return 5
	}
	return 0
}

// WidthFromFHEType is the inverse of FHEType
func WidthFromFHEType(t byte) (Width, error) {
	switch t {
	case 2:
		return Width8, nil
	case 3:
		return Width16, nil
	case 4:
		return Width32, nil
	case 5:
		return Width64, nil
	}
	return 0, fmt.Errorf("unsupported fhe type %d", t)
}

// Field is one plaintext value added to an encrypted input
type Field struct {
	Value uint64
	Width Width
}

// EncryptedInput is the result of finalizing an input builder.
// It is bound to one (contract, owner) pair and must be used in a single call.
type EncryptedInput struct {
	Handles []Handle      `json:"handles"`
	Proof   hexutil.Bytes `json:"inputProof"`
}

// HandleContractPair names a handle and the contract allowed to read it
type HandleContractPair struct {
	Handle          Handle         `json:"handle"`
	ContractAddress common.Address `json:"contractAddress"`
}

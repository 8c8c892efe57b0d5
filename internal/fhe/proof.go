// Package fhe implements the handle and input proof layouts shared by the mock and relayer backends.
package fhe

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/fhebridge/core"
)

const (
	// MaxInputBits is the largest number of plaintext bits in one input
	MaxInputBits = 2048
	// MaxInputValues is the largest number of values in one input; the proof
	// stores the count in a single byte
	MaxInputValues = 255

	handleVersion = 0
	signatureLen  = 65
)

// ComputeHandle derives the handle of the index-th value of a ciphertext list
func ComputeHandle(ctDigest []byte, aclAddress []byte, chainID uint64, index int, width core.Width) core.Handle {
	idx := []byte{byte(index)}
	chain := make([]byte, 8)
	binary.BigEndian.PutUint64(chain, chainID)

	hash := crypto.Keccak256(ctDigest, aclAddress, chain, idx)

	var h core.Handle
	copy(h[:21], hash[:21])
	h[21] = byte(index)
	copy(h[22:30], chain)
	h[30] = width.FHEType()
	h[31] = handleVersion
	return h
}

// HandleChainID returns the chain id embedded in h
func HandleChainID(h core.Handle) uint64 {
	return binary.BigEndian.Uint64(h[22:30])
}

// HandleWidth returns the value width embedded in h
func HandleWidth(h core.Handle) (core.Width, error) {
	return core.WidthFromFHEType(h[30])
}

// EncodeProof lays out numHandles | numSigners | handles | signatures | extraData
func EncodeProof(handles []core.Handle, signatures [][]byte, extraData []byte) ([]byte, error) {
	if len(handles) == 0 || len(handles) > MaxInputValues {
		return nil, fmt.Errorf("invalid handle count %d", len(handles))
	}
	if len(signatures) > 255 {
		return nil, fmt.Errorf("too many signatures: %d", len(signatures))
	}

	out := make([]byte, 0, 2+32*len(handles)+signatureLen*len(signatures)+len(extraData))
	out = append(out, byte(len(handles)), byte(len(signatures)))
	for _, h := range handles {
		out = append(out, h[:]...)
	}
	for _, s := range signatures {
		if len(s) != signatureLen {
			return nil, fmt.Errorf("signature must be %d bytes, got %d", signatureLen, len(s))
		}
		out = append(out, s...)
	}
	return append(out, extraData...), nil
}

// DecodedProof is the parsed form of an input proof
type DecodedProof struct {
	Handles    []core.Handle
	Signatures [][]byte
	ExtraData  []byte
}

// DecodeProof parses a proof produced by EncodeProof
func DecodeProof(proof []byte) (*DecodedProof, error) {
	if len(proof) < 2 {
		return nil, errors.New("proof too short")
	}
	n, m := int(proof[0]), int(proof[1])
	need := 2 + 32*n + signatureLen*m
	if n == 0 || len(proof) < need {
		return nil, fmt.Errorf("malformed proof: %d handles, %d signatures, %d bytes", n, m, len(proof))
	}

	d := &DecodedProof{
		Handles:    make([]core.Handle, n),
		Signatures: make([][]byte, m),
	}
	off := 2
	for i := 0; i < n; i++ {
		copy(d.Handles[i][:], proof[off:off+32])
		off += 32
	}
	for i := 0; i < m; i++ {
		d.Signatures[i] = append([]byte(nil), proof[off:off+signatureLen]...)
		off += signatureLen
	}
	d.ExtraData = append([]byte(nil), proof[off:]...)
	return d, nil
}

// CheckFields validates widths, ranges and input limits
func CheckFields(fields []core.Field) error {
	if len(fields) == 0 {
		return errors.New("no values added")
	}
	if len(fields) > MaxInputValues {
		return fmt.Errorf("too many values: %d", len(fields))
	}
	bits := 0
	for _, f := range fields {
		if !f.Width.Valid() {
			return fmt.Errorf("%w: unsupported width %d", core.ErrValueOutOfRange, f.Width)
		}
		if !f.Width.Fits(f.Value) {
			return fmt.Errorf("%w: %d does not fit in %d bits", core.ErrValueOutOfRange, f.Value, f.Width)
		}
		bits += int(f.Width)
	}
	if bits > MaxInputBits {
		return fmt.Errorf("input exceeds %d bits", MaxInputBits)
	}
	return nil
}

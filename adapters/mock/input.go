package mock

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/internal/eth"
	"github.com/layer-3/fhebridge/internal/fhe"
)

type inputBuilder struct {
	instance *Instance
	contract common.Address
	owner    common.Address
	fields   []core.Field
	done     bool
}

func (b *inputBuilder) Add(width core.Width, value uint64) error {
	next := append(append([]core.Field(nil), b.fields...), core.Field{Value: value, Width: width})
	if err := fhe.CheckFields(next); err != nil {
		return err
	}
	b.fields = next
	return nil
}

// Encrypt registers every value with the mock coprocessor and signs the handle list
func (b *inputBuilder) Encrypt(ctx context.Context) (*core.EncryptedInput, error) {
	if b.done {
		return nil, fmt.Errorf("input already encrypted")
	}
	if err := fhe.CheckFields(b.fields); err != nil {
		return nil, err
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	packed := make([]byte, 0, 9*len(b.fields))
	for _, f := range b.fields {
		v := make([]byte, 8)
		binary.BigEndian.PutUint64(v, f.Value)
		packed = append(append(packed, byte(f.Width)), v...)
	}
	digest := crypto.Keccak256(nonce, b.contract.Bytes(), b.owner.Bytes(), packed)

	inst := b.instance
	handles := make([]core.Handle, len(b.fields))
	for i, f := range b.fields {
		h := fhe.ComputeHandle(digest, inst.metadata.ACLAddress.Bytes(), inst.chainID, i, f.Width)
		rec := &record{
			Value:    f.Value,
			Width:    f.Width,
			Contract: b.contract,
			Allowed:  []common.Address{b.owner},
		}
		if err := inst.save(ctx, h, rec); err != nil {
			return nil, fmt.Errorf("failed to register handle: %w", err)
		}
		handles[i] = h
	}

	td := eth.CiphertextVerification(inst.chainID, inst.metadata.InputVerifierAddress, handles, b.owner, b.contract, inst.chainID)
	sig, err := eth.Sign(td, inst.factory.coprocessor)
	if err != nil {
		return nil, err
	}
	proof, err := fhe.EncodeProof(handles, [][]byte{sig}, []byte{0})
	if err != nil {
		return nil, err
	}

	b.done = true
	return &core.EncryptedInput{Handles: handles, Proof: proof}, nil
}

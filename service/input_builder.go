package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/internal/fhe"
	"github.com/layer-3/fhebridge/ports"
)

// BuildInput encrypts a single value for contract on behalf of owner
func BuildInput(ctx context.Context, capability ports.Capability, contract, owner common.Address, value uint64, width core.Width) (*core.EncryptedInput, error) {
	return BuildInputs(ctx, capability, contract, owner, []core.Field{{Value: value, Width: width}})
}

// BuildInputs encrypts several values in one input. Handles follow field order.
func BuildInputs(ctx context.Context, capability ports.Capability, contract, owner common.Address, fields []core.Field) (*core.EncryptedInput, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no values", core.ErrEncryptionFailed)
	}
	if err := fhe.CheckFields(fields); err != nil {
		if errors.Is(err, core.ErrValueOutOfRange) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", core.ErrValueOutOfRange, err)
	}

	builder := capability.CreateEncryptedInput(contract, owner)
	for _, f := range fields {
		if err := builder.Add(f.Width, f.Value); err != nil {
			if errors.Is(err, core.ErrValueOutOfRange) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", core.ErrEncryptionFailed, err)
		}
	}

	in, err := builder.Encrypt(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrEncryptionFailed, err)
	}
	if len(in.Handles) != len(fields) || len(in.Proof) == 0 {
		return nil, fmt.Errorf("%w: backend returned %d handles for %d values", core.ErrEncryptionFailed, len(in.Handles), len(fields))
	}
	return in, nil
}

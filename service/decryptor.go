package service

import (
	"context"
	"fmt"

	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/ports"
	"go.uber.org/zap"
)

// Decryptor reveals handles to the grant holder
type Decryptor struct {
	logger *zap.Logger
}

// NewDecryptor creates a decryptor
func NewDecryptor(logger *zap.Logger) *Decryptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decryptor{logger: logger}
}

// Decrypt returns a cleartext for exactly the requested handles. Every pair
// must belong to a contract the grant covers; this is checked before any call.
func (d *Decryptor) Decrypt(ctx context.Context, capability ports.Capability, grant *core.DecryptionGrant, pairs []core.HandleContractPair) (map[core.Handle]uint64, error) {
	if grant == nil {
		return nil, fmt.Errorf("%w: no grant", core.ErrGrantScopeMismatch)
	}
	for _, p := range pairs {
		if !grant.Covers(p.ContractAddress) {
			return nil, fmt.Errorf("%w: %s", core.ErrGrantScopeMismatch, p.ContractAddress.Hex())
		}
	}
	if len(pairs) == 0 {
		return map[core.Handle]uint64{}, nil
	}

	res, err := capability.UserDecrypt(ctx, ports.UserDecryptRequest{
		Pairs:             pairs,
		PrivateKey:        grant.PrivateKey,
		PublicKey:         grant.PublicKey,
		Signature:         grant.Signature,
		ContractAddresses: grant.ContractAddresses,
		UserAddress:       grant.UserAddress,
		StartTimestamp:    grant.StartTimestamp,
		DurationDays:      grant.DurationDays,
	})
	if err != nil {
		d.logger.Warn("User decryption failed",
			zap.String("user", grant.UserAddress.Hex()),
			zap.Int("handles", len(pairs)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", core.ErrDecryptionFailed, err)
	}

	out := make(map[core.Handle]uint64, len(pairs))
	for _, p := range pairs {
		v, ok := res[p.Handle]
		if !ok {
			return nil, fmt.Errorf("%w: no value for handle %s", core.ErrDecryptionFailed, p.Handle.Hex())
		}
		out[p.Handle] = v
	}
	return out, nil
}

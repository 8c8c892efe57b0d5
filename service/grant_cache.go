package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/internal/eth"
	"github.com/layer-3/fhebridge/ports"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// GrantDurationDays is the validity of a newly signed grant
const GrantDurationDays = 365

// GrantKey is the storage key of the grant for contract and user
func GrantKey(contract, user common.Address) string {
	return "fhevm:decrypt:" + contract.Hex() + ":" + user.Hex()
}

// GrantCache reuses decryption grants until they expire and asks the user to
// sign a new one otherwise
type GrantCache struct {
	store  ports.Store
	events ports.EventPublisher
	group  singleflight.Group
	now    func() time.Time
	logger *zap.Logger
}

// NewGrantCache creates a cache over store. events may be nil.
func NewGrantCache(store ports.Store, events ports.EventPublisher, logger *zap.Logger) *GrantCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GrantCache{
		store:  store,
		events: events,
		now:    time.Now,
		logger: logger,
	}
}

// GetOrCreateGrant returns a valid grant covering contract, signing a new one
// with signer when none is stored. Concurrent calls for the same key share
// one creation.
func (c *GrantCache) GetOrCreateGrant(ctx context.Context, capability ports.Capability, contract, user common.Address, signer ports.Signer) (*core.DecryptionGrant, error) {
	key := GrantKey(contract, user)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.getOrCreate(ctx, key, capability, contract, user, signer)
	})
	if err != nil {
		return nil, err
	}
	g := *v.(*core.DecryptionGrant)
	return &g, nil
}

func (c *GrantCache) getOrCreate(ctx context.Context, key string, capability ports.Capability, contract, user common.Address, signer ports.Signer) (*core.DecryptionGrant, error) {
	now := c.now()

	stored := c.load(ctx, key)
	if stored != nil && stored.ValidAt(now) && stored.Covers(contract) && stored.UserAddress == user {
		if c.signedFor(capability, stored) {
			return stored, nil
		}
		c.logger.Info("Stored grant was signed for another chain", zap.String("key", key), zap.Uint64("chain_id", capability.ChainID()))
	}
	if stored != nil {
		if err := c.store.Remove(ctx, key); err != nil {
			c.logger.Warn("Failed to remove stale grant", zap.String("key", key), zap.Error(err))
		}
		if !stored.ValidAt(now) {
			c.publish(ctx, "expired", stored)
		}
	}

	kp, err := capability.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate keypair: %w", core.ErrGrantDenied, err)
	}

	start := now.Unix()
	td, err := capability.CreateEIP712(kp.PublicKey, []common.Address{contract}, start, GrantDurationDays)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrGrantDenied, err)
	}
	sig, err := signer.SignTypedData(ctx, td)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrGrantDenied, err)
	}

	grant := &core.DecryptionGrant{
		PublicKey:         kp.PublicKey,
		PrivateKey:        kp.PrivateKey,
		Signature:         hexutil.Encode(sig),
		UserAddress:       user,
		ContractAddresses: []common.Address{contract},
		StartTimestamp:    start,
		DurationDays:      GrantDurationDays,
	}

	if raw, err := json.Marshal(grant); err != nil {
		c.logger.Error("Failed to encode grant", zap.String("key", key), zap.Error(err))
	} else if err := c.store.Set(ctx, key, string(raw)); err != nil {
		c.logger.Error("Failed to persist grant", zap.String("key", key), zap.Error(err))
	}

	c.logger.Info("Decryption grant issued",
		zap.String("user", user.Hex()),
		zap.String("contract", contract.Hex()),
		zap.Time("expires_at", grant.ExpiresAt()),
	)
	c.publish(ctx, "issued", grant)
	return grant, nil
}

// signedFor reports whether g's signature is valid for the EIP-712 domain of
// capability's chain. Keys carry no chain id, so a grant signed on one chain
// is found again after a switch.
func (c *GrantCache) signedFor(capability ports.Capability, g *core.DecryptionGrant) bool {
	td, err := capability.CreateEIP712(g.PublicKey, g.ContractAddresses, g.StartTimestamp, g.DurationDays)
	if err != nil {
		return false
	}
	sig, err := hexutil.Decode(g.Signature)
	if err != nil {
		return false
	}
	ok, err := eth.VerifySignatureAgainstAddress(td, sig, g.UserAddress)
	return err == nil && ok
}

// Revoke forgets the grant for contract and user
func (c *GrantCache) Revoke(ctx context.Context, contract, user common.Address) error {
	if err := c.store.Remove(ctx, GrantKey(contract, user)); err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	return nil
}

// load returns nil for a missing, unreadable or corrupt grant
func (c *GrantCache) load(ctx context.Context, key string) *core.DecryptionGrant {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			c.logger.Warn("Failed to read grant", zap.String("key", key), zap.Error(err))
		}
		return nil
	}

	var g core.DecryptionGrant
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		c.logger.Warn("Discarding corrupt grant", zap.String("key", key), zap.Error(err))
		return nil
	}
	if g.PublicKey == "" || g.PrivateKey == "" || g.Signature == "" || len(g.ContractAddresses) == 0 {
		c.logger.Warn("Discarding incomplete grant", zap.String("key", key))
		return nil
	}
	return &g
}

func (c *GrantCache) publish(ctx context.Context, kind string, g *core.DecryptionGrant) {
	if c.events == nil {
		return
	}
	var err error
	switch kind {
	case "issued":
		err = c.events.PublishGrantIssued(ctx, g)
	case "expired":
		err = c.events.PublishGrantExpired(ctx, g)
	}
	if err != nil {
		c.logger.Warn("Failed to publish grant event", zap.String("event", kind), zap.Error(err))
	}
}

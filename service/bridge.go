package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/ports"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Session is the FHE capability bound to the currently connected chain
type Session struct {
	Classification *core.ChainClassification
	Capability     ports.Capability
	Conn           ports.Connection
}

// ChainID returns the chain the session is bound to
func (s *Session) ChainID() uint64 {
	return s.Classification.ChainID
}

// Bridge keeps exactly one live session and runs operations against it
type Bridge struct {
	resolver  *ChainResolver
	backends  *BackendFactory
	grants    *GrantCache
	decryptor *Decryptor
	logger    *zap.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	session *Session
	gen     uint64 // number of the most recent Attach

	// target is the chain and connection of the newest classified Attach
	target     string
	targetConn ports.Connection
	targetGen  uint64
}

// NewBridge wires the bridge components
func NewBridge(resolver *ChainResolver, backends *BackendFactory, grants *GrantCache, decryptor *Decryptor, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		resolver:  resolver,
		backends:  backends,
		grants:    grants,
		decryptor: decryptor,
		logger:    logger,
	}
}

// Attach classifies conn and makes its chain the live session. The bridge
// takes ownership of conn: it is closed when it is not adopted, and when the
// session holding it is replaced or detached. Attaching the connection already
// live reuses the session. Only the chain and connection of the newest Attach
// may be installed; an older one that finishes later fails with
// core.ErrStaleSession.
func (b *Bridge) Attach(ctx context.Context, conn ports.Connection) (*Session, error) {
	b.mu.Lock()
	b.gen++
	gen := b.gen
	b.mu.Unlock()

	cls, err := b.resolver.Classify(ctx, conn)
	if err != nil {
		b.abandon(gen, conn)
		return nil, err
	}

	key := fmt.Sprintf("%d/%p", cls.ChainID, conn)
	b.mu.Lock()
	if gen > b.targetGen {
		b.target, b.targetConn, b.targetGen = key, conn, gen
	}
	b.mu.Unlock()

	v, err, _ := b.group.Do(key, func() (interface{}, error) {
		if s := b.Current(); s != nil && s.ChainID() == cls.ChainID && s.Conn == conn {
			return s, nil
		}

		capability, err := b.backends.Create(ctx, cls, conn)
		if err != nil {
			b.abandon(gen, conn)
			return nil, err
		}
		return b.install(key, &Session{Classification: cls, Capability: capability, Conn: conn})
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// install makes s the live session unless a newer Attach resolved to another
// chain or connection meanwhile
func (b *Bridge) install(key string, s *Session) (*Session, error) {
	b.mu.Lock()
	if b.target != key {
		held := b.inUse(s.Conn)
		b.mu.Unlock()
		if !held {
			closeConn(s.Conn)
		}
		b.logger.Info("Discarding session superseded by a newer attach", zap.Uint64("chain_id", s.ChainID()))
		return nil, core.ErrStaleSession
	}
	prev := b.session
	b.session = s
	b.mu.Unlock()

	if prev != nil {
		if prev.Conn != s.Conn {
			closeConn(prev.Conn)
		}
		b.logger.Info("Session replaced",
			zap.Uint64("from", prev.ChainID()),
			zap.Uint64("to", s.ChainID()),
		)
	}
	b.logger.Info("Session attached",
		zap.Uint64("chain_id", s.ChainID()),
		zap.Stringer("mode", s.Classification.Mode),
	)
	return s, nil
}

// abandon releases conn after a failed attach. When conn was the most recent
// request the wallet now sits on an unusable chain, so the live session is
// dropped as well.
func (b *Bridge) abandon(gen uint64, conn ports.Connection) {
	b.mu.Lock()
	var dropped *Session
	if b.gen == gen {
		dropped = b.session
		b.session = nil
		b.target, b.targetConn, b.targetGen = "", nil, gen
	}
	held := b.inUse(conn)
	b.mu.Unlock()

	if dropped != nil {
		if dropped.Conn != conn {
			closeConn(dropped.Conn)
		}
		b.logger.Warn("Attach failed, session detached", zap.Uint64("chain_id", dropped.ChainID()))
	}
	if !held {
		closeConn(conn)
	}
}

// inUse reports whether the live session or the newest Attach uses conn; b.mu
// must be held
func (b *Bridge) inUse(conn ports.Connection) bool {
	return b.targetConn == conn || (b.session != nil && b.session.Conn == conn)
}

// Current returns the live session, nil when nothing is attached
func (b *Bridge) Current() *Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Detach drops the live session and closes its connection. Attaches still in
// flight are treated as superseded.
func (b *Bridge) Detach() {
	b.mu.Lock()
	prev := b.session
	b.session = nil
	b.target, b.targetConn, b.targetGen = "", nil, b.gen
	b.mu.Unlock()

	if prev != nil {
		closeConn(prev.Conn)
		b.logger.Info("Session detached", zap.Uint64("chain_id", prev.ChainID()))
	}
}

func closeConn(conn ports.Connection) {
	if c, ok := conn.(interface{ Close() }); ok {
		c.Close()
	}
}

// Encrypt builds an encrypted input for contract on the live chain
func (b *Bridge) Encrypt(ctx context.Context, contract, owner common.Address, fields []core.Field) (*core.EncryptedInput, error) {
	s, err := b.live()
	if err != nil {
		return nil, err
	}
	in, err := BuildInputs(ctx, s.Capability, contract, owner, fields)
	if err != nil {
		return nil, err
	}
	if err := b.checkStale(s); err != nil {
		return nil, err
	}
	return in, nil
}

// Grant returns a decryption grant for user on contract
func (b *Bridge) Grant(ctx context.Context, contract, user common.Address, signer ports.Signer) (*core.DecryptionGrant, error) {
	s, err := b.live()
	if err != nil {
		return nil, err
	}
	g, err := b.grants.GetOrCreateGrant(ctx, s.Capability, contract, user, signer)
	if err != nil {
		return nil, err
	}
	if err := b.checkStale(s); err != nil {
		return nil, err
	}
	return g, nil
}

// Decrypt reveals pairs under grant on the live chain
func (b *Bridge) Decrypt(ctx context.Context, grant *core.DecryptionGrant, pairs []core.HandleContractPair) (map[core.Handle]uint64, error) {
	s, err := b.live()
	if err != nil {
		return nil, err
	}
	out, err := b.decryptor.Decrypt(ctx, s.Capability, grant, pairs)
	if err != nil {
		return nil, err
	}
	if err := b.checkStale(s); err != nil {
		return nil, err
	}
	return out, nil
}

// Revoke forgets the stored grant of user on contract
func (b *Bridge) Revoke(ctx context.Context, contract, user common.Address) error {
	return b.grants.Revoke(ctx, contract, user)
}

func (b *Bridge) live() (*Session, error) {
	s := b.Current()
	if s == nil {
		return nil, fmt.Errorf("%w: no chain attached", core.ErrChainUnavailable)
	}
	return s, nil
}

// checkStale fails when the chain changed while an operation on s was running
func (b *Bridge) checkStale(s *Session) error {
	cur := b.Current()
	if cur == nil || cur.ChainID() != s.ChainID() {
		b.logger.Debug("Discarding result of stale session", zap.Uint64("chain_id", s.ChainID()))
		return core.ErrStaleSession
	}
	return nil
}

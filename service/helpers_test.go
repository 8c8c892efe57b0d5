package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/internal/eth"
	"github.com/layer-3/fhebridge/ports"
	"github.com/stretchr/testify/require"
)

var (
	contractA = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	contractB = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	kmsAddr   = common.HexToAddress("0x1364cBBf2cDF5032C47d8226a6f6FBD2AFCDacAC")
)

// fakeCapability records calls and answers decryption from a fixed table
type fakeCapability struct {
	chainID uint64

	keypairs int32
	decrypts int32

	mu         sync.Mutex
	values     map[core.Handle]uint64
	decryptErr error
	keypairErr error
}

func newFakeCapability(chainID uint64) *fakeCapability {
	return &fakeCapability{chainID: chainID, values: map[core.Handle]uint64{}}
}

func (f *fakeCapability) ChainID() uint64 { return f.chainID }

func (f *fakeCapability) CreateEncryptedInput(contract, owner common.Address) ports.InputBuilder {
	return &failingBuilder{}
}

func (f *fakeCapability) GenerateKeypair() (core.Keypair, error) {
	atomic.AddInt32(&f.keypairs, 1)
	if f.keypairErr != nil {
		return core.Keypair{}, f.keypairErr
	}
	return core.Keypair{PublicKey: "0x0102", PrivateKey: "0x0304"}, nil
}

func (f *fakeCapability) CreateEIP712(publicKey string, contracts []common.Address, start, days int64) (apitypes.TypedData, error) {
	return eth.UserDecryptRequest(f.chainID, kmsAddr, publicKey, contracts, f.chainID, start, days)
}

func (f *fakeCapability) UserDecrypt(_ context.Context, req ports.UserDecryptRequest) (map[core.Handle]uint64, error) {
	atomic.AddInt32(&f.decrypts, 1)
	if f.decryptErr != nil {
		return nil, f.decryptErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[core.Handle]uint64, len(f.values))
	for h, v := range f.values {
		out[h] = v
	}
	return out, nil
}

type failingBuilder struct{}

func (failingBuilder) Add(core.Width, uint64) error { return nil }

func (failingBuilder) Encrypt(context.Context) (*core.EncryptedInput, error) {
	return nil, errors.New("relayer unavailable")
}

// countingSigner counts signature requests
type countingSigner struct {
	inner ports.Signer
	calls int32
	err   error
}

func newUser(t *testing.T) (*eth.KeySigner, *countingSigner) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	ks := eth.NewKeySigner(key)
	return ks, &countingSigner{inner: ks}
}

func (s *countingSigner) SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return s.inner.SignTypedData(ctx, td)
}

func (s *countingSigner) Calls() int {
	return int(atomic.LoadInt32(&s.calls))
}

// recordingPublisher keeps published grant events
type recordingPublisher struct {
	mu      sync.Mutex
	issued  []*core.DecryptionGrant
	expired []*core.DecryptionGrant
	err     error
}

func (p *recordingPublisher) PublishGrantIssued(_ context.Context, g *core.DecryptionGrant) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued = append(p.issued, g)
	return p.err
}

func (p *recordingPublisher) PublishGrantExpired(_ context.Context, g *core.DecryptionGrant) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expired = append(p.expired, g)
	return p.err
}

// brokenStore fails every write
type brokenStore struct {
	ports.Store
}

func (brokenStore) Set(context.Context, string, string) error {
	return errors.New("disk full")
}

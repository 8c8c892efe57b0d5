// Package mock is the FHE backend for development chains. It mirrors the
// production SDK surface but keeps cleartexts in a local store and signs input
// proofs with an in-process coprocessor key, so no relayer is involved.
package mock

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/internal/eth"
	"github.com/layer-3/fhebridge/internal/fhe"
	"github.com/layer-3/fhebridge/ports"
	"go.uber.org/zap"
)

// Factory builds mock capabilities. Instances built by one Factory share the
// cleartext store and the coprocessor key.
type Factory struct {
	store       ports.Store
	coprocessor *ecdsa.PrivateKey
	now         func() time.Time
	logger      *zap.Logger
}

// Option configures a Factory
type Option func(*Factory)

// WithCoprocessorKey fixes the key that signs input proofs. Factories in
// different processes must share it, along with the store, to accept each
// other's proofs.
func WithCoprocessorKey(key *ecdsa.PrivateKey) Option {
	return func(f *Factory) {
		f.coprocessor = key
	}
}

// NewFactory creates a factory. Without WithCoprocessorKey a fresh key is
// generated.
func NewFactory(store ports.Store, logger *zap.Logger, opts ...Option) (*Factory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Factory{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.coprocessor == nil {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate coprocessor key: %w", err)
		}
		f.coprocessor = key
		logger.Debug("Generated ephemeral coprocessor key", zap.String("address", f.Coprocessor().Hex()))
	}
	return f, nil
}

// Coprocessor returns the address that signs input proofs
func (f *Factory) Coprocessor() common.Address {
	return crypto.PubkeyToAddress(f.coprocessor.PublicKey)
}

// New builds a capability for a development chain from its metadata alone
func (f *Factory) New(ctx context.Context, rpcURL string, chainID uint64, meta core.RelayerMetadata) (*Instance, error) {
	if !meta.Complete() {
		return nil, errors.New("incomplete relayer metadata")
	}
	f.logger.Debug("Building mock FHE instance",
		zap.Uint64("chain_id", chainID),
		zap.String("rpc_url", rpcURL),
		zap.String("acl", meta.ACLAddress.Hex()),
	)
	return &Instance{
		factory:  f,
		chainID:  chainID,
		rpcURL:   rpcURL,
		metadata: meta,
	}, nil
}

// Instance is a ports.Capability for one development chain
type Instance struct {
	factory  *Factory
	chainID  uint64
	rpcURL   string
	metadata core.RelayerMetadata
}

var _ ports.Capability = (*Instance)(nil)

// record is what the mock coprocessor remembers about a handle
type record struct {
	Value    uint64           `json:"value"`
	Width    core.Width       `json:"width"`
	Contract common.Address   `json:"contract"`
	Allowed  []common.Address `json:"allowed"`
}

func (r *record) allows(addr common.Address) bool {
	for _, a := range r.Allowed {
		if a == addr {
			return true
		}
	}
	return false
}

// ChainID returns the chain the instance is bound to
func (i *Instance) ChainID() uint64 {
	return i.chainID
}

// CreateEncryptedInput starts an input for contract on behalf of owner
func (i *Instance) CreateEncryptedInput(contract, owner common.Address) ports.InputBuilder {
	return &inputBuilder{instance: i, contract: contract, owner: owner}
}

// GenerateKeypair returns a secp256k1 transport keypair
func (i *Instance) GenerateKeypair() (core.Keypair, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return core.Keypair{}, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return core.Keypair{
		PublicKey:  hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey)),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
	}, nil
}

// CreateEIP712 builds the grant request the user signs
func (i *Instance) CreateEIP712(publicKey string, contracts []common.Address, startTimestamp, durationDays int64) (apitypes.TypedData, error) {
	return eth.UserDecryptRequest(i.chainID, i.metadata.KMSVerifierAddress, publicKey, contracts, i.chainID, startTimestamp, durationDays)
}

// UserDecrypt checks the grant signature, validity window and ACL, then returns cleartexts
func (i *Instance) UserDecrypt(ctx context.Context, req ports.UserDecryptRequest) (map[core.Handle]uint64, error) {
	now := i.factory.now().Unix()
	if now < req.StartTimestamp || now >= req.StartTimestamp+req.DurationDays*core.SecondsPerDay {
		return nil, errors.New("decryption request is outside its validity window")
	}
	if err := checkKeypair(req.PublicKey, req.PrivateKey); err != nil {
		return nil, err
	}

	td, err := i.CreateEIP712(req.PublicKey, req.ContractAddresses, req.StartTimestamp, req.DurationDays)
	if err != nil {
		return nil, err
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	ok, err := eth.VerifySignatureAgainstAddress(td, sig, req.UserAddress)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("signature does not match user address")
	}

	out := make(map[core.Handle]uint64, len(req.Pairs))
	for _, p := range req.Pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !contains(req.ContractAddresses, p.ContractAddress) {
			return nil, fmt.Errorf("contract %s not in signed scope", p.ContractAddress.Hex())
		}
		rec, err := i.load(ctx, p.Handle)
		if err != nil {
			return nil, err
		}
		if rec.Contract != p.ContractAddress || !rec.allows(req.UserAddress) {
			return nil, fmt.Errorf("user %s is not authorized to decrypt handle %s", req.UserAddress.Hex(), p.Handle.Hex())
		}
		out[p.Handle] = rec.Value
	}
	return out, nil
}

// Allow grants addr read access to handle, as the ACL contract would
func (i *Instance) Allow(ctx context.Context, handle core.Handle, addr common.Address) error {
	rec, err := i.load(ctx, handle)
	if err != nil {
		return err
	}
	if !rec.allows(addr) {
		rec.Allowed = append(rec.Allowed, addr)
	}
	return i.save(ctx, handle, rec)
}

// VerifyInputProof checks a proof the way the input verifier contract does and
// returns the attested handles
func (i *Instance) VerifyInputProof(proof []byte, contract, user common.Address) ([]core.Handle, error) {
	d, err := fhe.DecodeProof(proof)
	if err != nil {
		return nil, err
	}
	if len(d.Signatures) == 0 {
		return nil, errors.New("proof carries no coprocessor signature")
	}
	td := eth.CiphertextVerification(i.chainID, i.metadata.InputVerifierAddress, d.Handles, user, contract, i.chainID)
	for _, sig := range d.Signatures {
		ok, err := eth.VerifySignatureAgainstAddress(td, sig, i.factory.Coprocessor())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("proof signature is not from the coprocessor")
		}
	}
	return d.Handles, nil
}

func (i *Instance) key(h core.Handle) string {
	return "mock:" + strconv.FormatUint(i.chainID, 10) + ":" + h.Hex()
}

func (i *Instance) load(ctx context.Context, h core.Handle) (*record, error) {
	raw, err := i.factory.store.Get(ctx, i.key(h))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("unknown handle %s", h.Hex())
		}
		return nil, err
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("corrupt record for handle %s: %w", h.Hex(), err)
	}
	return &rec, nil
}

func (i *Instance) save(ctx context.Context, h core.Handle, rec *record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return i.factory.store.Set(ctx, i.key(h), string(raw))
}

func checkKeypair(publicKey, privateKey string) error {
	key, err := crypto.HexToECDSA(trim0x(privateKey))
	if err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}
	pub, err := hexutil.Decode(publicKey)
	if err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}
	if !bytes.Equal(crypto.FromECDSAPub(&key.PublicKey), pub) {
		return errors.New("private key does not match public key")
	}
	return nil
}

func contains(list []common.Address, addr common.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

func trim0x(s string) string {
	if len(s) >= 2 && s[:2] == "0x" {
		return s[2:]
	}
	return s
}

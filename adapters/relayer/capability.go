// Package relayer is the production FHE backend: ciphertexts are produced by the
// local SDK engine, attested by the relayer's coprocessors, and decrypted through
// the relayer's KMS.
package relayer

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/fhebridge/adapters/rpc"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/internal/eth"
	"github.com/layer-3/fhebridge/internal/fhe"
	"github.com/layer-3/fhebridge/ports"
	"go.uber.org/zap"
)

// Capability is a ports.Capability backed by the relayer
type Capability struct {
	cfg    NetworkConfig
	engine ports.Engine
	client *Client
	keys   *KeyMaterial
	logger *zap.Logger
}

var _ ports.Capability = (*Capability)(nil)

// New binds a capability to cfg. The connection must be on cfg.ChainID.
func New(ctx context.Context, cfg NetworkConfig, conn ports.Connection, engine ports.Engine, httpClient *http.Client, logger *zap.Logger) (*Capability, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	chainID, err := rpc.ChainID(ctx, conn)
	if err != nil {
		return nil, err
	}
	if chainID != cfg.ChainID {
		return nil, fmt.Errorf("connection is on chain %d, network config expects %d", chainID, cfg.ChainID)
	}

	client := NewClient(cfg.RelayerURL, httpClient)
	keys, err := client.FetchKeyMaterial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key material: %w", err)
	}

	logger.Info("Relayer FHE instance ready",
		zap.Uint64("chain_id", cfg.ChainID),
		zap.String("relayer", cfg.RelayerURL),
		zap.String("public_key_id", keys.PublicKeyID),
		zap.String("crs_id", keys.CRSID),
	)

	return &Capability{
		cfg:    cfg,
		engine: engine,
		client: client,
		keys:   keys,
		logger: logger,
	}, nil
}

// ChainID returns the host chain id
func (c *Capability) ChainID() uint64 {
	return c.cfg.ChainID
}

// CreateEncryptedInput starts an input for contract on behalf of owner
func (c *Capability) CreateEncryptedInput(contract, owner common.Address) ports.InputBuilder {
	return &inputBuilder{capability: c, contract: contract, owner: owner}
}

// GenerateKeypair delegates to the SDK engine
func (c *Capability) GenerateKeypair() (core.Keypair, error) {
	return c.engine.GenerateKeypair()
}

// CreateEIP712 builds the grant request under the gateway chain domain
func (c *Capability) CreateEIP712(publicKey string, contracts []common.Address, startTimestamp, durationDays int64) (apitypes.TypedData, error) {
	return eth.UserDecryptRequest(
		c.cfg.GatewayChainID,
		c.cfg.VerifyingContractAddressDecryption,
		publicKey,
		contracts,
		c.cfg.ChainID,
		startTimestamp,
		durationDays,
	)
}

// UserDecrypt asks the relayer for KMS shares and reconstructs the cleartexts locally
func (c *Capability) UserDecrypt(ctx context.Context, req ports.UserDecryptRequest) (map[core.Handle]uint64, error) {
	pairs := make([]handleContractPair, len(req.Pairs))
	handles := make([]core.Handle, len(req.Pairs))
	for i, p := range req.Pairs {
		pairs[i] = handleContractPair{Handle: p.Handle.Hex(), ContractAddress: p.ContractAddress.Hex()}
		handles[i] = p.Handle
	}
	contracts := make([]string, len(req.ContractAddresses))
	for i, a := range req.ContractAddresses {
		contracts[i] = a.Hex()
	}

	res, err := c.client.UserDecrypt(ctx, userDecryptRequest{
		HandleContractPairs: pairs,
		RequestValidity: requestValidity{
			StartTimestamp: strconv.FormatInt(req.StartTimestamp, 10),
			DurationDays:   strconv.FormatInt(req.DurationDays, 10),
		},
		ContractsChainID:  strconv.FormatUint(c.cfg.ChainID, 10),
		ContractAddresses: contracts,
		UserAddress:       req.UserAddress.Hex(),
		Signature:         strip0x(req.Signature),
		PublicKey:         strip0x(req.PublicKey),
		ExtraData:         "0x00",
	})
	if err != nil {
		return nil, err
	}
	if len(res.Response) == 0 {
		return nil, fmt.Errorf("relayer returned no decryption shares")
	}

	shares := make([][]byte, len(res.Response))
	for i, s := range res.Response {
		b, err := hex.DecodeString(strip0x(s.Payload))
		if err != nil {
			return nil, fmt.Errorf("invalid share %d: %w", i, err)
		}
		shares[i] = b
	}

	values, err := c.engine.Reconstruct(ctx, core.Keypair{PublicKey: req.PublicKey, PrivateKey: req.PrivateKey}, handles, shares)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct cleartexts: %w", err)
	}
	if len(values) != len(handles) {
		return nil, fmt.Errorf("engine returned %d values for %d handles", len(values), len(handles))
	}

	out := make(map[core.Handle]uint64, len(handles))
	for i, h := range handles {
		out[h] = values[i]
	}
	return out, nil
}

type inputBuilder struct {
	capability *Capability
	contract   common.Address
	owner      common.Address
	fields     []core.Field
	done       bool
}

func (b *inputBuilder) Add(width core.Width, value uint64) error {
	next := append(append([]core.Field(nil), b.fields...), core.Field{Value: value, Width: width})
	if err := fhe.CheckFields(next); err != nil {
		return err
	}
	b.fields = next
	return nil
}

// Encrypt encrypts locally, then has the relayer attest the ciphertext list
func (b *inputBuilder) Encrypt(ctx context.Context) (*core.EncryptedInput, error) {
	if b.done {
		return nil, fmt.Errorf("input already encrypted")
	}
	if err := fhe.CheckFields(b.fields); err != nil {
		return nil, err
	}
	c := b.capability

	// contract ‖ user ‖ acl ‖ chainId, bound into the zk proof
	aux := make([]byte, 0, 3*common.AddressLength+32)
	aux = append(aux, b.contract.Bytes()...)
	aux = append(aux, b.owner.Bytes()...)
	aux = append(aux, c.cfg.ACLContractAddress.Bytes()...)
	aux = append(aux, common.LeftPadBytes(new(big.Int).SetUint64(c.cfg.ChainID).Bytes(), 32)...)

	ct, err := c.engine.EncryptList(ctx, c.keys.PublicKey, c.keys.CRS, aux, b.fields)
	if err != nil {
		return nil, fmt.Errorf("local encryption failed: %w", err)
	}

	res, err := c.client.InputProof(ctx, inputProofRequest{
		ContractAddress:                 b.contract.Hex(),
		UserAddress:                     b.owner.Hex(),
		CiphertextWithInputVerification: hex.EncodeToString(ct),
		ContractChainID:                 hexutil.EncodeUint64(c.cfg.ChainID),
		ExtraData:                       "0x00",
	})
	if err != nil {
		return nil, err
	}
	if len(res.Response.Handles) != len(b.fields) {
		return nil, fmt.Errorf("relayer returned %d handles for %d values", len(res.Response.Handles), len(b.fields))
	}

	handles := make([]core.Handle, len(res.Response.Handles))
	for i, s := range res.Response.Handles {
		h, err := core.HexToHandle("0x" + strip0x(s))
		if err != nil {
			return nil, fmt.Errorf("invalid handle %d: %w", i, err)
		}
		if int(h[21]) != i || fhe.HandleChainID(h) != c.cfg.ChainID {
			return nil, fmt.Errorf("handle %d does not match the submitted input", i)
		}
		handles[i] = h
	}
	sigs := make([][]byte, len(res.Response.Signatures))
	for i, s := range res.Response.Signatures {
		sig, err := hex.DecodeString(strip0x(s))
		if err != nil {
			return nil, fmt.Errorf("invalid coprocessor signature %d: %w", i, err)
		}
		sigs[i] = sig
	}

	proof, err := fhe.EncodeProof(handles, sigs, []byte{0})
	if err != nil {
		return nil, err
	}

	b.done = true
	return &core.EncryptedInput{Handles: handles, Proof: proof}, nil
}

func strip0x(s string) string {
	return strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
}

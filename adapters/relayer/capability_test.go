package relayer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/internal/fhe"
	"github.com/layer-3/fhebridge/internal/testnode"
	"github.com/layer-3/fhebridge/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testContract = common.HexToAddress("0x70f3789a61Acf802aB97C5cf4B45Df5bEA671Eba")
	testUser     = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

// fakeEngine encodes the value count as the ciphertext and reads one byte per
// handle from the first share
type fakeEngine struct {
	mu     sync.Mutex
	fields []core.Field
	pk     []byte
	crs    []byte
}

func (e *fakeEngine) GenerateKeypair() (core.Keypair, error) {
	return core.Keypair{PublicKey: "0xaa", PrivateKey: "0xbb"}, nil
}

func (e *fakeEngine) EncryptList(_ context.Context, pk, crs, _ []byte, fields []core.Field) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fields, e.pk, e.crs = fields, pk, crs
	return []byte{byte(len(fields))}, nil
}

func (e *fakeEngine) Reconstruct(_ context.Context, _ core.Keypair, handles []core.Handle, shares [][]byte) ([]uint64, error) {
	out := make([]uint64, len(handles))
	for i := range handles {
		out[i] = uint64(shares[0][i])
	}
	return out, nil
}

type fakeRelayer struct {
	t         *testing.T
	server    *httptest.Server
	mu        sync.Mutex
	decrypts  []userDecryptRequest
	inputs    []inputProofRequest
	keyStatus int
}

func newFakeRelayer(t *testing.T, chainID uint64) *fakeRelayer {
	r := &fakeRelayer{t: t, keyStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/keyurl", func(w http.ResponseWriter, _ *http.Request) {
		if r.keyStatus != http.StatusOK {
			w.WriteHeader(r.keyStatus)
			return
		}
		base := r.server.URL
		_, _ = w.Write([]byte(`{"response":{"fhe_key_info":[{"fhe_public_key":{"data_id":"pk1","urls":["` + base + `/keys/pk"]}}],"crs":{"2048":{"data_id":"crs1","urls":["` + base + `/keys/crs"]}}}}`))
	})
	mux.HandleFunc("/keys/pk", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("public-key")) })
	mux.HandleFunc("/keys/crs", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("crs")) })
	mux.HandleFunc("/v1/input-proof", func(w http.ResponseWriter, req *http.Request) {
		var body inputProofRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		r.mu.Lock()
		r.inputs = append(r.inputs, body)
		r.mu.Unlock()

		ct, err := hex.DecodeString(body.CiphertextWithInputVerification)
		require.NoError(t, err)
		n := int(ct[0])
		handles := make([]string, n)
		for i := 0; i < n; i++ {
			h := fhe.ComputeHandle(ct, common.Address{}.Bytes(), chainID, i, core.Width64)
			handles[i] = hex.EncodeToString(h[:])
		}
		sig := hex.EncodeToString(make([]byte, 65))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"response": map[string]interface{}{"handles": handles, "signatures": []string{sig}},
		})
	})
	mux.HandleFunc("/v1/user-decrypt", func(w http.ResponseWriter, req *http.Request) {
		var body userDecryptRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		r.mu.Lock()
		r.decrypts = append(r.decrypts, body)
		r.mu.Unlock()

		payload := make([]byte, len(body.HandleContractPairs))
		for i := range payload {
			payload[i] = byte(42 + i)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"response": []map[string]string{{"payload": hex.EncodeToString(payload), "signature": "00"}},
		})
	})
	r.server = httptest.NewServer(mux)
	t.Cleanup(r.server.Close)
	return r
}

func newCapability(t *testing.T) (*Capability, *fakeRelayer, *fakeEngine) {
	node := &testnode.Node{ChainID: 11155111, ClientVersion: "Geth/v1.15.11"}
	node.Start()
	t.Cleanup(node.Stop)

	relayer := newFakeRelayer(t, node.ChainID)
	cfg := SepoliaConfig()
	cfg.RelayerURL = relayer.server.URL

	engine := &fakeEngine{}
	c, err := New(context.Background(), cfg, node.Connection(), engine, relayer.server.Client(), nil)
	require.NoError(t, err)
	return c, relayer, engine
}

func TestNew_FetchesKeyMaterial(t *testing.T) {
	c, _, _ := newCapability(t)

	assert.Equal(t, uint64(11155111), c.ChainID())
	assert.Equal(t, []byte("public-key"), c.keys.PublicKey)
	assert.Equal(t, []byte("crs"), c.keys.CRS)
	assert.Equal(t, "pk1", c.keys.PublicKeyID)
}

func TestNew_RejectsWrongChain(t *testing.T) {
	node := (&testnode.Node{ChainID: 1}).Start()
	defer node.Stop()

	_, err := New(context.Background(), SepoliaConfig(), node.Connection(), &fakeEngine{}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects 11155111")
}

func TestNew_KeyURLFailure(t *testing.T) {
	node := (&testnode.Node{ChainID: 11155111}).Start()
	defer node.Stop()

	relayer := newFakeRelayer(t, node.ChainID)
	relayer.keyStatus = http.StatusServiceUnavailable
	cfg := SepoliaConfig()
	cfg.RelayerURL = relayer.server.URL

	_, err := New(context.Background(), cfg, node.Connection(), &fakeEngine{}, relayer.server.Client(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestEncrypt(t *testing.T) {
	c, relayer, engine := newCapability(t)

	b := c.CreateEncryptedInput(testContract, testUser)
	require.NoError(t, b.Add(core.Width8, 7))
	require.NoError(t, b.Add(core.Width64, 1<<40))

	in, err := b.Encrypt(context.Background())
	require.NoError(t, err)
	require.Len(t, in.Handles, 2)

	assert.Equal(t, []byte("public-key"), engine.pk)
	assert.Len(t, engine.fields, 2)

	require.Len(t, relayer.inputs, 1)
	sent := relayer.inputs[0]
	assert.Equal(t, testContract.Hex(), sent.ContractAddress)
	assert.Equal(t, testUser.Hex(), sent.UserAddress)
	assert.Equal(t, "0xaa36a7", sent.ContractChainID)
	assert.Equal(t, "0x00", sent.ExtraData)

	d, err := fhe.DecodeProof(in.Proof)
	require.NoError(t, err)
	assert.Equal(t, in.Handles, d.Handles)
	assert.Len(t, d.Signatures, 1)

	_, err = b.Encrypt(context.Background())
	assert.Error(t, err, "inputs are single use")
}

func TestEncrypt_OutOfRange(t *testing.T) {
	c, relayer, _ := newCapability(t)

	b := c.CreateEncryptedInput(testContract, testUser)
	err := b.Add(core.Width8, 256)
	assert.ErrorIs(t, err, core.ErrValueOutOfRange)
	assert.Empty(t, relayer.inputs)
}

func TestUserDecrypt(t *testing.T) {
	c, relayer, _ := newCapability(t)

	h1 := fhe.ComputeHandle([]byte{1}, nil, c.ChainID(), 0, core.Width8)
	h2 := fhe.ComputeHandle([]byte{1}, nil, c.ChainID(), 1, core.Width8)
	out, err := c.UserDecrypt(context.Background(), ports.UserDecryptRequest{
		Pairs: []core.HandleContractPair{
			{Handle: h1, ContractAddress: testContract},
			{Handle: h2, ContractAddress: testContract},
		},
		PublicKey:         "0xaa",
		PrivateKey:        "0xbb",
		Signature:         "0x1234",
		ContractAddresses: []common.Address{testContract},
		UserAddress:       testUser,
		StartTimestamp:    1700000000,
		DurationDays:      365,
	})
	require.NoError(t, err)
	assert.Equal(t, map[core.Handle]uint64{h1: 42, h2: 43}, out)

	require.Len(t, relayer.decrypts, 1)
	sent := relayer.decrypts[0]
	assert.Equal(t, "1234", sent.Signature)
	assert.Equal(t, "aa", sent.PublicKey)
	assert.Equal(t, "11155111", sent.ContractsChainID)
	assert.Equal(t, "1700000000", sent.RequestValidity.StartTimestamp)
	assert.Equal(t, "365", sent.RequestValidity.DurationDays)
}

func TestCreateEIP712_UsesGatewayDomain(t *testing.T) {
	c, _, _ := newCapability(t)

	td, err := c.CreateEIP712("0xaa", []common.Address{testContract}, 1700000000, 365)
	require.NoError(t, err)

	cfg := SepoliaConfig()
	assert.Equal(t, cfg.VerifyingContractAddressDecryption.Hex(), td.Domain.VerifyingContract)
	assert.Equal(t, int64(55815), (*big.Int)(td.Domain.ChainId).Int64())
}

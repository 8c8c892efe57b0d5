package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/layer-3/fhebridge/adapters/mock"
	"github.com/layer-3/fhebridge/adapters/store"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/internal/eth"
	"github.com/layer-3/fhebridge/internal/testnode"
	"github.com/layer-3/fhebridge/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	diaryAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	otherAddr = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

type fixture struct {
	router  *gin.Engine
	account *eth.KeySigner
}

func setup(t *testing.T, withAccount bool) *fixture {
	gin.SetMode(gin.TestMode)

	node := testnode.Hardhat().Start()
	t.Cleanup(node.Stop)

	f, err := mock.NewFactory(store.NewMemoryStore(), nil)
	require.NoError(t, err)

	bridge := service.NewBridge(
		service.NewChainResolver(nil, service.NewMetadataProbe(nil, nil), node.Dialer(), nil),
		service.NewBackendFactory(service.MockBackend(f), nil, nil),
		service.NewGrantCache(store.NewMemoryStore(), nil, nil),
		service.NewDecryptor(nil),
		nil,
	)

	fx := &fixture{}
	var account Account
	if withAccount {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		fx.account = eth.NewKeySigner(key)
		account = fx.account
	}
	fx.router = SetupRouter(NewBridgeHandlers(bridge, node.Dialer(), account, nil), nil)
	return fx
}

func (fx *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	return w
}

func (fx *fixture) attach(t *testing.T) {
	w := fx.do(t, http.MethodPost, "/chain", gin.H{"rpcUrl": "http://localhost:8545"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	fx := setup(t, false)

	w := fx.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	_, err := uuid.Parse(w.Header().Get(requestIDHeader))
	assert.NoError(t, err)
}

func TestRequestIDIsPropagated(t *testing.T) {
	fx := setup(t, false)
	id := uuid.New().String()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, id)
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)

	assert.Equal(t, id, w.Header().Get(requestIDHeader))
}

func TestChain(t *testing.T) {
	fx := setup(t, false)

	w := fx.do(t, http.MethodGet, "/chain", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	fx.attach(t)

	w = fx.do(t, http.MethodGet, "/chain", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp chainResponse
	decode(t, w, &resp)
	assert.Equal(t, uint64(31337), resp.ChainID)
	assert.Equal(t, "sandbox", resp.Mode)
	assert.Equal(t, "http://localhost:8545", resp.RPCURL)
}

func TestInputs(t *testing.T) {
	fx := setup(t, false)
	fx.attach(t)

	w := fx.do(t, http.MethodPost, "/inputs", gin.H{
		"contract": diaryAddr,
		"owner":    otherAddr,
		"values":   []gin.H{{"value": 42, "bits": 8}, {"value": 1000, "bits": 16}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var in core.EncryptedInput
	decode(t, w, &in)
	assert.Len(t, in.Handles, 2)
	assert.NotEmpty(t, in.Proof)
}

func TestInputs_OutOfRange(t *testing.T) {
	fx := setup(t, false)
	fx.attach(t)

	w := fx.do(t, http.MethodPost, "/inputs", gin.H{
		"contract": diaryAddr,
		"owner":    otherAddr,
		"values":   []gin.H{{"value": 256, "bits": 8}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct{ Error string }
	decode(t, w, &resp)
	assert.Equal(t, core.Message(core.ErrValueOutOfRange), resp.Error)
}

func TestInputs_BadRequest(t *testing.T) {
	fx := setup(t, false)
	w := fx.do(t, http.MethodPost, "/inputs", gin.H{"contract": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGrantAndDecrypt(t *testing.T) {
	fx := setup(t, true)
	fx.attach(t)
	user := fx.account.Address()

	w := fx.do(t, http.MethodPost, "/inputs", gin.H{
		"contract": diaryAddr,
		"owner":    user,
		"values":   []gin.H{{"value": 42, "bits": 8}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var in core.EncryptedInput
	decode(t, w, &in)

	w = fx.do(t, http.MethodPost, "/grants", gin.H{"contract": diaryAddr, "user": user})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var grant map[string]interface{}
	decode(t, w, &grant)
	assert.NotContains(t, grant, "privateKey")
	assert.Equal(t, float64(365), grant["durationDays"])

	w = fx.do(t, http.MethodPost, "/decrypt", gin.H{
		"contract": diaryAddr,
		"user":     user,
		"handles":  []core.HandleContractPair{{Handle: in.Handles[0], ContractAddress: diaryAddr}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Values map[core.Handle]uint64 `json:"values"`
	}
	decode(t, w, &out)
	assert.Equal(t, map[core.Handle]uint64{in.Handles[0]: 42}, out.Values)

	w = fx.do(t, http.MethodDelete, "/grants", gin.H{"contract": diaryAddr, "user": user})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDecrypt_ScopeMismatch(t *testing.T) {
	fx := setup(t, true)
	fx.attach(t)
	user := fx.account.Address()

	w := fx.do(t, http.MethodPost, "/decrypt", gin.H{
		"contract": diaryAddr,
		"user":     user,
		"handles":  []core.HandleContractPair{{Handle: core.Handle{1}, ContractAddress: otherAddr}},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGrants_ForeignUser(t *testing.T) {
	fx := setup(t, true)
	fx.attach(t)

	w := fx.do(t, http.MethodPost, "/grants", gin.H{"contract": diaryAddr, "user": otherAddr})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGrants_NoAccount(t *testing.T) {
	fx := setup(t, false)
	fx.attach(t)

	w := fx.do(t, http.MethodPost, "/grants", gin.H{"contract": diaryAddr, "user": otherAddr})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestInputs_NotAttached(t *testing.T) {
	fx := setup(t, false)

	w := fx.do(t, http.MethodPost, "/inputs", gin.H{
		"contract": diaryAddr,
		"owner":    otherAddr,
		"values":   []gin.H{{"value": 1, "bits": 8}},
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

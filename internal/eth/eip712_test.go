package eth

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/fhebridge/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserDecryptRequestSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := NewKeySigner(key)

	contract := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	td, err := UserDecryptRequest(31337, common.HexToAddress("0x01"), "0xabcdef", []common.Address{contract}, 31337, 1700000000, 365)
	require.NoError(t, err)

	sig, err := signer.SignTypedData(context.Background(), td)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.True(t, sig[64] == 27 || sig[64] == 28)

	ok, err := VerifySignatureAgainstAddress(td, sig, signer.Address())
	require.NoError(t, err)
	assert.True(t, ok)

	other, err := UserDecryptRequest(31337, common.HexToAddress("0x01"), "0xabcdef", []common.Address{contract}, 31337, 1700000001, 365)
	require.NoError(t, err)
	ok, err = VerifySignatureAgainstAddress(other, sig, signer.Address())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUserDecryptRequestRejectsBadInput(t *testing.T) {
	_, err := UserDecryptRequest(1, common.Address{}, "zz", []common.Address{{}}, 1, 0, 1)
	assert.Error(t, err)

	_, err = UserDecryptRequest(1, common.Address{}, "0x01", nil, 1, 0, 1)
	assert.Error(t, err)
}

func TestCiphertextVerificationHashDependsOnHandles(t *testing.T) {
	user := common.HexToAddress("0x02")
	contract := common.HexToAddress("0x03")

	a, err := Hash(CiphertextVerification(1, common.HexToAddress("0x04"), []core.Handle{{1}}, user, contract, 1))
	require.NoError(t, err)
	b, err := Hash(CiphertextVerification(1, common.HexToAddress("0x04"), []core.Handle{{2}}, user, contract, 1))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRecoverRejectsShortSignature(t *testing.T) {
	td := CiphertextVerification(1, common.Address{}, nil, common.Address{}, common.Address{}, 1)
	_, err := Recover(td, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestKeySignerHonoursCancellation(t *testing.T) {
	s, err := KeySignerFromHex("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.SignTypedData(ctx, CiphertextVerification(1, common.Address{}, nil, common.Address{}, common.Address{}, 1))
	assert.ErrorIs(t, err, context.Canceled)
}

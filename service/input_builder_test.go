package service

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/fhebridge/adapters/mock"
	"github.com/layer-3/fhebridge/adapters/store"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/internal/fhe"
	"github.com/layer-3/fhebridge/internal/testnode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var owner = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func newMockInstance(t *testing.T) *mock.Instance {
	f, err := mock.NewFactory(store.NewMemoryStore(), nil)
	require.NoError(t, err)
	inst, err := f.New(context.Background(), "http://localhost:8545", 31337, *testnode.Hardhat().Metadata)
	require.NoError(t, err)
	return inst
}

func TestBuildInput(t *testing.T) {
	inst := newMockInstance(t)

	in, err := BuildInput(context.Background(), inst, contractA, owner, 42, core.Width8)
	require.NoError(t, err)
	require.Len(t, in.Handles, 1)

	w, err := fhe.HandleWidth(in.Handles[0])
	require.NoError(t, err)
	assert.Equal(t, core.Width8, w)
	assert.Equal(t, uint64(31337), fhe.HandleChainID(in.Handles[0]))

	handles, err := inst.VerifyInputProof(in.Proof, contractA, owner)
	require.NoError(t, err)
	assert.Equal(t, in.Handles, handles)
}

func TestBuildInput_Range(t *testing.T) {
	inst := newMockInstance(t)

	tests := []struct {
		name  string
		value uint64
		width core.Width
		ok    bool
	}{
		{"max uint8", 255, core.Width8, true},
		{"overflow uint8", 256, core.Width8, false},
		{"max uint16", 65535, core.Width16, true},
		{"overflow uint16", 65536, core.Width16, false},
		{"overflow uint32", 1 << 32, core.Width32, false},
		{"max uint64", ^uint64(0), core.Width64, true},
		{"unsupported width", 1, core.Width(12), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildInput(context.Background(), inst, contractA, owner, tt.value, tt.width)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, core.ErrValueOutOfRange)
			}
		})
	}
}

func TestBuildInput_IndependentHandles(t *testing.T) {
	inst := newMockInstance(t)

	a, err := BuildInput(context.Background(), inst, contractA, owner, 5, core.Width8)
	require.NoError(t, err)
	b, err := BuildInput(context.Background(), inst, contractA, owner, 5, core.Width8)
	require.NoError(t, err)

	assert.NotEqual(t, a.Handles[0], b.Handles[0])
}

func TestBuildInputs_FieldOrder(t *testing.T) {
	inst := newMockInstance(t)

	in, err := BuildInputs(context.Background(), inst, contractA, owner, []core.Field{
		{Value: 3, Width: core.Width8},
		{Value: 70000, Width: core.Width32},
		{Value: 1 << 40, Width: core.Width64},
	})
	require.NoError(t, err)
	require.Len(t, in.Handles, 3)

	for i, want := range []core.Width{core.Width8, core.Width32, core.Width64} {
		assert.Equal(t, byte(i), in.Handles[i][21])
		w, err := fhe.HandleWidth(in.Handles[i])
		require.NoError(t, err)
		assert.Equal(t, want, w)
	}
}

func TestBuildInputs_TooManyBits(t *testing.T) {
	inst := newMockInstance(t)

	fields := make([]core.Field, 33)
	for i := range fields {
		fields[i] = core.Field{Value: 1, Width: core.Width64}
	}
	_, err := BuildInputs(context.Background(), inst, contractA, owner, fields)
	assert.ErrorIs(t, err, core.ErrValueOutOfRange)
}

func TestBuildInputs_ValueCountLimit(t *testing.T) {
	inst := newMockInstance(t)

	fields := make([]core.Field, fhe.MaxInputValues+1)
	for i := range fields {
		fields[i] = core.Field{Value: uint64(i % 256), Width: core.Width8}
	}

	in, err := BuildInputs(context.Background(), inst, contractA, owner, fields[:fhe.MaxInputValues])
	require.NoError(t, err)
	require.Len(t, in.Handles, fhe.MaxInputValues)
	d, err := fhe.DecodeProof(in.Proof)
	require.NoError(t, err)
	assert.Equal(t, in.Handles, d.Handles)

	_, err = BuildInputs(context.Background(), inst, contractA, owner, fields)
	assert.ErrorIs(t, err, core.ErrValueOutOfRange)
}

func TestBuildInput_EncryptionFailure(t *testing.T) {
	_, err := BuildInput(context.Background(), newFakeCapability(11155111), contractA, owner, 1, core.Width8)
	assert.ErrorIs(t, err, core.ErrEncryptionFailed)
}

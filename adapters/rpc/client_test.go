package rpc_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/fhebridge/adapters/rpc"
	"github.com/layer-3/fhebridge/internal/testnode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeQueries(t *testing.T) {
	node := testnode.Hardhat()
	node.Accounts = []common.Address{common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")}
	node.Start()
	defer node.Stop()

	conn := node.Connection()
	defer conn.Close()
	ctx := context.Background()

	id, err := rpc.ChainID(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, uint64(31337), id)

	version, err := rpc.ClientVersion(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, testnode.HardhatVersion, version)

	accounts, err := rpc.Accounts(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, node.Accounts, accounts)
}

func TestClosedClientFails(t *testing.T) {
	node := testnode.Hardhat().Start()
	defer node.Stop()

	conn := node.Connection()
	conn.Close()

	_, err := rpc.ChainID(context.Background(), conn)
	assert.Error(t, err)
}

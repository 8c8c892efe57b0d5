package rpc

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/layer-3/fhebridge/ports"
)

// Client is a Connection over a go-ethereum RPC client
type Client struct {
	client *gethrpc.Client
}

// Dial connects to rawURL (http, ws or ipc)
func Dial(ctx context.Context, rawURL string) (*Client, error) {
	c, err := gethrpc.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rawURL, err)
	}
	return &Client{client: c}, nil
}

// NewClient wraps an existing RPC client
func NewClient(c *gethrpc.Client) *Client {
	return &Client{client: c}
}

// Dialer is a ports.Dialer backed by Dial
func Dialer(ctx context.Context, rawURL string) (ports.Connection, error) {
	return Dial(ctx, rawURL)
}

// Call performs a JSON-RPC request
func (c *Client) Call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return c.client.CallContext(ctx, result, method, args...)
}

// Close releases the underlying connection
func (c *Client) Close() {
	c.client.Close()
}

// ChainID reads eth_chainId
func ChainID(ctx context.Context, conn ports.Connection) (uint64, error) {
	var id hexutil.Uint64
	if err := conn.Call(ctx, &id, "eth_chainId"); err != nil {
		return 0, fmt.Errorf("eth_chainId: %w", err)
	}
	return uint64(id), nil
}

// ClientVersion reads web3_clientVersion
func ClientVersion(ctx context.Context, conn ports.Connection) (string, error) {
	var v string
	if err := conn.Call(ctx, &v, "web3_clientVersion"); err != nil {
		return "", fmt.Errorf("web3_clientVersion: %w", err)
	}
	return v, nil
}

// Accounts reads eth_accounts
func Accounts(ctx context.Context, conn ports.Connection) ([]common.Address, error) {
	var accounts []common.Address
	if err := conn.Call(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, fmt.Errorf("eth_accounts: %w", err)
	}
	return accounts, nil
}

// Package testnode runs an in-process JSON-RPC node for tests.
package testnode

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/layer-3/fhebridge/adapters/rpc"
	"github.com/layer-3/fhebridge/core"
	"github.com/layer-3/fhebridge/ports"
)

// HardhatVersion is a development node client version string
const HardhatVersion = "HardhatNetwork/2.22.19/@nomicfoundation/edr/0.8.0"

// Node answers eth_chainId, eth_accounts, eth_call, eth_sendTransaction,
// web3_clientVersion and fhevm_relayer_metadata
type Node struct {
	ChainID       uint64
	ClientVersion string                // empty makes web3_clientVersion fail
	Metadata      *core.RelayerMetadata // nil makes fhevm_relayer_metadata fail
	Accounts      []common.Address
	// Contract serves eth_call and eth_sendTransaction; nil makes both fail
	Contract func(tx CallArgs, commit bool) ([]byte, error)

	server *gethrpc.Server
	mu     sync.Mutex
	calls  map[string]int
	nonce  uint64
}

// Hardhat returns a node that looks like a local hardhat chain with FHE metadata
func Hardhat() *Node {
	return &Node{
		ChainID:       31337,
		ClientVersion: HardhatVersion,
		Metadata: &core.RelayerMetadata{
			ACLAddress:           common.HexToAddress("0x50157CFfD6bBFA2DECe204a89ec419c23ef5755D"),
			InputVerifierAddress: common.HexToAddress("0x901F8942346f7AB3a01F6D7613119Bca447Bb030"),
			KMSVerifierAddress:   common.HexToAddress("0x1364cBBf2cDF5032C47d8226a6f6FBD2AFCDacAC"),
		},
	}
}

// Start registers the RPC services; it must be called before Connection
func (n *Node) Start() *Node {
	n.calls = make(map[string]int)
	n.server = gethrpc.NewServer()
	if err := n.server.RegisterName("eth", &ethService{n}); err != nil {
		panic(err)
	}
	if err := n.server.RegisterName("web3", &web3Service{n}); err != nil {
		panic(err)
	}
	if err := n.server.RegisterName("fhevm", &fhevmService{n}); err != nil {
		panic(err)
	}
	return n
}

// Stop shuts the server down
func (n *Node) Stop() {
	n.server.Stop()
}

// Connection returns an in-process connection to the node
func (n *Node) Connection() *rpc.Client {
	return rpc.NewClient(gethrpc.DialInProc(n.server))
}

// Dialer returns a dialer that connects every URL to this node
func (n *Node) Dialer() ports.Dialer {
	return func(ctx context.Context, rawURL string) (ports.Connection, error) {
		return n.Connection(), nil
	}
}

// Calls returns how many times method was served
func (n *Node) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *Node) count(method string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[method]++
}

type ethService struct{ n *Node }

func (s *ethService) ChainId() hexutil.Uint64 {
	s.n.count("eth_chainId")
	return hexutil.Uint64(s.n.ChainID)
}

func (s *ethService) Accounts() []common.Address {
	s.n.count("eth_accounts")
	return s.n.Accounts
}

// CallArgs is the transaction object of eth_call and eth_sendTransaction
type CallArgs struct {
	From common.Address  `json:"from"`
	To   *common.Address `json:"to"`
	Data hexutil.Bytes   `json:"data"`
}

func (s *ethService) Call(args CallArgs, _ string) (hexutil.Bytes, error) {
	s.n.count("eth_call")
	if s.n.Contract == nil {
		return nil, errors.New("execution reverted")
	}
	return s.n.Contract(args, false)
}

func (s *ethService) SendTransaction(args CallArgs) (common.Hash, error) {
	s.n.count("eth_sendTransaction")
	if s.n.Contract == nil {
		return common.Hash{}, errors.New("execution reverted")
	}
	if _, err := s.n.Contract(args, true); err != nil {
		return common.Hash{}, err
	}
	s.n.mu.Lock()
	s.n.nonce++
	nonce := s.n.nonce
	s.n.mu.Unlock()
	return crypto.Keccak256Hash(args.From.Bytes(), args.Data, []byte{byte(nonce)}), nil
}

type web3Service struct{ n *Node }

func (s *web3Service) ClientVersion() (string, error) {
	s.n.count("web3_clientVersion")
	if s.n.ClientVersion == "" {
		return "", errors.New("method not supported")
	}
	return s.n.ClientVersion, nil
}

type fhevmService struct{ n *Node }

//nolint:revive,stylecheck // method name maps to fhevm_relayer_metadata
func (s *fhevmService) Relayer_metadata() (*core.RelayerMetadata, error) {
	s.n.count("fhevm_relayer_metadata")
	if s.n.Metadata == nil {
		return nil, errors.New("the method fhevm_relayer_metadata does not exist/is not available")
	}
	return s.n.Metadata, nil
}

package core

import "github.com/ethereum/go-ethereum/common"

// RelayerMetadata holds the FHE infrastructure addresses of a development node
type RelayerMetadata struct {
	ACLAddress           common.Address `json:"ACLAddress"`
	InputVerifierAddress common.Address `json:"InputVerifierAddress"`
	KMSVerifierAddress   common.Address `json:"KMSVerifierAddress"`
}

// Complete reports whether every address is set
func (m RelayerMetadata) Complete() bool {
	return m.ACLAddress != (common.Address{}) &&
		m.InputVerifierAddress != (common.Address{}) &&
		m.KMSVerifierAddress != (common.Address{})
}

// Mode is either Sandbox or Production
type Mode interface {
	String() string
	mode()
}

// Sandbox is a development chain served by the local mock backend
type Sandbox struct {
	Metadata RelayerMetadata
}

// Production is a chain served by the relayer
type Production struct{}

func (Sandbox) String() string    { return "sandbox" }
func (Production) String() string { return "production" }

func (Sandbox) mode()    {}
func (Production) mode() {}

// ChainClassification is the derived identity of a connected chain
type ChainClassification struct {
	ChainID uint64 // Chain id reported by eth_chainId
	Mode    Mode   // Sandbox or Production
	RPCURL  string // Direct RPC endpoint, empty when unknown
}

// IsSandbox reports whether the chain uses the mock backend
func (c *ChainClassification) IsSandbox() bool {
	_, ok := c.Mode.(Sandbox)
	return ok
}

package relayer

import "github.com/ethereum/go-ethereum/common"

// NetworkConfig binds a production capability to one FHE deployment
type NetworkConfig struct {
	ChainID                                   uint64
	GatewayChainID                            uint64
	RelayerURL                                string
	ACLContractAddress                        common.Address
	KMSContractAddress                        common.Address
	InputVerifierContractAddress              common.Address
	VerifyingContractAddressDecryption        common.Address
	VerifyingContractAddressInputVerification common.Address
}

// SepoliaConfig is the public testnet deployment
func SepoliaConfig() NetworkConfig {
	return NetworkConfig{
		ChainID:                                   11155111,
		GatewayChainID:                            55815,
		RelayerURL:                                "https://relayer.testnet.zama.cloud",
		ACLContractAddress:                        common.HexToAddress("0x687820221192C5B662b25367F70076A37bc79b6c"),
		KMSContractAddress:                        common.HexToAddress("0x1364cBBf2cDF5032C47d8226a6f6FBD2AFCDacAC"),
		InputVerifierContractAddress:              common.HexToAddress("0xbc91f3daD1A5F19F8390c400196e58073B6a0BC4"),
		VerifyingContractAddressDecryption:        common.HexToAddress("0xb6E160B1ff80D67Bfe90A85eE06Ce0A2613607D1"),
		VerifyingContractAddressInputVerification: common.HexToAddress("0x7048C39f048125eDa9d678AEbaDfB22F7900a29F"),
	}
}

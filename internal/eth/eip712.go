// Package eth holds the EIP-712 typed data used by the FHE protocol and the
// helpers to hash, sign and verify it.
package eth

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/fhebridge/core"
)

const (
	UserDecryptPrimaryType  = "UserDecryptRequestVerification"
	InputVerificationType   = "CiphertextVerification"
	decryptionDomainName    = "Decryption"
	inputVerificationDomain = "InputVerification"
	domainVersion           = "1"
	signatureLength         = 65
	recoveryIDOffset        = 27
)

var domainTypes = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// Domain builds an EIP712Domain
func Domain(name string, chainID uint64, verifyingContract common.Address) apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              name,
		Version:           domainVersion,
		ChainId:           math.NewHexOrDecimal256(int64(chainID)),
		VerifyingContract: verifyingContract.Hex(),
	}
}

// UserDecryptRequest builds the typed data a user signs to obtain a decryption grant
func UserDecryptRequest(
	chainID uint64,
	verifyingContract common.Address,
	publicKey string,
	contracts []common.Address,
	contractsChainID uint64,
	startTimestamp, durationDays int64,
) (apitypes.TypedData, error) {
	pk, err := hexutil.Decode(ensure0x(publicKey))
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("invalid public key: %w", err)
	}
	if len(contracts) == 0 {
		return apitypes.TypedData{}, fmt.Errorf("no contract addresses")
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes,
			UserDecryptPrimaryType: []apitypes.Type{
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "contractsChainId", Type: "uint256"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
			},
		},
		PrimaryType: UserDecryptPrimaryType,
		Domain:      Domain(decryptionDomainName, chainID, verifyingContract),
		Message: apitypes.TypedDataMessage{
			"publicKey":         hexutil.Encode(pk),
			"contractAddresses": addressList(contracts),
			"contractsChainId":  new(big.Int).SetUint64(contractsChainID),
			"startTimestamp":    big.NewInt(startTimestamp),
			"durationDays":      big.NewInt(durationDays),
		},
	}, nil
}

// CiphertextVerification builds the typed data a coprocessor signs to attest input handles
func CiphertextVerification(
	chainID uint64,
	inputVerifier common.Address,
	handles []core.Handle,
	user, contract common.Address,
	contractChainID uint64,
) apitypes.TypedData {
	hs := make([]interface{}, len(handles))
	for i, h := range handles {
		hs[i] = hexutil.Encode(h[:])
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes,
			InputVerificationType: []apitypes.Type{
				{Name: "ctHandles", Type: "bytes32[]"},
				{Name: "userAddress", Type: "address"},
				{Name: "contractAddress", Type: "address"},
				{Name: "contractChainId", Type: "uint256"},
			},
		},
		PrimaryType: InputVerificationType,
		Domain:      Domain(inputVerificationDomain, chainID, inputVerifier),
		Message: apitypes.TypedDataMessage{
			"ctHandles":       hs,
			"userAddress":     user.Hex(),
			"contractAddress": contract.Hex(),
			"contractChainId": new(big.Int).SetUint64(contractChainID),
		},
	}
}

// Hash returns the EIP-712 digest of data
func Hash(data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return hash, nil
}

// Sign signs data with key, returning a 65 byte signature with v in {27, 28}
func Sign(data apitypes.TypedData, key *ecdsa.PrivateKey) ([]byte, error) {
	hash, err := Hash(data)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign typed data: %w", err)
	}
	sig[64] += recoveryIDOffset
	return sig, nil
}

// Recover returns the address that produced sig over data
func Recover(data apitypes.TypedData, sig []byte) (common.Address, error) {
	if len(sig) != signatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes", signatureLength)
	}
	hash, err := Hash(data)
	if err != nil {
		return common.Address{}, err
	}

	s := make([]byte, signatureLength)
	copy(s, sig)
	if s[64] >= recoveryIDOffset {
		s[64] -= recoveryIDOffset
	}

	pub, err := crypto.SigToPub(hash, s)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignatureAgainstAddress reports whether sig over data was produced by expected
func VerifySignatureAgainstAddress(data apitypes.TypedData, sig []byte, expected common.Address) (bool, error) {
	addr, err := Recover(data, sig)
	if err != nil {
		return false, err
	}
	return addr == expected, nil
}

func addressList(addrs []common.Address) []interface{} {
	out := make([]interface{}, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

func ensure0x(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s
	}
	return "0x" + s
}

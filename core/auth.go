package core

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SecondsPerDay is the unit of DecryptionGrant.DurationDays
const SecondsPerDay = 24 * 60 * 60

// Keypair is the transport keypair a decryption result is re-encrypted under
type Keypair struct {
	PublicKey  string
	PrivateKey string
}

// DecryptionGrant is a signed, time boxed permission to decrypt handles of the listed contracts
type DecryptionGrant struct {
	PublicKey         string           `json:"publicKey"`         // Hex transport public key
	PrivateKey        string           `json:"privateKey"`        // Hex transport private key
	Signature         string           `json:"signature"`         // EIP-712 signature by UserAddress
	UserAddress       common.Address   `json:"userAddress"`       // Signer of the grant
	ContractAddresses []common.Address `json:"contractAddresses"` // Contracts the grant covers
	StartTimestamp    int64            `json:"startTimestamp"`    // Unix seconds
	DurationDays      int64            `json:"durationDays"`      // Validity in days
}

// ExpiresAt returns the first instant the grant is no longer valid
func (g *DecryptionGrant) ExpiresAt() time.Time {
	return time.Unix(g.StartTimestamp+g.DurationDays*SecondsPerDay, 0)
}

// ValidAt reports whether now < start + days*86400
func (g *DecryptionGrant) ValidAt(now time.Time) bool {
	return now.Unix() < g.StartTimestamp+g.DurationDays*SecondsPerDay
}

// Covers reports whether contract is in the grant's scope
func (g *DecryptionGrant) Covers(contract common.Address) bool {
	for _, c := range g.ContractAddresses {
		if c == contract {
			return true
		}
	}
	return false
}

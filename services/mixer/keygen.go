package mixer

import (
	"crypto/rand"
	"fmt"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
)

// CredentialGenerator produces single-use signing key pairs with no
// prior on-ledger history, one per hop. Keys are drawn fresh from the
// system CSPRNG and are never derived from request content, source
// credentials, or each other: a compromised hop credential reveals
// nothing about any other hop or about the source and destination.
type CredentialGenerator struct{}

// NewCredentialGenerator creates a generator.
func NewCredentialGenerator() *CredentialGenerator {
	return &CredentialGenerator{}
}

// Generate returns a fresh HopAccount. Synchronous, no I/O. The raw seed
// is retained alongside the key so Discard can zero it once the account
// is drained.
func (g *CredentialGenerator) Generate() (*HopAccount, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("read entropy: %w", err)
	}

	priv, err := keys.NewPrivateKeyFromBytes(seed)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	return &HopAccount{
		priv:       priv,
		seed:       seed,
		scriptHash: priv.GetScriptHash(),
		address:    priv.Address(),
	}, nil
}

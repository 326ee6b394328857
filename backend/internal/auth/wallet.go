package auth

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// WalletProvisioner assigns a wallet reference to a newly registered agent.
type WalletProvisioner interface {
	Provision(ctx context.Context, agentName string) (string, error)
}

// EphemeralWallets derives a fresh EVM address per agent. The private key is discarded:
// custody belongs to the external wallet service, this only reserves an address for
// development and tests.
type EphemeralWallets struct{}

// Provision implements WalletProvisioner.
func (EphemeralWallets) Provision(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("auth: generate wallet key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

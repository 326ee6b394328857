package chain

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Loopback settles every intent successfully after a fixed latency. References are derived
// from the intent so repeated runs produce the same receipts. Used when no executor URL is
// configured and in tests.
type Loopback struct {
	latency time.Duration
	nonce   atomic.Uint64
}

// NewLoopback returns a Loopback that answers after latency.
func NewLoopback(latency time.Duration) *Loopback {
	return &Loopback{latency: latency}
}

func (l *Loopback) wait(ctx context.Context) error {
	if l.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(l.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExecuteTrade implements Executor.
func (l *Loopback) ExecuteTrade(ctx context.Context, intent TradeIntent) (Receipt, error) {
	if err := l.wait(ctx); err != nil {
		return Receipt{}, err
	}
	return Receipt{Success: true, TxRef: crypto.Keccak256Hash(intent.ID[:]).Hex()}, nil
}

// DeployToken implements Executor. The contract address follows the CREATE rule from the
// agent's wallet and a process-local nonce.
func (l *Loopback) DeployToken(ctx context.Context, intent DeployIntent) (Receipt, error) {
	if err := l.wait(ctx); err != nil {
		return Receipt{}, err
	}
	deployer := common.HexToAddress(intent.WalletRef)
	contract := crypto.CreateAddress(deployer, l.nonce.Add(1)-1)
	return Receipt{
		Success:     true,
		TxRef:       crypto.Keccak256Hash(intent.ID[:]).Hex(),
		ContractRef: contract.Hex(),
	}, nil
}

package database

import (
	"context"

	"github.com/user/agentdesk/backend/internal/auth"
	"github.com/user/agentdesk/backend/internal/credentials"
	"github.com/user/agentdesk/backend/internal/models"
	"golang.org/x/sync/errgroup"
)

// Snapshot is everything needed to rebuild the in-memory stores.
type Snapshot struct {
	Agents      []credentials.StoredAgent
	RetiredKeys []auth.KeyDigest
	Balances    []models.Balance
	Trades      []models.TradeRecord
	Deployments []models.DeploymentRecord
}

// LoadSnapshot reads all tables concurrently.
func (db *DB) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		snap.Agents, err = db.LoadAgents(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.RetiredKeys, err = db.LoadRetiredKeys(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Balances, err = db.LoadBalances(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Trades, err = db.LoadTrades(ctx)
		return err
	})
	g.Go(func() (err error) {
		snap.Deployments, err = db.LoadDeployments(ctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

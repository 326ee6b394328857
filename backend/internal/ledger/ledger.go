// Package ledger is the authoritative record of agent balances, trades and token
// deployments. Balances only move when a settlement is committed.
package ledger

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/agentdesk/backend/internal/models"
)

// maxScale is the finest amount precision accepted (wei-level).
const maxScale = 18

// Journal persists ledger transitions. Every call happens under the ledger lock and before
// memory is updated, so a failed write leaves the in-memory ledger unchanged.
type Journal interface {
	SaveTrade(ctx context.Context, rec models.TradeRecord) error
	CommitTrade(ctx context.Context, rec models.TradeRecord, bal models.Balance) error
	SaveDeployment(ctx context.Context, rec models.DeploymentRecord) error
}

// EventSink receives one event per terminal transition.
type EventSink interface {
	Publish(ev models.Event)
}

type nopJournal struct{}

func (nopJournal) SaveTrade(context.Context, models.TradeRecord) error { return nil }
func (nopJournal) CommitTrade(context.Context, models.TradeRecord, models.Balance) error {
	return nil
}
func (nopJournal) SaveDeployment(context.Context, models.DeploymentRecord) error { return nil }

type nopSink struct{}

func (nopSink) Publish(models.Event) {}

type balanceKey struct {
	agent uuid.UUID
	asset string
}

// Ledger is safe for concurrent use. A balance adjustment and the record transition that
// causes it are applied together under one write lock.
type Ledger struct {
	mu          sync.RWMutex
	balances    map[balanceKey]*models.Balance
	trades      map[uuid.UUID]*models.TradeRecord
	agentTrades map[uuid.UUID][]uuid.UUID
	deployments map[uuid.UUID]*models.DeploymentRecord

	journal Journal
	events  EventSink
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithJournal makes transitions durable.
func WithJournal(j Journal) Option {
	return func(l *Ledger) { l.journal = j }
}

// WithEvents publishes terminal transitions to sink.
func WithEvents(sink EventSink) Option {
	return func(l *Ledger) { l.events = sink }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		balances:    make(map[balanceKey]*models.Balance),
		trades:      make(map[uuid.UUID]*models.TradeRecord),
		agentTrades: make(map[uuid.UUID][]uuid.UUID),
		deployments: make(map[uuid.UUID]*models.DeploymentRecord),
		journal:     nopJournal{},
		events:      nopSink{},
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("component", "ledger"))
	return l
}

// NormalizeSymbol upper-cases and trims an asset symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// GetBalance returns the committed amount, zero if the asset was never traded.
func (l *Ledger) GetBalance(agentID uuid.UUID, asset string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if b, ok := l.balances[balanceKey{agentID, NormalizeSymbol(asset)}]; ok {
		return b.Amount
	}
	return decimal.Zero
}

// Balances lists every balance entry of an agent, ordered by asset.
func (l *Ledger) Balances(agentID uuid.UUID) []models.Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Balance, 0)
	for k, b := range l.balances {
		if k.agent == agentID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Restore loads persisted state into an empty ledger. Pending sells found among trades get
// their reservation back so a later FailTrade or CommitTrade balances out.
func (l *Ledger) Restore(balances []models.Balance, trades []models.TradeRecord, deployments []models.DeploymentRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range balances {
		b := balances[i]
		b.Asset = NormalizeSymbol(b.Asset)
		b.Reserved = decimal.Zero
		if b.Amount.IsNegative() {
			return models.Inconsistencyf("restored balance %s/%s is negative", b.AgentID, b.Asset)
		}
		l.balances[balanceKey{b.AgentID, b.Asset}] = &b
	}

	sorted := append([]models.TradeRecord(nil), trades...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RequestedAt.Before(sorted[j].RequestedAt) })
	for i := range sorted {
		rec := sorted[i]
		l.trades[rec.ID] = &rec
		l.agentTrades[rec.AgentID] = append(l.agentTrades[rec.AgentID], rec.ID)
		if rec.Status == models.StatusPending && rec.Action == models.ActionSell {
			b, ok := l.balances[balanceKey{rec.AgentID, rec.Asset.Symbol}]
			if !ok || b.Available().LessThan(rec.Amount) {
				return models.Inconsistencyf("pending sell %s exceeds restored balance", rec.ID)
			}
			b.Reserved = b.Reserved.Add(rec.Amount)
		}
	}

	for i := range deployments {
		rec := deployments[i]
		l.deployments[rec.ID] = &rec
	}
	return nil
}

// PendingTrades returns the ids of trades still awaiting settlement.
func (l *Ledger) PendingTrades() []uuid.UUID {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []uuid.UUID
	for id, rec := range l.trades {
		if rec.Status == models.StatusPending {
			ids = append(ids, id)
		}
	}
	return ids
}

// PendingDeployments returns the ids of deployments still awaiting settlement.
func (l *Ledger) PendingDeployments() []uuid.UUID {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var ids []uuid.UUID
	for id, rec := range l.deployments {
		if rec.Status == models.StatusPending {
			ids = append(ids, id)
		}
	}
	return ids
}

func validAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Truncate(maxScale))
}

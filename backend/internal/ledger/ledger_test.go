package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/agentdesk/backend/internal/models"
)

var eth = models.AssetRef{Chain: "base", Symbol: "eth"}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingSink) Publish(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// fund commits a buy so the agent holds amount of ETH.
func fund(t *testing.T, l *Ledger, agent uuid.UUID, amount string) {
	t.Helper()
	rec, err := l.BeginTrade(context.Background(), agent, models.ActionBuy, eth, d(amount))
	if err != nil {
		t.Fatalf("BeginTrade buy: %v", err)
	}
	if _, err := l.CommitTrade(context.Background(), rec.ID, "0xfund"+rec.ID.String()); err != nil {
		t.Fatalf("CommitTrade buy: %v", err)
	}
}

func TestBuyThenCommit(t *testing.T) {
	sink := &recordingSink{}
	l := New(WithEvents(sink))
	ctx := context.Background()
	agent := uuid.New()

	if !l.GetBalance(agent, "ETH").IsZero() {
		t.Fatal("unseen balance should be zero")
	}

	rec, err := l.BeginTrade(ctx, agent, models.ActionBuy, eth, d("1.0"))
	if err != nil {
		t.Fatalf("BeginTrade: %v", err)
	}
	if rec.Status != models.StatusPending || rec.Asset.Symbol != "ETH" {
		t.Fatalf("rec = %+v", rec)
	}
	if !l.GetBalance(agent, "ETH").IsZero() {
		t.Fatal("pending buy must not be visible in the balance")
	}

	settled, err := l.CommitTrade(ctx, rec.ID, "0xabc")
	if err != nil {
		t.Fatalf("CommitTrade: %v", err)
	}
	if settled.Status != models.StatusSettled || *settled.ChainReceipt != "0xabc" || settled.SettledAt == nil {
		t.Fatalf("settled = %+v", settled)
	}
	if got := l.GetBalance(agent, "eth"); !got.Equal(d("1")) {
		t.Fatalf("balance = %s, want 1", got)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != models.EventTradeBuy {
		t.Fatalf("events = %+v", sink.events)
	}
}

func TestSellExceedingBalanceRejected(t *testing.T) {
	l := New()
	agent := uuid.New()
	fund(t, l, agent, "1.0")

	_, err := l.BeginTrade(context.Background(), agent, models.ActionSell, eth, d("2.0"))
	if !errors.Is(err, models.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := l.GetBalance(agent, "ETH"); !got.Equal(d("1")) {
		t.Fatalf("balance = %s, want 1", got)
	}
	if n := len(l.Trades(agent, 0)); n != 1 {
		t.Fatalf("rejected sell left a record: %d trades", n)
	}
}

func TestSellOnUnseenAsset(t *testing.T) {
	l := New()
	_, err := l.BeginTrade(context.Background(), uuid.New(), models.ActionSell, eth, d("0.1"))
	if !errors.Is(err, models.ErrInsufficientBalance) {
		t.Fatalf("err = %v", err)
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	l := New()
	ctx := context.Background()
	agent := uuid.New()

	rec, _ := l.BeginTrade(ctx, agent, models.ActionBuy, eth, d("1.5"))
	if _, err := l.CommitTrade(ctx, rec.ID, "0x1"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.CommitTrade(ctx, rec.ID, "0x1"); err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if got := l.GetBalance(agent, "ETH"); !got.Equal(d("1.5")) {
		t.Fatalf("balance = %s, want 1.5", got)
	}

	if _, err := l.CommitTrade(ctx, rec.ID, "0x2"); !errors.Is(err, models.ErrInternalInconsistency) {
		t.Fatalf("commit with different receipt: err = %v", err)
	}
	if _, err := l.FailTrade(ctx, rec.ID, "late"); !errors.Is(err, models.ErrInternalInconsistency) {
		t.Fatalf("fail after settle: err = %v", err)
	}
}

func TestFailLeavesBalanceAndReleasesReservation(t *testing.T) {
	l := New()
	ctx := context.Background()
	agent := uuid.New()
	fund(t, l, agent, "1.0")

	sell, err := l.BeginTrade(ctx, agent, models.ActionSell, eth, d("1.0"))
	if err != nil {
		t.Fatalf("BeginTrade sell: %v", err)
	}
	// The whole balance is reserved by the pending sell.
	if _, err := l.BeginTrade(ctx, agent, models.ActionSell, eth, d("0.1")); !errors.Is(err, models.ErrInsufficientBalance) {
		t.Fatalf("second sell: err = %v", err)
	}

	failed, err := l.FailTrade(ctx, sell.ID, models.ErrSettlementTimeout.Error())
	if err != nil {
		t.Fatalf("FailTrade: %v", err)
	}
	if failed.Status != models.StatusFailed || failed.ChainReceipt != nil {
		t.Fatalf("failed = %+v", failed)
	}
	if got := l.GetBalance(agent, "ETH"); !got.Equal(d("1")) {
		t.Fatalf("balance = %s, want 1", got)
	}
	if _, err := l.FailTrade(ctx, sell.ID, "again"); err != nil {
		t.Fatalf("repeat FailTrade: %v", err)
	}
	if _, err := l.CommitTrade(ctx, sell.ID, "0xlate"); !errors.Is(err, models.ErrInternalInconsistency) {
		t.Fatalf("commit after fail: err = %v", err)
	}

	// Reservation is gone, so the full amount can be sold again.
	if _, err := l.BeginTrade(ctx, agent, models.ActionSell, eth, d("1.0")); err != nil {
		t.Fatalf("sell after failure: %v", err)
	}
}

func TestSellCommitDecreasesBalance(t *testing.T) {
	l := New()
	ctx := context.Background()
	agent := uuid.New()
	fund(t, l, agent, "3")

	sell, _ := l.BeginTrade(ctx, agent, models.ActionSell, eth, d("1.25"))
	if got := l.GetBalance(agent, "ETH"); !got.Equal(d("3")) {
		t.Fatalf("pending sell visible: %s", got)
	}
	if _, err := l.CommitTrade(ctx, sell.ID, "0xsell"); err != nil {
		t.Fatal(err)
	}
	bals := l.Balances(agent)
	if len(bals) != 1 || !bals[0].Amount.Equal(d("1.75")) || !bals[0].Reserved.IsZero() {
		t.Fatalf("balances = %+v", bals)
	}
}

func TestBeginTradeValidation(t *testing.T) {
	l := New()
	agent := uuid.New()
	tests := []struct {
		name   string
		action models.TradeAction
		asset  models.AssetRef
		amount string
	}{
		{"zero amount", models.ActionBuy, eth, "0"},
		{"negative amount", models.ActionBuy, eth, "-1"},
		{"too precise", models.ActionBuy, eth, "0.0000000000000000001"},
		{"bad action", "hold", eth, "1"},
		{"no symbol", models.ActionBuy, models.AssetRef{Chain: "base"}, "1"},
		{"no chain", models.ActionBuy, models.AssetRef{Symbol: "ETH"}, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.BeginTrade(context.Background(), agent, tt.action, tt.asset, d(tt.amount))
			if !errors.Is(err, models.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestConcurrentSellsNeverOverdraw(t *testing.T) {
	l := New()
	ctx := context.Background()
	agent := uuid.New()
	fund(t, l, agent, "5")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []uuid.UUID
		rejected int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := l.BeginTrade(ctx, agent, models.ActionSell, eth, d("1"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted = append(accepted, rec.ID)
			case errors.Is(err, models.ErrInsufficientBalance):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(accepted) != 5 || rejected != 15 {
		t.Fatalf("accepted %d rejected %d, want 5/15", len(accepted), rejected)
	}
	for _, id := range accepted {
		if _, err := l.CommitTrade(ctx, id, "0x"+id.String()); err != nil {
			t.Fatal(err)
		}
	}
	if got := l.GetBalance(agent, "ETH"); !got.IsZero() {
		t.Fatalf("final balance = %s, want 0", got)
	}
}

func TestTradesNewestFirst(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	l := New(WithClock(func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }))
	agent := uuid.New()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		rec, _ := l.BeginTrade(context.Background(), agent, models.ActionBuy, eth, d("1"))
		ids = append(ids, rec.ID)
	}
	got := l.Trades(agent, 2)
	if len(got) != 2 || got[0].ID != ids[2] || got[1].ID != ids[1] {
		t.Fatalf("Trades = %v", got)
	}
	if _, err := l.Trade(uuid.New()); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("unknown trade: err = %v", err)
	}
}

type flakyJournal struct {
	nopJournal
	fail bool
}

func (j *flakyJournal) CommitTrade(context.Context, models.TradeRecord, models.Balance) error {
	if j.fail {
		return fmt.Errorf("connection reset")
	}
	return nil
}

func TestJournalFailureKeepsMemoryUnchanged(t *testing.T) {
	j := &flakyJournal{fail: true}
	l := New(WithJournal(j))
	ctx := context.Background()
	agent := uuid.New()

	rec, _ := l.BeginTrade(ctx, agent, models.ActionBuy, eth, d("2"))
	if _, err := l.CommitTrade(ctx, rec.ID, "0x1"); err == nil {
		t.Fatal("expected journal error")
	}
	got, _ := l.Trade(rec.ID)
	if got.Status != models.StatusPending || !l.GetBalance(agent, "ETH").IsZero() {
		t.Fatalf("memory changed: %+v balance %s", got, l.GetBalance(agent, "ETH"))
	}

	j.fail = false
	if _, err := l.CommitTrade(ctx, rec.ID, "0x1"); err != nil {
		t.Fatalf("retry commit: %v", err)
	}
	if !l.GetBalance(agent, "ETH").Equal(d("2")) {
		t.Fatal("retry did not apply")
	}
}

func TestDeploymentLifecycle(t *testing.T) {
	sink := &recordingSink{}
	l := New(WithEvents(sink))
	ctx := context.Background()
	agent := uuid.New()

	rec, err := l.RecordDeployment(ctx, agent, "Claw Token", "claw", d("1000000"), "Base")
	if err != nil {
		t.Fatalf("RecordDeployment: %v", err)
	}
	if rec.Symbol != "CLAW" || rec.Chain != "base" || rec.Status != models.StatusPending || rec.ContractRef != nil {
		t.Fatalf("rec = %+v", rec)
	}

	settled, err := l.CommitDeployment(ctx, rec.ID, "0xcontract", "0xtx")
	if err != nil {
		t.Fatalf("CommitDeployment: %v", err)
	}
	if *settled.ContractRef != "0xcontract" || *settled.TxRef != "0xtx" {
		t.Fatalf("settled = %+v", settled)
	}
	if _, err := l.CommitDeployment(ctx, rec.ID, "0xcontract", ""); err != nil {
		t.Fatalf("repeat commit: %v", err)
	}
	if _, err := l.CommitDeployment(ctx, rec.ID, "0xother", ""); !errors.Is(err, models.ErrInternalInconsistency) {
		t.Fatalf("conflicting commit: err = %v", err)
	}
	if _, err := l.FailDeployment(ctx, rec.ID, "late"); !errors.Is(err, models.ErrInternalInconsistency) {
		t.Fatalf("fail after settle: err = %v", err)
	}

	other, _ := l.RecordDeployment(ctx, agent, "Other", "OTH", d("10"), "solana")
	failed, err := l.FailDeployment(ctx, other.ID, "SettlementFailed: reverted")
	if err != nil {
		t.Fatalf("FailDeployment: %v", err)
	}
	if failed.ContractRef != nil || failed.Status != models.StatusFailed {
		t.Fatalf("failed = %+v", failed)
	}
	if len(sink.events) != 2 || sink.events[0].Kind != models.EventTokenCreated || sink.events[1].Kind != models.EventDeploymentFailed {
		t.Fatalf("events = %+v", sink.events)
	}
}

func TestRecordDeploymentValidation(t *testing.T) {
	l := New()
	tests := []struct {
		name, token, symbol, supply, chain string
	}{
		{"no name", "", "ABC", "1", "base"},
		{"long symbol", "Tok", "ABCDEFGHIJK", "1", "base"},
		{"symbol punctuation", "Tok", "AB-C", "1", "base"},
		{"fractional supply", "Tok", "ABC", "1.5", "base"},
		{"zero supply", "Tok", "ABC", "0", "base"},
		{"no chain", "Tok", "ABC", "1", " "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.RecordDeployment(context.Background(), uuid.New(), tt.token, tt.symbol, d(tt.supply), tt.chain)
			if !errors.Is(err, models.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestRestoreReservesPendingSells(t *testing.T) {
	l := New()
	agent := uuid.New()
	pending := models.TradeRecord{
		ID: uuid.New(), AgentID: agent, Action: models.ActionSell,
		Asset: models.AssetRef{Chain: "base", Symbol: "ETH"}, Amount: d("1"), Status: models.StatusPending,
	}
	err := l.Restore([]models.Balance{{AgentID: agent, Asset: "eth", Amount: d("1.5")}}, []models.TradeRecord{pending}, nil)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, err := l.BeginTrade(context.Background(), agent, models.ActionSell, eth, d("1")); !errors.Is(err, models.ErrInsufficientBalance) {
		t.Fatalf("restored reservation ignored: err = %v", err)
	}
	if ids := l.PendingTrades(); len(ids) != 1 || ids[0] != pending.ID {
		t.Fatalf("PendingTrades = %v", ids)
	}
}

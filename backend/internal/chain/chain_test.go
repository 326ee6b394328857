package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/agentdesk/backend/internal/auth"
	"github.com/user/agentdesk/backend/internal/models"
)

func newSigner(t *testing.T) *auth.IntentSigner {
	t.Helper()
	s, err := auth.NewIntentSigner("executor-secret", time.Minute)
	if err != nil {
		t.Fatalf("NewIntentSigner: %v", err)
	}
	return s
}

func sampleTrade() TradeIntent {
	return TradeIntent{
		ID:        uuid.New(),
		AgentID:   uuid.New(),
		WalletRef: "0x00000000000000000000000000000000000000aa",
		Action:    models.ActionBuy,
		Asset:     models.AssetRef{Chain: "base", Symbol: "VIRTUAL"},
		Amount:    decimal.RequireFromString("1.5"),
	}
}

func TestHTTPExecutorTrade(t *testing.T) {
	signer := newSigner(t)
	intent := sampleTrade()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trades" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims, err := signer.Verify(token)
		if err != nil {
			t.Errorf("Verify: %v", err)
		} else if claims.IntentID != intent.ID || claims.Kind != "trade" {
			t.Errorf("claims = %+v", claims)
		}
		if got := r.Header.Get("Idempotency-Key"); got != intent.ID.String() {
			t.Errorf("Idempotency-Key = %q", got)
		}

		var body TradeIntent
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if !body.Amount.Equal(intent.Amount) || body.Asset.Symbol != "VIRTUAL" {
			t.Errorf("body = %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"txRef":"0xabc"}`))
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL+"/", signer, srv.Client())
	receipt, err := exec.ExecuteTrade(context.Background(), intent)
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	if !receipt.Success || receipt.TxRef != "0xabc" {
		t.Fatalf("receipt = %+v", receipt)
	}
}

func TestHTTPExecutorRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"reason":"slippage exceeded"}`))
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL, newSigner(t), nil)
	receipt, err := exec.ExecuteTrade(context.Background(), sampleTrade())
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	if receipt.Success || receipt.Reason != "slippage exceeded" {
		t.Fatalf("receipt = %+v", receipt)
	}
}

func TestHTTPExecutorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/trades":
			http.Error(w, "boom", http.StatusBadGateway)
		case "/deployments":
			w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL, newSigner(t), nil)
	if _, err := exec.ExecuteTrade(context.Background(), sampleTrade()); err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("ExecuteTrade err = %v, want status 502", err)
	}
	if _, err := exec.DeployToken(context.Background(), DeployIntent{ID: uuid.New()}); err == nil || !strings.Contains(err.Error(), "decode receipt") {
		t.Fatalf("DeployToken err = %v, want decode error", err)
	}
}

func TestHTTPExecutorContextDeadline(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	exec := NewHTTPExecutor(srv.URL, newSigner(t), nil)
	_, err := exec.ExecuteTrade(ctx, sampleTrade())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestLoopbackDeterministicRefs(t *testing.T) {
	lb := NewLoopback(0)
	intent := sampleTrade()

	r1, err := lb.ExecuteTrade(context.Background(), intent)
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	r2, _ := lb.ExecuteTrade(context.Background(), intent)
	if !r1.Success || r1.TxRef == "" || r1.TxRef != r2.TxRef {
		t.Fatalf("receipts = %+v / %+v", r1, r2)
	}

	other := sampleTrade()
	r3, _ := lb.ExecuteTrade(context.Background(), other)
	if r3.TxRef == r1.TxRef {
		t.Fatal("different intents produced the same txRef")
	}
}

func TestLoopbackDeploy(t *testing.T) {
	lb := NewLoopback(0)
	intent := DeployIntent{ID: uuid.New(), WalletRef: "0x00000000000000000000000000000000000000aa", Symbol: "TERM"}

	a, err := lb.DeployToken(context.Background(), intent)
	if err != nil {
		t.Fatalf("DeployToken: %v", err)
	}
	b, _ := lb.DeployToken(context.Background(), intent)
	if !common.IsHexAddress(a.ContractRef) || a.ContractRef == b.ContractRef {
		t.Fatalf("contract refs = %q, %q", a.ContractRef, b.ContractRef)
	}
}

func TestLoopbackHonoursContext(t *testing.T) {
	lb := NewLoopback(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := lb.ExecuteTrade(ctx, sampleTrade()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

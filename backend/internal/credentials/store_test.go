package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/user/agentdesk/backend/internal/auth"
	"github.com/user/agentdesk/backend/internal/models"
)

type fixedWallets struct{}

func (fixedWallets) Provision(context.Context, string) (string, error) {
	return "0x000000000000000000000000000000000000dEaD", nil
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return NewStore(append([]Option{WithWallets(fixedWallets{})}, opts...)...)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent, key, err := s.Register(ctx, RegisterParams{DisplayName: "  Alpha "})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if agent.DisplayName != "Alpha" {
		t.Errorf("DisplayName = %q", agent.DisplayName)
	}
	if agent.StrategyTag != models.DefaultStrategyTag || agent.RiskLevel != models.RiskModerate {
		t.Errorf("defaults not applied: %+v", agent)
	}
	if agent.Status != models.AgentActive || agent.WalletRef == "" {
		t.Errorf("unexpected agent: %+v", agent)
	}

	got, err := s.Authenticate(key)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != agent.ID {
		t.Fatalf("authenticated %s, want %s", got.ID, agent.ID)
	}
}

func TestRegisterValidation(t *testing.T) {
	s := newTestStore(t)
	tests := []struct {
		name   string
		params RegisterParams
	}{
		{"empty name", RegisterParams{DisplayName: "   "}},
		{"bad risk", RegisterParams{DisplayName: "Beta", RiskLevel: "yolo"}},
		{"long name", RegisterParams{DisplayName: string(make([]byte, 65))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.Register(context.Background(), tt.params)
			if !errors.Is(err, models.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}
	if s.Count() != 0 {
		t.Fatalf("failed registrations created %d agents", s.Count())
	}
}

func TestDuplicateDisplayNamesAllowed(t *testing.T) {
	s := newTestStore(t)
	a, _, err := s.Register(context.Background(), RegisterParams{DisplayName: "Alpha"})
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := s.Register(context.Background(), RegisterParams{DisplayName: "Alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Fatal("agents share an id")
	}
}

func TestAuthenticateFailures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	agent, key, _ := s.Register(ctx, RegisterParams{DisplayName: "Gamma"})

	var authErr *models.AuthError
	_, err := s.Authenticate("cterm_nope")
	if !errors.As(err, &authErr) || authErr.Reason != models.AuthInvalidKey {
		t.Fatalf("unknown key: err = %v", err)
	}
	_, err = s.Authenticate("")
	if !errors.Is(err, models.ErrAuth) {
		t.Fatalf("empty key: err = %v", err)
	}

	if _, err := s.Suspend(ctx, agent.ID); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	_, err = s.Authenticate(key)
	if !errors.As(err, &authErr) || authErr.Reason != models.AuthSuspended {
		t.Fatalf("suspended: err = %v", err)
	}

	if _, err := s.Reactivate(ctx, agent.ID); err != nil {
		t.Fatalf("Reactivate: %v", err)
	}
	if _, err := s.Authenticate(key); err != nil {
		t.Fatalf("after reactivation: %v", err)
	}
}

func TestRevokeInvalidatesOldKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	agent, oldKey, _ := s.Register(ctx, RegisterParams{DisplayName: "Delta"})

	newKey, err := s.Revoke(ctx, agent.ID)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if newKey == oldKey {
		t.Fatal("revoke returned the old key")
	}

	var authErr *models.AuthError
	if _, err := s.Authenticate(oldKey); !errors.As(err, &authErr) || authErr.Reason != models.AuthInvalidKey {
		t.Fatalf("old key: err = %v", err)
	}
	got, err := s.Authenticate(newKey)
	if err != nil || got.ID != agent.ID {
		t.Fatalf("new key: agent %v err %v", got.ID, err)
	}

	if _, err := s.Revoke(ctx, uuid.New()); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("unknown agent: err = %v", err)
	}
}

func TestKeyCollisionIsFatal(t *testing.T) {
	keys := []string{"cterm_same", "cterm_same"}
	var i int
	gen := func() (string, error) {
		k := keys[i%len(keys)]
		i++
		return k, nil
	}
	s := newTestStore(t, WithKeyGenerator(gen))
	ctx := context.Background()

	if _, _, err := s.Register(ctx, RegisterParams{DisplayName: "One"}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, _, err := s.Register(ctx, RegisterParams{DisplayName: "Two"})
	if !errors.Is(err, models.ErrInternalInconsistency) {
		t.Fatalf("err = %v, want ErrInternalInconsistency", err)
	}
	if s.Count() != 1 {
		t.Fatalf("Count = %d, want 1", s.Count())
	}
}

func TestRetiredKeyNeverReissued(t *testing.T) {
	keys := []string{"cterm_a", "cterm_b", "cterm_a"}
	var i int
	gen := func() (string, error) {
		k := keys[i]
		i++
		return k, nil
	}
	s := newTestStore(t, WithKeyGenerator(gen))
	ctx := context.Background()

	agent, _, _ := s.Register(ctx, RegisterParams{DisplayName: "Eps"})
	if _, err := s.Revoke(ctx, agent.ID); err != nil {
		t.Fatalf("first Revoke: %v", err)
	}
	if _, err := s.Revoke(ctx, agent.ID); !errors.Is(err, models.ErrInternalInconsistency) {
		t.Fatalf("reissue of retired key: err = %v", err)
	}
	if _, err := s.Authenticate("cterm_b"); err != nil {
		t.Fatalf("current key should still work: %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	agent, _, _ := s.Register(ctx, RegisterParams{DisplayName: "Zeta"})

	name, risk := "ZetaBot", "aggressive"
	updated, err := s.UpdateProfile(ctx, agent.ID, ProfileUpdate{DisplayName: &name, RiskLevel: &risk})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.DisplayName != name || updated.RiskLevel != models.RiskAggressive {
		t.Fatalf("updated = %+v", updated)
	}
	if updated.WalletRef != agent.WalletRef || updated.CreatedAt != agent.CreatedAt {
		t.Fatal("immutable fields changed")
	}

	empty := ""
	if _, err := s.UpdateProfile(ctx, agent.ID, ProfileUpdate{DisplayName: &empty}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("empty name: err = %v", err)
	}
	got, _ := s.Get(agent.ID)
	if got.DisplayName != name {
		t.Fatal("failed update mutated the agent")
	}
}

type failingJournal struct{ nopJournal }

func (failingJournal) SaveAgent(context.Context, models.Agent, auth.KeyDigest) error {
	return fmt.Errorf("disk full")
}

func TestJournalFailureLeavesStoreUnchanged(t *testing.T) {
	s := newTestStore(t, WithJournal(failingJournal{}))
	_, key, err := s.Register(context.Background(), RegisterParams{DisplayName: "Eta"})
	if err == nil {
		t.Fatal("expected journal error")
	}
	if s.Count() != 0 {
		t.Fatal("agent stored despite journal failure")
	}
	if _, err := s.Authenticate(key); err == nil {
		t.Fatal("key authenticates despite journal failure")
	}
}

func TestRestore(t *testing.T) {
	s := newTestStore(t)
	id := uuid.New()
	err := s.Restore([]StoredAgent{{
		Agent:  models.Agent{ID: id, DisplayName: "Theta", Status: models.AgentActive},
		Digest: auth.HashAPIKey("cterm_restored"),
	}}, []auth.KeyDigest{auth.HashAPIKey("cterm_old")})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, err := s.Authenticate("cterm_restored")
	if err != nil || got.ID != id {
		t.Fatalf("restored key: %v %v", got.ID, err)
	}
	if _, err := s.Authenticate("cterm_old"); err == nil {
		t.Fatal("retired key authenticates")
	}
}

func TestConcurrentRegistration(t *testing.T) {
	s := newTestStore(t)
	var wg sync.WaitGroup
	keys := make([]string, 50)
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, k, err := s.Register(context.Background(), RegisterParams{DisplayName: fmt.Sprintf("agent-%d", i)})
			if err != nil {
				t.Errorf("Register: %v", err)
			}
			keys[i] = k
		}(i)
	}
	wg.Wait()
	if s.Count() != len(keys) {
		t.Fatalf("Count = %d, want %d", s.Count(), len(keys))
	}
	for _, k := range keys {
		if _, err := s.Authenticate(k); err != nil {
			t.Fatalf("Authenticate(%q): %v", k, err)
		}
	}
}

// Package credentials owns agent identities and the API key index.
package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/agentdesk/backend/internal/auth"
	"github.com/user/agentdesk/backend/internal/models"
)

const maxDisplayNameLen = 64

// Journal persists identity changes. Writes happen under the store lock, before memory changes.
type Journal interface {
	SaveAgent(ctx context.Context, agent models.Agent, digest auth.KeyDigest) error
	RotateKey(ctx context.Context, agentID uuid.UUID, retired, current auth.KeyDigest) error
}

// StoredAgent is an agent as loaded back from a Journal.
type StoredAgent struct {
	Agent  models.Agent
	Digest auth.KeyDigest
}

type nopJournal struct{}

func (nopJournal) SaveAgent(context.Context, models.Agent, auth.KeyDigest) error { return nil }
func (nopJournal) RotateKey(context.Context, uuid.UUID, auth.KeyDigest, auth.KeyDigest) error {
	return nil
}

type entry struct {
	agent  models.Agent
	digest auth.KeyDigest
}

// Store is safe for concurrent use. Lookups by key are a single map access.
type Store struct {
	mu      sync.RWMutex
	agents  map[uuid.UUID]*entry
	byKey   map[auth.KeyDigest]uuid.UUID
	retired map[auth.KeyDigest]struct{}

	newKey  auth.KeyGenerator
	wallets auth.WalletProvisioner
	journal Journal
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithKeyGenerator replaces the random key source.
func WithKeyGenerator(gen auth.KeyGenerator) Option {
	return func(s *Store) { s.newKey = gen }
}

// WithWallets sets the wallet provisioner used at registration.
func WithWallets(w auth.WalletProvisioner) Option {
	return func(s *Store) { s.wallets = w }
}

// WithJournal makes identity changes durable.
func WithJournal(j Journal) Option {
	return func(s *Store) { s.journal = j }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		agents:  make(map[uuid.UUID]*entry),
		byKey:   make(map[auth.KeyDigest]uuid.UUID),
		retired: make(map[auth.KeyDigest]struct{}),
		newKey:  auth.GenerateAPIKey,
		wallets: auth.EphemeralWallets{},
		journal: nopJournal{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "credentials"))
	return s
}

// RegisterParams is the input of Register.
type RegisterParams struct {
	DisplayName string
	StrategyTag string
	RiskLevel   string
}

// Register creates an agent and returns it with its API key. The key is not retrievable later.
func (s *Store) Register(ctx context.Context, p RegisterParams) (models.Agent, string, error) {
	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		return models.Agent{}, "", models.Validationf("displayName is required")
	}
	if len(name) > maxDisplayNameLen {
		return models.Agent{}, "", models.Validationf("displayName exceeds %d characters", maxDisplayNameLen)
	}
	risk, ok := models.ParseRiskLevel(p.RiskLevel)
	if !ok {
		return models.Agent{}, "", models.Validationf("riskLevel must be conservative, moderate or aggressive")
	}
	strategy := strings.TrimSpace(p.StrategyTag)
	if strategy == "" {
		strategy = models.DefaultStrategyTag
	}

	wallet, err := s.wallets.Provision(ctx, name)
	if err != nil {
		return models.Agent{}, "", fmt.Errorf("credentials: provision wallet: %w", err)
	}
	key, err := s.newKey()
	if err != nil {
		return models.Agent{}, "", fmt.Errorf("credentials: generate key: %w", err)
	}
	digest := auth.HashAPIKey(key)

	now := s.now().UTC()
	agent := models.Agent{
		ID:          uuid.New(),
		DisplayName: name,
		StrategyTag: strategy,
		RiskLevel:   risk,
		WalletRef:   wallet,
		Status:      models.AgentActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFreshLocked(digest); err != nil {
		return models.Agent{}, "", err
	}
	if err := s.journal.SaveAgent(ctx, agent, digest); err != nil {
		return models.Agent{}, "", fmt.Errorf("credentials: persist agent %s: %w", agent.ID, err)
	}
	s.agents[agent.ID] = &entry{agent: agent, digest: digest}
	s.byKey[digest] = agent.ID

	s.logger.Info("agent registered",
		slog.String("agent_id", agent.ID.String()),
		slog.String("display_name", agent.DisplayName),
		slog.String("risk_level", string(agent.RiskLevel)),
	)
	return agent, key, nil
}

// checkFreshLocked fails if digest was ever issued. A repeat means the key source is broken.
func (s *Store) checkFreshLocked(digest auth.KeyDigest) error {
	_, live := s.byKey[digest]
	_, retired := s.retired[digest]
	if live || retired {
		s.logger.Error("api key collision", slog.Bool("retired", retired))
		return models.Inconsistencyf("generated api key collides with an issued key")
	}
	return nil
}

// Authenticate resolves an API key to its agent.
func (s *Store) Authenticate(apiKey string) (models.Agent, error) {
	if strings.TrimSpace(apiKey) == "" {
		return models.Agent{}, &models.AuthError{Reason: models.AuthInvalidKey}
	}
	digest := auth.HashAPIKey(apiKey)

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[digest]
	if !ok {
		return models.Agent{}, &models.AuthError{Reason: models.AuthInvalidKey}
	}
	e := s.agents[id]
	if e.agent.Status == models.AgentSuspended {
		return models.Agent{}, &models.AuthError{Reason: models.AuthSuspended}
	}
	return e.agent, nil
}

// Get returns an agent by id.
func (s *Store) Get(id uuid.UUID) (models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.agents[id]
	if !ok {
		return models.Agent{}, fmt.Errorf("credentials: agent %s: %w", id, models.ErrNotFound)
	}
	return e.agent, nil
}

// Revoke replaces the agent's key. The old key stops authenticating immediately and is
// never issued again; operations already past authentication are unaffected.
func (s *Store) Revoke(ctx context.Context, id uuid.UUID) (string, error) {
	key, err := s.newKey()
	if err != nil {
		return "", fmt.Errorf("credentials: generate key: %w", err)
	}
	digest := auth.HashAPIKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.agents[id]
	if !ok {
		return "", fmt.Errorf("credentials: agent %s: %w", id, models.ErrNotFound)
	}
	if err := s.checkFreshLocked(digest); err != nil {
		return "", err
	}
	if err := s.journal.RotateKey(ctx, id, e.digest, digest); err != nil {
		return "", fmt.Errorf("credentials: persist key rotation for %s: %w", id, err)
	}

	delete(s.byKey, e.digest)
	s.retired[e.digest] = struct{}{}
	e.digest = digest
	e.agent.UpdatedAt = s.now().UTC()
	s.byKey[digest] = id

	s.logger.Info("api key revoked", slog.String("agent_id", id.String()))
	return key, nil
}

// ProfileUpdate carries the mutable agent fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	DisplayName *string
	StrategyTag *string
	RiskLevel   *string
}

// UpdateProfile changes descriptive metadata. Identity, wallet and key are untouched.
func (s *Store) UpdateProfile(ctx context.Context, id uuid.UUID, u ProfileUpdate) (models.Agent, error) {
	return s.mutate(ctx, id, func(a *models.Agent) error {
		if u.DisplayName != nil {
			name := strings.TrimSpace(*u.DisplayName)
			if name == "" {
				return models.Validationf("displayName cannot be empty")
			}
			if len(name) > maxDisplayNameLen {
				return models.Validationf("displayName exceeds %d characters", maxDisplayNameLen)
			}
			a.DisplayName = name
		}
		if u.StrategyTag != nil {
			a.StrategyTag = strings.TrimSpace(*u.StrategyTag)
		}
		if u.RiskLevel != nil {
			risk, ok := models.ParseRiskLevel(*u.RiskLevel)
			if !ok || strings.TrimSpace(*u.RiskLevel) == "" {
				return models.Validationf("riskLevel must be conservative, moderate or aggressive")
			}
			a.RiskLevel = risk
		}
		return nil
	})
}

// Suspend blocks the agent at authentication. Its records and balances are kept.
func (s *Store) Suspend(ctx context.Context, id uuid.UUID) (models.Agent, error) {
	return s.setStatus(ctx, id, models.AgentSuspended)
}

// Reactivate lifts a suspension.
func (s *Store) Reactivate(ctx context.Context, id uuid.UUID) (models.Agent, error) {
	return s.setStatus(ctx, id, models.AgentActive)
}

func (s *Store) setStatus(ctx context.Context, id uuid.UUID, status models.AgentStatus) (models.Agent, error) {
	a, err := s.mutate(ctx, id, func(a *models.Agent) error {
		a.Status = status
		return nil
	})
	if err == nil {
		s.logger.Info("agent status changed",
			slog.String("agent_id", id.String()),
			slog.String("status", string(status)),
		)
	}
	return a, err
}

func (s *Store) mutate(ctx context.Context, id uuid.UUID, fn func(*models.Agent) error) (models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.agents[id]
	if !ok {
		return models.Agent{}, fmt.Errorf("credentials: agent %s: %w", id, models.ErrNotFound)
	}
	updated := e.agent
	if err := fn(&updated); err != nil {
		return models.Agent{}, err
	}
	updated.UpdatedAt = s.now().UTC()
	if err := s.journal.SaveAgent(ctx, updated, e.digest); err != nil {
		return models.Agent{}, fmt.Errorf("credentials: persist agent %s: %w", id, err)
	}
	e.agent = updated
	return updated, nil
}

// Restore loads previously persisted agents and retired key digests into an empty store.
func (s *Store) Restore(agents []StoredAgent, retired []auth.KeyDigest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range retired {
		s.retired[d] = struct{}{}
	}
	for _, sa := range agents {
		if err := s.checkFreshLocked(sa.Digest); err != nil {
			return fmt.Errorf("credentials: restore agent %s: %w", sa.Agent.ID, err)
		}
		if _, dup := s.agents[sa.Agent.ID]; dup {
			return models.Inconsistencyf("agent %s restored twice", sa.Agent.ID)
		}
		s.agents[sa.Agent.ID] = &entry{agent: sa.Agent, digest: sa.Digest}
		s.byKey[sa.Digest] = sa.Agent.ID
	}
	s.logger.Info("agents restored", slog.Int("count", len(agents)), slog.Int("retired_keys", len(retired)))
	return nil
}

// Count returns the number of registered agents.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}

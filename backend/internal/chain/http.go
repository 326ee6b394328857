package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/user/agentdesk/backend/internal/auth"
)

// maxResponseBytes caps how much of an executor response is read.
const maxResponseBytes = 1 << 20

// HTTPExecutor talks to a remote executor service. Each request carries a short-lived
// intent token so the executor can verify its origin.
type HTTPExecutor struct {
	baseURL    string
	signer     *auth.IntentSigner
	httpClient *http.Client
}

// NewHTTPExecutor creates a client for baseURL, e.g. "https://executor.internal".
// Timeouts come from the per-call context.
func NewHTTPExecutor(baseURL string, signer *auth.IntentSigner, httpClient *http.Client) *HTTPExecutor {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPExecutor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		signer:     signer,
		httpClient: httpClient,
	}
}

// ExecuteTrade implements Executor.
func (e *HTTPExecutor) ExecuteTrade(ctx context.Context, intent TradeIntent) (Receipt, error) {
	receipt, err := e.post(ctx, "/trades", intent.ID, intent.AgentID, "trade", intent)
	if err != nil {
		return Receipt{}, fmt.Errorf("chain/http: execute trade %s: %w", intent.ID, err)
	}
	return receipt, nil
}

// DeployToken implements Executor.
func (e *HTTPExecutor) DeployToken(ctx context.Context, intent DeployIntent) (Receipt, error) {
	receipt, err := e.post(ctx, "/deployments", intent.ID, intent.AgentID, "deployment", intent)
	if err != nil {
		return Receipt{}, fmt.Errorf("chain/http: deploy token %s: %w", intent.ID, err)
	}
	return receipt, nil
}

func (e *HTTPExecutor) post(ctx context.Context, path string, intentID, agentID uuid.UUID, kind string, body any) (Receipt, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode intent: %w", err)
	}
	token, err := e.signer.Sign(intentID, agentID, kind)
	if err != nil {
		return Receipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", intentID.String())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Receipt{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Receipt{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Receipt{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var receipt Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return Receipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	return receipt, nil
}

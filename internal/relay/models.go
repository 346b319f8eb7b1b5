package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kreepthom/aiproxy/internal/db/models"
)

// Models fetches the provider's model list through a pooled account. A
// static fallback is returned when no account or the upstream is available.
func (e *Engine) Models(ctx context.Context) (map[string]interface{}, error) {
	fallback := map[string]interface{}{
		"models": []map[string]interface{}{
			{"id": "claude-3-opus-20240229", "name": "Claude 3 Opus"},
			{"id": "claude-3-sonnet-20240229", "name": "Claude 3 Sonnet"},
			{"id": "claude-3-haiku-20240307", "name": "Claude 3 Haiku"},
		},
	}

	account, err := e.accounts.Select(ctx, nil)
	if err != nil {
		return fallback, nil
	}

	attemptCtx, cancel := context.WithTimeout(ctx, unaryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, e.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	setupHeaders(req, account)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fallback, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fallback, nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return fallback, nil
	}
	return result, nil
}

// Complete relays a legacy completion request on a single attempt, with no
// failover.
func (e *Engine) Complete(ctx context.Context, request map[string]interface{}, key *models.ApiKey) ([]byte, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	model, _ := request["model"].(string)

	account, err := e.accounts.Select(ctx, nil)
	if err != nil {
		return nil, ErrPoolExhausted
	}

	attemptCtx, cancel := context.WithTimeout(ctx, unaryTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.send(attemptCtx, account, "/v1/complete", body)
	if err != nil {
		relayErr := transportError(err)
		e.accounts.MarkFailure(account.ID, relayErr)
		e.emit(RequestOutcome{
			ApiKeyID:     keyID(key),
			AccountID:    account.ID,
			AccountEmail: account.Email,
			Provider:     account.Provider,
			Model:        model,
			Endpoint:     "/v1/complete",
			LatencyMs:    time.Since(start).Milliseconds(),
			ErrorMessage: relayErr.Message,
			FinalAccount: account.ID,
		})
		return nil, relayErr
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		relayErr := upstreamError(resp.StatusCode, respBody)
		e.accounts.MarkFailure(account.ID, relayErr)
		e.emit(RequestOutcome{
			ApiKeyID:     keyID(key),
			AccountID:    account.ID,
			AccountEmail: account.Email,
			Provider:     account.Provider,
			Model:        model,
			Endpoint:     "/v1/complete",
			LatencyMs:    time.Since(start).Milliseconds(),
			StatusCode:   resp.StatusCode,
			ErrorMessage: relayErr.Message,
			FinalAccount: account.ID,
		})
		return nil, relayErr
	}

	e.accounts.MarkSuccess(account.ID)
	in, out := usageTokens(respBody)
	e.emit(RequestOutcome{
		ApiKeyID:       keyID(key),
		AccountID:      account.ID,
		AccountEmail:   account.Email,
		Provider:       account.Provider,
		Model:          model,
		Endpoint:       "/v1/complete",
		RequestTokens:  in,
		ResponseTokens: out,
		LatencyMs:      time.Since(start).Milliseconds(),
		StatusCode:     http.StatusOK,
		FinalAccount:   account.ID,
	})
	return respBody, nil
}

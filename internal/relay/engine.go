package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/kreepthom/aiproxy/internal/config"
	"github.com/kreepthom/aiproxy/internal/db/models"
	"github.com/kreepthom/aiproxy/internal/util"
)

const (
	// DefaultBaseURL is the upstream provider endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	anthropicVersionHeader = "anthropic-version"
	anthropicVersion       = "2023-06-01"
	relayUserAgent         = "claude-cli/1.0.57 (external, cli)"

	// Beta features required for OAuth-token requests.
	oauthBetaHeader = "claude-code-20250219,oauth-2025-04-20,interleaved-thinking-2025-05-14,fine-grained-tool-streaming-2025-05-14"

	// System prompt the provider requires at the front of every OAuth
	// request. Caller-supplied system content is preserved after it.
	requiredSystemPrompt = "You are Claude Code, Anthropic's official CLI for Claude."

	// unaryTimeout bounds one non-streaming attempt end to end. Streams
	// carry no fixed cap; only caller cancellation ends them.
	unaryTimeout = 5 * time.Minute
)

// AccountProvider is the pool surface the engine depends on.
type AccountProvider interface {
	Select(ctx context.Context, excluding map[string]struct{}) (*models.Account, error)
	MarkSuccess(id string)
	MarkFailure(id string, cause error)
}

// Engine executes the relay retry loop: pick an account, forward, and
// fail over to a different account when the error is account-attributable.
type Engine struct {
	accounts    AccountProvider
	sink        Sink
	httpClient  *http.Client
	baseURL     string
	maxAttempts int
}

// NewEngine creates a relay engine. The HTTP connection pool is shared
// across all accounts and requests.
func NewEngine(accounts AccountProvider, sink Sink, cfg config.PoolConfig) *Engine {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       20 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &Engine{
		accounts: accounts,
		sink:     sink,
		// No Client.Timeout: it would cap the whole body read and cut
		// long streams mid-flight. Unary attempts bound themselves with
		// unaryTimeout.
		httpClient: &http.Client{
			Transport: transport,
		},
		baseURL:     DefaultBaseURL,
		maxAttempts: cfg.EffectiveMaxRetries(),
	}
}

// Relay forwards a unary request, retrying on a different account for
// retryable failures until success, a non-retryable error, or the attempt
// budget runs out. The returned bytes are the upstream body verbatim.
func (e *Engine) Relay(ctx context.Context, request map[string]interface{}, key *models.ApiKey) ([]byte, error) {
	payload := InjectSystemPrompt(request)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	model, _ := request["model"].(string)

	tried := make(map[string]struct{})
	var triedList []string
	var lastErr error

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		account, err := e.accounts.Select(ctx, tried)
		if err != nil {
			log.Printf("❌ No more accounts for relay after %d attempts", attempt)
			break
		}
		tried[account.ID] = struct{}{}

		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, unaryTimeout)
		resp, err := e.send(attemptCtx, account, "/v1/messages", body)
		if err != nil {
			cancel()
			lastErr = e.failAttempt(account, transportError(err), key, model, body, start, attempt, triedList)
			triedList = append(triedList, account.ID)
			continue // transport errors are always retryable
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		if readErr != nil {
			lastErr = e.failAttempt(account, transportError(readErr), key, model, body, start, attempt, triedList)
			triedList = append(triedList, account.ID)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			e.accounts.MarkSuccess(account.ID)
			in, out := usageTokens(respBody)
			e.emit(RequestOutcome{
				ApiKeyID:       keyID(key),
				AccountID:      account.ID,
				AccountEmail:   account.Email,
				Provider:       account.Provider,
				Model:          model,
				Endpoint:       "/v1/messages",
				RequestTokens:  in,
				ResponseTokens: out,
				LatencyMs:      time.Since(start).Milliseconds(),
				StatusCode:     http.StatusOK,
				RetryCount:     attempt,
				TriedAccounts:  triedList,
				FinalAccount:   account.ID,
			})
			return respBody, nil
		}

		relayErr := upstreamError(resp.StatusCode, respBody)
		lastErr = e.failAttempt(account, relayErr, key, model, body, start, attempt, triedList)
		triedList = append(triedList, account.ID)

		if !Retryable(relayErr) {
			log.Printf("❌ Account %s failed with non-retryable %d, aborting", account.Email, resp.StatusCode)
			return nil, relayErr
		}
		log.Printf("⚠️ Account %s failed with retryable error, trying next (attempt %d/%d): %v",
			account.Email, attempt+1, e.maxAttempts, relayErr)
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %s", ErrPoolExhausted, lastErr.Error())
	}
	return nil, ErrPoolExhausted
}

// failAttempt marks the failure on the pool, emits a diagnostic outcome
// with the request body, and returns the error for the retry decision.
func (e *Engine) failAttempt(account *models.Account, relayErr *RelayError, key *models.ApiKey, model string, body []byte, start time.Time, attempt int, triedList []string) error {
	e.accounts.MarkFailure(account.ID, relayErr)
	e.emit(RequestOutcome{
		ApiKeyID:      keyID(key),
		AccountID:     account.ID,
		AccountEmail:  account.Email,
		Provider:      account.Provider,
		Model:         model,
		Endpoint:      "/v1/messages",
		LatencyMs:     time.Since(start).Milliseconds(),
		StatusCode:    relayErr.StatusCode,
		ErrorMessage:  relayErr.Message,
		RetryCount:    attempt,
		TriedAccounts: triedList,
		FinalAccount:  account.ID,
		RequestBody:   util.TruncateBytes(body),
	})
	return relayErr
}

// send performs one upstream POST with headers matching the account's auth
// scheme.
func (e *Engine) send(ctx context.Context, account *models.Account, endpoint string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	setupHeaders(req, account)
	return e.httpClient.Do(req)
}

// setupHeaders applies the auth headers for the account's scheme, resolved
// once at account creation rather than re-sniffed from the token.
func setupHeaders(req *http.Request, account *models.Account) {
	if account.AuthScheme == models.AuthSchemeOAuth {
		req.Header.Set("Authorization", "Bearer "+account.AccessToken)
		req.Header.Set("anthropic-beta", oauthBetaHeader)
	} else {
		req.Header.Set("x-api-key", account.AccessToken)
	}
	req.Header.Set(anthropicVersionHeader, anthropicVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", relayUserAgent)
}

// InjectSystemPrompt returns a copy of the request with the provider's
// required system prompt prepended to any caller-supplied system content.
func InjectSystemPrompt(request map[string]interface{}) map[string]interface{} {
	modified := make(map[string]interface{}, len(request))
	for k, v := range request {
		modified[k] = v
	}

	promptBlock := map[string]interface{}{
		"type":          "text",
		"text":          requiredSystemPrompt,
		"cache_control": map[string]interface{}{"type": "ephemeral"},
	}

	switch system := modified["system"].(type) {
	case string:
		modified["system"] = requiredSystemPrompt + "\n\n" + system
	case []interface{}:
		blocks := make([]interface{}, 0, len(system)+1)
		blocks = append(blocks, promptBlock)
		blocks = append(blocks, system...)
		modified["system"] = blocks
	default:
		modified["system"] = []interface{}{promptBlock}
	}
	return modified
}

func (e *Engine) emit(outcome RequestOutcome) {
	if e.sink != nil {
		e.sink.Record(outcome)
	}
}

func keyID(key *models.ApiKey) string {
	if key == nil {
		return ""
	}
	return key.ID
}

// usageTokens extracts input/output token counts from the provider's usage
// payload when present.
func usageTokens(body []byte) (in, out int) {
	var parsed struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, 0
	}
	return parsed.Usage.InputTokens, parsed.Usage.OutputTokens
}

package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kreepthom/aiproxy/internal/db/models"
)

// RelayStream forwards a streaming request, failing over across accounts
// until the first byte of a successful upstream response is committed.
// After that, events are translated to the caller as they arrive and a
// mid-stream failure is terminal (never retried). Caller disconnects
// cancel the upstream request through ctx.
func (e *Engine) RelayStream(ctx context.Context, request map[string]interface{}, key *models.ApiKey, w http.ResponseWriter) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming not supported by response writer")
	}

	payload := InjectSystemPrompt(request)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	model, _ := request["model"].(string)

	tried := make(map[string]struct{})
	var triedList []string
	var lastErr error

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		account, err := e.accounts.Select(ctx, tried)
		if err != nil {
			log.Printf("❌ No more accounts for stream relay after %d attempts", attempt)
			break
		}
		tried[account.ID] = struct{}{}

		start := time.Now()
		resp, err := e.send(ctx, account, "/v1/messages", body)
		if err != nil {
			lastErr = e.failAttempt(account, transportError(err), key, model, body, start, attempt, triedList)
			triedList = append(triedList, account.ID)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			relayErr := upstreamError(resp.StatusCode, respBody)
			lastErr = e.failAttempt(account, relayErr, key, model, body, start, attempt, triedList)
			triedList = append(triedList, account.ID)
			if !Retryable(relayErr) {
				log.Printf("❌ Account %s failed stream with non-retryable %d, aborting", account.Email, resp.StatusCode)
				return relayErr
			}
			log.Printf("⚠️ Account %s failed stream with retryable error, trying next (attempt %d/%d): %v",
				account.Email, attempt+1, e.maxAttempts, relayErr)
			continue
		}

		// Committed: from here on failures are not retried.
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		in, out, streamErr := e.forwardStream(w, flusher, resp.Body)
		resp.Body.Close()

		outcome := RequestOutcome{
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
		}
		if streamErr != nil {
			outcome.ErrorMessage = streamErr.Error()
			if ctx.Err() != nil || errors.Is(streamErr, context.Canceled) {
				// Caller went away. The account did nothing wrong, so its
				// health record stays untouched.
				e.emit(outcome)
				log.Printf("🔌 Caller closed stream early (account %s): %v", account.Email, streamErr)
				return nil
			}
			// Partial delivery on an upstream fault; record the failure,
			// tell the caller with a terminal error frame, and surface
			// nothing retryable.
			e.accounts.MarkFailure(account.ID, transportError(streamErr))
			e.emit(outcome)
			writeStreamError(w, flusher, streamErr)
			log.Printf("⚠️ Stream from account %s ended early: %v", account.Email, streamErr)
			return nil
		}

		e.accounts.MarkSuccess(account.ID)
		e.emit(outcome)
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("%w: %s", ErrPoolExhausted, lastErr.Error())
	}
	return ErrPoolExhausted
}

// forwardStream translates the upstream SSE body into outbound events. The
// event name comes from the payload's type field (default "message"); the
// [DONE] terminator is recognized and suppressed. Usage counters are
// accumulated from message_start and message_delta frames.
func (e *Engine) forwardStream(w io.Writer, flusher http.Flusher, upstream io.Reader) (in, out int, err error) {
	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		event := "message"
		var frame map[string]interface{}
		if jsonErr := json.Unmarshal([]byte(data), &frame); jsonErr == nil {
			if t, ok := frame["type"].(string); ok && t != "" {
				event = t
			}
			accumulateUsage(frame, &in, &out)
		}

		fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", uuid.New().String(), event, data)
		flusher.Flush()
	}
	return in, out, scanner.Err()
}

// writeStreamError appends a terminal error frame so the caller sees an
// explicit failure rather than a silent stop.
func writeStreamError(w io.Writer, flusher http.Flusher, cause error) {
	payload := map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    "upstream_error",
			"message": cause.Error(),
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %s\nevent: error\ndata: %s\n\n", uuid.New().String(), data)
	flusher.Flush()
}

// accumulateUsage pulls token counts out of stream frames: message_start
// carries input_tokens, message_delta the final output_tokens.
func accumulateUsage(frame map[string]interface{}, in, out *int) {
	readUsage := func(usage map[string]interface{}) {
		if v, ok := usage["input_tokens"].(float64); ok && v > 0 {
			*in = int(v)
		}
		if v, ok := usage["output_tokens"].(float64); ok && v > 0 {
			*out = int(v)
		}
	}

	if message, ok := frame["message"].(map[string]interface{}); ok {
		if usage, ok := message["usage"].(map[string]interface{}); ok {
			readUsage(usage)
		}
	}
	if usage, ok := frame["usage"].(map[string]interface{}); ok {
		readUsage(usage)
	}
}

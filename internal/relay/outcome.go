package relay

// RequestOutcome is the record of one relay attempt or final result,
// handed to the log sink. The engine never blocks on its persistence.
type RequestOutcome struct {
	ApiKeyID       string   `json:"api_key_id,omitempty"`
	AccountID      string   `json:"account_id,omitempty"`
	AccountEmail   string   `json:"account_email,omitempty"`
	Provider       string   `json:"provider,omitempty"`
	Model          string   `json:"model,omitempty"`
	Endpoint       string   `json:"endpoint,omitempty"`
	RequestTokens  int      `json:"request_tokens,omitempty"`
	ResponseTokens int      `json:"response_tokens,omitempty"`
	LatencyMs      int64    `json:"latency_ms"`
	StatusCode     int      `json:"status_code"`
	ErrorMessage   string   `json:"error_message,omitempty"`
	RetryCount     int      `json:"retry_count"`
	TriedAccounts  []string `json:"tried_accounts,omitempty"`
	FinalAccount   string   `json:"final_account,omitempty"`
	RequestBody    string   `json:"-"` // failures only, for diagnostics
}

// Sink receives outcomes fire-and-forget; implementations must swallow
// their own failures.
type Sink interface {
	Record(outcome RequestOutcome)
}

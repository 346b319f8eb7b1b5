package models

// RequestLog stores one relay outcome for monitoring and search.
type RequestLog struct {
	ID            string `gorm:"primaryKey" json:"id"`
	Timestamp     int64  `gorm:"index" json:"timestamp"`
	ApiKeyID      string `gorm:"index" json:"api_key_id"`
	AccountID     string `gorm:"index" json:"account_id"`
	AccountEmail  string `json:"account_email,omitempty"`
	Provider      string `json:"provider"`
	Model         string `gorm:"index" json:"model"`
	Endpoint      string `json:"endpoint"`
	StatusCode    int    `gorm:"index" json:"status_code"`
	LatencyMs     int64  `json:"latency_ms"`
	RequestTokens int    `json:"request_tokens,omitempty"`
	ResponseTokens int   `json:"response_tokens,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	RetryCount    int    `json:"retry_count"`
	TriedAccounts string `json:"tried_accounts,omitempty"` // JSON array of account ids
	FinalAccount  string `json:"final_account,omitempty"`
	RequestBody   string `gorm:"type:text" json:"request_body,omitempty"` // failures only
}

// RequestStats holds aggregated statistics for request logs.
type RequestStats struct {
	TotalRequests  int64 `json:"total_requests"`
	SuccessCount   int64 `json:"success_count"`
	ErrorCount     int64 `json:"error_count"`
	RequestTokens  int64 `json:"request_tokens"`
	ResponseTokens int64 `json:"response_tokens"`
}

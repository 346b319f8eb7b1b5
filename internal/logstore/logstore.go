package logstore

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kreepthom/aiproxy/internal/db/models"
	"github.com/kreepthom/aiproxy/internal/relay"
	"gorm.io/gorm"
)

// Store persists relay outcomes and serves the request-log admin surface.
// Record is fire-and-forget: failures are logged and swallowed, never
// surfaced to the relay path.
type Store struct {
	db     *gorm.DB
	recent recentRing
}

// New creates a log store on the shared database.
func New(database *gorm.DB) *Store {
	return &Store{db: database}
}

// Record implements relay.Sink. A bounded in-memory tail feeds the live
// admin view; the insert runs on its own goroutine so the caller's response
// is never delayed.
func (s *Store) Record(outcome relay.RequestOutcome) {
	s.recent.add(outcome)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("⚠️ Request log write panicked: %v", r)
			}
		}()

		tried := ""
		if len(outcome.TriedAccounts) > 0 {
			if data, err := json.Marshal(outcome.TriedAccounts); err == nil {
				tried = string(data)
			}
		}

		entry := models.RequestLog{
			ID:             uuid.New().String(),
			Timestamp:      time.Now().UnixMilli(),
			ApiKeyID:       outcome.ApiKeyID,
			AccountID:      outcome.AccountID,
			AccountEmail:   outcome.AccountEmail,
			Provider:       outcome.Provider,
			Model:          outcome.Model,
			Endpoint:       outcome.Endpoint,
			StatusCode:     outcome.StatusCode,
			LatencyMs:      outcome.LatencyMs,
			RequestTokens:  outcome.RequestTokens,
			ResponseTokens: outcome.ResponseTokens,
			ErrorMessage:   outcome.ErrorMessage,
			RetryCount:     outcome.RetryCount,
			TriedAccounts:  tried,
			FinalAccount:   outcome.FinalAccount,
			RequestBody:    outcome.RequestBody,
		}
		if err := s.db.Create(&entry).Error; err != nil {
			log.Printf("⚠️ Failed to write request log: %v", err)
		}
	}()
}

// Query filters the request-log listing.
type Query struct {
	ApiKeyID   string
	AccountID  string
	Model      string
	StatusCode int
	Since      time.Time
	Until      time.Time
	Page       int
	PageSize   int
}

func (q Query) apply(tx *gorm.DB) *gorm.DB {
	if q.ApiKeyID != "" {
		tx = tx.Where("api_key_id = ?", q.ApiKeyID)
	}
	if q.AccountID != "" {
		tx = tx.Where("account_id = ?", q.AccountID)
	}
	if q.Model != "" {
		tx = tx.Where("model = ?", q.Model)
	}
	if q.StatusCode != 0 {
		tx = tx.Where("status_code = ?", q.StatusCode)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("timestamp >= ?", q.Since.UnixMilli())
	}
	if !q.Until.IsZero() {
		tx = tx.Where("timestamp <= ?", q.Until.UnixMilli())
	}
	return tx
}

// List returns a page of request logs, newest first, with the total count
// for the filter.
func (s *Store) List(q Query) ([]models.RequestLog, int64, error) {
	var total int64
	if err := q.apply(s.db.Model(&models.RequestLog{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.PageSize
	if size < 1 || size > 500 {
		size = 50
	}

	var logs []models.RequestLog
	err := q.apply(s.db.Model(&models.RequestLog{})).
		Order("timestamp DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&logs).Error
	return logs, total, err
}

// Stats aggregates totals for the filter.
func (s *Store) Stats(q Query) (models.RequestStats, error) {
	var stats models.RequestStats

	base := q.apply(s.db.Model(&models.RequestLog{}))
	if err := base.Count(&stats.TotalRequests).Error; err != nil {
		return stats, err
	}
	if err := q.apply(s.db.Model(&models.RequestLog{})).
		Where("status_code = ?", 200).Count(&stats.SuccessCount).Error; err != nil {
		return stats, err
	}
	stats.ErrorCount = stats.TotalRequests - stats.SuccessCount

	row := q.apply(s.db.Model(&models.RequestLog{})).
		Select("COALESCE(SUM(request_tokens),0), COALESCE(SUM(response_tokens),0)").Row()
	if err := row.Scan(&stats.RequestTokens, &stats.ResponseTokens); err != nil {
		return stats, err
	}
	return stats, nil
}

// ExportCSV streams the filtered logs as CSV.
func (s *Store) ExportCSV(w io.Writer, q Query) error {
	var logs []models.RequestLog
	if err := q.apply(s.db.Model(&models.RequestLog{})).
		Order("timestamp DESC").Limit(10000).Find(&logs).Error; err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{"timestamp", "api_key_id", "account_email", "provider", "model",
		"endpoint", "status_code", "latency_ms", "request_tokens", "response_tokens",
		"retry_count", "final_account", "error_message"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, entry := range logs {
		record := []string{
			time.UnixMilli(entry.Timestamp).Format(time.RFC3339),
			entry.ApiKeyID,
			entry.AccountEmail,
			entry.Provider,
			entry.Model,
			entry.Endpoint,
			strconv.Itoa(entry.StatusCode),
			strconv.FormatInt(entry.LatencyMs, 10),
			strconv.Itoa(entry.RequestTokens),
			strconv.Itoa(entry.ResponseTokens),
			strconv.Itoa(entry.RetryCount),
			entry.FinalAccount,
			entry.ErrorMessage,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kreepthom/aiproxy/internal/logstore"
)

// parseLogQuery maps URL query parameters onto a logstore filter. Times are
// unix milliseconds to match the stored timestamps.
func parseLogQuery(r *http.Request) logstore.Query {
	q := logstore.Query{
		ApiKeyID:  r.URL.Query().Get("api_key_id"),
		AccountID: r.URL.Query().Get("account_id"),
		Model:     r.URL.Query().Get("model"),
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("status_code")); err == nil {
		q.StatusCode = v
	}
	if v, err := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64); err == nil {
		q.Since = time.UnixMilli(v)
	}
	if v, err := strconv.ParseInt(r.URL.Query().Get("until"), 10, 64); err == nil {
		q.Until = time.UnixMilli(v)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		q.Page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil {
		q.PageSize = v
	}
	return q
}

// ListRequestLogsHandler returns a filtered, paginated page of request logs.
func ListRequestLogsHandler(logs *logstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := parseLogQuery(r)
		entries, total, err := logs.List(q)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "database_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"logs":  entries,
			"total": total,
		})
	}
}

// RequestStatsHandler aggregates success/error counts and token totals for
// the filter.
func RequestStatsHandler(logs *logstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := logs.Stats(parseLogQuery(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "database_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// RecentRequestLogsHandler serves the in-memory tail of relay outcomes,
// cheap enough to poll from a live dashboard.
func RecentRequestLogsHandler(logs *logstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		recent := logs.Recent(limit)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"logs":  recent,
			"total": len(recent),
		})
	}
}

// ExportRequestLogsHandler streams the filtered logs as a CSV download.
func ExportRequestLogsHandler(logs *logstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="request-logs.csv"`)
		if err := logs.ExportCSV(w, parseLogQuery(r)); err != nil {
			// Headers are already out; best effort only.
			return
		}
	}
}

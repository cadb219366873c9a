package cli

import (
	"database/sql"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/retailkit/crmctl/pkg/data"
)

func homeViewHandler(tmpl *template.Template) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d := map[string]any{
			"version":    version,
			"commit":     commit,
			"build_date": date,
		}
		if err := tmpl.ExecuteTemplate(w, "home", d); err != nil {
			slog.Error("template render failed", "error", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryParamInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func summaryAPIHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := data.GetDatasetSummary(db)
		if err != nil {
			slog.Error("failed to get dataset summary", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to get summary")
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func dailyAPIHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := data.GetDailySeries(db)
		if err != nil {
			slog.Error("failed to get daily series", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to get daily series")
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func segmentsAPIHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := data.GetSegmentStats(db)
		if err != nil {
			slog.Error("failed to get segment stats", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to get segments")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func churnAPIHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryParamInt(r, "limit", queryResultLimitDefault)
		list, err := data.QueryChurn(db, nil, limit)
		if err != nil {
			slog.Error("failed to query churn", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to get churn data")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func clvAPIHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryParamInt(r, "limit", queryResultLimitDefault)
		list, err := data.QueryCLV(db, limit)
		if err != nil {
			slog.Error("failed to query CLV", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to get CLV data")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func customersAPIHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryParamInt(r, "limit", queryResultLimitDefault)
		var country *string
		if v := r.URL.Query().Get("country"); v != "" {
			country = &v
		}
		list, err := data.ListCustomers(db, country, limit)
		if err != nil {
			slog.Error("failed to list customers", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to get customers")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func customerAPIHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "valid customer id required")
			return
		}
		detail, err := data.GetCustomer(db, id)
		if err != nil {
			slog.Error("failed to get customer", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to get customer")
			return
		}
		if detail == nil {
			writeError(w, http.StatusNotFound, "customer not found")
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

func stateAPIHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := data.GetDataState(db)
		if err != nil {
			slog.Error("failed to get data state", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to get state")
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

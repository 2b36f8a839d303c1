package api

import (
	"encoding/json"
	"net/http"

	"github.com/loomkit/loom/internal/migration"
)

type migrateRequest struct {
	LegacyPath string `json:"legacy_path"`
	DryRun     bool   `json:"dry_run"`
}

func handleMigrate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req migrateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.LegacyPath == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "legacy_path is required")
			return
		}

		m, err := migration.Open(deps.Store, req.LegacyPath, deps.Logger)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "opening legacy database: %v", err)
			return
		}
		defer m.Close()

		var report migration.Report
		if req.DryRun {
			report, err = m.DryRun(r.Context())
		} else {
			report, err = m.Run(r.Context())
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "migration failed: %v", err)
			return
		}
		writeJSON(w, report)
	}
}

func handleMigrateStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batch, err := deps.Store.LatestImportBatch()
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, batch)
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.Stats()
		if err != nil {
			domainError(w, err)
			return
		}
		writeJSON(w, stats)
	}
}

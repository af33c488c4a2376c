package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sw33tLie/emvscope/pkg/report"
	"github.com/sw33tLie/emvscope/pkg/storage"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func precision(r *http.Request) report.Precision {
	if r.URL.Query().Get("precision") == "full" {
		return report.Full
	}
	return report.Display
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.DB.GetStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := storage.ListOptions{AssetFilter: q.Get("search")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		opts.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid since, expected RFC3339", http.StatusBadRequest)
			return
		}
		opts.Since = t
	}

	sessions, err := s.DB.ListSessions(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []storage.SessionRecord{}
	}
	writeJSON(w, sessions)
}

// SessionResponse is the body of GET /api/sessions/{id}.
type SessionResponse struct {
	Session      storage.SessionRecord `json:"session"`
	Report       report.Report         `json:"report"`
	ShareOfVoice []report.Share        `json:"share_of_voice"`
}

func (s *Server) loadReport(r *http.Request) (storage.SessionRecord, report.Report, error) {
	id := r.PathValue("id")
	rec, err := s.DB.GetSession(r.Context(), id)
	if err != nil {
		return storage.SessionRecord{}, report.Report{}, err
	}
	ledgers, err := s.DB.LoadLedgers(r.Context(), id)
	if err != nil {
		return storage.SessionRecord{}, report.Report{}, err
	}
	return rec, report.Snapshot(ledgers), nil
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rec, rep, err := s.loadReport(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, SessionResponse{Session: rec, Report: rep, ShareOfVoice: rep.ShareOfVoice()})
}

func (s *Server) handleReportCSV(w http.ResponseWriter, r *http.Request) {
	rec, rep, err := s.loadReport(r)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+rec.ID+`-report.csv"`)
	rep.WriteCSV(w, precision(r))
}

func (s *Server) handleAuditCSV(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entries, err := s.DB.LoadAuditLog(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`-audit.csv"`)
	report.WriteAuditCSV(w, report.Audit(entries), precision(r))
}

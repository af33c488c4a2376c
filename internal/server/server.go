// Package server exposes the session archive over a read-only HTTP API.
package server

import (
	"net/http"

	"github.com/sw33tLie/emvscope/internal/utils"
	"github.com/sw33tLie/emvscope/pkg/metrics"
	"github.com/sw33tLie/emvscope/pkg/storage"
)

type Server struct {
	DB       *storage.DB
	Metrics  *metrics.Metrics // optional; serves /metrics when set
	Username string
	Password string
}

func New(db *storage.DB, user, pass string) *Server {
	return &Server{
		DB:       db,
		Username: user,
		Password: pass,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/stats", s.basicAuth(s.handleStats))
	mux.HandleFunc("GET /api/sessions", s.basicAuth(s.handleSessions))
	mux.HandleFunc("GET /api/sessions/{id}", s.basicAuth(s.handleSession))
	mux.HandleFunc("GET /api/sessions/{id}/report.csv", s.basicAuth(s.handleReportCSV))
	mux.HandleFunc("GET /api/sessions/{id}/audit.csv", s.basicAuth(s.handleAuditCSV))
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}
	return mux
}

func (s *Server) Start(addr string) error {
	utils.Log.Infof("Starting server on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) basicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Username == "" && s.Password == "" {
			next(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

package server

import (
	"net/http"

	"github.com/ternarybob/koscout/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	h := s.app.KnockoutHandler

	mux.Handle("/health", methods{http.MethodGet: h.HealthHandler})

	// Knock-out search API
	mux.Handle("/api/knockouts/search", methods{http.MethodGet: h.SearchHandler})
	mux.Handle("/api/knockouts/breaker", methods{http.MethodGet: h.BreakerHandler})
	mux.Handle("/api/knockouts/breaker/reset", methods{http.MethodPost: h.ResetBreakerHandler})
	mux.Handle("/api/knockouts/warm", methods{http.MethodPost: h.WarmHandler})
	mux.Handle("/api/knockouts/cache", methods{http.MethodDelete: h.ClearCacheHandler})

	mux.HandleFunc("/", s.handleNotFound)

	return mux
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, http.StatusNotFound, "not found: "+r.URL.Path)
}

// Package debugserver exposes a small chi-routed HTTP surface (spec.md
// §4.8, ADDED) for introspecting the stores a Source reports: each one's
// enabled flag, current query key, status, subscriber count, cached query
// keys and last error. Grounded on the teacher's internal/http/routes.go:
// the same chi.NewRouter() plus chimw.RequestID/RealIP/Recoverer middleware
// stack, generalized from a full web app's routes down to a read-only
// JSON introspection surface.
package debugserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// StoreSnapshot is what a queryflux.Store reports about itself for the
// debug surface.
type StoreSnapshot struct {
	StoreID          string          `json:"store_id"`
	Enabled          bool            `json:"enabled"`
	QueryKey         string          `json:"query_key"`
	Status           string          `json:"status"`
	SubscriberCount  int             `json:"subscriber_count"`
	CachedQueryKeys  []string        `json:"cached_query_keys"`
	LastError        string          `json:"last_error,omitempty"`
}

// Source is implemented by whatever holds the live stores. *registry.Registry
// does not implement this directly (it only knows Sweepable); the host
// application supplies a thin adapter that also knows how to snapshot each
// store, since the registry package itself stays generic over D.
type Source interface {
	Snapshots() []StoreSnapshot
}

// Server is the debug HTTP surface.
type Server struct {
	Router *chi.Mux
	source Source
}

// New builds a Server backed by source.
func New(source Source) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	s := &Server{Router: r, source: source}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/debug/queryflux/stores", s.handleListStores)
	r.Get("/debug/queryflux/stores/{id}", s.handleGetStore)

	return s
}

func (s *Server) handleListStores(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source.Snapshots()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleGetStore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, snap := range s.source.Snapshots() {
		if snap.StoreID == id {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(snap); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}
	}
	http.NotFound(w, r)
}

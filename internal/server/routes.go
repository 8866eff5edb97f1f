package server

import (
	"expvar"

	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/gtfsload/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router) {
	h := handlers.New(s.runner, s.registry, s.pinger)
	h.SetLogger(s.logger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Contracts
		r.Get("/contracts", h.ListContracts)
		r.Get("/contracts/{dataset}", h.GetContract)

		// Feeds
		r.Get("/feeds", h.ListFeeds)
		r.Post("/feeds/{dataset}/run", h.RunFeed)
	})

	r.Handle("/debug/vars", expvar.Handler())
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	if s.cfg.RateLimit.Enabled {
		s.limiter = newRateLimiterMap(s.cfg.RateLimit.RequestsPerMinute)
		r.Use(s.rateLimitMiddleware(s.limiter))
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{runID}", s.handleGetRun)
			r.Delete("/{runID}", s.handleDeleteRun)
		})

		r.Post("/parse", s.handleParse)
		r.Post("/clear", s.handleClear)

		r.Get("/trends", s.handleTrends)
		r.Get("/flaky-tests", s.handleFlakyTests)
		r.Get("/slowest-tests", s.handleSlowestTests)
		r.Get("/tag-stats", s.handleTagStats)
		r.Get("/suite-stats", s.handleSuiteStats)
		r.Get("/compare", s.handleCompare)

		r.Route("/tag/{tag}", func(r chi.Router) {
			r.Get("/", s.handleTagAnalysis)
			r.Get("/history", s.handleTagHistory)
			r.Get("/tests", s.handleTagTests)
			r.Get("/export", s.handleTagExport)
		})
	})

	// Archived report artifacts (HTML reports, screenshots).
	r.Get("/runs/{runID}/files/*", s.handleArchivedFile)

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}

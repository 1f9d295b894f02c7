package api

import (
	"net/http"
	"time"

	"vrpga/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Cfg
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":               c.Server.Port,
			"rateRps":            c.Server.RateRPS,
			"rateBurst":          c.Server.RateBurst,
			"maxConcurrentRuns":  c.Server.MaxConcurrentRuns,
			"maxGenerations":     c.Server.MaxGenerations,
			"progressEvery":      c.Server.ProgressEvery,
			"webhookMaxAttempts": c.Webhooks.MaxAttempts,
			"hasDatabaseUrl":     c.Database.URL != "",
			"hasRedisUrl":        c.Redis.URL != "",
			"hasWebhookSecret":   c.Webhooks.Secret != "",
			"solver":             c.Solver,
			"logLevel":           c.Log.Level,
		},
	})
}

package api

import (
	"net/http"
	"time"

	"rbus/internal/buildinfo"
)

// DebugJSON reports build info and a secret-free summary of the running config.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	c := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":               c.Port,
			"authMode":           c.Auth.Mode,
			"rateRps":            c.RateLimit.RPS,
			"rateBurst":          c.RateLimit.Burst,
			"notifyMode":         c.Notify.Mode,
			"adminRecipient":     c.Notify.Recipient,
			"webhookMaxAttempts": c.Notify.MaxAttempts,
			"recomputeWorkers":   c.Recompute.Workers,
			"hasDatabaseUrl":     c.DatabaseURL != "",
			"hasRedisUrl":        c.RedisURL != "",
			"hasAmqpUrl":         c.Notify.AMQPURL != "",
		},
	})
}

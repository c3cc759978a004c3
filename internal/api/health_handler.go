package api

import (
	"context"
	"net/http"
	"time"

	"github.com/observer/notifyhub/internal/registry"
)

// RegistryStats is satisfied by *registry.Registry
type RegistryStats interface {
	Stats() registry.Stats
}

// LedgerStats is satisfied by *registry.LedgerWriter
type LedgerStats interface {
	Stats() registry.WriterStats
}

// Pinger checks a backing store
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthHandler serves liveness, readiness and connection statistics
type HealthHandler struct {
	registry RegistryStats
	ledger   LedgerStats
	db       Pinger
}

func NewHealthHandler(reg RegistryStats, ledger LedgerStats, db Pinger) *HealthHandler {
	return &HealthHandler{registry: reg, ledger: ledger, db: db}
}

// Health godoc
//
//	@Summary		Service health with connection statistics
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	object{status=string,timestamp=string,websocket=object{stats=registry.Stats,ledger=registry.WriterStats}}
//	@Router			/health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "OK",
		"timestamp": time.Now().UTC(),
		"websocket": map[string]interface{}{
			"stats":  h.registry.Stats(),
			"ledger": h.ledger.Stats(),
		},
	})
}

// Healthz is the liveness probe
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz verifies DB connectivity
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  "database unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

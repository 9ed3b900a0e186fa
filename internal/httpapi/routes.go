// Package httpapi is the service's HTTP surface: ask, thread inspection,
// outcome feedback, live event streaming and operational endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.temporal.io/sdk/client"

	"github.com/quorumlabs/quorum/internal/consensus"
	"github.com/quorumlabs/quorum/internal/events"
	"github.com/quorumlabs/quorum/internal/health"
	"github.com/quorumlabs/quorum/internal/metrics"
	"github.com/quorumlabs/quorum/internal/registry"
	"github.com/quorumlabs/quorum/internal/stats"
	"github.com/quorumlabs/quorum/internal/store"
	"github.com/quorumlabs/quorum/internal/vault"
)

// Asker answers one question end to end. Satisfied by the in-process
// orchestrator and by the durable dispatcher.
type Asker interface {
	Ask(ctx context.Context, question string, opts consensus.Options) (*consensus.Result, error)
}

// Dependencies carries everything the handlers need. TemporalClient is nil
// when durable execution is disabled.
type Dependencies struct {
	Asker          Asker
	Registry       *registry.Registry
	Store          store.Store
	Vault          *vault.Vault
	Health         *health.Tracker
	Stats          *stats.Collector
	EventBus       *events.Bus
	Metrics        *metrics.Registry
	TemporalClient client.Client
}

func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		models := len(d.Registry.Models())
		available := len(d.Registry.Available())
		status := http.StatusOK
		state := "ok"
		if models == 0 || available == 0 {
			status = http.StatusServiceUnavailable
			state = "unhealthy"
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":           state,
			"models":           models,
			"models_available": available,
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ask", AskHandler(d))
		r.Get("/models", ModelsHandler(d))
		r.Get("/threads/{id}", ThreadHandler(d))
		r.Post("/threads/{id}/outcome", OutcomeHandler(d))
		r.Get("/decisions", DecisionsHandler(d))
		r.Get("/search", SearchHandler(d))
		r.Get("/stats", StatsHandler(d))
		if d.EventBus != nil {
			r.Get("/events", SSEHandler(d.EventBus))
		}
	})

	r.Route("/admin/v1", func(r chi.Router) {
		r.Get("/health", HealthStatsHandler(d))
		r.Get("/stats", StatsHandler(d))
		r.Get("/workflows", WorkflowsListHandler(d))
		r.Get("/workflows/{id}", WorkflowDescribeHandler(d))
		if d.Vault != nil {
			r.Get("/vault", VaultStatusHandler(d))
			r.Post("/vault/unlock", VaultUnlockHandler(d))
			r.Post("/vault/lock", VaultLockHandler(d))
			r.Put("/vault/keys", VaultSetKeyHandler(d))
		}
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
}

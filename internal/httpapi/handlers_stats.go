package httpapi

import (
	"net/http"
)

// StatsHandler returns aggregated model and provider call statistics.
func StatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Stats == nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"global":      map[string]any{},
				"by_model":    map[string]any{},
				"by_provider": map[string]any{},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"global":      d.Stats.Global(),
			"by_model":    d.Stats.Summary(),
			"by_provider": d.Stats.SummaryByProvider(),
		})
	}
}

// HealthStatsHandler returns the provider health tracker's view.
func HealthStatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Health == nil {
			writeJSON(w, http.StatusOK, map[string]any{"providers": []any{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"providers": d.Health.Snapshot()})
	}
}

// ModelsHandler lists the registered models with pricing and availability.
func ModelsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models := d.Registry.Models()
		available := make(map[string]bool, len(models))
		for _, m := range d.Registry.Available() {
			available[m.Ref] = true
		}
		type entry struct {
			Ref           string  `json:"ref"`
			ProviderID    string  `json:"provider_id"`
			Model         string  `json:"model"`
			ContextWindow int     `json:"context_window"`
			MaxOutput     int     `json:"max_output"`
			InputPerMTok  float64 `json:"input_per_mtok"`
			OutputPerMTok float64 `json:"output_per_mtok"`
			Available     bool    `json:"available"`
		}
		out := make([]entry, 0, len(models))
		for _, m := range models {
			out = append(out, entry{
				Ref:           m.Ref,
				ProviderID:    m.ProviderID,
				Model:         m.Model,
				ContextWindow: m.ContextWindow,
				MaxOutput:     m.MaxOutput,
				InputPerMTok:  m.InputPerMTok,
				OutputPerMTok: m.OutputPerMTok,
				Available:     available[m.Ref],
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"models": out})
	}
}

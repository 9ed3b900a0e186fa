package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/quorumlabs/quorum/internal/consensus"
	"github.com/quorumlabs/quorum/internal/fault"
	"github.com/quorumlabs/quorum/internal/providers"
)

// AskRequest is the JSON body for POST /v1/ask.
type AskRequest struct {
	Question             string   `json:"question"`
	Protocol             string   `json:"protocol,omitempty"`
	MaxRounds            int      `json:"max_rounds,omitempty"`
	Decompose            bool     `json:"decompose,omitempty"`
	Tools                bool     `json:"tools,omitempty"`
	Panel                []string `json:"panel,omitempty"`
	Proposer             string   `json:"proposer,omitempty"`
	Challengers          []string `json:"challengers,omitempty"`
	ConvergenceThreshold float64  `json:"convergence_threshold,omitempty"`
	CostHardLimitUSD     float64  `json:"cost_hard_limit_usd,omitempty"`
}

func AskHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Question == "" {
			jsonError(w, "question required", http.StatusBadRequest)
			return
		}
		switch req.Protocol {
		case "", consensus.ProtocolConsensus, consensus.ProtocolVoting, consensus.ProtocolAuto:
		default:
			jsonError(w, "unknown protocol "+req.Protocol, http.StatusBadRequest)
			return
		}
		if req.MaxRounds < 0 || req.MaxRounds > 5 {
			jsonError(w, "max_rounds must be between 0 and 5", http.StatusBadRequest)
			return
		}
		if req.ConvergenceThreshold < 0 || req.ConvergenceThreshold > 1 {
			jsonError(w, "convergence_threshold must be between 0 and 1", http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		if reqID := middleware.GetReqID(ctx); reqID != "" {
			ctx = providers.WithRequestID(ctx, reqID)
		}
		result, err := d.Asker.Ask(ctx, req.Question, consensus.Options{
			Protocol:             req.Protocol,
			MaxRounds:            req.MaxRounds,
			Decompose:            req.Decompose,
			Tools:                req.Tools,
			Panel:                req.Panel,
			Proposer:             req.Proposer,
			Challengers:          req.Challengers,
			ConvergenceThreshold: req.ConvergenceThreshold,
			CostHardLimitUSD:     req.CostHardLimitUSD,
		})
		if err != nil {
			jsonError(w, err.Error(), statusForFault(err))
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// statusForFault maps engine fault kinds onto HTTP status codes.
func statusForFault(err error) int {
	switch fault.KindOf(err) {
	case fault.KindInvalidState:
		return http.StatusBadRequest
	case fault.KindCostLimit:
		return http.StatusPaymentRequired
	case fault.KindModelNotFound:
		return http.StatusNotFound
	case fault.KindInsufficientModels, fault.KindOverloaded:
		return http.StatusServiceUnavailable
	case fault.KindRateLimited:
		return http.StatusTooManyRequests
	case fault.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

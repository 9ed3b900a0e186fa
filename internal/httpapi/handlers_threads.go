package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quorumlabs/quorum/internal/store"
)

// ThreadHandler returns one fully hydrated thread.
func ThreadHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		history, err := d.Store.GetThreadWithHistory(r.Context(), id)
		if err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if history == nil {
			jsonError(w, "thread not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, history)
	}
}

// OutcomeRequest is the JSON body for POST /v1/threads/{id}/outcome.
type OutcomeRequest struct {
	Result string `json:"result"`
	Notes  string `json:"notes,omitempty"`
}

// OutcomeHandler records after-the-fact feedback on a thread's decision.
func OutcomeHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req OutcomeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		switch req.Result {
		case store.OutcomeSuccess, store.OutcomePartial, store.OutcomeFailure, store.OutcomeUnknown:
		default:
			jsonError(w, "result must be success, partial, failure or unknown", http.StatusBadRequest)
			return
		}

		thread, err := d.Store.GetThread(r.Context(), id)
		if err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if thread == nil {
			jsonError(w, "thread not found", http.StatusNotFound)
			return
		}

		outcomeID, err := d.Store.SaveOutcome(r.Context(), store.OutcomeRecord{
			ThreadID: id,
			Result:   req.Result,
			Notes:    req.Notes,
		})
		if err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": outcomeID})
	}
}

// DecisionsHandler lists recent committed decisions for recall inspection.
func DecisionsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryLimit(r, 20)
		decisions, err := d.Store.ListRecentDecisions(r.Context(), limit)
		if err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
	}
}

// SearchHandler finds threads by keyword across questions and decisions.
func SearchHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			jsonError(w, "q required", http.StatusBadRequest)
			return
		}
		threads, err := d.Store.Search(r.Context(), q, queryLimit(r, 20))
		if err != nil {
			jsonError(w, "store error: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
	}
}

func queryLimit(r *http.Request, def int) int {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 200 {
		return def
	}
	return n
}

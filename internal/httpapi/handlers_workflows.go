package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.temporal.io/api/workflowservice/v1"
)

// WorkflowsListHandler handles GET /admin/v1/workflows?limit=50&status=Running.
// It queries Temporal visibility for durable debate threads.
func WorkflowsListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.TemporalClient == nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"workflows": []any{},
				"durable":   false,
			})
			return
		}

		limit := queryLimit(r, 50)

		query := ""
		if status := r.URL.Query().Get("status"); status != "" {
			query = "ExecutionStatus = '" + status + "'"
		}

		resp, err := d.TemporalClient.ListWorkflow(r.Context(), &workflowservice.ListWorkflowExecutionsRequest{
			PageSize: int32(limit),
			Query:    query,
		})
		if err != nil {
			jsonError(w, "workflow query failed: "+err.Error(), http.StatusBadGateway)
			return
		}

		var workflows []map[string]any
		for _, exec := range resp.Executions {
			wf := map[string]any{
				"workflow_id": exec.Execution.WorkflowId,
				"run_id":      exec.Execution.RunId,
				"type":        exec.Type.Name,
				"status":      exec.Status.String(),
				"start_time":  exec.StartTime.AsTime().Format(time.RFC3339),
			}
			if exec.CloseTime != nil {
				wf["close_time"] = exec.CloseTime.AsTime().Format(time.RFC3339)
				wf["duration_ms"] = exec.CloseTime.AsTime().Sub(exec.StartTime.AsTime()).Milliseconds()
			}
			workflows = append(workflows, wf)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"workflows": workflows,
			"durable":   true,
		})
	}
}

// WorkflowDescribeHandler handles GET /admin/v1/workflows/{id}.
func WorkflowDescribeHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.TemporalClient == nil {
			jsonError(w, "durable execution not enabled", http.StatusServiceUnavailable)
			return
		}

		workflowID := chi.URLParam(r, "id")
		desc, err := d.TemporalClient.DescribeWorkflowExecution(r.Context(), workflowID, "")
		if err != nil {
			jsonError(w, "describe failed: "+err.Error(), http.StatusBadGateway)
			return
		}

		info := desc.WorkflowExecutionInfo
		result := map[string]any{
			"workflow_id": info.Execution.WorkflowId,
			"run_id":      info.Execution.RunId,
			"type":        info.Type.Name,
			"status":      info.Status.String(),
			"start_time":  info.StartTime.AsTime().Format(time.RFC3339),
		}
		if info.CloseTime != nil {
			result["close_time"] = info.CloseTime.AsTime().Format(time.RFC3339)
			result["duration_ms"] = info.CloseTime.AsTime().Sub(info.StartTime.AsTime()).Milliseconds()
		}
		writeJSON(w, http.StatusOK, result)
	}
}

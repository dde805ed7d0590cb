package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Morlock52/psscript-sub005/internal/events"
	"github.com/Morlock52/psscript-sub005/internal/types"
	"github.com/Morlock52/psscript-sub005/internal/workflow"
)

const maxRequestBody = 10 << 20 // scripts are text; 10MB is generous

const maxBatchSize = 50

type analyzeRequest struct {
	ScriptContent      string `json:"script_content"`
	RequireHumanReview bool   `json:"require_human_review,omitempty"`
	ThreadID           string `json:"thread_id,omitempty"`
	Model              string `json:"model,omitempty"`
	Stream             bool   `json:"stream,omitempty"`
}

func (r analyzeRequest) startOptions() workflow.StartOptions {
	return workflow.StartOptions{
		ScriptContent:      r.ScriptContent,
		ThreadID:           r.ThreadID,
		Model:              r.Model,
		RequireHumanReview: r.RequireHumanReview,
	}
}

type feedbackRequest struct {
	ThreadID string `json:"thread_id"`
	Feedback string `json:"feedback"`
}

type batchRequest struct {
	Scripts []analyzeRequest `json:"scripts"`
}

type batchResult struct {
	ThreadID string                  `json:"thread_id"`
	State    *workflow.WorkflowState `json:"state,omitempty"`
	Error    *errorDetail            `json:"error,omitempty"`
}

func decodeJSON(r *http.Request, w http.ResponseWriter, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		return types.WrapError(types.VALIDATION_FAILED, "failed to read request body", err)
	}
	if len(body) == 0 {
		return types.NewError(types.VALIDATION_EMPTY_BODY, "request body is empty")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return types.WrapError(types.VALIDATION_FAILED, "malformed JSON body", err)
	}
	return nil
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	wantStream := req.Stream || strings.Contains(r.Header.Get("Accept"), "text/event-stream")
	if wantStream {
		state, err := s.deps.Orchestrator.StartAsync(req.startOptions())
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		s.publisher.Serve(w, r, state.ThreadID, state.WorkflowID)
		return
	}

	state, err := s.deps.Orchestrator.Start(r.Context(), req.startOptions())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleBatchAnalyze(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if len(req.Scripts) == 0 {
		writeError(w, s.logger, types.NewError(types.VALIDATION_FAILED, "scripts list is empty"))
		return
	}
	if len(req.Scripts) > maxBatchSize {
		writeError(w, s.logger, types.NewError(types.VALIDATION_FAILED, "too many scripts in one batch"))
		return
	}

	// Runs fan out here; the orchestrator's global workflow limit is the
	// actual concurrency bound.
	results := make([]batchResult, len(req.Scripts))
	g := new(errgroup.Group)
	for i, item := range req.Scripts {
		g.Go(func() error {
			state, err := s.deps.Orchestrator.Start(r.Context(), item.startOptions())
			if err != nil {
				results[i] = batchResult{
					ThreadID: item.ThreadID,
					Error:    &errorDetail{Code: string(types.CodeOf(err)), Message: err.Error()},
				}
				return nil
			}
			results[i] = batchResult{ThreadID: state.ThreadID, State: state}
			return nil
		})
	}
	_ = g.Wait()

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	state, err := s.deps.Gate.Submit(r.Context(), req.ThreadID, req.Feedback)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleThreadStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.Orchestrator.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleThreadEvents(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")

	state, err := s.deps.Orchestrator.Status(r.Context(), threadID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	// An already-terminal thread gets its outcome immediately instead of a
	// stream that never produces anything.
	if state.Status.Terminal() {
		s.publisher.ServeTerminal(w, r, terminalEvent(state))
		return
	}
	s.publisher.Serve(w, r, threadID, state.WorkflowID)
}

func terminalEvent(state *workflow.WorkflowState) events.AnalysisEvent {
	if state.Status == workflow.StatusFailed {
		return events.NewEvent(events.EventError, state.ThreadID, state.WorkflowID, map[string]any{
			"code":    state.FailureCode,
			"message": state.FailureReason,
		})
	}
	return events.NewEvent(events.EventCompleted, state.ThreadID, state.WorkflowID, map[string]any{
		"status":                string(state.Status),
		"risk_score":            state.RiskScore,
		"requires_human_review": state.RequiresHumanReview,
		"final_report":          state.FinalReport,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]any{}
	healthy := true

	model := s.deps.Model.Health(r.Context())
	components["model_provider"] = model
	if !model.IsHealthy() {
		healthy = false
	}

	if s.deps.StoreHealth != nil {
		if err := s.deps.StoreHealth(r.Context()); err != nil {
			components["checkpoint_store"] = types.Unhealthy(err.Error())
			healthy = false
		} else {
			components["checkpoint_store"] = types.Healthy("ok")
		}
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	writeJSON(w, status, map[string]any{
		"status":     overall,
		"components": components,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":    "psscript-analyzer",
		"version":    s.version,
		"started_at": s.startedAt,
		"uptime":     time.Since(s.startedAt).String(),
		"tools":      s.deps.Registry.List(),
		"stages": []workflow.Stage{
			workflow.StageAnalyze,
			workflow.StageToolDispatch,
			workflow.StageHumanReview,
			workflow.StageSynthesis,
		},
	})
}

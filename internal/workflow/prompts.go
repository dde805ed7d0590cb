package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Morlock52/psscript-sub005/internal/llm"
)

const analysisSystemPrompt = `You are a PowerShell script analysis expert. You are given a script and a set of analysis tools.

Use the tools to gather structural facts, security findings, quality metrics and optimization recommendations before drawing conclusions. Request only the tools you still need; results from earlier calls are already in the conversation. When you have enough information, respond with your analysis instead of requesting more tools.`

const synthesisSystemPrompt = `You are a PowerShell script analysis expert writing the final report for a completed analysis.

Produce a clear report with these sections:
1. Summary - what the script does and its overall risk posture
2. Security Findings - each finding with its severity and why it matters
3. Code Quality - the quality score and the issues behind it
4. Recommendations - prioritized, actionable improvements

Base the report strictly on the tool results and reviewer feedback provided. Do not invent findings.`

// buildTranscript reconstructs the model conversation from durable state, so
// a resumed workflow sees exactly what a continuously running one would.
func buildTranscript(state *WorkflowState) []llm.Message {
	msgs := []llm.Message{
		llm.NewSystemMessage(analysisSystemPrompt),
		llm.NewUserMessage(fmt.Sprintf("Analyze this PowerShell script:\n\n```powershell\n%s\n```", state.ScriptContent)),
	}

	for _, te := range state.ToolResults {
		if te.Status == ToolRunning {
			continue
		}

		args, err := json.Marshal(te.Arguments)
		if err != nil || te.Arguments == nil {
			args = []byte("{}")
		}
		callID := te.CallID
		if callID == "" {
			callID = "call_" + te.Name
		}

		msgs = append(msgs, llm.Message{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{
				ID:        callID,
				Name:      te.Name,
				Arguments: string(args),
			}},
		})

		var content string
		if te.Status == ToolCompleted {
			if result, err := json.Marshal(te.Result); err == nil {
				content = string(result)
			}
		} else {
			content = fmt.Sprintf("tool failed: %s", te.Error)
		}
		msgs = append(msgs, llm.NewToolResultMessage(callID, te.Name, content))
	}

	for _, feedback := range state.FeedbackHistory {
		msgs = append(msgs, llm.NewUserMessage("Human reviewer feedback: "+feedback))
	}

	return msgs
}

// buildSynthesisMessages assembles the final-report prompt from the
// aggregated state.
func buildSynthesisMessages(state *WorkflowState) []llm.Message {
	var b strings.Builder

	fmt.Fprintf(&b, "Script under analysis:\n\n```powershell\n%s\n```\n\n", state.ScriptContent)
	fmt.Fprintf(&b, "Risk score: %d (human review %s)\n\n", state.RiskScore, reviewNote(state))

	if len(state.SecurityFindings) > 0 {
		b.WriteString("Security findings:\n")
		for _, f := range state.SecurityFindings {
			fmt.Fprintf(&b, "- [%d/10] %s: %s\n", f.Severity, f.Category, f.Description)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("Security findings: none\n\n")
	}

	if len(state.QualityMetrics) > 0 {
		if metrics, err := json.MarshalIndent(state.QualityMetrics, "", "  "); err == nil {
			fmt.Fprintf(&b, "Quality analysis:\n%s\n\n", metrics)
		}
	}

	if len(state.Optimizations) > 0 {
		b.WriteString("Optimization recommendations:\n")
		for _, opt := range state.Optimizations {
			fmt.Fprintf(&b, "- (%v/%v) %v\n", opt["category"], opt["priority"], opt["recommendation"])
		}
		b.WriteString("\n")
	}

	if len(state.FeedbackHistory) > 0 {
		b.WriteString("Reviewer feedback, in order:\n")
		for i, feedback := range state.FeedbackHistory {
			fmt.Fprintf(&b, "%d. %s\n", i+1, feedback)
		}
	}

	return []llm.Message{
		llm.NewSystemMessage(synthesisSystemPrompt),
		llm.NewUserMessage(b.String()),
	}
}

func reviewNote(state *WorkflowState) string {
	switch {
	case len(state.FeedbackHistory) > 0:
		return "completed"
	case state.RequiresHumanReview:
		return "required"
	default:
		return "not required"
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Morlock52/psscript-sub005/internal/checkpoint"
	"github.com/Morlock52/psscript-sub005/internal/events"
	"github.com/Morlock52/psscript-sub005/internal/llm"
	"github.com/Morlock52/psscript-sub005/internal/tool"
	"github.com/Morlock52/psscript-sub005/internal/tool/builtins"
	"github.com/Morlock52/psscript-sub005/internal/workflow"
)

var (
	analyzeReview bool
	analyzeModel  string
	analyzeJSON   bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [script file]",
	Short: "Analyze a PowerShell script locally",
	Long: `Runs a one-shot analysis of a script file (or stdin when no file is
given) against the configured model provider and prints the report.

A script that crosses the risk threshold pauses for review; in one-shot
mode the pause is reported as the result, since there is no session to
resume.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeReview, "review", false, "Force the human review gate regardless of risk score")
	analyzeCmd.Flags().StringVar(&analyzeModel, "model", "", "Model to use (overrides config)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the full workflow state as JSON")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)

	script, err := readScript(args)
	if err != nil {
		return err
	}

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create model provider: %w", err)
	}
	client := llm.NewClient(provider,
		llm.WithMaxRetries(cfg.LLM.MaxRetries),
		llm.WithBackoff(cfg.LLM.RetryBaseDelay, cfg.LLM.RetryMaxDelay),
		llm.WithRateLimit(cfg.LLM.RequestsPerSecond),
		llm.WithClientLogger(logger),
	)

	registry := tool.NewRegistry()
	if err := builtins.RegisterBuiltinTools(registry); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	executor := tool.NewExecutor(registry,
		tool.WithTimeout(cfg.Workflow.ToolTimeout),
		tool.WithLogger(logger),
	)

	// One-shot runs do not survive the process; an in-memory store is enough.
	store := checkpoint.NewMemoryStore(time.Hour)
	defer store.Close()
	bus := events.NewBus(events.WithBusLogger(logger))
	defer bus.Close()

	orchestrator := workflow.NewOrchestrator(client, executor, registry, store, bus,
		workflow.WithRiskThreshold(int(cfg.Workflow.RiskThreshold)),
		workflow.WithToolConcurrency(cfg.Workflow.ToolConcurrency),
		workflow.WithMaxIterations(cfg.Workflow.MaxIterations),
		workflow.WithOrchestratorLogger(logger),
	)

	model := analyzeModel
	if model == "" {
		model = cfg.LLM.Model
	}
	state, err := orchestrator.Start(cmd.Context(), workflow.StartOptions{
		ScriptContent:      script,
		Model:              model,
		RequireHumanReview: analyzeReview,
	})
	if err != nil {
		return err
	}

	return printAnalysis(cmd.OutOrStdout(), state)
}

func readScript(args []string) (string, error) {
	if len(args) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read script from stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("failed to read script file: %w", err)
	}
	return string(data), nil
}

func printAnalysis(w io.Writer, state *workflow.WorkflowState) error {
	if analyzeJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	}

	fmt.Fprintf(w, "Status:     %s\n", state.Status)
	fmt.Fprintf(w, "Risk score: %d\n", state.RiskScore)

	if len(state.SecurityFindings) > 0 {
		fmt.Fprintf(w, "\nFindings (%d):\n", len(state.SecurityFindings))
		for _, f := range state.SecurityFindings {
			fmt.Fprintf(w, "  [%d] %s: %s\n", f.Severity, f.Category, f.Description)
		}
	}

	switch state.Status {
	case workflow.StatusPaused:
		fmt.Fprintf(w, "\nAnalysis paused for human review (thread %s).\n", state.ThreadID)
		fmt.Fprintln(w, "Use the HTTP API to submit feedback and resume.")
	case workflow.StatusCompleted:
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(state.FinalReport))
	case workflow.StatusFailed:
		fmt.Fprintf(w, "\nAnalysis failed: %s (%s)\n", state.FailureReason, state.FailureCode)
	}
	return nil
}

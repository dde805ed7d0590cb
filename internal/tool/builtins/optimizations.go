package builtins

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Morlock52/psscript-sub005/internal/schema"
	"github.com/Morlock52/psscript-sub005/internal/tool"
)

// NewGenerateOptimizationsTool creates the optimization recommendation tool.
// It optionally consumes the quality_analysis result to drive size and
// documentation recommendations.
func NewGenerateOptimizationsTool() tool.Tool {
	return &tool.Func{
		ToolName:        "generate_optimizations",
		ToolDescription: "Generate optimization recommendations for a PowerShell script based on its content and, optionally, prior quality analysis results.",
		Schema: schema.NewObjectSchema(map[string]schema.SchemaField{
			"quality_metrics": schema.NewStringField("JSON output of a prior quality_analysis run, used to refine recommendations"),
		}, nil),
		Handler: generateOptimizations,
	}
}

func generateOptimizations(ctx context.Context, scriptContent string, args map[string]any) (map[string]any, error) {
	scriptLower := strings.ToLower(scriptContent)
	var optimizations []any

	if strings.Contains(scriptLower, "foreach-object") || (strings.Contains(scriptLower, "foreach") && strings.Contains(scriptLower, "%")) {
		optimizations = append(optimizations, optimization(
			"Performance", "Medium",
			"Consider using the .ForEach() method instead of ForEach-Object for better performance",
			"Can improve loop performance by 2-3x",
		))
	}

	if strings.Contains(scriptLower, "where-object") || strings.Contains(scriptLower, "| ?") {
		optimizations = append(optimizations, optimization(
			"Performance", "Medium",
			"Consider using the .Where() method instead of Where-Object",
			"Faster filtering for large datasets",
		))
	}

	codeLines, commentRatio := parseQualityMetrics(args)

	if codeLines > 200 {
		optimizations = append(optimizations, optimization(
			"Maintainability", "High",
			"Break script into smaller, reusable functions",
			"Improves readability and maintainability",
		))
	}

	if !strings.Contains(scriptLower, "try") {
		optimizations = append(optimizations, optimization(
			"Reliability", "High",
			"Add try/catch blocks for error handling",
			"Prevents script failures and improves debugging",
		))
	}

	if commentRatio >= 0 && commentRatio < 0.1 {
		optimizations = append(optimizations, optimization(
			"Documentation", "Medium",
			"Add comment-based help and inline comments",
			"Improves code understanding and maintenance",
		))
	}

	return map[string]any{
		"total_optimizations": len(optimizations),
		"optimizations":       optimizations,
	}, nil
}

func optimization(category, priority, recommendation, impact string) map[string]any {
	return map[string]any{
		"category":       category,
		"priority":       priority,
		"recommendation": recommendation,
		"impact":         impact,
	}
}

// parseQualityMetrics extracts code_lines and comment_ratio from the optional
// quality_metrics argument. Returns (0, -1) if absent or malformed; a
// malformed payload is not an error, the recommendations just lose precision.
func parseQualityMetrics(args map[string]any) (int, float64) {
	raw, ok := args["quality_metrics"].(string)
	if !ok || raw == "" {
		return 0, -1
	}

	var parsed struct {
		Metrics struct {
			CodeLines    int     `json:"code_lines"`
			CommentRatio float64 `json:"comment_ratio"`
		} `json:"metrics"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return 0, -1
	}

	return parsed.Metrics.CodeLines, parsed.Metrics.CommentRatio
}

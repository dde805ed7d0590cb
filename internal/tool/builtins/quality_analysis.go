package builtins

import (
	"context"
	"fmt"
	"strings"

	"github.com/Morlock52/psscript-sub005/internal/schema"
	"github.com/Morlock52/psscript-sub005/internal/tool"
)

// NewQualityAnalysisTool creates the code quality analysis tool. It returns
// a 0-10 quality score, line/comment metrics, detected issues, and
// recommendations.
func NewQualityAnalysisTool() tool.Tool {
	return &tool.Func{
		ToolName:        "quality_analysis",
		ToolDescription: "Analyze PowerShell code quality: documentation ratio, error handling, parameter declarations, and adherence to scripting best practices.",
		Schema:          schema.NewObjectSchema(map[string]schema.SchemaField{}, nil),
		Handler:         qualityAnalysis,
	}
}

func qualityAnalysis(ctx context.Context, scriptContent string, args map[string]any) (map[string]any, error) {
	scriptLower := strings.ToLower(scriptContent)
	lines := strings.Split(scriptContent, "\n")

	totalLines := len(lines)
	commentLines := 0
	emptyLines := 0
	longLines := 0

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			emptyLines++
		case strings.HasPrefix(trimmed, "#"):
			commentLines++
		}
		if len(line) > 120 {
			longLines++
		}
	}

	codeLines := totalLines - commentLines - emptyLines
	denom := codeLines
	if denom < 1 {
		denom = 1
	}
	commentRatio := float64(commentLines) / float64(denom)

	qualityScore := 5.0
	var issues []any
	var recommendations []any

	if strings.Contains(scriptLower, "[cmdletbinding()]") {
		qualityScore += 1.0
	} else {
		recommendations = append(recommendations, "Add [CmdletBinding()] for advanced function features")
	}

	if strings.Contains(scriptLower, "param(") {
		qualityScore += 0.5
	} else {
		recommendations = append(recommendations, "Define parameters using a param() block")
	}

	if commentRatio > 0.1 {
		qualityScore += 0.5
	} else {
		recommendations = append(recommendations, "Add more comments to improve code documentation")
	}

	if strings.Contains(scriptLower, "try") && strings.Contains(scriptLower, "catch") {
		qualityScore += 1.0
	} else {
		recommendations = append(recommendations, "Implement try/catch error handling")
	}

	if codeLines > 500 {
		qualityScore -= 0.5
		issues = append(issues, "Script is very long - consider breaking into modules")
	}

	if longLines > 5 {
		qualityScore -= 0.5
		issues = append(issues, fmt.Sprintf("%d lines exceed 120 characters", longLines))
	}

	if qualityScore < 0 {
		qualityScore = 0
	}
	if qualityScore > 10 {
		qualityScore = 10
	}

	return map[string]any{
		"quality_score": roundOneDecimal(qualityScore),
		"metrics": map[string]any{
			"total_lines":   totalLines,
			"comment_lines": commentLines,
			"empty_lines":   emptyLines,
			"code_lines":    codeLines,
			"comment_ratio": commentRatio,
		},
		"issues":          issues,
		"recommendations": recommendations,
	}, nil
}

func roundOneDecimal(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

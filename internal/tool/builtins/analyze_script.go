package builtins

import (
	"context"
	"regexp"
	"strings"

	"github.com/Morlock52/psscript-sub005/internal/schema"
	"github.com/Morlock52/psscript-sub005/internal/tool"
)

var (
	cmdletPattern   = regexp.MustCompile(`\b([A-Z][a-z]+-[A-Za-z][A-Za-z0-9]*)\b`)
	functionPattern = regexp.MustCompile(`(?im)^\s*function\s+([A-Za-z][\w-]*)`)
	paramPattern    = regexp.MustCompile(`(?i)\[Parameter\(`)
)

// NewAnalyzeScriptTool creates the baseline structural analysis tool.
// It extracts line counts and the cmdlets/functions the script uses so the
// model has concrete facts to reason over.
func NewAnalyzeScriptTool() tool.Tool {
	return &tool.Func{
		ToolName:        "analyze_script",
		ToolDescription: "Analyze a PowerShell script for its structure and basic metrics: line count, detected cmdlets, declared functions, and parameter usage.",
		Schema:          schema.NewObjectSchema(map[string]schema.SchemaField{}, nil),
		Handler:         analyzeScript,
	}
}

func analyzeScript(ctx context.Context, scriptContent string, args map[string]any) (map[string]any, error) {
	lines := strings.Split(scriptContent, "\n")

	commands := uniqueMatches(cmdletPattern, scriptContent, 1)
	functions := uniqueMatches(functionPattern, scriptContent, 1)

	// Declared function names would otherwise also show up as cmdlet-shaped
	// tokens at their call sites.
	declared := make(map[string]bool, len(functions))
	for _, f := range functions {
		declared[strings.ToLower(f)] = true
	}
	filtered := commands[:0]
	for _, c := range commands {
		if !declared[strings.ToLower(c)] {
			filtered = append(filtered, c)
		}
	}

	return map[string]any{
		"line_count":        len(lines),
		"commands":          toAnySlice(filtered),
		"functions":         toAnySlice(functions),
		"parameter_count":   len(paramPattern.FindAllString(scriptContent, -1)),
		"has_param_block":   strings.Contains(strings.ToLower(scriptContent), "param("),
		"has_cmdletbinding": strings.Contains(strings.ToLower(scriptContent), "[cmdletbinding()]"),
	}, nil
}

// uniqueMatches returns the deduplicated capture-group matches in first-seen order.
func uniqueMatches(re *regexp.Regexp, s string, group int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		if len(m) <= group {
			continue
		}
		v := m[group]
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// toAnySlice converts to []any so results stay plain JSON shapes.
func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// Package builtins provides the built-in PowerShell analysis tools.
// These tools are registered once at startup and advertised to the model.
package builtins

import (
	"github.com/Morlock52/psscript-sub005/internal/tool"
)

// RegisterBuiltinTools registers all builtin analysis tools with the
// provided registry.
//
// The following tools are registered:
//   - analyze_script: structural facts (line count, commands, functions)
//   - security_scan: security findings with severities and risk score
//   - quality_analysis: quality score plus line/comment metrics
//   - generate_optimizations: optimization recommendations
func RegisterBuiltinTools(registry *tool.Registry) error {
	for _, t := range []tool.Tool{
		NewAnalyzeScriptTool(),
		NewSecurityScanTool(),
		NewQualityAnalysisTool(),
		NewGenerateOptimizationsTool(),
	} {
		if err := registry.Register(t); err != nil {
			return err
		}
	}

	return nil
}

// BuiltinToolNames returns the names of all builtin tools.
func BuiltinToolNames() []string {
	return []string{
		"analyze_script",
		"security_scan",
		"quality_analysis",
		"generate_optimizations",
	}
}

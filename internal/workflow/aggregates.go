package workflow

// Aggregates are rebuilt from tool results rather than accumulated
// incrementally, so the derived fields never depend on the dispatch order of
// tools within a stage.

const (
	// severityFloor excludes informational findings from the risk score.
	severityFloor = 4

	// riskScoreCap bounds the aggregate so one pathological script cannot
	// produce an unbounded score.
	riskScoreCap = 100
)

// RebuildAggregates recomputes security findings, quality metrics,
// optimizations and the risk score from the recorded tool results.
func (s *WorkflowState) RebuildAggregates() {
	s.SecurityFindings = s.extractFindings()
	s.QualityMetrics = s.extractQualityMetrics()
	s.Optimizations = s.extractOptimizations()
	s.RiskScore = ComputeRiskScore(s.SecurityFindings)
}

// ComputeRiskScore sums the severities of findings at or above the floor,
// capped. The computation is a pure function of the finding set.
func ComputeRiskScore(findings []Finding) int {
	score := 0
	for _, f := range findings {
		if f.Severity < severityFloor {
			continue
		}
		score += f.Severity
	}
	if score > riskScoreCap {
		score = riskScoreCap
	}
	return score
}

func (s *WorkflowState) extractFindings() []Finding {
	te, ok := s.ToolResult("security_scan")
	if !ok || te.Status != ToolCompleted {
		return nil
	}

	raw, ok := te.Result["findings"].([]any)
	if !ok {
		return nil
	}

	findings := make([]Finding, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		findings = append(findings, Finding{
			Category:    asString(m["category"]),
			Severity:    asInt(m["severity"]),
			Pattern:     asString(m["pattern"]),
			Description: asString(m["description"]),
		})
	}
	return findings
}

func (s *WorkflowState) extractQualityMetrics() map[string]any {
	te, ok := s.ToolResult("quality_analysis")
	if !ok || te.Status != ToolCompleted {
		return nil
	}
	return cloneMap(te.Result)
}

func (s *WorkflowState) extractOptimizations() []map[string]any {
	te, ok := s.ToolResult("generate_optimizations")
	if !ok || te.Status != ToolCompleted {
		return nil
	}

	raw, ok := te.Result["optimizations"].([]any)
	if !ok {
		return nil
	}

	opts := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			opts = append(opts, cloneMap(m))
		}
	}
	return opts
}

// asInt tolerates the numeric widening JSON round-trips introduce.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

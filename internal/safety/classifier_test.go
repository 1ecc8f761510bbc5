package safety

import (
	"fmt"
	"testing"
)

func shellCall(id, command string) ToolCall {
	return ToolCall{ID: id, Name: "bash", Arguments: map[string]any{"command": command}}
}

func writeCall(id, path string) ToolCall {
	return ToolCall{ID: id, Name: "file_write", Arguments: map[string]any{"path": path}}
}

func TestAssessRecursiveDeleteIsDangerousHigh(t *testing.T) {
	classifier := NewClassifier(DefaultRules())

	assessment := classifier.Assess([]ToolCall{shellCall("c1", "rm -rf /tmp/test")}, Context{})

	if assessment.Level != RiskHigh {
		t.Fatalf("expected high risk, got %s", assessment.Level)
	}
	if len(assessment.Dangerous) == 0 {
		t.Fatalf("expected dangerous finding for recursive delete")
	}
	if assessment.Dangerous[0].Reason != ReasonDestructiveCommand {
		t.Fatalf("unexpected reason: %s", assessment.Dangerous[0].Reason)
	}
}

func TestAssessPackageInstallNeedsExplicitApproval(t *testing.T) {
	classifier := NewClassifier(DefaultRules())

	assessment := classifier.Assess([]ToolCall{shellCall("c1", "pnpm add zod")}, Context{})

	if assessment.Level != RiskMedium {
		t.Fatalf("expected medium risk, got %s", assessment.Level)
	}
	if len(assessment.RequiresExplicitApproval) == 0 {
		t.Fatalf("expected explicit-approval finding for package install")
	}
	if len(assessment.MandatoryApproval) != 0 {
		t.Fatalf("install must not be a guardrail: %v", assessment.MandatoryApproval)
	}
}

func TestAssessNetworkFetchIsMandatory(t *testing.T) {
	classifier := NewClassifier(DefaultRules())

	assessment := classifier.Assess([]ToolCall{shellCall("c1", "curl https://example.com/api")}, Context{})

	if len(assessment.MandatoryApproval) == 0 {
		t.Fatalf("expected mandatory finding for network fetch")
	}
	if assessment.MandatoryApproval[0].Reason != ReasonNetworkFetch {
		t.Fatalf("unexpected reason: %s", assessment.MandatoryApproval[0].Reason)
	}
	if len(assessment.RequiresExplicitApproval) == 0 {
		t.Fatalf("network fetch should also appear in the explicit-approval list")
	}
}

func TestAssessWorstLevelWinsAcrossBatch(t *testing.T) {
	classifier := NewClassifier(DefaultRules())

	assessment := classifier.Assess([]ToolCall{
		shellCall("c1", "ls -la"),
		shellCall("c2", "pip install requests"),
		shellCall("c3", "sudo rm /etc/hosts"),
	}, Context{})

	if assessment.Level != RiskHigh {
		t.Fatalf("expected worst level high, got %s", assessment.Level)
	}
}

func TestAssessOutsideWorkdirCommand(t *testing.T) {
	classifier := NewClassifier(DefaultRules())
	ctx := Context{WorkingDirectory: "/workspace/project"}

	cases := []struct {
		command string
		escapes bool
	}{
		{"cat /etc/passwd", true},
		{"cd /var/log && tail syslog", true},
		{"cat ~/notes.txt", true},
		{"cat README.md", false},
		{"cd src && ls", false},
		{"grep foo /workspace/project/main.go", false},
		{"echo hi > /dev/null", false},
	}

	for _, tc := range cases {
		assessment := classifier.Assess([]ToolCall{shellCall("c1", tc.command)}, ctx)
		got := false
		for _, finding := range assessment.MandatoryApproval {
			if finding.Reason == ReasonOutsideWorkdir {
				got = true
			}
		}
		if got != tc.escapes {
			t.Fatalf("command %q: escape=%v, want %v", tc.command, got, tc.escapes)
		}
	}
}

func TestAssessSensitiveFileWrite(t *testing.T) {
	classifier := NewClassifier(DefaultRules())

	assessment := classifier.Assess([]ToolCall{writeCall("c1", "config/.env.production")}, Context{})

	if assessment.Level != RiskHigh {
		t.Fatalf("expected high risk for dotenv write, got %s", assessment.Level)
	}
	if len(assessment.RequiresExplicitApproval) != 1 {
		t.Fatalf("expected one finding, got %d", len(assessment.RequiresExplicitApproval))
	}
	if assessment.RequiresExplicitApproval[0].Reason != ReasonSensitiveFile {
		t.Fatalf("unexpected reason: %s", assessment.RequiresExplicitApproval[0].Reason)
	}
}

func TestAssessBulkFileChange(t *testing.T) {
	classifier := NewClassifier(DefaultRules())

	var calls []ToolCall
	for i := 0; i < 6; i++ {
		calls = append(calls, writeCall(fmt.Sprintf("c%d", i), fmt.Sprintf("pkg/file%d.go", i)))
	}

	assessment := classifier.Assess(calls, Context{})

	found := false
	for _, finding := range assessment.RequiresExplicitApproval {
		if finding.Reason == ReasonBulkFileChange {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected bulk_file_change finding for 6 distinct paths")
	}
	if assessment.Level != RiskMedium {
		t.Fatalf("expected medium risk, got %s", assessment.Level)
	}
}

func TestAssessBulkCountsDistinctPathsOnly(t *testing.T) {
	classifier := NewClassifier(DefaultRules())

	var calls []ToolCall
	for i := 0; i < 10; i++ {
		calls = append(calls, writeCall(fmt.Sprintf("c%d", i), "same/file.go"))
	}

	assessment := classifier.Assess(calls, Context{})
	for _, finding := range assessment.RequiresExplicitApproval {
		if finding.Reason == ReasonBulkFileChange {
			t.Fatalf("repeated writes to one path must not count as bulk change")
		}
	}
}

func TestAssessMalformedArgumentsHeld(t *testing.T) {
	classifier := NewClassifier(DefaultRules())

	assessment := classifier.Assess([]ToolCall{
		{ID: "c1", Name: "bash", Arguments: map[string]any{"command": 42}},
	}, Context{})

	if len(assessment.RequiresExplicitApproval) == 0 {
		t.Fatalf("malformed known-tool arguments should hold the batch")
	}
	if assessment.RequiresExplicitApproval[0].Reason != ReasonMalformedArguments {
		t.Fatalf("unexpected reason: %s", assessment.RequiresExplicitApproval[0].Reason)
	}
}

func TestAssessUnknownToolPassesThrough(t *testing.T) {
	classifier := NewClassifier(DefaultRules())

	assessment := classifier.Assess([]ToolCall{
		{ID: "c1", Name: "mcp__weather__lookup", Arguments: map[string]any{"city": "osaka"}},
	}, Context{})

	if assessment.Level != RiskLow {
		t.Fatalf("unknown tool should stay low risk, got %s", assessment.Level)
	}
	if len(assessment.Dangerous)+len(assessment.RequiresExplicitApproval)+len(assessment.MandatoryApproval) != 0 {
		t.Fatalf("unknown tool should produce no findings")
	}
}

package worker

import (
	"context"
	"testing"
)

const sampleCode = `import math

def area(radius):
    """Return circle area."""
    return math.pi * radius * radius

def perimeter(radius):
    pass
`

func TestStaticAnalyze(t *testing.T) {
	w := NewStaticWorker()

	result, err := w.Evaluate(context.Background(), TaskAnalyze, Payload{Code: sampleCode})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	analysis := result.Analysis
	if analysis.Metrics.FunctionCount != 2 {
		t.Errorf("expected 2 functions, got %d", analysis.Metrics.FunctionCount)
	}
	if analysis.Metrics.ImportCount != 1 {
		t.Errorf("expected 1 import, got %d", analysis.Metrics.ImportCount)
	}
	if !analysis.Functions[0].HasDocstring {
		t.Error("area should be detected as documented")
	}
	if analysis.Functions[1].HasDocstring {
		t.Error("perimeter should be detected as undocumented")
	}
}

func TestStaticStylePenalizesMissingDocstrings(t *testing.T) {
	w := NewStaticWorker()

	result, err := w.Evaluate(context.Background(), TaskStyle, Payload{Code: sampleCode})
	if err != nil {
		t.Fatal(err)
	}
	if result.Score >= 100 {
		t.Errorf("expected deduction for missing docstring, got %d", result.Score)
	}
	found := false
	for _, issue := range result.Issues {
		if issue.Code == "missing_docstring" {
			found = true
		}
	}
	if !found {
		t.Error("expected a missing_docstring issue")
	}
}

func TestStaticTestsFlagStubBodies(t *testing.T) {
	w := NewStaticWorker()

	result, err := w.Evaluate(context.Background(), TaskGenerateTests, Payload{Code: sampleCode})
	if err != nil {
		t.Fatal(err)
	}
	tests := result.Tests
	if tests.Total != 4 {
		t.Errorf("expected 4 simulated tests, got %d", tests.Total)
	}
	if tests.Failed != 2 {
		t.Errorf("expected stub body to fail its 2 cases, got %d failed", tests.Failed)
	}
}

func TestStaticAssessVerdicts(t *testing.T) {
	w := NewStaticWorker()
	ctx := context.Background()

	cases := []struct {
		name    string
		payload Payload
		verdict string
	}{
		{
			name:    "all passing",
			payload: Payload{FixTests: &TestSummary{Passed: 4, Total: 4}},
			verdict: VerdictSuccessful,
		},
		{
			name: "fewer failures",
			payload: Payload{
				Tests:    &TestSummary{Failed: 3, Total: 4},
				FixTests: &TestSummary{Failed: 1, Passed: 3, Total: 4},
			},
			verdict: VerdictPartial,
		},
		{
			name: "no progress",
			payload: Payload{
				Tests:    &TestSummary{Failed: 2, Total: 4},
				FixTests: &TestSummary{Failed: 2, Passed: 2, Total: 4},
			},
			verdict: VerdictFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := w.Evaluate(ctx, TaskAssessFix, tc.payload)
			if err != nil {
				t.Fatal(err)
			}
			if result.Verdict != tc.verdict {
				t.Errorf("expected verdict %s, got %s", tc.verdict, result.Verdict)
			}
		})
	}
}

func TestStaticDeterministic(t *testing.T) {
	w := NewStaticWorker()
	ctx := context.Background()

	a, err := w.Evaluate(ctx, TaskStyle, Payload{Code: sampleCode})
	if err != nil {
		t.Fatal(err)
	}
	b, err := w.Evaluate(ctx, TaskStyle, Payload{Code: sampleCode})
	if err != nil {
		t.Fatal(err)
	}
	if a.Score != b.Score || len(a.Issues) != len(b.Issues) {
		t.Error("same input should produce identical results")
	}
}

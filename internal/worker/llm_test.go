package worker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vinayprograms/agentkit/llm"
)

// scriptedProvider returns canned responses keyed by a substring of the prompt.
type scriptedProvider struct {
	name      string
	responses map[string]string
	fallback  string
	err       error
	prompts   []string
}

func (m *scriptedProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	prompt := req.Messages[len(req.Messages)-1].Content
	m.prompts = append(m.prompts, prompt)
	for marker, resp := range m.responses {
		if strings.Contains(prompt, marker) {
			return &llm.ChatResponse{Content: resp}, nil
		}
	}
	return &llm.ChatResponse{Content: m.fallback}, nil
}

func (m *scriptedProvider) ChatStream(ctx context.Context, req llm.ChatRequest, callback func(string)) (*llm.ChatResponse, error) {
	return m.Chat(ctx, req)
}

func (m *scriptedProvider) Name() string { return m.name }

func TestEvaluateStyleParsesScoreAndIssues(t *testing.T) {
	provider := &scriptedProvider{
		fallback: "```json\n{\"score\":72,\"issues\":[{\"line\":3,\"code\":\"missing_docstring\",\"message\":\"function lacks a docstring\"}]}\n```",
	}
	w := NewLLMWorker(provider, nil)

	result, err := w.Evaluate(context.Background(), TaskStyle, Payload{Code: "def f(): pass"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result.Score != 72 {
		t.Errorf("expected score 72, got %d", result.Score)
	}
	if len(result.Issues) != 1 || result.Issues[0].Line != 3 {
		t.Errorf("unexpected issues %+v", result.Issues)
	}
}

func TestEvaluateTestsComputesPassRate(t *testing.T) {
	provider := &scriptedProvider{
		fallback: `{"passed":8,"failed":2,"total":10,"failures":["test_edge: off by one"]}`,
	}
	w := NewLLMWorker(provider, nil)

	result, err := w.Evaluate(context.Background(), TaskGenerateTests, Payload{Code: "code"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result.Tests.PassRate != 80 {
		t.Errorf("expected pass rate 80, got %v", result.Tests.PassRate)
	}
}

func TestEvaluateAssessRejectsUnknownVerdict(t *testing.T) {
	provider := &scriptedProvider{
		fallback: `{"verdict":"maybe","confirmed":false}`,
	}
	w := NewLLMWorker(provider, nil)

	if _, err := w.Evaluate(context.Background(), TaskAssessFix, Payload{FixedCode: "x"}); err == nil {
		t.Error("expected error for unknown verdict")
	}
}

func TestEvaluateRoutesJudgmentTasksToCritic(t *testing.T) {
	workerProvider := &scriptedProvider{name: "worker", fallback: `{"score":50,"issues":[]}`}
	criticProvider := &scriptedProvider{name: "critic", fallback: "Solid work overall."}
	w := NewLLMWorker(workerProvider, criticProvider)

	if _, err := w.Evaluate(context.Background(), TaskStyle, Payload{Code: "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Evaluate(context.Background(), TaskSynthesizeFeedback, Payload{StyleScore: 50}); err != nil {
		t.Fatal(err)
	}

	if len(workerProvider.prompts) != 1 {
		t.Errorf("worker provider should see 1 prompt, saw %d", len(workerProvider.prompts))
	}
	if len(criticProvider.prompts) != 1 {
		t.Errorf("critic provider should see 1 prompt, saw %d", len(criticProvider.prompts))
	}
}

func TestEvaluatePropagatesProviderError(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("connection refused")}
	w := NewLLMWorker(provider, nil)

	if _, err := w.Evaluate(context.Background(), TaskAnalyze, Payload{Code: "x"}); err == nil {
		t.Error("expected provider error to propagate")
	}
}

func TestDecodeJSONExtractsFromProse(t *testing.T) {
	var envelope struct {
		Score int `json:"score"`
	}
	content := "Here is the result you asked for:\n{\"score\": 91}\nLet me know if you need more."
	if err := decodeJSON(content, &envelope); err != nil {
		t.Fatalf("decodeJSON() error = %v", err)
	}
	if envelope.Score != 91 {
		t.Errorf("expected 91, got %d", envelope.Score)
	}
}

package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vinayprograms/reviewd/internal/artifact"
	"github.com/vinayprograms/reviewd/internal/history"
	"github.com/vinayprograms/reviewd/internal/state"
)

// StoreArtifactTool persists a named report through the artifact store.
type StoreArtifactTool struct {
	Store *artifact.Store
}

func (t *StoreArtifactTool) Name() string { return "store_artifact" }

// Execute writes args["content"] under args["name"] and returns the version
// reference.
func (t *StoreArtifactTool) Execute(ctx context.Context, args map[string]interface{}, tc *Context) (interface{}, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("store_artifact: missing name")
	}

	var content []byte
	switch v := args["content"].(type) {
	case string:
		content = []byte(v)
	case nil:
		return nil, fmt.Errorf("store_artifact: missing content")
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("store_artifact: unencodable content: %w", err)
		}
		content = data
	}

	ref, err := t.Store.Save(name, content)
	if err != nil {
		return nil, err
	}

	// Remember the submitter's most recent report so later sessions can
	// find it without replaying the artifact directory.
	if tc.Submitter != "" && tc.Users != nil {
		if err := tc.Users.Set(ctx, tc.Submitter, state.UserLastReport, ref.Path); err != nil {
			return nil, err
		}
	}
	return ref, nil
}

// SearchHistoryTool looks up a submitter's past feedback.
type SearchHistoryTool struct {
	Index *history.Index
}

func (t *SearchHistoryTool) Name() string { return "search_history" }

// Execute returns past feedback records for the calling submitter, oldest
// first. args["query"] narrows the search; args["limit"] caps results.
func (t *SearchHistoryTool) Execute(ctx context.Context, args map[string]interface{}, tc *Context) (interface{}, error) {
	query, _ := args["query"].(string)
	limit := intArg(args, "limit", 10)

	records, err := t.Index.Search(tc.Submitter, query, limit)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// RecordFeedbackTool stores finished feedback both in the submitter's
// persistent history list and in the searchable index.
type RecordFeedbackTool struct {
	Index *history.Index
}

func (t *RecordFeedbackTool) Name() string { return "record_feedback" }

func (t *RecordFeedbackTool) Execute(ctx context.Context, args map[string]interface{}, tc *Context) (interface{}, error) {
	feedback, _ := args["feedback"].(string)
	if feedback == "" {
		return nil, fmt.Errorf("record_feedback: missing feedback")
	}

	if err := tc.Users.Append(ctx, tc.Submitter, state.UserFeedbackHistory, feedback); err != nil {
		return nil, err
	}

	rec := history.Record{
		Submitter:  tc.Submitter,
		Feedback:   feedback,
		StyleScore: floatArg(args, "style_score", 0),
		PassRate:   floatArg(args, "pass_rate", 0),
	}
	if tc.Session != nil {
		rec.SessionID = tc.Session.ID
	}
	if err := t.Index.Add(rec); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "recorded"}, nil
}

// RecordProgressTool updates a submitter's running counters and returns how
// this submission compares to the last one.
type RecordProgressTool struct{}

func (t *RecordProgressTool) Name() string { return "record_progress" }

func (t *RecordProgressTool) Execute(ctx context.Context, args map[string]interface{}, tc *Context) (interface{}, error) {
	styleScore := floatArg(args, "style_score", 0)
	passRate := floatArg(args, "pass_rate", 0)

	prevScore := -1.0
	if v, ok, err := tc.Users.Get(ctx, tc.Submitter, state.UserLastStyleScore); err != nil {
		return nil, err
	} else if ok {
		prevScore = asFloat(v)
	}

	// The counter must be atomic: the router serializes per session, not
	// per submitter, so two sessions for one submitter can land here at
	// the same time. The remaining keys are last-writer-wins by design.
	total, err := tc.Users.Increment(ctx, tc.Submitter, state.UserTotalSubmissions)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	updates := map[state.Key]state.Value{
		state.UserLastStyleScore:     styleScore,
		state.UserLastTestPassRate:   passRate,
		state.UserLastSubmissionTime: now,
	}
	for key, value := range updates {
		if err := tc.Users.Set(ctx, tc.Submitter, key, value); err != nil {
			return nil, err
		}
	}

	result := map[string]interface{}{
		"total_submissions": total,
		"style_score":       styleScore,
		"pass_rate":         passRate,
		"recorded_at":       now,
	}
	if prevScore >= 0 {
		result["previous_style_score"] = prevScore
		result["improvement"] = styleScore - prevScore
	}
	return result, nil
}

func intArg(args map[string]interface{}, name string, fallback int) int {
	if v, ok := args[name]; ok {
		return asInt(v)
	}
	return fallback
}

func floatArg(args map[string]interface{}, name string, fallback float64) float64 {
	if v, ok := args[name]; ok {
		return asFloat(v)
	}
	return fallback
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

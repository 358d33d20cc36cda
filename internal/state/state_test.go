package state

import (
	"context"
	"sync"
	"testing"
)

func TestSessionStateAbsentKey(t *testing.T) {
	ss := NewSessionState()

	if _, ok := ss.Get(KeyStyleScore); ok {
		t.Error("expected absent key to return ok=false")
	}

	view := ss.Snapshot()
	if _, ok := view.Get(KeyStyleScore); ok {
		t.Error("expected absent key in view to return ok=false")
	}
	if view.GetInt(KeyStyleScore) != 0 {
		t.Error("expected zero value for absent int key")
	}
}

func TestSessionStateApplyBatch(t *testing.T) {
	ss := NewSessionState()
	ss.Set(KeySubmittedCode, "def f(): pass")

	ss.Apply(map[Key]Value{
		KeyStyleScore:      88,
		KeyStyleIssueCount: 2,
	})

	view := ss.Snapshot()
	if view.GetInt(KeyStyleScore) != 88 {
		t.Errorf("expected style score 88, got %d", view.GetInt(KeyStyleScore))
	}
	if view.GetString(KeySubmittedCode) != "def f(): pass" {
		t.Error("prior write should survive batch apply")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	ss := NewSessionState()
	ss.Set(KeyStyleScore, 50)

	view := ss.Snapshot()
	ss.Set(KeyStyleScore, 90)

	if view.GetInt(KeyStyleScore) != 50 {
		t.Error("snapshot should not observe later writes")
	}
}

func TestSessionStateReset(t *testing.T) {
	ss := NewSessionState()
	ss.Set(KeyStyleScore, 70)
	ss.Reset()

	if ss.Len() != 0 {
		t.Errorf("expected empty state after reset, got %d keys", ss.Len())
	}
}

func TestViewNumericCoercion(t *testing.T) {
	// JSON round-trips deliver numbers as float64.
	view := View{KeyStyleScore: float64(72), KeyLineCount: 10}

	if view.GetInt(KeyStyleScore) != 72 {
		t.Errorf("expected 72, got %d", view.GetInt(KeyStyleScore))
	}
	if view.GetFloat(KeyLineCount) != 10 {
		t.Errorf("expected 10.0, got %f", view.GetFloat(KeyLineCount))
	}
}

func TestKeyScopes(t *testing.T) {
	if !KeyStyleScore.SessionScoped() {
		t.Error("style score should be session scoped")
	}
	if KeyStyleScore.UserScoped() {
		t.Error("style score should not be user scoped")
	}
	if !UserFeedbackHistory.UserScoped() {
		t.Error("feedback history should be user scoped")
	}
	if Key("nonsense").Known() {
		t.Error("unknown key should not be known")
	}
}

func TestInMemoryUserStoreAppendMonotonic(t *testing.T) {
	store := NewInMemoryUserStore()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.Append(ctx, "dev1", UserFeedbackHistory, i); err != nil {
				t.Errorf("Append() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	val, ok, err := store.Get(ctx, "dev1", UserFeedbackHistory)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("expected history to exist")
	}
	list, ok := val.([]Value)
	if !ok {
		t.Fatalf("expected list value, got %T", val)
	}
	if len(list) != n {
		t.Errorf("expected %d history entries after %d concurrent appends, got %d", n, n, len(list))
	}
}

func TestInMemoryUserStoreIncrementConcurrent(t *testing.T) {
	store := NewInMemoryUserStore()
	ctx := context.Background()

	// Two sessions for the same submitter can record progress at the same
	// time; every submission must be counted.
	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Increment(ctx, "dev1", UserTotalSubmissions); err != nil {
				t.Errorf("Increment() error = %v", err)
			}
		}()
	}
	wg.Wait()

	val, ok, err := store.Get(ctx, "dev1", UserTotalSubmissions)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("expected counter to exist")
	}
	if got := counterValue(val); got != n {
		t.Errorf("expected %d submissions after %d concurrent increments, got %d", n, n, got)
	}
}

func TestInMemoryUserStoreIncrementSurvivesDecodedCounter(t *testing.T) {
	store := NewInMemoryUserStore()
	ctx := context.Background()

	// A counter loaded from a JSON round-trip arrives as float64.
	if err := store.Set(ctx, "dev1", UserTotalSubmissions, float64(4)); err != nil {
		t.Fatal(err)
	}

	n, err := store.Increment(ctx, "dev1", UserTotalSubmissions)
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5, got %d", n)
	}
}

func TestInMemoryUserStoreScoping(t *testing.T) {
	store := NewInMemoryUserStore()
	ctx := context.Background()

	if err := store.Set(ctx, "alice", UserLastStyleScore, 90); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := store.Get(ctx, "bob", UserLastStyleScore); ok {
		t.Error("one submitter's state should not leak to another")
	}

	snap, err := store.Snapshot(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if snap.GetInt(UserLastStyleScore) != 90 {
		t.Errorf("expected 90 in snapshot, got %d", snap.GetInt(UserLastStyleScore))
	}
}

package state

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteUserStore {
	t.Helper()
	store, err := NewSQLiteUserStore(filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("NewSQLiteUserStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteUserStoreRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "dev1", UserLastStyleScore, 85); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	val, ok, err := store.Get(ctx, "dev1", UserLastStyleScore)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("expected value to exist")
	}
	if n, _ := val.(float64); n != 85 {
		t.Errorf("expected 85, got %v", val)
	}
}

func TestSQLiteUserStoreAbsent(t *testing.T) {
	store := newTestSQLiteStore(t)

	_, ok, err := store.Get(context.Background(), "ghost", UserLastStyleScore)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("expected absent key to return ok=false")
	}
}

func TestSQLiteUserStoreLastWriterWins(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	store.Set(ctx, "dev1", UserTotalSubmissions, 1)
	store.Set(ctx, "dev1", UserTotalSubmissions, 2)

	val, _, err := store.Get(ctx, "dev1", UserTotalSubmissions)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := val.(float64); n != 2 {
		t.Errorf("expected 2, got %v", val)
	}
}

func TestSQLiteUserStoreAppendConcurrent(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.Append(ctx, "dev1", UserFeedbackHistory, map[string]interface{}{"attempt": i}); err != nil {
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
	items, ok := val.([]Value)
	if !ok {
		t.Fatalf("expected list value, got %T", val)
	}
	if len(items) != n {
		t.Errorf("expected %d entries, got %d", n, len(items))
	}
}

func TestSQLiteUserStoreIncrement(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		n, err := store.Increment(ctx, "dev1", UserTotalSubmissions)
		if err != nil {
			t.Fatalf("Increment() error = %v", err)
		}
		if n != want {
			t.Errorf("expected counter %d, got %d", want, n)
		}
	}

	// The counter stays readable through the ordinary Get path.
	val, ok, err := store.Get(ctx, "dev1", UserTotalSubmissions)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("expected counter to exist")
	}
	if n, _ := val.(float64); n != 3 {
		t.Errorf("expected 3, got %v", val)
	}

	// Counters are per submitter.
	if n, err := store.Increment(ctx, "dev2", UserTotalSubmissions); err != nil || n != 1 {
		t.Errorf("expected fresh counter 1 for dev2, got %d (err %v)", n, err)
	}
}

func TestSQLiteUserStoreIncrementConcurrent(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	const n = 20
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

	val, _, err := store.Get(ctx, "dev1", UserTotalSubmissions)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got, _ := val.(float64); got != n {
		t.Errorf("expected %d after %d concurrent increments, got %v", n, n, val)
	}
}

func TestSQLiteUserStoreSnapshot(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	store.Set(ctx, "dev1", UserLastStyleScore, 70)
	store.Append(ctx, "dev1", UserFeedbackHistory, "first review")
	store.Append(ctx, "dev1", UserFeedbackHistory, "second review")

	snap, err := store.Snapshot(ctx, "dev1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	if snap.GetInt(UserLastStyleScore) != 70 {
		t.Errorf("expected style score 70 in snapshot")
	}
	items, ok := snap[UserFeedbackHistory].([]Value)
	if !ok || len(items) != 2 {
		t.Fatalf("expected 2 history items, got %v", snap[UserFeedbackHistory])
	}
	if items[0] != "first review" || items[1] != "second review" {
		t.Error("history items should preserve insertion order")
	}
}

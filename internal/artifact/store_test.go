package artifact

import (
	"testing"
)

func TestSaveVersionsAndLatest(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	ref1, err := store.Save("grading_report", []byte(`{"score":60}`))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	ref2, err := store.Save("grading_report", []byte(`{"score":85}`))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if ref1.Version != 1 || ref2.Version != 2 {
		t.Errorf("expected versions 1,2 got %d,%d", ref1.Version, ref2.Version)
	}

	data, err := store.Load("grading_report")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(data) != `{"score":85}` {
		t.Errorf("latest alias should hold newest content, got %s", data)
	}

	versions, err := store.Versions("grading_report")
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 || versions[0] != 1 || versions[1] != 2 {
		t.Errorf("unexpected versions %v", versions)
	}
}

func TestLoadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load("nope"); err == nil {
		t.Error("expected error for missing artifact")
	}
}

func TestRejectsPathTraversal(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save("../escape", []byte("x")); err == nil {
		t.Error("expected error for name with path separator")
	}
}

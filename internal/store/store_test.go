package store

import (
	"os"
	"path/filepath"
	"testing"

	"vigil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddObjectAssignsIncreasingIDs(t *testing.T) {
	s := openTestStore(t)

	a, err := s.AddObject("porch", "person", 1000)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}
	b, err := s.AddObject("porch", "vehicle", 2000)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}
	if b <= a {
		t.Errorf("ids not increasing: %d then %d", a, b)
	}
}

func TestFlushWritesBufferedFramesOnce(t *testing.T) {
	s := openTestStore(t)
	obj, err := s.AddObject("porch", "person", 1000)
	if err != nil {
		t.Fatal(err)
	}

	s.NoteFrame(Frame{Object: obj, FrameMs: 1000, Box: [4]int{1, 2, 3, 4}, ObjectType: "person"})
	s.NoteFrame(Frame{Object: obj, FrameMs: 1200, Box: [4]int{2, 3, 4, 5}, ObjectType: "person", Action: "entered"})
	if got := s.PendingFrames(); got != 2 {
		t.Fatalf("PendingFrames = %d, want 2", got)
	}

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := s.PendingFrames(); got != 0 {
		t.Fatalf("buffer kept after successful flush: %d", got)
	}

	obs, err := s.SearchRange("porch", 0, 2000)
	if err != nil {
		t.Fatalf("SearchRange: %v", err)
	}
	if len(obs) != 2 {
		t.Fatalf("got %d observations, want 2", len(obs))
	}
	if obs[0].FrameMs != 1000 || obs[1].FrameMs != 1200 {
		t.Errorf("order: %d then %d", obs[0].FrameMs, obs[1].FrameMs)
	}
	if obs[1].Action != "entered" {
		t.Errorf("action = %q", obs[1].Action)
	}

	// Empty flush is a no-op.
	if err := s.Flush(); err != nil {
		t.Fatalf("empty Flush: %v", err)
	}
}

func TestSearchRangeBounds(t *testing.T) {
	s := openTestStore(t)
	obj, _ := s.AddObject("porch", "person", 0)
	for _, ms := range []int64{500, 1000, 1500, 2000} {
		s.NoteFrame(Frame{Object: obj, FrameMs: ms, ObjectType: "person"})
	}
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}

	obs, err := s.SearchRange("porch", 1000, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if len(obs) != 2 {
		t.Fatalf("half-open range returned %d rows, want 2", len(obs))
	}

	other, err := s.SearchRange("gate", 0, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("other camera sees %d rows", len(other))
	}
}

func TestMarkTimesSavedRoundTrip(t *testing.T) {
	s := openTestStore(t)

	retry, err := s.MarkTimesSaved("porch", []vigil.SavedRange{
		{FirstMs: 1000, LastMs: 2000},
		{FirstMs: 3000, LastMs: 4000},
	})
	if err != nil {
		t.Fatalf("MarkTimesSaved: %v", err)
	}
	if retry != 0 {
		t.Fatalf("unexpected retry delay %v", retry)
	}

	got, err := s.SavedTimes("porch")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].FirstMs != 1000 || got[1].LastMs != 4000 {
		t.Errorf("SavedTimes = %+v", got)
	}
}

func TestDeleteCameraRemovesAllRows(t *testing.T) {
	s := openTestStore(t)
	obj, _ := s.AddObject("porch", "person", 1000)
	s.NoteFrame(Frame{Object: obj, FrameMs: 1000, ObjectType: "person"})
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}
	s.MarkTimesSaved("porch", []vigil.SavedRange{{FirstMs: 0, LastMs: 100}})

	keep, _ := s.AddObject("gate", "person", 1000)

	if err := s.DeleteCamera("porch"); err != nil {
		t.Fatalf("DeleteCamera: %v", err)
	}
	obs, _ := s.SearchRange("porch", 0, 5000)
	if len(obs) != 0 {
		t.Errorf("frames survived delete: %d", len(obs))
	}
	saved, _ := s.SavedTimes("porch")
	if len(saved) != 0 {
		t.Errorf("saved times survived delete: %d", len(saved))
	}
	if _, err := s.AddObject("gate", "person", 2000); err != nil {
		t.Errorf("other camera broken after delete: %v (kept object %d)", err, keep)
	}
}

func TestCorruptionMarkerLifecycle(t *testing.T) {
	dir := t.TempDir()

	if NeedsRecovery(dir) {
		t.Fatal("fresh dir claims to need recovery")
	}
	if err := MarkCorrupt(dir); err != nil {
		t.Fatal(err)
	}
	if !NeedsRecovery(dir) {
		t.Fatal("marker not detected")
	}

	// Plant a fake damaged db alongside the marker.
	if err := os.WriteFile(filepath.Join(dir, DBName), []byte("not a database"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Recover(dir); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if NeedsRecovery(dir) {
		t.Fatal("marker survived recovery")
	}
	if _, err := os.Stat(filepath.Join(dir, DBName)); !os.IsNotExist(err) {
		t.Fatal("damaged db survived recovery")
	}

	// The store opens clean afterwards.
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open after recovery: %v", err)
	}
	defer s.Close()
	if err := s.Ping(); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestIsCorruptClassification(t *testing.T) {
	if IsCorrupt(nil) {
		t.Error("nil classified as corrupt")
	}
	if IsCorrupt(os.ErrNotExist) {
		t.Error("plain error classified as corrupt")
	}
	if IsBusy(os.ErrNotExist) {
		t.Error("plain error classified as busy")
	}
}

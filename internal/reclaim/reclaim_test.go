package reclaim

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"vigil/internal/clock"
)

func writeClip(t *testing.T, dir, name string, size int, age time.Duration, now time.Time) string {
	t.Helper()
	path := filepath.Join(dir, ClipDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	mod := now.Add(-age)
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSweepExpiresOldClips(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)

	old := writeClip(t, dir, "cam1/old.mp4", 100, 48*time.Hour, now)
	fresh := writeClip(t, dir, "cam1/fresh.mp4", 100, time.Hour, now)

	r := New(dir, clk)
	r.SetCacheHours(24)
	freed, short, err := r.Sweep()
	if err != nil {
		t.Fatal(err)
	}
	if freed != 100 || short {
		t.Errorf("freed=%d short=%v", freed, short)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("expired clip survived")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh clip deleted")
	}
}

func TestSweepEnforcesBudgetOldestFirst(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)

	oldest := writeClip(t, dir, "a.mp4", 400, 3*time.Hour, now)
	middle := writeClip(t, dir, "b.mp4", 400, 2*time.Hour, now)
	newest := writeClip(t, dir, "c.mp4", 400, time.Hour, now)

	r := New(dir, clk)
	r.SetMaxBytes(900)
	freed, short, err := r.Sweep()
	if err != nil {
		t.Fatal(err)
	}
	if freed != 400 || short {
		t.Errorf("freed=%d short=%v", freed, short)
	}
	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Error("oldest clip survived over budget")
	}
	for _, path := range []string{middle, newest} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s deleted", path)
		}
	}
}

func TestSweepNeverTouchesSaved(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)

	pinned := writeClip(t, dir, SavedDir+"/keep.mp4", 1000, 100*time.Hour, now)

	r := New(dir, clk)
	r.SetMaxBytes(100)
	r.SetCacheHours(1)
	freed, short, err := r.Sweep()
	if err != nil {
		t.Fatal(err)
	}
	if freed != 0 {
		t.Errorf("freed %d from the saved subtree", freed)
	}
	if !short {
		t.Error("pinned clips over budget not reported as short")
	}
	if _, err := os.Stat(pinned); err != nil {
		t.Error("pinned clip deleted")
	}
}

func TestSweepMeetsBudgetByDeletingEverythingDeletable(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)

	writeClip(t, dir, "only.mp4", 200, time.Minute, now)

	r := New(dir, clk)
	r.SetMaxBytes(100)
	freed, short, err := r.Sweep()
	if err != nil {
		t.Fatal(err)
	}
	if freed != 200 || short {
		t.Errorf("freed=%d short=%v, want the clip gone and budget met", freed, short)
	}
}

func TestConfigUpdatesDuringSweeps(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewFake(time.Now())
	r := New(dir, clk)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			r.SetMaxBytes(int64(i))
			r.SetCacheHours(i)
		}
	}()
	for i := 0; i < 200; i++ {
		if _, _, err := r.Sweep(); err != nil {
			t.Error(err)
			break
		}
	}
	<-done
}

func TestSweepMissingDirIsEmpty(t *testing.T) {
	clk := clock.NewFake(time.Now())
	r := New(t.TempDir(), clk)
	r.SetMaxBytes(1)
	freed, short, err := r.Sweep()
	if err != nil || freed != 0 || short {
		t.Errorf("freed=%d short=%v err=%v", freed, short, err)
	}
}

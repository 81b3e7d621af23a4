package idle

import (
	"errors"
	"testing"
	"time"

	"vigil/internal/clock"
)

type recorder struct {
	calls []call
	err   error
}

type call struct {
	camera string
	upToMs int64
}

func (r *recorder) run(camera string, upToMs int64) error {
	r.calls = append(r.calls, call{camera, upToMs})
	return r.err
}

func TestSmallAdvancesDebouncedUntilStale(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	rec := &recorder{}
	p := New(clk, rec.run)

	// Stream advances in 150ms dribbles: below MinAdvance, nothing runs
	// until the global staleness bound trips.
	ms := int64(0)
	for i := 0; i < 4; i++ {
		ms += 150
		p.Note("porch", ms)
		clk.Advance(time.Second)
		if _, ran, _ := p.RunSlice(false); ran {
			t.Fatalf("ran after only %dms of advance", ms)
		}
	}

	ms += 150
	p.Note("porch", ms)
	clk.Advance(time.Second) // 5s since construction
	camera, ran, err := p.RunSlice(false)
	if err != nil || !ran || camera != "porch" {
		t.Fatalf("staleness did not trigger: %q, %v, %v", camera, ran, err)
	}
	if got := rec.calls[len(rec.calls)-1]; got.upToMs != ms {
		t.Errorf("analyzed up to %d, want %d", got.upToMs, ms)
	}
}

func TestBigAdvanceRunsImmediately(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	rec := &recorder{}
	p := New(clk, rec.run)

	p.Note("porch", 1000)
	if camera, ran, _ := p.RunSlice(false); !ran || camera != "porch" {
		t.Fatalf("1s advance not eligible: %q, %v", camera, ran)
	}

	// Same progress again: nothing pending.
	if _, ran, _ := p.RunSlice(false); ran {
		t.Fatal("ran with no new progress")
	}
}

func TestOneCameraPerSliceOldestFirst(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	rec := &recorder{}
	p := New(clk, rec.run)

	p.Note("gate", 5000)
	p.Note("porch", 2000)
	p.Note("yard", 9000)

	want := []string{"porch", "gate", "yard"}
	for _, camera := range want {
		got, ran, err := p.RunSlice(false)
		if err != nil || !ran || got != camera {
			t.Fatalf("slice order: got %q, %v, %v; want %q", got, ran, err, camera)
		}
	}
	if _, ran, _ := p.RunSlice(false); ran {
		t.Fatal("fourth slice ran with nothing pending")
	}
}

func TestForceOverridesDebounce(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	rec := &recorder{}
	p := New(clk, rec.run)

	p.Note("porch", 200)
	if _, ran, _ := p.RunSlice(false); ran {
		t.Fatal("200ms advance should be debounced")
	}
	if camera, ran, _ := p.RunSlice(true); !ran || camera != "porch" {
		t.Fatalf("force did not run: %q, %v", camera, ran)
	}
}

func TestFailedRunKeepsWorkPending(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	rec := &recorder{err: errors.New("store busy")}
	p := New(clk, rec.run)

	p.Note("porch", 3000)
	if _, ran, err := p.RunSlice(false); !ran || err == nil {
		t.Fatalf("expected attempted run with error, got ran=%v err=%v", ran, err)
	}
	if !p.HasPending() {
		t.Fatal("failed analysis discarded pending progress")
	}

	rec.err = nil
	if camera, ran, err := p.RunSlice(false); err != nil || !ran || camera != "porch" {
		t.Fatalf("retry did not run: %q, %v, %v", camera, ran, err)
	}
	if p.HasPending() {
		t.Error("pending progress left after successful run")
	}
}

func TestForgetDropsCamera(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	rec := &recorder{}
	p := New(clk, rec.run)

	p.Note("porch", 3000)
	p.Forget("porch")
	if p.HasPending() {
		t.Fatal("forgotten camera still pending")
	}
}

func TestNoteIgnoresRegression(t *testing.T) {
	clk := clock.NewFake(time.Unix(1000, 0))
	rec := &recorder{}
	p := New(clk, rec.run)

	p.Note("porch", 3000)
	p.Note("porch", 1500)
	if _, ran, _ := p.RunSlice(false); !ran {
		t.Fatal("expected run")
	}
	if got := rec.calls[0].upToMs; got != 3000 {
		t.Errorf("analyzed up to %d after regression, want 3000", got)
	}
}

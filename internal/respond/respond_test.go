package respond

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"vigil"
	"vigil/internal/msg"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordAppendsOneLinePerMatch(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, discard())

	err := r.Deliver(&msg.RuleMatches{
		Rule: "people", Camera: "porch", UpToMs: 5000,
		Responses: []vigil.ResponseConfig{{Type: "record"}},
		Matches: []msg.MatchRecord{
			{Object: 1, StartMs: 1000, StopMs: 2000},
			{Object: 2, StartMs: 1500, StopMs: 2500},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(dir, JournalName))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var entries []journalEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e journalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatal(err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 || entries[0].Object != 1 || entries[1].StopMs != 2500 {
		t.Errorf("journal = %+v", entries)
	}
}

func TestEmptyPassAdvancesWatermarkWithoutWriting(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, discard())

	err := r.Deliver(&msg.RuleMatches{
		Rule: "people", Camera: "porch", UpToMs: 9000,
		Responses: []vigil.ResponseConfig{{Type: "record"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Examined("porch", "people"); got != 9000 {
		t.Errorf("watermark = %d, want 9000", got)
	}
	if _, err := os.Stat(filepath.Join(dir, JournalName)); !os.IsNotExist(err) {
		t.Error("empty pass wrote a journal")
	}
}

func TestUnknownResponseTypeIsSkipped(t *testing.T) {
	r := New(t.TempDir(), discard())
	err := r.Deliver(&msg.RuleMatches{
		Rule: "people", Camera: "porch", UpToMs: 100,
		Responses: []vigil.ResponseConfig{{Type: "carrier-pigeon"}},
		Matches:   []msg.MatchRecord{{Object: 1}},
	})
	if err != nil {
		t.Errorf("unknown type errored: %v", err)
	}
}

func TestRecordHonorsCustomPath(t *testing.T) {
	dir := t.TempDir()
	custom := filepath.Join(dir, "hits.jsonl")
	r := New(dir, discard())

	err := r.Deliver(&msg.RuleMatches{
		Rule: "people", Camera: "porch", UpToMs: 100,
		Responses: []vigil.ResponseConfig{{Type: "record", Options: map[string]string{"path": custom}}},
		Matches:   []msg.MatchRecord{{Object: 7, StartMs: 1, StopMs: 2}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(custom); err != nil {
		t.Error("custom journal missing")
	}
	if _, err := os.Stat(filepath.Join(dir, JournalName)); !os.IsNotExist(err) {
		t.Error("default journal written despite custom path")
	}
}

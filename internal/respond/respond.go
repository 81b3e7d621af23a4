// Package respond executes the response actions bound to a rule when
// the orchestrator delivers an analysis pass. Every pass advances the
// examined watermark, matches or not, so responses that act on silence
// have something to act on.
package respond

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"vigil/internal/msg"
)

// JournalName is the default match journal inside the working
// directory, one JSON object per match.
const JournalName = "responses.jsonl"

// Runner dispatches deliveries to their bound response actions. Owned
// by the responder worker, not safe for concurrent use.
type Runner struct {
	dir  string
	log  *slog.Logger
	upTo map[string]int64
}

func New(workDir string, log *slog.Logger) *Runner {
	return &Runner{dir: workDir, log: log, upTo: make(map[string]int64)}
}

// journalEntry is one match as written to the journal.
type journalEntry struct {
	Camera  string `json:"camera"`
	Rule    string `json:"rule"`
	Object  int64  `json:"object"`
	StartMs int64  `json:"start_ms"`
	StopMs  int64  `json:"stop_ms"`
}

// Deliver runs every bound response for one analysis pass.
func (r *Runner) Deliver(m *msg.RuleMatches) error {
	r.upTo[m.Camera+"/"+m.Rule] = m.UpToMs

	var firstErr error
	for _, resp := range m.Responses {
		var err error
		switch resp.Type {
		case "log":
			for _, match := range m.Matches {
				r.log.Info("rule matched", "rule", m.Rule, "camera", m.Camera,
					"object", match.Object, "start_ms", match.StartMs, "stop_ms", match.StopMs)
			}
		case "record":
			err = r.record(resp.Options["path"], m)
		default:
			r.log.Warn("skipping unknown response type", "type", resp.Type, "rule", m.Rule)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Examined reports how far a rule's camera timeline has been analyzed.
func (r *Runner) Examined(camera, rule string) int64 {
	return r.upTo[camera+"/"+rule]
}

func (r *Runner) record(path string, m *msg.RuleMatches) error {
	if len(m.Matches) == 0 {
		return nil
	}
	if path == "" {
		path = filepath.Join(r.dir, JournalName)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open match journal: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, match := range m.Matches {
		entry := journalEntry{
			Camera:  m.Camera,
			Rule:    m.Rule,
			Object:  match.Object,
			StartMs: match.StartMs,
			StopMs:  match.StopMs,
		}
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("append match journal: %w", err)
		}
	}
	return nil
}

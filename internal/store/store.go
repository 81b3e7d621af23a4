// Package store persists detected objects, their per-frame observations,
// and saved-clip time ranges in a sqlite database.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vigil"

	_ "modernc.org/sqlite"
)

// DBName is the database file name inside the working directory.
const DBName = "objects.db"

// BusyRetry is how long a caller should wait before retrying an
// operation the store answered with "busy".
const BusyRetry = 5 * time.Second

// Frame is one buffered per-frame observation awaiting Flush.
type Frame struct {
	Object     int64
	FrameMs    int64
	Box        [4]int
	ObjectType string
	Action     string
}

// Store wraps the object database. It is owned by the orchestration loop
// and not safe for concurrent use.
type Store struct {
	db      *sql.DB
	pending []Frame
}

// Open opens or creates the object database under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, DBName))
	if err != nil {
		return nil, fmt.Errorf("open object db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set object db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set object db busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS objects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	camera TEXT NOT NULL,
	object_type TEXT NOT NULL,
	first_ms INTEGER NOT NULL,
	last_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS objects_camera_time ON objects (camera, last_ms);
CREATE TABLE IF NOT EXISTS frames (
	object_id INTEGER NOT NULL REFERENCES objects (id),
	frame_ms INTEGER NOT NULL,
	x1 INTEGER NOT NULL, y1 INTEGER NOT NULL,
	x2 INTEGER NOT NULL, y2 INTEGER NOT NULL,
	object_type TEXT NOT NULL,
	action TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS frames_object_time ON frames (object_id, frame_ms);
CREATE TABLE IF NOT EXISTS saved_times (
	camera TEXT NOT NULL,
	first_ms INTEGER NOT NULL,
	last_ms INTEGER NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize object db schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AddObject creates an object row and returns its durable id.
func (s *Store) AddObject(camera, objectType string, timeMs int64) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO objects (camera, object_type, first_ms, last_ms) VALUES (?, ?, ?, ?)`,
		camera, objectType, timeMs, timeMs,
	)
	if err != nil {
		return 0, fmt.Errorf("insert object: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("object row id: %w", err)
	}
	return id, nil
}

// NoteFrame buffers one observation. Nothing is written until Flush.
func (s *Store) NoteFrame(f Frame) {
	s.pending = append(s.pending, f)
}

// PendingFrames reports how many observations are buffered.
func (s *Store) PendingFrames() int { return len(s.pending) }

// Flush writes all buffered observations in a single transaction and
// advances each object's time bounds. The buffer is kept on failure so
// a retry can complete the write.
func (s *Store) Flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin frame flush: %w", err)
	}
	defer tx.Rollback()

	insert, err := tx.Prepare(
		`INSERT INTO frames (object_id, frame_ms, x1, y1, x2, y2, object_type, action)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare frame insert: %w", err)
	}
	defer insert.Close()

	touch, err := tx.Prepare(
		`UPDATE objects SET first_ms = MIN(first_ms, ?), last_ms = MAX(last_ms, ?) WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare object touch: %w", err)
	}
	defer touch.Close()

	for _, f := range s.pending {
		if _, err := insert.Exec(f.Object, f.FrameMs,
			f.Box[0], f.Box[1], f.Box[2], f.Box[3], f.ObjectType, f.Action); err != nil {
			return fmt.Errorf("insert frame for object %d: %w", f.Object, err)
		}
		if _, err := touch.Exec(f.FrameMs, f.FrameMs, f.Object); err != nil {
			return fmt.Errorf("touch object %d: %w", f.Object, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit frame flush: %w", err)
	}
	s.pending = s.pending[:0]
	return nil
}

// Observation is one stored frame row joined with its object, as the
// query engine consumes it.
type Observation struct {
	Object     int64
	Camera     string
	ObjectType string
	FrameMs    int64
	Box        [4]int
	Action     string
}

// SearchRange returns a camera's observations with frame_ms in
// [startMs, endMs), ordered by time.
func (s *Store) SearchRange(camera string, startMs, endMs int64) ([]Observation, error) {
	rows, err := s.db.Query(
		`SELECT f.object_id, o.camera, f.object_type, f.frame_ms, f.x1, f.y1, f.x2, f.y2, f.action
		 FROM frames f JOIN objects o ON o.id = f.object_id
		 WHERE o.camera = ? AND f.frame_ms >= ? AND f.frame_ms < ?
		 ORDER BY f.frame_ms, f.object_id`,
		camera, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("search range: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var ob Observation
		if err := rows.Scan(&ob.Object, &ob.Camera, &ob.ObjectType, &ob.FrameMs,
			&ob.Box[0], &ob.Box[1], &ob.Box[2], &ob.Box[3], &ob.Action); err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}
		out = append(out, ob)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observation rows: %w", err)
	}
	return out, nil
}

// MarkTimesSaved records that clips covering the given ranges are on
// disk. A busy database is reported with a retry delay instead of an
// error so the caller can re-enqueue the work.
func (s *Store) MarkTimesSaved(camera string, ranges []vigil.SavedRange) (time.Duration, error) {
	tx, err := s.db.Begin()
	if err != nil {
		if IsBusy(err) {
			return BusyRetry, nil
		}
		return 0, fmt.Errorf("begin saved times: %w", err)
	}
	defer tx.Rollback()

	for _, r := range ranges {
		if _, err := tx.Exec(
			`INSERT INTO saved_times (camera, first_ms, last_ms) VALUES (?, ?, ?)`,
			camera, r.FirstMs, r.LastMs); err != nil {
			if IsBusy(err) {
				return BusyRetry, nil
			}
			return 0, fmt.Errorf("insert saved range: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		if IsBusy(err) {
			return BusyRetry, nil
		}
		return 0, fmt.Errorf("commit saved times: %w", err)
	}
	return 0, nil
}

// SavedTimes returns a camera's saved ranges ordered by start time.
func (s *Store) SavedTimes(camera string) ([]vigil.SavedRange, error) {
	rows, err := s.db.Query(
		`SELECT first_ms, last_ms FROM saved_times WHERE camera = ? ORDER BY first_ms`, camera)
	if err != nil {
		return nil, fmt.Errorf("query saved times: %w", err)
	}
	defer rows.Close()

	var out []vigil.SavedRange
	for rows.Next() {
		var r vigil.SavedRange
		if err := rows.Scan(&r.FirstMs, &r.LastMs); err != nil {
			return nil, fmt.Errorf("scan saved range: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saved ranges: %w", err)
	}
	return out, nil
}

// DeleteCamera removes every row belonging to a camera. Used by the
// deferred cleanup after a camera is removed.
func (s *Store) DeleteCamera(camera string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin camera delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM frames WHERE object_id IN (SELECT id FROM objects WHERE camera = ?)`,
		camera); err != nil {
		return fmt.Errorf("delete camera frames: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM objects WHERE camera = ?`, camera); err != nil {
		return fmt.Errorf("delete camera objects: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM saved_times WHERE camera = ?`, camera); err != nil {
		return fmt.Errorf("delete camera saved times: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit camera delete: %w", err)
	}
	return nil
}

// RenameCamera moves every row from one camera name to another.
func (s *Store) RenameCamera(oldName, newName string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin camera rename: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE objects SET camera = ? WHERE camera = ?`, newName, oldName); err != nil {
		return fmt.Errorf("rename camera objects: %w", err)
	}
	if _, err := tx.Exec(`UPDATE saved_times SET camera = ? WHERE camera = ?`, newName, oldName); err != nil {
		return fmt.Errorf("rename camera saved times: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit camera rename: %w", err)
	}
	return nil
}

// Ping verifies the database still answers.
func (s *Store) Ping() error {
	var one int
	if err := s.db.QueryRow(`SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("ping object db: %w", err)
	}
	return nil
}

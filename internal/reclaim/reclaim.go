// Package reclaim keeps the recorded-video directory inside its storage
// budget. Clips expire after the cache duration; when the directory is
// still over budget, the oldest clips go first. The saved/ subtree is
// user-pinned and never touched.
package reclaim

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"vigil/internal/clock"
)

// ClipDir is the recorded-video directory inside the working directory.
const ClipDir = "video"

// SavedDir is the pinned subtree inside ClipDir.
const SavedDir = "saved"

// Reclaimer sweeps one clip directory. Configuration commands arrive on
// a different goroutine than the sweep ticks, so the setters and Sweep
// synchronize internally.
type Reclaimer struct {
	dir   string
	clock clock.Clock

	mu         sync.Mutex
	maxBytes   int64
	cacheHours int
}

func New(workDir string, clk clock.Clock) *Reclaimer {
	return &Reclaimer{dir: filepath.Join(workDir, ClipDir), clock: clk}
}

// SetMaxBytes updates the storage budget. Zero disables it.
func (r *Reclaimer) SetMaxBytes(n int64) {
	r.mu.Lock()
	r.maxBytes = n
	r.mu.Unlock()
}

// SetCacheHours updates the clip expiry age. Zero disables expiry.
func (r *Reclaimer) SetCacheHours(h int) {
	r.mu.Lock()
	r.cacheHours = h
	r.mu.Unlock()
}

type clip struct {
	path    string
	size    int64
	modTime time.Time
}

// Sweep deletes expired and over-budget clips. It reports the bytes
// freed and whether the directory is still over budget with nothing
// left to delete.
func (r *Reclaimer) Sweep() (freed int64, short bool, err error) {
	r.mu.Lock()
	maxBytes, cacheHours := r.maxBytes, r.cacheHours
	r.mu.Unlock()

	clips, total, err := r.scan()
	if err != nil {
		return 0, false, err
	}

	// Oldest first, so budget enforcement drops from the front.
	sort.Slice(clips, func(i, j int) bool { return clips[i].modTime.Before(clips[j].modTime) })

	now := r.clock.Now()
	cutoff := time.Time{}
	if cacheHours > 0 {
		cutoff = now.Add(-time.Duration(cacheHours) * time.Hour)
	}

	kept := clips[:0]
	for _, c := range clips {
		if !cutoff.IsZero() && c.modTime.Before(cutoff) {
			if err := os.Remove(c.path); err != nil {
				return freed, false, fmt.Errorf("remove expired clip: %w", err)
			}
			freed += c.size
			total -= c.size
			continue
		}
		kept = append(kept, c)
	}

	if maxBytes > 0 {
		for _, c := range kept {
			if total <= maxBytes {
				break
			}
			if err := os.Remove(c.path); err != nil {
				return freed, false, fmt.Errorf("remove over-budget clip: %w", err)
			}
			freed += c.size
			total -= c.size
		}
	}

	short = maxBytes > 0 && total > maxBytes
	return freed, short, nil
}

// scan lists deletable clips and the directory's total size. Pinned
// clips count toward the total but are never deletable, so a saved
// subtree alone can push the directory over budget.
func (r *Reclaimer) scan() ([]clip, int64, error) {
	var clips []clip
	var total int64
	savedRoot := filepath.Join(r.dir, SavedDir) + string(filepath.Separator)

	err := filepath.WalkDir(r.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		if !strings.HasPrefix(path, savedRoot) {
			clips = append(clips, clip{path: path, size: info.Size(), modTime: info.ModTime()})
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, 0, fmt.Errorf("scan clip dir: %w", err)
	}
	return clips, total, nil
}

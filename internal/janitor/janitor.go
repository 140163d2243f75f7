package janitor

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MimeLyc/news-video-assembler/internal/config"
	"github.com/MimeLyc/news-video-assembler/pkg/file"
	"github.com/MimeLyc/news-video-assembler/pkg/icron"
	"github.com/MimeLyc/news-video-assembler/pkg/log"
	"github.com/robfig/cron/v3"
)

// Janitor periodically deletes work files left behind by failed runs.
// Files younger than the retention window are kept for diagnosis.
type Janitor struct {
	dir       string
	retention time.Duration
	cron      *cron.Cron

	mu       sync.Mutex
	cronExpr string
	entryID  cron.EntryID
	sweeping sync.Mutex

	now    func() time.Time
	remove func(string) error
}

func New(dir string, retention time.Duration, cronEngine *cron.Cron) *Janitor {
	return &Janitor{
		dir:       dir,
		retention: retention,
		cron:      cronEngine,
		now:       time.Now,
		remove:    os.Remove,
	}
}

// Schedule registers the sweep under cronExpr, replacing any earlier entry.
func (j *Janitor) Schedule(cronExpr string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	id, err := j.cron.AddFunc(cronExpr, j.run)
	if err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", cronExpr, err)
	}
	if j.entryID != 0 {
		j.cron.Remove(j.entryID)
	}
	j.entryID = id
	j.cronExpr = cronExpr

	if info, err := icron.Describe(cronExpr, j.now()); err == nil {
		log.Info("Cleanup of %s scheduled (%s), next run in %s", j.dir, cronExpr, info.TimeUntilNext.Round(time.Second))
	}
	return nil
}

// ApplyRuntimeSettings reschedules the sweep when the cron expression changed.
func (j *Janitor) ApplyRuntimeSettings(next config.RuntimeSettings) error {
	j.mu.Lock()
	same := next.CleanupCronExpr == j.cronExpr
	j.mu.Unlock()
	if same {
		return nil
	}
	return j.Schedule(next.CleanupCronExpr)
}

func (j *Janitor) CronExpr() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cronExpr
}

func (j *Janitor) run() {
	if _, err := j.Sweep(); err != nil {
		log.Error("Cleanup of %s failed: %v", j.dir, err)
	}
}

// Sweep deletes every file under the work dir older than the retention
// window and reports how many were removed. Overlapping sweeps are serialized.
func (j *Janitor) Sweep() (int, error) {
	j.sweeping.Lock()
	defer j.sweeping.Unlock()

	stale, err := file.FindOlderThan(j.dir, j.now().Add(-j.retention))
	if err != nil {
		return 0, err
	}

	removed := 0
	var freed int64
	for _, entry := range stale {
		if err := j.remove(entry.Path); err != nil && !os.IsNotExist(err) {
			log.Warn("Failed to remove stale file %s: %v", entry.Path, err)
			continue
		}
		removed++
		freed += entry.Size
	}
	if removed > 0 {
		log.Info("Cleanup removed %d stale files (%d bytes) from %s", removed, freed, j.dir)
	}
	return removed, nil
}

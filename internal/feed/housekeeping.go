package feed

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// RetentionPeriod is spec.md §4.B/§5's "housekeeping pass that deletes files
// older than eight days" in the configured tmp directory.
const RetentionPeriod = 8 * 24 * time.Hour

// Housekeep removes every regular file under dir whose modification time is
// older than RetentionPeriod, relative to now. It returns the number of
// files removed. Errors stat-ing or removing one file are logged and
// skipped rather than aborting the whole sweep.
func Housekeep(dir string, now time.Time, log *logrus.Entry) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("feed: housekeeping readdir %s: %w", dir, err)
	}

	removed := 0
	cutoff := now.Add(-RetentionPeriod)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("housekeeping: stat failed")
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.WithError(err).WithField("path", path).Warn("housekeeping: remove failed")
			continue
		}
		removed++
	}
	log.WithField("removed", removed).Info("housekeeping pass complete")
	return removed, nil
}

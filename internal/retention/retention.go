package retention

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Recording files look like recording_1755072000.webm. Anything else in the
// directory is left alone.
const (
	recordingPrefix = "recording_"
	recordingSuffix = ".webm"
)

// Policy removes recordings that exceed the configured count or age.
// MaxFiles and MaxAge of 0 mean unlimited.
type Policy struct {
	log *slog.Logger

	dir      string
	maxFiles int
	maxAge   time.Duration

	now func() time.Time
}

func New(dir string, maxFiles int, maxAge time.Duration, logger *slog.Logger) *Policy {
	if maxFiles < 0 {
		maxFiles = 0
	}
	if maxAge < 0 {
		maxAge = 0
	}
	return &Policy{
		log:      logger,
		dir:      dir,
		maxFiles: maxFiles,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Unlimited reports whether the policy never prunes.
func (p *Policy) Unlimited() bool {
	return p.maxFiles == 0 && p.maxAge == 0
}

type recordingFile struct {
	path    string
	modTime time.Time
}

// Prune deletes recordings beyond the configured limits, oldest first, and
// returns how many files it removed. A missing directory is not an error.
func (p *Policy) Prune() (removed int, err error) {
	if p.Unlimited() {
		return 0, nil
	}

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	var files []recordingFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, recordingPrefix) || !strings.HasSuffix(name, recordingSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, recordingFile{
			path:    filepath.Join(p.dir, name),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.Before(files[j].modTime)
	})

	drop := make(map[string]bool)

	if p.maxAge > 0 {
		cutoff := p.now().Add(-p.maxAge)
		for _, f := range files {
			if f.modTime.Before(cutoff) {
				drop[f.path] = true
			}
		}
	}

	if p.maxFiles > 0 {
		keep := 0
		for i := len(files) - 1; i >= 0; i-- {
			if drop[files[i].path] {
				continue
			}
			keep++
			if keep > p.maxFiles {
				drop[files[i].path] = true
			}
		}
	}

	for _, f := range files {
		if !drop[f.path] {
			continue
		}
		if err := os.Remove(f.path); err != nil {
			p.log.Warn("failed to prune recording", "path", f.path, "err", err)
			continue
		}
		p.log.Info("pruned recording", "path", f.path)
		removed++
	}

	return removed, nil
}

// Package runs locates versioned training-run directories.
package runs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// TrainingRun is one run directory such as runs/detect/fruit-detection3.
type TrainingRun struct {
	Name    string
	Suffix  int
	ModTime time.Time
	Path    string
}

// WeightsDir returns the directory holding the run's weight files.
func (r *TrainingRun) WeightsDir(sub string) string {
	return filepath.Join(r.Path, sub)
}

// Suffix parses the numeric part of name after prefix. An empty or
// non-numeric remainder is 0, so "run" and "run0" collide.
func Suffix(name, prefix string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil {
		return 0
	}
	return n
}

// LatestRun returns the run with the greatest numeric suffix under root,
// breaking ties by the most recent modification time. A missing root or one
// without matching directories yields (nil, nil).
func LatestRun(root, prefix string) (*TrainingRun, error) {
	if prefix == "" {
		return nil, errors.New("run name prefix is required")
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs in %s: %w", root, err)
	}

	var latest *TrainingRun
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		path := filepath.Join(root, name)
		// Stat follows symlinks, so linked run directories count too.
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // dangling link
			}
			return nil, fmt.Errorf("stat run %s: %w", path, err)
		}
		if !info.IsDir() {
			continue
		}
		run := &TrainingRun{
			Name:    name,
			Suffix:  Suffix(name, prefix),
			ModTime: info.ModTime(),
			Path:    path,
		}
		if latest == nil || newer(run, latest) {
			latest = run
		}
	}
	return latest, nil
}

func newer(a, b *TrainingRun) bool {
	if a.Suffix != b.Suffix {
		return a.Suffix > b.Suffix
	}
	return a.ModTime.After(b.ModTime)
}

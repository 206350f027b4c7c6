package reload

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/timzifer/rampburst/config"
)

type fileState struct {
	modTime time.Time
	size    int64
}

func stat(path string) (fileState, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fileState{}, false
	}
	return fileState{modTime: info.ModTime(), size: info.Size()}, true
}

// Watcher polls the files a sequencer configuration was assembled from and
// knows which jobs each file declared. It never refreshes its snapshot on its
// own; callers call Update once a change has been handled.
type Watcher struct {
	mu    sync.Mutex
	files map[string]fileState
	jobs  map[string][]string
}

// NewWatcher builds a watcher tracking the root file and every module the
// configuration pulled in.
func NewWatcher(root string, cfg *config.Config) (*Watcher, error) {
	watcher := &Watcher{}
	if err := watcher.Update(root, cfg); err != nil {
		return nil, err
	}
	return watcher, nil
}

// Update replaces the snapshot with the current state of the files behind cfg.
func (w *Watcher) Update(root string, cfg *config.Config) error {
	if w == nil {
		return nil
	}
	paths := append(config.SourceFiles(cfg), absPath(root))
	states := make(map[string]fileState, len(paths))
	for _, path := range uniquePaths(paths) {
		if state, ok := stat(path); ok {
			states[path] = state
		}
	}
	jobs := make(map[string][]string)
	if cfg != nil {
		for _, job := range cfg.Jobs {
			path := absPath(job.Source.File)
			if path == "" {
				continue
			}
			jobs[path] = append(jobs[path], job.ID)
		}
	}
	w.mu.Lock()
	w.files = states
	w.jobs = jobs
	w.mu.Unlock()
	return nil
}

// Jobs lists, sorted and without duplicates, the IDs of the jobs declared in
// paths. A reload touching none of them only changes settings.
func (w *Watcher) Jobs(paths []string) []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0)
	for _, path := range paths {
		ids = append(ids, w.jobs[absPath(path)]...)
	}
	ids = uniquePaths(ids)
	sort.Strings(ids)
	return ids
}

// Files lists the tracked paths in sorted order.
func (w *Watcher) Files() []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.files))
	for path := range w.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Check reports the files that changed or vanished since the last snapshot.
func (w *Watcher) Check() ([]string, error) {
	if w == nil {
		return nil, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := make([]string, 0)
	for path, prev := range w.files {
		state, ok := stat(path)
		if !ok || state.modTime.After(prev.modTime) || state.size != prev.size {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

func absPath(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func uniquePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	result := make([]string, 0, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		result = append(result, path)
	}
	return result
}

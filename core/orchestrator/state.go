package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/soverin/bindery/model"
)

const recentLogLimit = 20

// runTracker accumulates the observable state of one processing run.
// Snapshots are persisted to the lock row so any instance or UI can
// watch progress without being the instance doing the work.
type runTracker struct {
	mu sync.Mutex

	total     int
	completed int
	failed    int
	skipped   int

	currentItems map[string]bool
	recentLog    []string
}

func newRunTracker(total int) *runTracker {
	return &runTracker{
		total:        total,
		currentItems: make(map[string]bool),
	}
}

func (t *runTracker) addTotal(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += n
}

func (t *runTracker) start(title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentItems[title] = true
	t.appendLog(fmt.Sprintf("%s processing %q", time.Now().Format(time.TimeOnly), title))
}

func (t *runTracker) finish(title string, status model.ProcessingStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.currentItems, title)

	switch status {
	case model.StatusCompleted:
		t.completed++
	case model.StatusFailed:
		t.failed++
	case model.StatusSkipped:
		t.skipped++
	}

	t.appendLog(fmt.Sprintf("%s %s %q", time.Now().Format(time.TimeOnly), status, title))
}

// drop removes an item without counting it, used when a peer instance
// claimed the document first.
func (t *runTracker) drop(title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.currentItems, title)
	t.total--
	t.appendLog(fmt.Sprintf("%s claimed elsewhere %q", time.Now().Format(time.TimeOnly), title))
}

func (t *runTracker) log(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLog(fmt.Sprintf("%s %s", time.Now().Format(time.TimeOnly), line))
}

// appendLog keeps the bounded ring of recent log lines. Caller holds the lock.
func (t *runTracker) appendLog(line string) {
	t.recentLog = append(t.recentLog, line)
	if len(t.recentLog) > recentLogLimit {
		t.recentLog = t.recentLog[len(t.recentLog)-recentLogLimit:]
	}
}

// snapshot builds a run state for persistence, merging in the live
// resource readings from the adaptive controller.
func (t *runTracker) snapshot(memPercent, cpuPercent float64, maxParallel, liveWorkers int) *model.RunState {
	t.mu.Lock()
	defer t.mu.Unlock()

	items := make([]string, 0, len(t.currentItems))
	for item := range t.currentItems {
		items = append(items, item)
	}

	logLines := make([]string, len(t.recentLog))
	copy(logLines, t.recentLog)

	return &model.RunState{
		Total:          t.total,
		Completed:      t.completed,
		Failed:         t.failed,
		Skipped:        t.skipped,
		CurrentItems:   items,
		RecentLogLines: logLines,
		MemoryPercent:  memPercent,
		CPUPercent:     cpuPercent,
		MaxParallel:    maxParallel,
		LiveWorkers:    liveWorkers,
	}
}

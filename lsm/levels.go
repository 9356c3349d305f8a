package lsm

import "github.com/intellect4all/lsmkv/sstable"

// level holds an ordered list of runs, newest last.
type level struct {
	runs []*sstable.Run
}

// levelManager tracks the run inventory for levels 0..L_max. The engine is
// single-threaded, so no internal locking is required.
type levelManager struct {
	levels []level
}

func newLevelManager(maxLevel int) *levelManager {
	return &levelManager{levels: make([]level, maxLevel+1)}
}

// AddRun appends a run to level i as the newest run.
func (lm *levelManager) AddRun(i int, r *sstable.Run) {
	lm.levels[i].runs = append(lm.levels[i].runs, r)
}

// RunCount returns the number of runs currently on level i.
func (lm *levelManager) RunCount(i int) int {
	return len(lm.levels[i].runs)
}

// Runs returns a copy of level i's runs, oldest first (newest last).
func (lm *levelManager) Runs(i int) []*sstable.Run {
	out := make([]*sstable.Run, len(lm.levels[i].runs))
	copy(out, lm.levels[i].runs)
	return out
}

// Clear empties level i, e.g. after its runs have been merged away.
func (lm *levelManager) Clear(i int) {
	lm.levels[i].runs = nil
}

// NumRuns returns the total run count across every level.
func (lm *levelManager) NumRuns() int {
	total := 0
	for _, lv := range lm.levels {
		total += len(lv.runs)
	}
	return total
}

// TotalSize returns the combined on-disk data size across every level.
func (lm *levelManager) TotalSize() int64 {
	var total int64
	for _, lv := range lm.levels {
		for _, r := range lv.runs {
			total += r.SizeBytes()
		}
	}
	return total
}

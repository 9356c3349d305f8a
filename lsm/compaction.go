package lsm

import (
	"fmt"

	"github.com/intellect4all/lsmkv/common"
	"github.com/intellect4all/lsmkv/sstable"
)

// pairwiseMerge merges runs a and b (a older, b younger; b wins on key
// ties) into a single new run, eliding tombstones only when isFinal, then
// unlinking both inputs once the output is durable. Levels are reduced by
// repeated two-input merges rather than one k-way merge across the level.
// When tombstone elision drops every entry the merge has no output: both
// inputs are still unlinked and the returned run is nil.
func (l *LSM) pairwiseMerge(a, b *sstable.Run, isFinal bool) (*sstable.Run, error) {
	itA, err := a.NewIterator()
	if err != nil {
		return nil, err
	}
	defer itA.Close()

	itB, err := b.NewIterator()
	if err != nil {
		return nil, err
	}
	defer itB.Close()

	mat, err := sstable.NewMaterializer(l.config.DataDir, l.nextTimestamp())
	if err != nil {
		return nil, err
	}

	entryA, okA, err := itA.Next()
	if err != nil {
		mat.Abort()
		return nil, err
	}
	entryB, okB, err := itB.Next()
	if err != nil {
		mat.Abort()
		return nil, err
	}

	for okA || okB {
		var chosen common.Entry
		switch {
		case okA && (!okB || entryA.Key < entryB.Key):
			chosen = entryA
			entryA, okA, err = itA.Next()
		case okB && (!okA || entryB.Key < entryA.Key):
			chosen = entryB
			entryB, okB, err = itB.Next()
		default: // tie: b is younger and wins, advance both
			chosen = entryB
			entryA, okA, err = itA.Next()
			if err == nil {
				entryB, okB, err = itB.Next()
			}
		}
		if err != nil {
			mat.Abort()
			return nil, err
		}

		if isFinal && chosen.IsTombstone() {
			continue
		}
		if err := mat.Add(chosen.Key, chosen.Value); err != nil {
			mat.Abort()
			return nil, err
		}
	}

	if mat.Empty() {
		mat.Abort()
		itA.Close()
		itB.Close()
		if err := l.dropMergedInputs(a, b); err != nil {
			return nil, err
		}
		return nil, nil
	}

	merged, err := mat.Finish()
	if err != nil {
		return nil, err
	}

	itA.Close()
	itB.Close()
	if err := l.dropMergedInputs(a, b); err != nil {
		return nil, err
	}
	return merged, nil
}

// dropMergedInputs unlinks both input runs of a completed merge and evicts
// any of their pages still resident in the cache.
func (l *LSM) dropMergedInputs(a, b *sstable.Run) error {
	for _, r := range []*sstable.Run{a, b} {
		if err := r.Unlink(); err != nil {
			return fmt.Errorf("unlink merged input: %w", err)
		}
		l.cache.Purge(r.DataPath)
		l.cache.Purge(r.IndexPath)
		l.cache.Purge(r.FilterPath)
	}
	return nil
}

// compact walks levels 0..L_max in order, compacting any level that holds
// exactly T runs. Because the pass is forward-only, a run promoted from
// level i to i+1 is picked up by the same pass when it reaches i+1.
func (l *LSM) compact() error {
	for i := 0; i <= l.config.MaxLevel; i++ {
		if l.levels.RunCount(i) != l.config.FanOut {
			continue
		}
		if err := l.compactLevel(i); err != nil {
			return fmt.Errorf("compact level %d: %w", i, err)
		}
	}
	return nil
}

// compactLevel reduces level i's T runs to one via repeated pairwise
// merges left-to-right, then places the result on level i or promotes it
// to i+1 per the byte-budget rule.
func (l *LSM) compactLevel(i int) error {
	runs := l.levels.Runs(i)
	isFinal := i == l.config.MaxLevel

	current := runs[0]
	for idx := 1; idx < len(runs); idx++ {
		if current == nil {
			// An earlier pair elided every entry; the next run carries on
			// as the merge chain's left input.
			current = runs[idx]
			continue
		}
		merged, err := l.pairwiseMerge(current, runs[idx], isFinal)
		if err != nil {
			return err
		}
		current = merged
	}
	l.levels.Clear(i)
	l.stats.CompactCount++

	if current == nil {
		l.config.Logger.Infow("compacted level to nothing",
			"level", i, "runs_merged", len(runs), "final", isFinal)
		return nil
	}

	budget := levelByteBudget(l.config.FanOut, i, l.bufferByteBudget())
	if current.SizeBytes() <= budget || isFinal {
		l.levels.AddRun(i, current)
	} else {
		l.levels.AddRun(i+1, current)
	}

	l.config.Logger.Infow("compacted level",
		"level", i, "runs_merged", len(runs), "result_bytes", current.SizeBytes(), "final", isFinal)

	return nil
}

// levelByteBudget computes T^(i+1) * S_buf, the maximum byte budget for
// level i.
func levelByteBudget(fanOut, level int, bufBytes int64) int64 {
	budget := bufBytes
	for n := 0; n <= level; n++ {
		budget *= int64(fanOut)
	}
	return budget
}

// bufferByteBudget approximates S_buf, the Write Buffer's capacity in
// bytes, as its entry capacity times the fixed on-disk entry size.
func (l *LSM) bufferByteBudget() int64 {
	return int64(l.config.BufferCapacity) * sstable.EntrySize
}

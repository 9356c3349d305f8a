package lsm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/intellect4all/lsmkv/cache"
	"github.com/intellect4all/lsmkv/common"
	"github.com/intellect4all/lsmkv/memtable"
	"github.com/intellect4all/lsmkv/sstable"
)

// LSM is the top-level storage engine: it owns the Write Buffer, the
// level inventory, and the shared Page Cache, and performs flush-on-
// overflow and cascading compaction synchronously within Put: the put
// call that overflows the buffer performs the flush and any cascade of
// compactions before returning. There are no background workers; the
// engine is single-writer and single-threaded.
type LSM struct {
	config Config
	buffer *memtable.Memtable
	levels *levelManager
	cache  *cache.Cache
	stats  common.Stats
	closed bool

	lastTimestampMs int64
}

// Open creates or reopens the database directory named by config.DataDir.
// Re-opening preserves existing on-disk runs; the in-memory Write Buffer
// starts empty. Levels are not reconstructed from disk; there is no
// manifest, so every existing run is loaded into level 0.
func Open(config Config) (*LSM, error) {
	if config.Logger == nil {
		config.Logger = common.NewLogger()
	}
	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	l := &LSM{
		config: config,
		buffer: memtable.New(config.BufferCapacity),
		levels: newLevelManager(config.MaxLevel),
		cache:  cache.New(config.CachePages),
	}

	if err := l.loadExistingRuns(); err != nil {
		return nil, fmt.Errorf("load existing runs: %w", err)
	}

	config.Logger.Infow("database opened", "dir", config.DataDir, "existing_runs", l.levels.NumRuns())
	return l, nil
}

// loadExistingRuns scans DataDir for sst_<ts>.bin triples and opens each
// as a run placed on level 0.
func (l *LSM) loadExistingRuns() error {
	entries, err := os.ReadDir(l.config.DataDir)
	if err != nil {
		return err
	}

	var timestamps []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "sst_") || !strings.HasSuffix(name, ".bin") {
			continue
		}
		ts := strings.TrimSuffix(strings.TrimPrefix(name, "sst_"), ".bin")
		timestamps = append(timestamps, ts)
	}
	sort.Strings(timestamps) // lexical order == creation order

	for _, ts := range timestamps {
		run, err := sstable.Open(l.config.DataDir, ts)
		if err != nil {
			l.config.Logger.Warnw("skipping unreadable run on open", "timestamp", ts, "error", err)
			continue
		}
		l.levels.AddRun(0, run)
	}
	return nil
}

// nextTimestamp returns a strictly increasing, millisecond-resolution
// timestamp formatted YYYYMMDD_HHMMSS_mmm, disambiguating flushes or
// merges that land in the same millisecond.
func (l *LSM) nextTimestamp() string {
	nowMs := time.Now().UnixMilli()
	if nowMs <= l.lastTimestampMs {
		nowMs = l.lastTimestampMs + 1
	}
	l.lastTimestampMs = nowMs

	t := time.UnixMilli(nowMs).UTC()
	return fmt.Sprintf("%04d%02d%02d_%02d%02d%02d_%03d",
		t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/1e6)
}

// Put inserts or overwrites (k, v).
func (l *LSM) Put(k, v int64) error {
	if l.closed {
		return common.ErrClosed
	}
	if k < 0 {
		return common.ErrNegativeKey
	}
	if v < 0 && v != common.TOMBSTONE {
		return common.ErrNegativeValue
	}

	l.buffer.Put(k, v)
	l.stats.WriteCount++

	if !l.buffer.IsFull() {
		return nil
	}
	return l.flush()
}

// Delete inserts a tombstone for k.
func (l *LSM) Delete(k int64) error {
	return l.Put(k, common.TOMBSTONE)
}

// flush streams the full Write Buffer into the Sorted Run Materializer,
// installs a fresh empty buffer, and ingests the new run into level 0.
func (l *LSM) flush() error {
	entries := l.buffer.Entries()

	mat, err := sstable.NewMaterializer(l.config.DataDir, l.nextTimestamp())
	if err != nil {
		return fmt.Errorf("open run materializer: %w", err)
	}
	for _, e := range entries {
		if err := mat.Add(e.Key, e.Value); err != nil {
			mat.Abort()
			return fmt.Errorf("materialize entry: %w", err)
		}
	}
	run, err := mat.Finish()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	l.buffer = memtable.New(l.config.BufferCapacity)
	l.stats.FlushCount++
	l.config.Logger.Infow("flushed write buffer", "entries", len(entries), "run", run.Timestamp)

	return l.ingestRun(run)
}

// ingestRun appends run to level 0 and compacts if level 0 has reached
// the fan-out T.
func (l *LSM) ingestRun(run *sstable.Run) error {
	l.levels.AddRun(0, run)
	if l.levels.RunCount(0) != l.config.FanOut {
		return nil
	}
	return l.compact()
}

// Get performs a point lookup using the requested search strategy: the
// Write Buffer first, then each run from newest to oldest, level by level,
// with each run's Membership Filter short-circuiting definite misses.
func (l *LSM) Get(k int64, strategy common.Strategy) (int64, common.LookupResult, error) {
	if l.closed {
		return 0, common.Absent, common.ErrClosed
	}
	if k < 0 {
		return 0, common.Absent, common.ErrNegativeKey
	}
	l.stats.ReadCount++

	if v, found := l.buffer.Get(k); found {
		if v == common.TOMBSTONE {
			return 0, common.Deleted, nil
		}
		return v, common.Found, nil
	}

	for i := 0; i <= l.config.MaxLevel; i++ {
		runs := l.levels.Runs(i)
		for j := len(runs) - 1; j >= 0; j-- { // newest to oldest
			run := runs[j]

			filter, err := run.LoadFilter(l.cache)
			if err != nil {
				return 0, common.Absent, err
			}
			l.stats.FilterChecks++
			if !filter.MightContain(k) {
				l.stats.FilterSkips++
				continue
			}

			value, found, err := run.Get(l.cache, k, strategy)
			if err != nil {
				return 0, common.Absent, err
			}
			if !found {
				continue
			}
			if value == common.TOMBSTONE {
				return 0, common.Deleted, nil
			}
			return value, common.Found, nil
		}
	}

	return 0, common.Absent, nil
}

// Scan returns every entry with key in [k1, k2], in ascending key order.
// A newer finding for a key always wins over an older one, regardless of
// which level or run it came from. Tombstoned keys are included, with
// Entry.IsTombstone reporting the deletion, so callers can distinguish
// "deleted" from "never written" and label deletions explicitly.
func (l *LSM) Scan(k1, k2 int64, strategy common.Strategy) ([]common.Entry, error) {
	if l.closed {
		return nil, common.ErrClosed
	}
	if k1 < 0 || k2 < 0 {
		return nil, common.ErrNegativeKey
	}
	l.stats.ReadCount++

	seen := make(map[int64]struct{})
	var out []common.Entry

	for _, e := range l.buffer.Scan(k1, k2) {
		seen[e.Key] = struct{}{}
		out = append(out, e)
	}

	for i := 0; i <= l.config.MaxLevel; i++ {
		runs := l.levels.Runs(i)
		for j := len(runs) - 1; j >= 0; j-- { // newest to oldest
			entries, err := runs[j].Scan(l.cache, k1, k2, strategy)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if _, dup := seen[e.Key]; dup {
					continue
				}
				seen[e.Key] = struct{}{}
				out = append(out, e)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out, nil
}

// Close flushes the current buffer if non-empty, then marks the engine
// closed. Closing twice is a no-op.
func (l *LSM) Close() error {
	if l.closed {
		return nil
	}
	if l.buffer.Len() > 0 {
		if err := l.flush(); err != nil {
			return fmt.Errorf("flush on close: %w", err)
		}
	}
	l.closed = true
	_ = l.config.Logger.Sync()
	return nil
}

// Stats returns a snapshot of read-only engine counters.
func (l *LSM) Stats() common.Stats {
	s := l.stats
	s.NumRuns = l.levels.NumRuns()
	s.TotalDiskSize = l.levels.TotalSize()
	return s
}

// Compact manually triggers a compaction pass over every level.
func (l *LSM) Compact() error {
	if l.closed {
		return common.ErrClosed
	}
	return l.compact()
}

// DataDir returns the cleaned path of the directory this engine was opened
// against.
func (l *LSM) DataDir() string {
	return filepath.Clean(l.config.DataDir)
}

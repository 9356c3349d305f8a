package sstable

import (
	"os"
	"testing"

	"github.com/intellect4all/lsmkv/bloom"
	"github.com/intellect4all/lsmkv/cache"
	"github.com/intellect4all/lsmkv/common"
)

func buildRun(t *testing.T, dir, ts string, keys []int64, valueOf func(int64) int64) *Run {
	t.Helper()
	mat, err := NewMaterializer(dir, ts)
	if err != nil {
		t.Fatalf("NewMaterializer: %v", err)
	}
	for _, k := range keys {
		if err := mat.Add(k, valueOf(k)); err != nil {
			mat.Abort()
			t.Fatalf("Add(%d): %v", k, err)
		}
	}
	run, err := mat.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return run
}

func sequentialKeys(n int) []int64 {
	keys := make([]int64, n)
	for i := range keys {
		keys[i] = int64(i + 1)
	}
	return keys
}

func TestMaterializeAndGetBothStrategies(t *testing.T) {
	dir := t.TempDir()
	run := buildRun(t, dir, "20260101_000000_000", sequentialKeys(1024), func(k int64) int64 { return k * 10 })
	c := cache.New(16)

	for _, strategy := range []common.Strategy{common.StrategyBinary, common.StrategyBTree} {
		for _, k := range []int64{1, 500, 1024} {
			v, found, err := run.Get(c, k, strategy)
			if err != nil {
				t.Fatalf("strategy %v: Get(%d) error: %v", strategy, k, err)
			}
			if !found {
				t.Fatalf("strategy %v: Get(%d) not found", strategy, k)
			}
			if v != k*10 {
				t.Fatalf("strategy %v: Get(%d) = %d, want %d", strategy, k, v, k*10)
			}
		}
		if _, found, _ := run.Get(c, 999999, strategy); found {
			t.Fatalf("strategy %v: expected absent key to miss", strategy)
		}
	}
}

func TestStrategyEquivalence(t *testing.T) {
	dir := t.TempDir()
	run := buildRun(t, dir, "20260101_000001_000", sequentialKeys(513), func(k int64) int64 { return k * 10 })
	c := cache.New(16)

	for k := int64(1); k <= 513; k += 37 {
		vBin, foundBin, err := run.Get(c, k, common.StrategyBinary)
		if err != nil {
			t.Fatalf("binary Get(%d): %v", k, err)
		}
		vIdx, foundIdx, err := run.Get(c, k, common.StrategyBTree)
		if err != nil {
			t.Fatalf("btree Get(%d): %v", k, err)
		}
		if foundBin != foundIdx || vBin != vIdx {
			t.Fatalf("strategy mismatch at key %d: binary=(%d,%v) btree=(%d,%v)", k, vBin, foundBin, vIdx, foundIdx)
		}
	}
}

func TestScanRangeCompleteness(t *testing.T) {
	dir := t.TempDir()
	run := buildRun(t, dir, "20260101_000002_000", sequentialKeys(513), func(k int64) int64 { return k * 10 })
	c := cache.New(16)

	entries, err := run.Scan(c, 0, 513, common.StrategyBTree)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(entries) != 513 {
		t.Fatalf("expected 513 entries, got %d", len(entries))
	}
	for i, e := range entries {
		wantKey := int64(i + 1)
		if e.Key != wantKey || e.Value != wantKey*10 {
			t.Fatalf("entry %d = %+v, want key %d", i, e, wantKey)
		}
	}
}

func TestIndexSeparatorInvariant(t *testing.T) {
	dir := t.TempDir()
	run := buildRun(t, dir, "20260101_000003_000", sequentialKeys(1024), func(k int64) int64 { return k })
	c := cache.New(16)

	it, err := run.NewIterator()
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()

	pageMax := make([]int64, 0, 4)
	var count int
	var max int64
	for {
		e, ok, err := it.Next()
		if err != nil {
			t.Fatalf("iterator error: %v", err)
		}
		if !ok {
			break
		}
		max = e.Key
		count++
		if count%EntriesPerPage == 0 {
			pageMax = append(pageMax, max)
		}
	}
	if len(pageMax) != 4 || run.DataPages != 4 {
		t.Fatalf("expected exactly 4 full data pages, got %d (maxima %v)", run.DataPages, pageMax)
	}

	// 1024 keys fit under a single root index page: slots 0..2 hold the
	// first three separators, the fourth data page hangs off the trailing
	// child pointer. Read the raw page and check each stored separator
	// equals the largest key of the data page it points at, with child
	// pointers rebased into [I, I+D).
	root, err := readPageAt(run.IndexPath, 0)
	if err != nil {
		t.Fatalf("read root index page: %v", err)
	}
	if discriminate(root) != kindInternal {
		t.Fatal("root index page should be internal")
	}
	for i := 0; i < 3; i++ {
		sep, child := getSlot(root, i)
		if sep != pageMax[i] {
			t.Fatalf("separator %d = %d, want largest key %d of data page %d", i, sep, pageMax[i], i)
		}
		if child != int64(run.IndexPages+i) {
			t.Fatalf("child %d = %d, want rebased data page index %d", i, child, run.IndexPages+i)
		}
	}
	_, trailing := getSlot(root, discriminatorSlot)
	if trailing != int64(run.IndexPages+3) {
		t.Fatalf("trailing child = %d, want rebased data page index %d", trailing, run.IndexPages+3)
	}

	// And each separator resolves through the index to its own entry.
	for i := 0; i < 4; i++ {
		sep, found, err := run.Get(c, pageMax[i], common.StrategyBTree)
		if err != nil {
			t.Fatalf("Get(%d): %v", pageMax[i], err)
		}
		if !found || sep != pageMax[i] {
			t.Fatalf("separator for data page %d should resolve to its own largest key %d", i, pageMax[i])
		}
	}
}

func TestTailPageCarriesLeafSentinel(t *testing.T) {
	dir := t.TempDir()
	run := buildRun(t, dir, "20260101_000006_000", sequentialKeys(300), func(k int64) int64 { return k })

	last, err := readPageAt(run.DataPath, run.DataPages-1)
	if err != nil {
		t.Fatalf("read tail page: %v", err)
	}
	disc, _ := getSlot(last, discriminatorSlot)
	if disc != LEAF {
		t.Fatalf("tail page discriminator = %d, want LEAF (%d)", disc, LEAF)
	}
	if got := validCount(last); got != 300-EntriesPerPage {
		t.Fatalf("tail page valid entries = %d, want %d", got, 300-EntriesPerPage)
	}
}

// TestMultiLayerIndexNavigation forces more data pages than one internal
// node can address, so the builder has to synthesize an upper layer and
// renumber pages from the root.
func TestMultiLayerIndexNavigation(t *testing.T) {
	if testing.Short() {
		t.Skip("builds a ~1MB run")
	}
	dir := t.TempDir()
	n := EntriesPerPage*(EntriesPerPage+1) + 10 // 258 data pages, 2 leaf nodes + root
	run := buildRun(t, dir, "20260101_000007_000", sequentialKeys(n), func(k int64) int64 { return k * 10 })
	c := cache.New(16)

	if run.IndexPages != 3 {
		t.Fatalf("expected 3 index pages (root + 2 leaf-pointer nodes), got %d", run.IndexPages)
	}

	probes := []int64{1, int64(EntriesPerPage), int64(EntriesPerPage) + 1,
		int64(EntriesPerPage * EntriesPerPage), int64(n) - 1, int64(n)}
	for _, strategy := range []common.Strategy{common.StrategyBinary, common.StrategyBTree} {
		for _, k := range probes {
			v, found, err := run.Get(c, k, strategy)
			if err != nil {
				t.Fatalf("strategy %v: Get(%d): %v", strategy, k, err)
			}
			if !found || v != k*10 {
				t.Fatalf("strategy %v: Get(%d) = (%d, %v), want (%d, true)", strategy, k, v, found, k*10)
			}
		}
		if _, found, _ := run.Get(c, int64(n)+1, strategy); found {
			t.Fatalf("strategy %v: key past the last page should miss", strategy)
		}
	}
}

func TestUnlinkRemovesAllThreeFiles(t *testing.T) {
	dir := t.TempDir()
	run := buildRun(t, dir, "20260101_000004_000", sequentialKeys(4), func(k int64) int64 { return k })

	if err := run.Unlink(); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	for _, p := range []string{run.DataPath, run.IndexPath, run.FilterPath} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s still present after Unlink (stat error %v)", p, err)
		}
	}
	if _, err := Open(dir, "20260101_000004_000"); err == nil {
		t.Fatal("expected Open to fail after Unlink")
	}
}

func TestFileSizesArePageAligned(t *testing.T) {
	dir := t.TempDir()
	run := buildRun(t, dir, "20260101_000005_000", sequentialKeys(300), func(k int64) int64 { return k })

	for _, path := range []string{run.DataPath, run.IndexPath} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		if info.Size() == 0 || info.Size()%PageSize != 0 {
			t.Fatalf("%s length %d is not a positive multiple of %d", path, info.Size(), PageSize)
		}
	}

	// The filter file is the documented exception: raw B/8 bytes.
	info, err := os.Stat(run.FilterPath)
	if err != nil {
		t.Fatalf("stat %s: %v", run.FilterPath, err)
	}
	if info.Size() != int64(bloom.Size()) {
		t.Fatalf("filter file length = %d, want %d", info.Size(), bloom.Size())
	}
}

package sstable

import (
	"fmt"
	"os"
	"sort"

	"github.com/intellect4all/lsmkv/bloom"
	"github.com/intellect4all/lsmkv/cache"
	"github.com/intellect4all/lsmkv/common"
)

// Run is a Sorted Run: an immutable data file paired with a Static B-Tree
// Index file and a Membership Filter file, all sharing one timestamp.
// Every operation opens, reads, and closes its underlying files at page
// granularity; descriptors are never pooled.
type Run struct {
	Dir       string
	Timestamp string

	DataPath   string
	IndexPath  string
	FilterPath string

	DataPages  int // D
	IndexPages int // I
	MinKey     int64
	MaxKey     int64
}

// Open derives a Run's metadata by statting its files and reading the
// boundary data pages; no separate metadata file exists.
func Open(dir, timestamp string) (*Run, error) {
	r := &Run{
		Dir:        dir,
		Timestamp:  timestamp,
		DataPath:   sstPath(dir, timestamp),
		IndexPath:  btreePath(dir, timestamp),
		FilterPath: bloomPath(dir, timestamp),
	}

	dataInfo, err := os.Stat(r.DataPath)
	if err != nil {
		return nil, fmt.Errorf("stat sst file: %w", err)
	}
	if dataInfo.Size()%PageSize != 0 {
		return nil, fmt.Errorf("%w: sst file %s is not page-aligned", common.ErrCorruptPage, r.DataPath)
	}
	r.DataPages = int(dataInfo.Size() / PageSize)

	indexInfo, err := os.Stat(r.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("stat btree file: %w", err)
	}
	if indexInfo.Size()%PageSize != 0 {
		return nil, fmt.Errorf("%w: btree file %s is not page-aligned", common.ErrCorruptPage, r.IndexPath)
	}
	r.IndexPages = int(indexInfo.Size() / PageSize)

	first, err := readPageAt(r.DataPath, 0)
	if err != nil {
		return nil, err
	}
	r.MinKey, _ = getSlot(first, 0)

	last, err := readPageAt(r.DataPath, r.DataPages-1)
	if err != nil {
		return nil, err
	}
	r.MaxKey = lastValidKey(last)

	return r, nil
}

func sstPath(dir, ts string) string   { return dir + "/sst_" + ts + ".bin" }
func btreePath(dir, ts string) string { return dir + "/btree_" + ts + ".bin" }
func bloomPath(dir, ts string) string { return dir + "/bloom_" + ts + ".bin" }

func readPageAt(path string, pageIndex int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	page := make([]byte, PageSize)
	n, err := f.ReadAt(page, int64(pageIndex)*PageSize)
	if err != nil || n != PageSize {
		return nil, fmt.Errorf("%w: short read of %s at page %d", common.ErrCorruptPage, path, pageIndex)
	}
	return page, nil
}

func (r *Run) loadPage(c *cache.Cache, path string, idx int) ([]byte, error) {
	id := cache.PageID{Path: path, Offset: int64(idx) * PageSize}
	if page, ok := c.Lookup(id); ok {
		return page, nil
	}
	page, err := readPageAt(path, idx)
	if err != nil {
		return nil, err
	}
	c.Insert(id, page)
	return page, nil
}

// LoadFilter reads and decodes this run's Membership Filter.
func (r *Run) LoadFilter(c *cache.Cache) (*bloom.Filter, error) {
	id := cache.PageID{Path: r.FilterPath, Offset: 0}
	if raw, ok := c.Lookup(id); ok {
		return bloom.Decode(raw), nil
	}
	raw, err := os.ReadFile(r.FilterPath)
	if err != nil {
		return nil, fmt.Errorf("read filter %s: %w", r.FilterPath, err)
	}
	c.Insert(id, raw)
	return bloom.Decode(raw), nil
}

// lastValidKey returns the key of the last non-pad entry in a data page.
func lastValidKey(page []byte) int64 {
	idx := sort.Search(EntriesPerPage, func(i int) bool {
		key, _ := getSlot(page, i)
		return isNegative(key)
	})
	if idx == 0 {
		return 0
	}
	key, _ := getSlot(page, idx-1)
	return key
}

// Get searches this run for key using the requested strategy. found is
// false if the run has no entry for key at all; if found and the stored
// value is common.TOMBSTONE, callers must interpret that as a logical
// delete, not a miss.
func (r *Run) Get(c *cache.Cache, key int64, strategy common.Strategy) (value int64, found bool, err error) {
	switch strategy {
	case common.StrategyBTree:
		return r.getBTree(c, key)
	default:
		return r.getBinary(c, key)
	}
}

// getBTree descends the Static B-Tree Index from the root (index page 0)
// to a data page, then binary-searches the page.
func (r *Run) getBTree(c *cache.Cache, key int64) (int64, bool, error) {
	pageIdx := 0
	for {
		page, err := r.loadPage(c, r.IndexPath, pageIdx)
		if err != nil {
			return 0, false, err
		}
		if discriminate(page) == kindData {
			return r.searchRebasedDataPage(c, pageIdx, key)
		}
		pageIdx = int(childForKey(page, key))
		if pageIdx >= r.IndexPages {
			return r.searchRebasedDataPage(c, pageIdx, key)
		}
	}
}

// searchRebasedDataPage loads and searches a data page addressed in the
// combined index/data numbering scheme ([0,I) index, [I,I+D) data).
func (r *Run) searchRebasedDataPage(c *cache.Cache, globalIdx int, key int64) (int64, bool, error) {
	dataIdx := globalIdx - r.IndexPages
	if dataIdx < 0 || dataIdx >= r.DataPages {
		return 0, false, fmt.Errorf("%w: index points outside data file (page %d)", common.ErrCorruptPage, globalIdx)
	}
	page, err := r.loadPage(c, r.DataPath, dataIdx)
	if err != nil {
		return 0, false, err
	}
	return searchDataPage(page, key)
}

// getBinary binary-searches the data pages directly, using each page's
// first/last valid key to steer, without touching the index file.
func (r *Run) getBinary(c *cache.Cache, key int64) (int64, bool, error) {
	lo, hi := 0, r.DataPages-1
	for lo <= hi {
		mid := (lo + hi) / 2
		page, err := r.loadPage(c, r.DataPath, mid)
		if err != nil {
			return 0, false, err
		}
		first, _ := getSlot(page, 0)
		last := lastValidKey(page)
		switch {
		case key < first:
			hi = mid - 1
		case key > last:
			lo = mid + 1
		default:
			return searchDataPage(page, key)
		}
	}
	return 0, false, nil
}

// childForKey finds the child to follow for key on an internal index page,
// treating negative slots as past-end.
func childForKey(page []byte, key int64) int64 {
	idx := sort.Search(discriminatorSlot, func(i int) bool {
		k, _ := getSlot(page, i)
		return isNegative(k) || k >= key
	})
	if idx < discriminatorSlot {
		k, child := getSlot(page, idx)
		if k >= 0 {
			return child
		}
	}
	_, trailing := getSlot(page, discriminatorSlot)
	return trailing
}

// searchDataPage binary-searches a data page's entries for key.
func searchDataPage(page []byte, key int64) (int64, bool, error) {
	idx := sort.Search(EntriesPerPage, func(i int) bool {
		k, _ := getSlot(page, i)
		return isNegative(k) || k >= key
	})
	if idx < EntriesPerPage {
		k, v := getSlot(page, idx)
		if k == key {
			return v, true, nil
		}
	}
	return 0, false, nil
}

// Scan yields every entry with key in [k1, k2] in ascending order,
// locating the starting data page with the requested strategy and then
// walking forward page by page.
func (r *Run) Scan(c *cache.Cache, k1, k2 int64, strategy common.Strategy) ([]common.Entry, error) {
	startPage, err := r.firstDataPage(c, k1, strategy)
	if err != nil {
		return nil, err
	}

	var out []common.Entry
	for dataIdx := startPage; dataIdx < r.DataPages; dataIdx++ {
		page, err := r.loadPage(c, r.DataPath, dataIdx)
		if err != nil {
			return nil, err
		}
		done := false
		n := validCount(page)
		for i := 0; i < n; i++ {
			k, v := getSlot(page, i)
			if k > k2 {
				done = true
				break
			}
			if k >= k1 {
				out = append(out, common.Entry{Key: k, Value: v})
			}
		}
		if done {
			break
		}
	}
	return out, nil
}

// firstDataPage returns the 0-based data-file page index that may contain
// the first key >= k1.
func (r *Run) firstDataPage(c *cache.Cache, k1 int64, strategy common.Strategy) (int, error) {
	if strategy == common.StrategyBTree {
		pageIdx := 0
		for {
			page, err := r.loadPage(c, r.IndexPath, pageIdx)
			if err != nil {
				return 0, err
			}
			if discriminate(page) == kindData {
				return pageIdx - r.IndexPages, nil
			}
			pageIdx = int(childForKey(page, k1))
			if pageIdx >= r.IndexPages {
				return pageIdx - r.IndexPages, nil
			}
		}
	}

	lo, hi := 0, r.DataPages-1
	best := r.DataPages
	for lo <= hi {
		mid := (lo + hi) / 2
		page, err := r.loadPage(c, r.DataPath, mid)
		if err != nil {
			return 0, err
		}
		last := lastValidKey(page)
		if last >= k1 {
			best = mid
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	if best >= r.DataPages {
		return r.DataPages, nil
	}
	return best, nil
}

func validCount(page []byte) int {
	idx := sort.Search(EntriesPerPage, func(i int) bool {
		k, _ := getSlot(page, i)
		return isNegative(k)
	})
	return idx
}

// SizeBytes returns the data file's on-disk length, used for level
// placement decisions after compaction.
func (r *Run) SizeBytes() int64 {
	return int64(r.DataPages) * PageSize
}

// Unlink removes all three of this run's files.
func (r *Run) Unlink() error {
	for _, p := range []string{r.DataPath, r.IndexPath, r.FilterPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("unlink %s: %w", p, err)
		}
	}
	return nil
}

// RunIterator walks a run's data file sequentially in key order, bypassing
// the Page Cache: compaction's sequential pass over an input run does not
// benefit from caching pages that will never be re-referenced.
type RunIterator struct {
	run     *Run
	f       *os.File
	pageIdx int
	page    []byte
	slot    int
	count   int
}

// NewIterator opens a fresh, uncached sequential iterator over r.
func (r *Run) NewIterator() (*RunIterator, error) {
	f, err := os.Open(r.DataPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", r.DataPath, err)
	}
	it := &RunIterator{run: r, f: f, pageIdx: -1}
	if err := it.loadPage(0); err != nil {
		f.Close()
		return nil, err
	}
	return it, nil
}

func (it *RunIterator) loadPage(idx int) error {
	if idx >= it.run.DataPages {
		it.page = nil
		return nil
	}
	buf := make([]byte, PageSize)
	if _, err := it.f.ReadAt(buf, int64(idx)*PageSize); err != nil {
		return fmt.Errorf("%w: read page %d of %s: %v", common.ErrCorruptPage, idx, it.run.DataPath, err)
	}
	it.page = buf
	it.pageIdx = idx
	it.slot = 0
	it.count = validCount(buf)
	return nil
}

// Next returns the next entry in ascending key order, or ok=false at
// end-of-file.
func (it *RunIterator) Next() (entry common.Entry, ok bool, err error) {
	for it.page != nil && it.slot >= it.count {
		if err := it.loadPage(it.pageIdx + 1); err != nil {
			return common.Entry{}, false, err
		}
	}
	if it.page == nil {
		return common.Entry{}, false, nil
	}
	k, v := getSlot(it.page, it.slot)
	it.slot++
	return common.Entry{Key: k, Value: v}, true, nil
}

// Close releases the iterator's file descriptor.
func (it *RunIterator) Close() error {
	return it.f.Close()
}

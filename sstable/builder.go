package sstable

import (
	"fmt"
	"os"

	"github.com/ncw/directio"

	"github.com/intellect4all/lsmkv/bloom"
)

// Materializer builds a new Sorted Run in a single streaming pass over an
// ordered (key, value) pipe, producing a data file, its Static B-Tree
// Index, and its Membership Filter, all sharing one timestamp, becoming
// visible atomically once Finish returns.
type Materializer struct {
	dir       string
	timestamp string

	sstFile   *os.File
	btreeFile *os.File

	current     []byte // aligned, pad-initialized page buffer
	count       int    // entries written into current so far
	dataPages   int    // completed data pages so far
	lastPageKey int64  // largest key written into current

	filter *bloom.Filter
	btree  *btreeBuilder

	done    bool
	aborted bool
}

// NewMaterializer opens the data and index output files for a new run at
// dir, timestamped ts, using page-aligned direct I/O. The filter file is the
// documented page-alignment exception: Finish writes it in one plain,
// buffered write.
func NewMaterializer(dir, ts string) (*Materializer, error) {
	sstFile, err := directio.OpenFile(sstPath(dir, ts), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("open sst output: %w", err)
	}
	btreeFile, err := directio.OpenFile(btreePath(dir, ts), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		sstFile.Close()
		return nil, fmt.Errorf("open btree output: %w", err)
	}

	return &Materializer{
		dir:       dir,
		timestamp: ts,
		sstFile:   sstFile,
		btreeFile: btreeFile,
		current:   newAlignedPadPage(),
		filter:    bloom.New(),
		btree:     newBTreeBuilder(),
	}, nil
}

func newAlignedPadPage() []byte {
	page := directio.AlignedBlock(PageSize)
	copy(page, newPadPage())
	return page
}

// writeAligned copies page into a direct-I/O-safe aligned buffer and
// writes it to f.
func writeAligned(f *os.File, page []byte) error {
	aligned := directio.AlignedBlock(len(page))
	copy(aligned, page)
	_, err := f.Write(aligned)
	return err
}

// Empty reports whether no entries have been added. A merge that elides
// every entry must discard the materializer via Abort rather than Finish
// it: a run with no pages cannot be reopened.
func (m *Materializer) Empty() bool {
	return m.dataPages == 0 && m.count == 0
}

// Add appends the next (key, value) pair. Callers must present keys in
// strictly ascending order.
func (m *Materializer) Add(key, value int64) error {
	putSlot(m.current, m.count, key, value)
	m.count++
	m.lastPageKey = key
	m.filter.Put(key)

	if m.count == EntriesPerPage {
		return m.flushFullPage()
	}
	return nil
}

func (m *Materializer) flushFullPage() error {
	if err := writeAligned(m.sstFile, m.current); err != nil {
		return fmt.Errorf("write data page: %w", err)
	}
	m.dataPages++
	m.btree.Add(m.lastPageKey, m.dataPages)
	m.current = newAlignedPadPage()
	m.count = 0
	return nil
}

// Finish pads and writes any partial tail page, finalizes and serializes
// the Static B-Tree Index and the Membership Filter, syncs and closes the
// data and index files (the filter file is not synced), and returns the
// opened Run. On failure every descriptor is
// closed and every partial output unlinked before the error is returned.
func (m *Materializer) Finish() (*Run, error) {
	if m.count > 0 {
		putSlot(m.current, discriminatorSlot, LEAF, INTERNAL)
		if err := writeAligned(m.sstFile, m.current); err != nil {
			m.Abort()
			return nil, fmt.Errorf("write tail page: %w", err)
		}
		m.dataPages++
		m.btree.Add(m.lastPageKey, m.dataPages)
	}

	for _, page := range m.btree.Finalize() {
		if err := writeAligned(m.btreeFile, page); err != nil {
			m.Abort()
			return nil, fmt.Errorf("write index page: %w", err)
		}
	}

	if err := os.WriteFile(bloomPath(m.dir, m.timestamp), m.filter.Encode(), 0644); err != nil {
		m.Abort()
		return nil, fmt.Errorf("write filter: %w", err)
	}

	if err := m.sstFile.Sync(); err != nil {
		m.Abort()
		return nil, fmt.Errorf("sync sst: %w", err)
	}
	if err := m.btreeFile.Sync(); err != nil {
		m.Abort()
		return nil, fmt.Errorf("sync btree: %w", err)
	}
	if err := m.sstFile.Close(); err != nil {
		m.Abort()
		return nil, fmt.Errorf("close sst: %w", err)
	}
	if err := m.btreeFile.Close(); err != nil {
		m.Abort()
		return nil, fmt.Errorf("close btree: %w", err)
	}

	run, err := Open(m.dir, m.timestamp)
	if err != nil {
		// The three files are fully written but unreadable; unlink them
		// rather than leaving orphans behind.
		m.Abort()
		return nil, fmt.Errorf("reopen new run: %w", err)
	}
	m.done = true
	return run, nil
}

// Abort releases all resources and unlinks any partial output files.
func (m *Materializer) Abort() {
	if m.aborted || m.done {
		return
	}
	m.aborted = true
	m.sstFile.Close()
	m.btreeFile.Close()
	os.Remove(sstPath(m.dir, m.timestamp))
	os.Remove(btreePath(m.dir, m.timestamp))
	os.Remove(bloomPath(m.dir, m.timestamp))
}

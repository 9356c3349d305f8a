// Package sstable implements the immutable on-disk Sorted Run format: the
// data file itself, its Static B-Tree Index, and its Membership Filter,
// plus the Materializer that produces all three from a streamed, ordered
// (key, value) pipe.
package sstable

import "encoding/binary"

const (
	// PageSize is P, the fixed page size in bytes.
	PageSize = 4096
	// EntrySize is E, the size in bytes of one (key, value-or-child) slot.
	EntrySize = 16
	// EntriesPerPage is M = P/E, the fan-out of both the data file and the
	// Static B-Tree Index.
	EntriesPerPage = PageSize / EntrySize

	// discriminatorSlot is the last slot of a page (index 255); its key
	// field at byte offset 4080 is the implementation-visible marker
	// distinguishing internal index pages (INTERNAL), leaf/data pages
	// (a valid key), and the final partial data page (LEAF).
	discriminatorSlot = EntriesPerPage - 1

	// INTERNAL marks an index page as internal, and fills unused trailing
	// slots so that pad reads come back negative.
	INTERNAL int64 = -1
	// LEAF marks the final partial data page's discriminator slot.
	LEAF int64 = -2
)

// newPadPage returns a PageSize-byte buffer with every slot pre-filled with
// the INTERNAL pad pattern, so any slot never explicitly written reads back
// negative on load.
func newPadPage() []byte {
	page := make([]byte, PageSize)
	for i := 0; i < EntriesPerPage; i++ {
		putSlot(page, i, INTERNAL, INTERNAL)
	}
	return page
}

// putSlot writes slot i of page as two little-endian int64s.
func putSlot(page []byte, i int, a, b int64) {
	off := i * EntrySize
	binary.LittleEndian.PutUint64(page[off:off+8], uint64(a))
	binary.LittleEndian.PutUint64(page[off+8:off+16], uint64(b))
}

// getSlot reads slot i of page as two int64s.
func getSlot(page []byte, i int) (a, b int64) {
	off := i * EntrySize
	a = int64(binary.LittleEndian.Uint64(page[off : off+8]))
	b = int64(binary.LittleEndian.Uint64(page[off+8 : off+16]))
	return a, b
}

// isNegative reports whether a slot value is a pad/sentinel marker rather
// than a real key: every real key and child index is non-negative, so any
// negative slot value uniformly means "no entry here, treat as past-end".
func isNegative(v int64) bool {
	return v < 0
}

// pageKind distinguishes an internal index page from a data (leaf) page by
// inspecting the discriminator slot.
type pageKind int

const (
	kindData pageKind = iota
	kindInternal
)

func discriminate(page []byte) pageKind {
	disc, _ := getSlot(page, discriminatorSlot)
	if disc == INTERNAL {
		return kindInternal
	}
	return kindData
}

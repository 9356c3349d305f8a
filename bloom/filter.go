// Package bloom implements the per-run membership filter: a fixed-size bit
// array with a fixed number of hash functions, answering "key definitely
// absent" or "key possibly present" for a single Sorted Run.
package bloom

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

const (
	// NumBits is the filter's fixed bit-array size B.
	NumBits = 2400
	// NumHashes is the fixed number of hash functions K.
	NumHashes = 3

	// numBytes is the serialized size of a filter: B/8 raw bytes, no header.
	numBytes = NumBits / 8
)

// Filter is a B-bit, K-hash membership filter keyed by int64. The bit
// positions derive from h_i(key) = (H(key) + i) mod B, where H is
// github.com/cespare/xxhash/v2 over the decimal string form of the key; H
// must stay the same function for the life of a run file since it is used
// both to build and to query it.
type Filter struct {
	bits [numBytes]byte
}

// New returns an empty filter.
func New() *Filter {
	return &Filter{}
}

func hashes(key int64) [NumHashes]uint64 {
	h := xxhash.Sum64String(strconv.FormatInt(key, 10))
	var out [NumHashes]uint64
	for i := 0; i < NumHashes; i++ {
		out[i] = (h + uint64(i)) % NumBits
	}
	return out
}

// Put sets the K bits for key.
func (f *Filter) Put(key int64) {
	for _, bit := range hashes(key) {
		f.bits[bit/8] |= 1 << (bit % 8)
	}
}

// MightContain returns false only if key is definitely absent from the run
// this filter was built for.
func (f *Filter) MightContain(key int64) bool {
	for _, bit := range hashes(key) {
		if f.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// Encode returns the filter's raw bit array, exactly as written to
// bloom_<ts>.bin: no header, B and K are fixed by convention.
func (f *Filter) Encode() []byte {
	out := make([]byte, numBytes)
	copy(out, f.bits[:])
	return out
}

// Decode loads a filter from raw bytes previously produced by Encode.
func Decode(data []byte) *Filter {
	f := &Filter{}
	copy(f.bits[:], data)
	return f
}

// Size returns the filter file's fixed on-disk size in bytes.
func Size() int {
	return numBytes
}

// Package bloom provides a probabilistic set used to spot repeated event ids
// without holding every id in memory.
package bloom

import (
	"math"

	"github.com/spaolacci/murmur3"
)

// Filter is a bloom filter over strings. It has no false negatives: an id
// that was added always tests positive. It is not safe for concurrent use.
type Filter struct {
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// New creates a Filter with numBits bits (rounded up to a multiple of 64)
// and numHashes hash functions.
func New(numBits, numHashes int) *Filter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}

	numWords := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// NewWithEstimates sizes a Filter for expectedItems at the target false
// positive rate.
func NewWithEstimates(expectedItems int, targetFPR float64) *Filter {
	numBits, numHashes := OptimalParameters(expectedItems, targetFPR)
	return New(numBits, numHashes)
}

// OptimalParameters returns the bit and hash counts for n items at rate p:
//
//	m = -n * ln(p) / ln(2)^2
//	k = (m / n) * ln(2)
func OptimalParameters(expectedItems int, targetFPR float64) (numBits, numHashes int) {
	if expectedItems <= 0 {
		expectedItems = 1000
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}

	n := float64(expectedItems)
	m := -n * math.Log(targetFPR) / (math.Ln2 * math.Ln2)
	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil((m / n) * math.Ln2))

	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add inserts id.
func (f *Filter) Add(id string) {
	h1, h2 := murmur3.Sum128([]byte(id))
	for i := uint64(0); i < f.numHashes; i++ {
		f.set((h1 + i*h2) % f.numBits)
	}
	f.count++
}

// Contains reports whether id may have been added.
func (f *Filter) Contains(id string) bool {
	h1, h2 := murmur3.Sum128([]byte(id))
	for i := uint64(0); i < f.numHashes; i++ {
		if !f.get((h1 + i*h2) % f.numBits) {
			return false
		}
	}
	return true
}

// TestAndAdd inserts id and reports whether it may already have been present.
func (f *Filter) TestAndAdd(id string) bool {
	h1, h2 := murmur3.Sum128([]byte(id))
	present := true
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if !f.get(pos) {
			present = false
			f.set(pos)
		}
	}
	f.count++
	return present
}

func (f *Filter) set(pos uint64) {
	f.bits[pos/64] |= 1 << (pos % 64)
}

func (f *Filter) get(pos uint64) bool {
	return f.bits[pos/64]&(1<<(pos%64)) != 0
}

// NumBits returns the number of bits in the filter.
func (f *Filter) NumBits() int {
	return int(f.numBits)
}

// NumHashes returns the number of hash functions used.
func (f *Filter) NumHashes() int {
	return int(f.numHashes)
}

// Count returns the number of insertions.
func (f *Filter) Count() uint64 {
	return f.count
}

// FalsePositiveRate estimates the current false positive rate,
// (1 - e^(-k*n/m))^k.
func (f *Filter) FalsePositiveRate() float64 {
	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	n := float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}

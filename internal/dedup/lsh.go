package dedup

import (
	"errors"
	"fmt"
	"sort"

	"github.com/JakeFAU/gov-crawler/internal/model"
)

// ErrBandMismatch means the hash-function count is not a multiple of the band count.
var ErrBandMismatch = errors.New("hash function count must be a multiple of band count")

// bandMask is xor-ed into every band sum.
const bandMask = 6

// LSH computes banded min-hash signatures.
type LSH struct {
	vocab    Vocabulary
	hashes   []HashFunction
	bands    int
	shingler Shingler
}

// NewLSH validates the configuration before any document is processed.
func NewLSH(vocab Vocabulary, bands int, hashes []HashFunction, shingler Shingler) (*LSH, error) {
	if bands <= 0 {
		return nil, fmt.Errorf("band count must be > 0, got %d", bands)
	}
	if len(hashes) == 0 {
		return nil, fmt.Errorf("at least one hash function is required")
	}
	if len(hashes)%bands != 0 {
		return nil, fmt.Errorf("%w: %d hash functions, %d bands", ErrBandMismatch, len(hashes), bands)
	}
	if shingler == nil {
		shingler = CharShingler(1)
	}
	return &LSH{vocab: vocab, hashes: hashes, bands: bands, shingler: shingler}, nil
}

// Encode returns the sorted vocabulary indices present in doc. Unknown shingles are dropped.
func (l *LSH) Encode(doc string) []int {
	seen := make(map[int]struct{})
	for _, s := range l.shingler(doc) {
		if idx, ok := l.vocab.Lookup(s); ok {
			seen[idx] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for idx := range seen {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Dense projects encoded indices onto one minimum per hash function.
// An empty encoding yields an all-Sentinel vector.
func (l *LSH) Dense(indices []int) []int64 {
	dense := make([]int64, len(l.hashes))
	for i := range dense {
		dense[i] = Sentinel
	}
	for _, idx := range indices {
		for i, h := range l.hashes {
			if v := h.Hash(idx); v < dense[i] {
				dense[i] = v
			}
		}
	}
	return dense
}

// Band folds the dense vector into one value per band.
func (l *LSH) Band(dense []int64) model.Signature {
	width := len(dense) / l.bands
	sig := make(model.Signature, l.bands)
	for b := 0; b < l.bands; b++ {
		var sum int64
		for _, v := range dense[b*width : (b+1)*width] {
			sum += v
		}
		sig[b] = sum ^ bandMask
	}
	return sig
}

// Signature runs encode, dense projection and banding over doc.
func (l *LSH) Signature(doc string) model.Signature {
	return l.Band(l.Dense(l.Encode(doc)))
}

// Bands is the signature length.
func (l *LSH) Bands() int {
	return l.bands
}

package dedup

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gov-crawler/internal/model"
)

func bookLSH(t *testing.T) *LSH {
	t.Helper()
	lsh, err := NewLSH(
		NewVocabulary([]string{"a", "b", "c", "d", "e"}),
		2,
		[]HashFunction{
			HashFunc(func(i int) int64 { return int64((i + 1) % 5) }),
			HashFunc(func(i int) int64 { return int64((3*i + 1) % 5) }),
		},
		CharShingler(1),
	)
	require.NoError(t, err)
	return lsh
}

func TestNewLSHRejectsBandMismatch(t *testing.T) {
	t.Parallel()

	vocab := NewVocabulary([]string{"a", "b"})
	_, err := NewLSH(vocab, 10, NewUniversalFamily(2, 1), nil)
	require.ErrorIs(t, err, ErrBandMismatch)

	_, err = NewLSH(vocab, 5, NewUniversalFamily(7, 1), nil)
	require.True(t, errors.Is(err, ErrBandMismatch))

	_, err = NewLSH(vocab, 0, NewUniversalFamily(4, 1), nil)
	require.Error(t, err)

	_, err = NewLSH(vocab, 2, nil, nil)
	require.Error(t, err)
}

func TestEncodeDropsUnknownShingles(t *testing.T) {
	t.Parallel()

	lsh := bookLSH(t)
	require.Equal(t, []int{0, 2, 3}, lsh.Encode("acd"))
	require.Equal(t, []int{0}, lsh.Encode("a"))
	require.Empty(t, lsh.Encode(""))
	require.Equal(t, []int{0, 1}, lsh.Encode("afb"))
}

func TestDenseOfEmptyDocumentIsSentinel(t *testing.T) {
	t.Parallel()

	lsh := bookLSH(t)
	require.Equal(t, []int64{Sentinel, Sentinel}, lsh.Dense(nil))
}

func TestSignatureNearDuplicatesCollide(t *testing.T) {
	t.Parallel()

	lsh := bookLSH(t)
	require.Equal(t, model.Signature{7, 6}, lsh.Signature("ad"))
	require.Equal(t, model.Signature{7, 6}, lsh.Signature("acd"))
	require.Equal(t, model.Signature{5, 4}, lsh.Signature("c"))
	require.Equal(t, model.Signature{6, 6}, lsh.Signature("bde"))
	require.False(t, lsh.Signature("c").Equal(lsh.Signature("bde")))
}

func TestBandSumsWithinBand(t *testing.T) {
	t.Parallel()

	lsh, err := NewLSH(NewVocabulary([]string{"a"}), 2, NewUniversalFamily(4, 3), nil)
	require.NoError(t, err)
	require.Equal(t, model.Signature{(1 + 2) ^ 6, (3 + 4) ^ 6}, lsh.Band([]int64{1, 2, 3, 4}))
	require.Equal(t, 2, lsh.Bands())
	require.Len(t, lsh.Signature("a"), lsh.Bands())
}

func TestUniversalFamilyIsReproducible(t *testing.T) {
	t.Parallel()

	vocab := DefaultVocabulary(3)
	first, err := NewLSH(vocab, 2, NewUniversalFamily(4, 42), CharShingler(3))
	require.NoError(t, err)
	second, err := NewLSH(vocab, 2, NewUniversalFamily(4, 42), CharShingler(3))
	require.NoError(t, err)

	doc := "Ministrstvo za finance objavlja razpise"
	require.Equal(t, first.Signature(doc), second.Signature(doc))

	for _, h := range NewUniversalFamily(8, 7) {
		for _, idx := range []int{0, 1, 1000, vocab.Len() - 1} {
			v := h.Hash(idx)
			require.GreaterOrEqual(t, v, int64(0))
			require.Less(t, v, Sentinel)
		}
	}
}

func TestDefaultVocabularyCoversAlphabet(t *testing.T) {
	t.Parallel()

	vocab := DefaultVocabulary(2)
	n := len([]rune(DefaultAlphabet))
	require.Equal(t, n*n, vocab.Len())
	_, ok := vocab.Lookup("a ")
	require.True(t, ok)
	_, ok = vocab.Lookup("A ")
	require.False(t, ok)
}

func TestLoadVocabulary(t *testing.T) {
	t.Parallel()

	vocab, err := LoadVocabulary(strings.NewReader("abc\n\n ab\r\nabc\n"))
	require.NoError(t, err)
	require.Equal(t, 2, vocab.Len())
	idx, ok := vocab.Lookup(" ab")
	require.True(t, ok)
	require.Equal(t, 1, idx)

	_, err = LoadVocabulary(strings.NewReader("\n\n"))
	require.Error(t, err)
}

func TestCharShingler(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"abc", "bcd"}, CharShingler(3)("ABCD"))
	require.Empty(t, CharShingler(3)("ab"))
	require.Equal(t, []string{"š", "k"}, CharShingler(1)("ŠK"))
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 1.0, Similarity("", ""), 1e-9)
	require.InDelta(t, 1.0, Similarity("Hello World", "hello   world"), 1e-9)
	require.InDelta(t, 0.0, Similarity("alpha", "beta"), 1e-9)
	require.InDelta(t, 0.8, Similarity("a b c d e", "a b c d"), 0.12)
	require.Less(t, Similarity("one two three", ""), 0.9)
}

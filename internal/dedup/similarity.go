package dedup

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Similarity is the SequenceMatcher ratio of the case-folded word sequences of a and b.
// Two empty documents are identical.
func Similarity(a, b string) float64 {
	wa := strings.Fields(strings.ToLower(a))
	wb := strings.Fields(strings.ToLower(b))
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}
	return difflib.NewMatcherWithJunk(wa, wb, false, nil).Ratio()
}

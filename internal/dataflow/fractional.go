package dataflow

import "strings"

// fractionalAlphabet is the ordered symbol set used to synthesize position
// keys that sort lexically. Keeping it printable and ASCII-sortable means a
// plain string compare reproduces rank order without decoding.
const fractionalAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const fractionalMid = 31 // index of the midpoint symbol in fractionalAlphabet

// fractionalBetween returns a key that sorts strictly between lo and hi
// (either may be empty, meaning "no bound on this side"). It is the
// standard base-N fractional-indexing algorithm: walk both keys
// symbol-by-symbol, and as soon as there is room for a symbol strictly
// between them, emit it; otherwise copy the lower bound's symbol (0 once
// lo is exhausted) and descend to the next position. This lets topK assign a stable sort key to each row in
// its window so a single row moving rank doesn't require renumbering every
// other row downstream.
func fractionalBetween(lo, hi string) string {
	var b strings.Builder
	i := 0
	for {
		loDigit := 0
		hiDigit := len(fractionalAlphabet)
		if i < len(lo) {
			loDigit = symbolIndex(lo[i])
		}
		if i < len(hi) {
			hiDigit = symbolIndex(hi[i])
		} else if hi == "" {
			hiDigit = len(fractionalAlphabet)
		}

		if hiDigit-loDigit > 1 {
			b.WriteByte(fractionalAlphabet[loDigit+(hiDigit-loDigit)/2])
			return b.String()
		}
		// No room at this level: carry the lower bound's digit forward
		// (or 0 if lo is exhausted) and try the next position.
		b.WriteByte(fractionalAlphabet[loDigit])
		i++
		if i > 64 {
			// Degenerate case (should not occur with realistic window
			// sizes); fall back to appending the midpoint so we always
			// terminate with a valid, strictly-ordered key.
			b.WriteByte(fractionalAlphabet[fractionalMid])
			return b.String()
		}
	}
}

func symbolIndex(c byte) int {
	idx := strings.IndexByte(fractionalAlphabet, c)
	if idx < 0 {
		return 0
	}
	return idx
}

// fractionalFill assigns n strictly increasing keys, evenly spread between
// lo and hi (either may be empty, meaning unbounded on that side).
func fractionalFill(lo, hi string, n int) []string {
	if n <= 0 {
		return nil
	}
	keys := make([]string, n)
	var assign func(lo, hi string, from, to int)
	assign = func(lo, hi string, from, to int) {
		if from >= to {
			return
		}
		mid := (from + to) / 2
		keys[mid] = fractionalBetween(lo, hi)
		assign(lo, keys[mid], from, mid)
		assign(keys[mid], hi, mid+1, to)
	}
	assign(lo, hi, 0, n)
	return keys
}

// fractionalKeys assigns n strictly increasing keys, evenly spread between
// the empty lower and upper bounds.
func fractionalKeys(n int) []string {
	return fractionalFill("", "", n)
}

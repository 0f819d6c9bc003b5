package bf

// BracketMap pairs every LoopStart with its LoopEnd, in both directions.
type BracketMap struct {
	forward map[int]int
	reverse map[int]int
}

// NewBracketMap builds a map from open->close pairs, deriving the reverse
// direction. No validation is done; use ResolveBrackets for that.
func NewBracketMap(forward map[int]int) *BracketMap {
	bm := &BracketMap{
		forward: make(map[int]int, len(forward)),
		reverse: make(map[int]int, len(forward)),
	}
	for start, end := range forward {
		bm.forward[start] = end
		bm.reverse[end] = start
	}
	return bm
}

// Close returns the position of the LoopEnd matching the LoopStart at position start.
func (bm *BracketMap) Close(start int) (int, bool) {
	if bm == nil {
		return 0, false
	}
	end, ok := bm.forward[start]
	return end, ok
}

// Open returns the position of the LoopStart matching the LoopEnd at position end.
func (bm *BracketMap) Open(end int) (int, bool) {
	if bm == nil {
		return 0, false
	}
	start, ok := bm.reverse[end]
	return start, ok
}

func (bm *BracketMap) Len() int {
	if bm == nil {
		return 0
	}
	return len(bm.forward)
}

// Pairs returns a copy of the open->close mapping.
func (bm *BracketMap) Pairs() map[int]int {
	pairs := make(map[int]int, bm.Len())
	if bm == nil {
		return pairs
	}
	for start, end := range bm.forward {
		pairs[start] = end
	}
	return pairs
}

const unmatched = -1

// ResolveBrackets matches loop brackets by nesting depth in one pass. A
// LoopEnd with nothing open at the current depth fails at its own
// position; otherwise the first (lowest) LoopStart left open fails.
func ResolveBrackets(program []Command) (*BracketMap, error) {
	// open position -> close position, unmatched until its LoopEnd shows up
	pairs := make(map[int]int)
	// opens in source order, so the unmatched scan is deterministic
	var opens []int
	// stack[d-1] is the LoopStart that opened depth d
	var stack []int
	depth := 0

	for i, c := range program {
		switch c {
		case LoopStart:
			pairs[i] = unmatched
			opens = append(opens, i)
			depth++
			if depth > len(stack) {
				stack = append(stack, i)
			} else {
				stack[depth-1] = i
			}
		case LoopEnd:
			if depth == 0 {
				return nil, newError(InvalidBracketPair, i)
			}
			pairs[stack[depth-1]] = i
			depth--
		}
	}

	for _, start := range opens {
		if pairs[start] == unmatched {
			return nil, newError(InvalidBracketPair, start)
		}
	}

	return NewBracketMap(pairs), nil
}

package device

// Truncate cuts s to MaxLength bytes.
func Truncate(s string) string {
	if len(s) > MaxLength {
		return s[:MaxLength]
	}
	return s
}

// Similarity is 1 minus the Levenshtein distance normalized by the longer
// input, over inputs truncated to MaxLength. Two empty strings are
// identical.
func Similarity(a, b string) float64 {
	a, b = Truncate(a), Truncate(b)
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

// Matches reports whether two fingerprints belong to the same device.
func Matches(stored, presented string) bool {
	return Similarity(stored, presented) >= MatchThreshold
}

// levenshtein runs over bytes; fingerprints are ASCII after normalization.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

package dedup

// similarityRatio measures how alike two strings are as
// 2*M / (len(a)+len(b)), where M is the total length of the longest
// matching blocks found by recursively splitting around the longest common
// substring. Identical strings score 1, disjoint strings 0.
func similarityRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	matched := matchingSize([]byte(a), []byte(b))
	return 2 * float64(matched) / float64(len(a)+len(b))
}

func matchingSize(a, b []byte) int {
	ai, bi, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	total := size
	total += matchingSize(a[:ai], b[:bi])
	total += matchingSize(a[ai+size:], b[bi+size:])
	return total
}

// longestMatch finds the longest common substring of a and b using the
// rolling j2len table, one row of b-offsets at a time.
func longestMatch(a, b []byte) (bestA, bestB, bestSize int) {
	positions := make(map[byte][]int, 64)
	for j, c := range b {
		positions[c] = append(positions[c], j)
	}

	j2len := make(map[int]int)
	for i, c := range a {
		newJ2len := make(map[int]int)
		for _, j := range positions[c] {
			k := j2len[j-1] + 1
			newJ2len[j] = k
			if k > bestSize {
				bestA = i - k + 1
				bestB = j - k + 1
				bestSize = k
			}
		}
		j2len = newJ2len
	}
	return bestA, bestB, bestSize
}

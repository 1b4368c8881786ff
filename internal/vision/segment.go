package vision

// Segment splits data into sequential byte ranges of at most max bytes.
// Empty input yields no segments; max <= 0 yields data unsplit.
func Segment(data []byte, max int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if max <= 0 || len(data) <= max {
		return [][]byte{data}
	}
	n := (len(data) + max - 1) / max
	out := make([][]byte, 0, n)
	for start := 0; start < len(data); start += max {
		end := start + max
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[start:end:end])
	}
	return out
}

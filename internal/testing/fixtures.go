package testing

// AlternatingCloses builds n+1 closes whose day-over-day changes alternate
// between +step and -step, giving a volatility of roughly step.
func AlternatingCloses(start float64, n int, step float64) []float64 {
	out := make([]float64, 0, n+1)
	p := start
	out = append(out, p)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			p *= 1 + step
		} else {
			p *= 1 - step
		}
		out = append(out, p)
	}
	return out
}

// FlatCloses builds n identical closes (zero volatility)
func FlatCloses(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

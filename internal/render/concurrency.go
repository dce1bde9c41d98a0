package render

import "runtime"

const maxAutoConcurrency = 16

// ResolveConcurrency returns n when positive, otherwise twice GOMAXPROCS
// clamped to [1, 16].
func ResolveConcurrency(n int) int {
	if n > 0 {
		return n
	}
	n = runtime.GOMAXPROCS(0) * 2
	if n < 1 {
		n = 1
	}
	if n > maxAutoConcurrency {
		n = maxAutoConcurrency
	}
	return n
}

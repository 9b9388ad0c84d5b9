// Package parallel distributes index loops over worker goroutines. The
// heavy detection kernels split work per output plane: convolution over
// batch x output-channel, RoI pooling over region x channel.
package parallel

import (
	"runtime"
	"sync"
)

// minParallel is the smallest loop worth fanning out; shorter loops run
// inline to avoid goroutine overhead.
const minParallel = 4

// For runs f(i) for every i in [0, n), spreading iterations over up to
// GOMAXPROCS workers. Iterations must be independent.
func For(n int, f func(i int)) {
	workers := runtime.GOMAXPROCS(0)
	if n < minParallel || workers < 2 {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}
	if workers > n {
		workers = n
	}

	var wg sync.WaitGroup
	chunk := (n + workers - 1) / workers
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForPlanes runs f(outer, inner) over an outer x inner plane grid, the
// iteration pattern of NCHW kernels.
func ForPlanes(outer, inner int, f func(o, i int)) {
	For(outer*inner, func(k int) {
		f(k/inner, k%inner)
	})
}

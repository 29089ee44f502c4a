package imageprocessing

import (
	"runtime"
	"sync"
)

// parallelRows runs fn(y) over y in [0, n) using up to GOMAXPROCS workers.
// Rows are distributed by striding so uneven rows balance out.
func parallelRows(n int, fn func(y int)) {
	if n <= 0 {
		return
	}
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(first int) {
			defer wg.Done()
			for y := first; y < n; y += workers {
				fn(y)
			}
		}(w)
	}
	wg.Wait()
}

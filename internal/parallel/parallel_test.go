package parallel

import (
	"sync/atomic"
	"testing"
)

func TestForVisitsEveryIndex(t *testing.T) {
	const n = 1000
	var seen [n]int32
	For(n, func(i int) {
		atomic.AddInt32(&seen[i], 1)
	})
	for i, c := range seen {
		if c != 1 {
			t.Fatalf("index %d visited %d times", i, c)
		}
	}
}

func TestForSmallLoopRunsInline(t *testing.T) {
	order := make([]int, 0, 3)
	For(3, func(i int) {
		order = append(order, i)
	})
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("order = %v, want sequential [0 1 2]", order)
	}
}

func TestForPlanesCoversGrid(t *testing.T) {
	const outer, inner = 4, 8
	var seen [outer][inner]int32
	ForPlanes(outer, inner, func(o, i int) {
		atomic.AddInt32(&seen[o][i], 1)
	})
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			if seen[o][i] != 1 {
				t.Fatalf("plane (%d, %d) visited %d times", o, i, seen[o][i])
			}
		}
	}
}

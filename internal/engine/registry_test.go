/*
MIT License

Copyright (c) 2020 Nicolas JUHEL

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package engine_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nabbar/fibp/internal/engine"
)

func TestRegistryGetMemoizesPerID(t *testing.T) {
	var built []int
	reg := engine.NewRegistry(func(id int) *int {
		built = append(built, id)
		v := id * 100
		return &v
	})

	a := reg.Get(3)
	b := reg.Get(3)
	c := reg.Get(7)

	assert.Same(t, a, b, "repeated Get for the same id must return the same instance")
	assert.NotEqual(t, a, c)
	assert.Equal(t, []int{3, 7}, built, "factory must run exactly once per distinct id")
	assert.Equal(t, 2, reg.Len())
}

func TestRegistryGetIsSafeUnderConcurrentFirstAccess(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	reg := engine.NewRegistry(func(id int) int {
		mu.Lock()
		calls++
		mu.Unlock()
		return id
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Get(1)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "the factory must run exactly once despite concurrent first access")
}

func TestRegistryEachVisitsOnlyCreatedEntries(t *testing.T) {
	reg := engine.NewRegistry(func(id int) int { return id })
	reg.Get(1)
	reg.Get(2)

	seen := map[int]int{}
	reg.Each(func(id int, v int) { seen[id] = v })

	assert.Equal(t, map[int]int{1: 1, 2: 2}, seen)
}

func TestRoundRobinCyclesThroughN(t *testing.T) {
	rr := engine.NewRoundRobin(3)

	got := make([]int, 7)
	for i := range got {
		got[i] = rr.Next()
	}

	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, got)
}

func TestRoundRobinBelowOneTreatedAsOne(t *testing.T) {
	rr := engine.NewRoundRobin(0)
	assert.Equal(t, 0, rr.Next())
	assert.Equal(t, 0, rr.Next())
}

func TestRoundRobinIsSafeForConcurrentUse(t *testing.T) {
	rr := engine.NewRoundRobin(4)
	const n = 400

	var wg sync.WaitGroup
	results := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- rr.Next()
		}()
	}
	wg.Wait()
	close(results)

	counts := map[int]int{}
	for v := range results {
		counts[v]++
	}
	assert.Len(t, counts, 4, "every id in [0,4) must have been handed out")
	for id, c := range counts {
		assert.Equal(t, n/4, c, "round robin over %d ids must split %d calls evenly, id %d got %d", 4, n, id, c)
	}
}

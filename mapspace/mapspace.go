// Package mapspace enumerates the ways the loop extents of a layer can be
// split across a number of hierarchy levels.
package mapspace

import (
	"fmt"

	"github.com/sarchlab/dnnmap/loop"
)

// Space is the cartesian product, over the eight loop parameters, of all
// ordered n-tuples of positive integers whose product is the parameter's
// extent. The factorization lists are immutable once generated and may be
// shared between spaces; only the enumeration counter is per space.
type Space struct {
	n       int
	lists   [loop.NumParams][][]int
	counter [loop.NumParams]int
	done    bool
}

// Generate builds the mapping space of n levels for the given extents.
func Generate(n int, extents loop.Degrees) *Space {
	if n <= 0 {
		panic(fmt.Sprintf("mapping space needs at least one level, got %d", n))
	}

	s := &Space{n: n}

	cache := make(map[int][][]int)
	for _, p := range loop.Params {
		e := extents[p]
		if l, ok := cache[e]; ok {
			s.lists[p] = l
			continue
		}

		s.lists[p] = Factorize(e, n)
		cache[e] = s.lists[p]
	}

	s.Reset()

	return s
}

// Factorize returns every ordered n-tuple of positive integers whose product
// is extent. Tuples are produced in lexicographic order.
func Factorize(extent, n int) [][]int {
	if extent <= 0 {
		return nil
	}

	if n == 1 {
		return [][]int{{extent}}
	}

	var out [][]int
	for _, d := range divisors(extent) {
		for _, rest := range Factorize(extent/d, n-1) {
			tuple := make([]int, 0, n)
			tuple = append(tuple, d)
			tuple = append(tuple, rest...)
			out = append(out, tuple)
		}
	}

	return out
}

func divisors(v int) []int {
	var low, high []int
	for d := 1; d*d <= v; d++ {
		if v%d != 0 {
			continue
		}

		low = append(low, d)
		if d*d != v {
			high = append(high, v/d)
		}
	}

	for i := len(high) - 1; i >= 0; i-- {
		low = append(low, high[i])
	}

	return low
}

// Levels returns the number of levels each assignment covers.
func (s *Space) Levels() int {
	return s.n
}

// Size returns the number of assignments in the space.
func (s *Space) Size() uint64 {
	size := uint64(1)
	for _, l := range s.lists {
		size *= uint64(len(l))
	}

	return size
}

// Factorizations returns the tuples of one parameter. The result must not be
// modified.
func (s *Space) Factorizations(p loop.Param) [][]int {
	return s.lists[p]
}

// Reset rewinds the enumeration.
func (s *Space) Reset() {
	s.counter = [loop.NumParams]int{}
	s.done = s.Size() == 0
}

// IsExhausted tells if every assignment has been returned by Next.
func (s *Space) IsExhausted() bool {
	return s.done
}

// Next returns the current assignment, one degree vector per level, and
// advances the enumeration. The last parameter (G) changes fastest. Next
// returns nil once the space is exhausted.
func (s *Space) Next() []loop.Degrees {
	if s.done {
		return nil
	}

	out := make([]loop.Degrees, s.n)
	for _, p := range loop.Params {
		tuple := s.lists[p][s.counter[p]]
		for lvl := 0; lvl < s.n; lvl++ {
			out[lvl][p] = tuple[lvl]
		}
	}

	s.advance()

	return out
}

func (s *Space) advance() {
	for p := loop.NumParams - 1; p >= 0; p-- {
		s.counter[p]++
		if s.counter[p] < len(s.lists[p]) {
			return
		}

		s.counter[p] = 0
	}

	s.done = true
}

// Largest returns the parameter with the longest factorization list. Ties go
// to the parameter that comes first in column order.
func (s *Space) Largest() loop.Param {
	best := loop.K
	for _, p := range loop.Params {
		if len(s.lists[p]) > len(s.lists[best]) {
			best = p
		}
	}

	return best
}

// Partition returns the shard of the space owned by thread tid out of count.
// The longest factorization list is split into contiguous shards whose sizes
// differ by at most one; the other lists are shared by every shard.
func (s *Space) Partition(tid, count int) *Space {
	if count <= 0 || tid < 0 || tid >= count {
		panic(fmt.Sprintf("invalid partition %d of %d", tid, count))
	}

	p := s.Largest()
	total := len(s.lists[p])

	base := total / count
	extra := total % count

	start := tid*base + min(tid, extra)
	size := base
	if tid < extra {
		size++
	}

	sub := &Space{n: s.n, lists: s.lists}
	sub.lists[p] = s.lists[p][start : start+size : start+size]
	sub.Reset()

	return sub
}

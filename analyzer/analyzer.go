// Package analyzer computes the energy and cycle cost of a schedule on an
// accelerator.
//
// An evaluation always runs the same stages in order: tile sizes, access
// counts and active component counts are propagated into the model, the
// schedule is validated, and the cost is estimated from the propagated state.
// Every stage overwrites the derived fields it owns, so a model can be reused
// for another schedule without a reset.
//
// Access counts are expressed in units of the level's resident tile: a fill
// count of n means the level loads its tile n times from the level below.
package analyzer

import (
	"fmt"

	"github.com/sarchlab/dnnmap/arch"
	"github.com/sarchlab/dnnmap/layer"
	"github.com/sarchlab/dnnmap/loop"
	"github.com/sarchlab/dnnmap/schedule"
)

// Analyzer evaluates schedules. It holds no per-evaluation state and can be
// shared by goroutines as long as each one passes its own model and table.
type Analyzer struct {
	prev *previousLayer
}

type previousLayer struct {
	layer layer.Layer
	table *schedule.Table
}

// New creates an analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// WithPrevious returns an analyzer that credits the reuse of the previous
// layer's output at the DRAM boundary.
func (a *Analyzer) WithPrevious(l layer.Layer, t *schedule.Table) *Analyzer {
	return &Analyzer{prev: &previousLayer{layer: l, table: t.Clone()}}
}

// Evaluate runs all stages and returns a fresh report.
func (a *Analyzer) Evaluate(m *arch.Model, t *schedule.Table) *Report {
	if m.Len() != t.Len() {
		panic(fmt.Sprintf("table has %d rows but the model has %d levels", t.Len(), m.Len()))
	}

	a.PropagateTileSizes(m, t)
	a.PropagateAccessCounts(m, t)
	a.PropagateActive(m, t)

	r := newReport(m.Len())
	r.Issues = a.Validate(m, t)
	if len(r.Issues) > 0 {
		r.invalidate()
		return r
	}

	a.Estimate(m, t, r)

	if a.prev != nil {
		a.creditReuse(m, t, r)
	}

	return r
}

// cumulative returns, per row, the element-wise product of the degrees of
// every row from the top of the table down to and including that row.
func cumulative(t *schedule.Table) []loop.Degrees {
	cum := make([]loop.Degrees, t.Len())
	acc := loop.Ones()
	for i := 0; i < t.Len(); i++ {
		acc = acc.Mul(t.Degrees(i))
		cum[i] = acc
	}

	return cum
}

// footprint returns the number of words of a data type touched by a tile
// with the given degrees.
func footprint(dt arch.DataType, d loop.Degrees, stride int) uint64 {
	switch dt {
	case arch.Input:
		h := uint64((d[loop.P]-1)*stride + d[loop.R])
		w := uint64((d[loop.Q]-1)*stride + d[loop.S])
		return uint64(d[loop.B]) * uint64(d[loop.C]) * uint64(d[loop.G]) * h * w
	case arch.Weight:
		return uint64(d.ProductOf(loop.K, loop.C, loop.R, loop.S, loop.G))
	case arch.Output:
		return uint64(d.ProductOf(loop.K, loop.B, loop.P, loop.Q, loop.G))
	default:
		panic("invalid data type")
	}
}

// parent returns the nearest temporal row below pos that stores the data
// type. DRAM never bypasses, so this is -1 only when pos is DRAM itself.
func parent(m *arch.Model, t *schedule.Table, pos int, dt arch.DataType) int {
	for p := t.NearestTemporalBelow(pos); p >= 0; p = t.NearestTemporalBelow(p) {
		if !m.Bypass(p, dt) {
			return p
		}
	}

	return -1
}

// child returns the nearest temporal row above pos that stores the data type,
// or -1 when the row feeds the MAC units directly.
func child(m *arch.Model, t *schedule.Table, pos int, dt arch.DataType) int {
	for c := t.NearestTemporalAbove(pos); c >= 0; c = t.NearestTemporalAbove(c) {
		if !m.Bypass(c, dt) {
			return c
		}
	}

	return -1
}

// PropagateTileSizes writes the allocated sizes of every temporal level. A
// level holds the footprint of all loops from the top of the table down to
// itself. Bypassed types get a zero size; their traffic is exchanged between
// the nearest storing levels on each side.
func (a *Analyzer) PropagateTileSizes(m *arch.Model, t *schedule.Table) {
	cum := cumulative(t)
	stride := t.Layer().Stride

	for i := 0; i < t.Len(); i++ {
		if t.Kind(i) != arch.Temporal {
			continue
		}

		for _, dt := range arch.DataTypes {
			var resident uint64
			if !m.Bypass(i, dt) {
				resident = footprint(dt, cum[i], stride)
			}

			m.UpdateAllocatedSize(i, dt, resident, arch.TowardCompute)

			var writeBack uint64
			if dt == arch.Output {
				writeBack = resident
			}
			m.UpdateAllocatedSize(i, dt, writeBack, arch.TowardDRAM)
		}
	}
}

// PropagateAccessCounts writes the access counts of every temporal level.
// Rows are visited from the compute side so that the read count of a level
// can be derived from the fills of the level it supplies.
func (a *Analyzer) PropagateAccessCounts(m *arch.Model, t *schedule.Table) {
	cum := cumulative(t)

	for i := 0; i < t.Len(); i++ {
		if t.Kind(i) != arch.Temporal {
			continue
		}

		for _, dt := range arch.DataTypes {
			var fills, reads uint64
			if !m.Bypass(i, dt) {
				fills = a.fills(m, t, i, dt)
				reads = a.reads(m, t, cum, i, dt)
			}

			m.UpdateAccessCount(i, dt, arch.Write, fills, arch.TowardCompute)
			m.UpdateAccessCount(i, dt, arch.Read, reads, arch.TowardCompute)

			var psumIn, psumOut uint64
			if dt == arch.Output {
				psumIn = reads
				psumOut = fills
			}
			m.UpdateAccessCount(i, dt, arch.Write, psumIn, arch.TowardDRAM)
			m.UpdateAccessCount(i, dt, arch.Read, psumOut, arch.TowardDRAM)
		}
	}
}

// fills returns how many times the level loads its tile of the data type
// from the level below. A tile that never changes is loaded once. Otherwise
// the count is the refetch count below.
func (a *Analyzer) fills(
	m *arch.Model,
	t *schedule.Table,
	i int,
	dt arch.DataType,
) uint64 {
	if i == t.DRAM() {
		return 0
	}

	if residentBelow(t, i, dt) {
		return 1
	}

	return refetches(m, t, i, dt)
}

// refetches returns the number of times the tile of row i changes: the
// product of all temporal degrees below the row. A stationary dataflow of the
// supplying level removes its degrees that do not index the operand.
func refetches(m *arch.Model, t *schedule.Table, i int, dt arch.DataType) uint64 {
	if i == t.DRAM() {
		return 1
	}

	count := uint64(1)
	for r := t.NearestTemporalBelow(i); r >= 0; r = t.NearestTemporalBelow(r) {
		count *= uint64(t.Degrees(r).Product())
	}

	p := parent(m, t, i, dt)
	if st, ok := m.Dataflow(p).Stationary(); ok && st == dt {
		count /= uint64(irrelevantDegrees(t, p, dt))
	}

	return count
}

// residentBelow tells if every temporal degree below row i that indexes the
// data type is 1, in which case the tile at row i is the whole operand.
func residentBelow(t *schedule.Table, i int, dt arch.DataType) bool {
	below := t.NearestTemporalBelow(i)
	if below < 0 {
		return true
	}

	for _, c := range dt.Relevant() {
		if t.CorrelationProduct(below, c) != 1 {
			return false
		}
	}

	return true
}

func irrelevantDegrees(t *schedule.Table, i int, dt arch.DataType) int {
	return t.Degrees(i).ProductOf(dt.Irrelevant().Params()...)
}

// reads returns how many tiles' worth of the data type the level sends
// toward compute.
//
// A level that supplies another storing level sends exactly the words its
// consumer receives: the consumer's fills times the union of the consumer's
// tiles over the spatial replicas in between. A level that feeds the MAC
// units streams each version of its tile once per iteration of the loops that
// do not index the operand, counting the loops of bypassing levels above it.
// Only fills collapse for a resident tile; the MAC units still consume it on
// every iteration below.
func (a *Analyzer) reads(
	m *arch.Model,
	t *schedule.Table,
	cum []loop.Degrees,
	i int,
	dt arch.DataType,
) uint64 {
	c := child(m, t, i, dt)
	if c >= 0 {
		words := m.AccessCount(c, dt, arch.Write, arch.TowardCompute) *
			footprint(dt, cum[c].Mul(spatialDegrees(t, c, i)), t.Layer().Stride)
		size := m.AllocatedSize(i, dt, arch.TowardCompute)

		return (words + size - 1) / size
	}

	repeat := 1
	if st, ok := m.Dataflow(i).Stationary(); !ok || st != dt {
		repeat = irrelevantDegrees(t, i, dt)
	}

	for r := t.NearestTemporalAbove(i); r >= 0; r = t.NearestTemporalAbove(r) {
		repeat *= irrelevantDegrees(t, r, dt)
	}

	return refetches(m, t, i, dt) * uint64(repeat)
}

// spatialDegrees multiplies the degrees of the spatial rows strictly between
// rows first and last.
func spatialDegrees(t *schedule.Table, first, last int) loop.Degrees {
	d := loop.Ones()
	for r := first + 1; r < last; r++ {
		if t.Kind(r) == arch.Spatial {
			d = d.Mul(t.Degrees(r))
		}
	}

	return d
}

// PropagateActive records the utilized components of every spatial level.
// With placement constraints, the mapped parameters decide each dimension.
// Otherwise the unrolled product is folded onto the array as the widest X
// that fits.
func (a *Analyzer) PropagateActive(m *arch.Model, t *schedule.Table) {
	for i := 0; i < t.Len(); i++ {
		if t.Kind(i) != arch.Spatial {
			continue
		}

		lvl := m.Level(i)
		d := t.Degrees(i)

		if lvl.Array.Constrained {
			x, y := 1, 1
			for _, p := range loop.Params {
				if lvl.Array.MapX[p] {
					x *= d[p]
				}
				if lvl.Array.MapY[p] {
					y *= d[p]
				}
			}

			m.UpdateActive(i, [2]int{x, y})
			continue
		}

		m.UpdateActive(i, fold(d.Product(), lvl.Array.DimX, lvl.Array.DimY))
	}
}

func fold(n, dimX, dimY int) [2]int {
	for x := min(n, dimX); x >= 1; x-- {
		if n%x == 0 && n/x <= dimY {
			return [2]int{x, n / x}
		}
	}

	return [2]int{n, 1}
}

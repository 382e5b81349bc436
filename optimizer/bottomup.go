package optimizer

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sarchlab/dnnmap/arch"
	"github.com/sarchlab/dnnmap/layer"
	"github.com/sarchlab/dnnmap/loop"
	"github.com/sarchlab/dnnmap/mapspace"
	"github.com/sarchlab/dnnmap/schedule"
	"golang.org/x/sync/errgroup"
)

// branch is a partially determined schedule. Rows above the pivot still have
// degree 1; the pivot holds the extents that the next span will split.
type branch struct {
	model   *arch.Model
	table   *schedule.Table
	pivot   int
	lineage []int
	done    bool
	last    *Candidate
}

// span describes the rows a branch determines next.
type span struct {
	top     int   // new pivot, -1 when only spatial rows remain
	targets []int // non-virtual rows of the span followed by the pivot
	topmost bool
}

// BottomUp searches the schedule of a layer one span at a time, starting at
// DRAM and moving toward compute. For every dataflow assignment, each span
// keeps the cheapest local split (primary) and the split that leaves the most
// extent for the next span (supplementary). Every kept split is a branch that
// is expanded in the next wave.
func (o *Optimizer) BottomUp(l layer.Layer) (*Result, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}

	res := &Result{Layer: l, Metric: o.metric}
	var evaluated atomic.Uint64

	for _, dataflows := range o.assignments() {
		m, t := o.prepare(l, dataflows)

		best := o.bottomUp(m, t, &evaluated)
		if best == nil {
			o.logger.Debug("no valid schedule for dataflow assignment",
				"layer", l.Name,
				"dataflows", dataflowNames(t))
			continue
		}

		res.PerDataflow = append(res.PerDataflow, best)
		if res.Best == nil || o.better(best, res.Best) {
			res.Best = best
		}
	}

	res.Evaluated = evaluated.Load()

	if res.Best == nil {
		return res, errors.Wrapf(ErrNoValidSchedule, "layer %s", l.Name)
	}

	o.logger.Info("bottom-up search finished",
		"layer", l.Name,
		"metric", o.metric.Name(),
		"cost", res.Cost(),
		"evaluated", res.Evaluated,
		"schedule", res.Best.Table.String())

	return res, nil
}

func (o *Optimizer) bottomUp(
	m *arch.Model,
	t *schedule.Table,
	evaluated *atomic.Uint64,
) *Candidate {
	wave := []*branch{{model: m, table: t, pivot: t.DRAM()}}
	var finished []*branch

	for len(wave) > 0 {
		next := o.runWave(wave, evaluated)

		wave = wave[:0]
		for _, b := range next {
			if b.done {
				finished = append(finished, b)
			} else {
				wave = append(wave, b)
			}
		}

		o.logger.Debug("wave expanded",
			"layer", t.Layer().Name,
			"live", len(wave),
			"finished", len(finished))
	}

	var best *Candidate
	for _, b := range finished {
		if b.last == nil {
			continue
		}

		if best == nil || o.better(b.last, best) {
			best = b.last
		}
	}

	return best
}

// runWave expands every branch of a wave on the worker pool. The outputs are
// merged under a lock and then sorted by lineage, so the next wave is the
// same whatever order the workers finish in.
func (o *Optimizer) runWave(wave []*branch, evaluated *atomic.Uint64) []*branch {
	var (
		mu   sync.Mutex
		next []*branch
		g    errgroup.Group
	)

	g.SetLimit(o.threads)

	for _, b := range wave {
		g.Go(func() error {
			out := o.expand(b, evaluated)

			mu.Lock()
			next = append(next, out...)
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	slices.SortFunc(next, func(a, b *branch) int {
		return slices.Compare(a.lineage, b.lineage)
	})

	return next
}

func nextSpan(t *schedule.Table, pivot int) (span, bool) {
	if pivot == 0 {
		return span{}, false
	}

	top := t.NearestTemporalAbove(pivot)
	first := max(top, 0)

	rows := t.NonVirtual(first, pivot-1)
	if len(rows) == 0 {
		return span{}, false
	}

	s := span{
		top:     top,
		targets: append(rows, pivot),
		topmost: top < 0 || top == 0 || len(t.NonVirtual(0, top-1)) == 0,
	}

	return s, true
}

// expand evaluates every split of the pivot's extents over the next span and
// returns the kept branches. A span without any valid split returns no
// branch, which ends this line of the search.
func (o *Optimizer) expand(b *branch, evaluated *atomic.Uint64) []*branch {
	s, ok := nextSpan(b.table, b.pivot)
	if !ok {
		return []*branch{o.finish(b, evaluated)}
	}

	model := b.model.Clone()
	scratch := b.table.Clone()
	space := mapspace.Generate(len(s.targets), b.table.Degrees(b.pivot))

	var primary, supplementary *scored
	for !space.IsExhausted() {
		degrees := space.Next()
		if !fitsArrays(model, s.targets, degrees) {
			continue
		}

		for k, row := range s.targets {
			scratch.UpdateRow(row, degrees[k])
		}

		rep := o.evaluator.Evaluate(model, scratch)
		evaluated.Add(1)
		if !rep.Valid {
			continue
		}

		c := &scored{
			table:  scratch,
			cost:   rep.SpanCost(o.metric, s.targets),
			access: baseline(scratch, s.top),
			reuse:  stationaryReuse(scratch, b.pivot),
			freed:  freedom(scratch, s.top),
		}

		if o.tracing() {
			o.trace("span candidate",
				"schedule", scratch.String(),
				"span_cost", c.cost)
		}

		if primary == nil || c.beatsPrimary(primary) {
			primary = c.keep()
		}

		if supplementary == nil || c.beatsSupplementary(supplementary) {
			supplementary = c.keep()
		}
	}

	if primary == nil {
		return nil
	}

	out := []*branch{o.grow(b, primary, s, 0)}
	if !s.topmost && s.top >= 0 && !supplementary.table.Equal(primary.table) {
		out = append(out, o.grow(b, supplementary, s, 1))
	}

	return out
}

func (o *Optimizer) grow(b *branch, c *scored, s span, k int) *branch {
	lineage := make([]int, len(b.lineage), len(b.lineage)+1)
	copy(lineage, b.lineage)

	nb := &branch{
		model:   b.model,
		table:   c.table,
		pivot:   s.top,
		lineage: append(lineage, k),
	}

	if s.topmost {
		nb.done = true
		nb.last = o.candidate(nb)
	}

	return nb
}

// finish closes a branch that has no span left to split.
func (o *Optimizer) finish(b *branch, evaluated *atomic.Uint64) *branch {
	b.done = true
	b.last = o.candidate(b)
	evaluated.Add(1)

	if !b.last.Report.Valid {
		b.last = nil
	}

	return b
}

func (o *Optimizer) candidate(b *branch) *Candidate {
	m := b.model.Clone()
	t := b.table.Clone()

	return &Candidate{
		Model:  m,
		Table:  t,
		Report: o.evaluator.Evaluate(m, t),
	}
}

func (o *Optimizer) tracing() bool {
	return o.logger.Enabled(context.Background(), LevelTrace)
}

// fitsArrays rejects splits that unroll more than a spatial level holds
// before paying for a full evaluation.
func fitsArrays(m *arch.Model, targets []int, degrees []loop.Degrees) bool {
	for k, row := range targets {
		if m.Kind(row) != arch.Spatial {
			continue
		}

		d := m.Dims(row)
		if degrees[k].Product() > d[0]*d[1] {
			return false
		}
	}

	return true
}

type scored struct {
	table  *schedule.Table
	cost   float64
	access int
	reuse  int
	freed  int
}

func (c *scored) keep() *scored {
	k := *c
	k.table = c.table.Clone()

	return &k
}

func (c *scored) beatsPrimary(o *scored) bool {
	if c.cost != o.cost {
		return c.cost < o.cost
	}

	if c.access != o.access {
		return c.access < o.access
	}

	if c.reuse != o.reuse {
		return c.reuse > o.reuse
	}

	return c.table.Compare(o.table) < 0
}

func (c *scored) beatsSupplementary(o *scored) bool {
	if c.freed != o.freed {
		return c.freed > o.freed
	}

	if c.cost != o.cost {
		return c.cost < o.cost
	}

	return c.table.Compare(o.table) < 0
}

// baseline returns how many times the tile of the row is refetched from
// below, ignoring any reuse.
func baseline(t *schedule.Table, row int) int {
	if row < 0 {
		return 0
	}

	n := 1
	for r := t.NearestTemporalBelow(row); r >= 0; r = t.NearestTemporalBelow(r) {
		n *= t.Degrees(r).Product()
	}

	return n
}

// stationaryReuse returns the product of the pivot's degrees that its
// stationary operand does not depend on.
func stationaryReuse(t *schedule.Table, pivot int) int {
	st, ok := t.Dataflow(pivot).Stationary()
	if !ok {
		return 1
	}

	return t.Degrees(pivot).ProductOf(st.Irrelevant().Params()...)
}

// freedom returns the extent handed to the next span.
func freedom(t *schedule.Table, top int) int {
	if top < 0 {
		return 0
	}

	return t.Degrees(top).Product()
}

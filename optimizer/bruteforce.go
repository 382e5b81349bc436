package optimizer

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sarchlab/dnnmap/arch"
	"github.com/sarchlab/dnnmap/layer"
	"github.com/sarchlab/dnnmap/mapspace"
	"github.com/sarchlab/dnnmap/schedule"
	"golang.org/x/sync/errgroup"
)

// BruteForce evaluates every way of splitting the layer over all non-virtual
// levels, for every dataflow assignment. The space is partitioned across the
// workers; each worker keeps a local best that is merged at the end.
func (o *Optimizer) BruteForce(l layer.Layer) (*Result, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}

	res := &Result{Layer: l, Metric: o.metric}
	var evaluated atomic.Uint64

	for _, dataflows := range o.assignments() {
		m, t := o.prepare(l, dataflows)

		best := o.bruteForce(m, t, &evaluated)
		if best == nil {
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

	o.logger.Info("brute-force search finished",
		"layer", l.Name,
		"metric", o.metric.Name(),
		"cost", res.Cost(),
		"evaluated", res.Evaluated,
		"schedule", res.Best.Table.String())

	return res, nil
}

func (o *Optimizer) bruteForce(
	m *arch.Model,
	t *schedule.Table,
	evaluated *atomic.Uint64,
) *Candidate {
	rows := t.NonVirtual(0, t.DRAM())
	space := mapspace.Generate(len(rows), t.Extents())

	o.logger.Debug("brute-force space generated",
		"layer", t.Layer().Name,
		"dataflows", dataflowNames(t),
		"size", space.Size())

	var (
		mu   sync.Mutex
		best *Candidate
		g    errgroup.Group
	)

	for tid := 0; tid < o.threads; tid++ {
		shard := space.Partition(tid, o.threads)

		g.Go(func() error {
			local := o.searchShard(m.Clone(), t.Clone(), rows, shard, evaluated)
			if local == nil {
				return nil
			}

			mu.Lock()
			if best == nil || o.better(local, best) {
				best = local
			}
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	return best
}

// searchShard walks one shard on a private model and table. The model is
// overwritten by every evaluation and only copied when a candidate improves
// on the local best.
func (o *Optimizer) searchShard(
	m *arch.Model,
	t *schedule.Table,
	rows []int,
	shard *mapspace.Space,
	evaluated *atomic.Uint64,
) *Candidate {
	var best *Candidate

	for !shard.IsExhausted() {
		degrees := shard.Next()
		if !fitsArrays(m, rows, degrees) {
			continue
		}

		for k, row := range rows {
			t.UpdateRow(row, degrees[k])
		}

		rep := o.evaluator.Evaluate(m, t)
		evaluated.Add(1)
		if !rep.Valid {
			continue
		}

		if o.tracing() {
			o.trace("candidate",
				"schedule", t.String(),
				"cost", rep.Cost(o.metric))
		}

		c := &Candidate{Model: m, Table: t, Report: rep}
		if best == nil || o.better(c, best) {
			best = &Candidate{
				Model:  m.Clone(),
				Table:  t.Clone(),
				Report: rep,
			}
		}
	}

	return best
}

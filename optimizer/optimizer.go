// Package optimizer searches the schedule space of a layer for the schedule
// with the lowest cost.
//
// Every candidate is evaluated on its own copy of the accelerator model,
// because the analyzer overwrites the model's derived state. Workers never
// share a model or a table; they only meet when their results are merged.
// Selection is a deterministic min-reduction, so results do not depend on
// the order in which workers finish.
package optimizer

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/pkg/errors"
	"github.com/sarchlab/dnnmap/analyzer"
	"github.com/sarchlab/dnnmap/arch"
	"github.com/sarchlab/dnnmap/layer"
	"github.com/sarchlab/dnnmap/schedule"
)

// LevelTrace is the log level of per-candidate messages.
const LevelTrace slog.Level = slog.LevelDebug - 4

// ErrNoValidSchedule is returned when every candidate fails validation.
var ErrNoValidSchedule = errors.New("no valid schedule")

// Evaluator computes the cost of a schedule on a model. Implementations may
// overwrite the derived state of the model.
type Evaluator interface {
	Evaluate(m *arch.Model, t *schedule.Table) *analyzer.Report
}

// Builder can create optimizers.
type Builder struct {
	model     *arch.Model
	threads   int
	metric    analyzer.Metric
	evaluator Evaluator
	logger    *slog.Logger
}

// NewBuilder returns a builder that uses one worker per CPU and minimizes
// energy.
func NewBuilder() Builder {
	return Builder{
		threads: runtime.NumCPU(),
		metric:  analyzer.Energy,
	}
}

// WithModel sets the accelerator to schedule on.
func (b Builder) WithModel(m *arch.Model) Builder {
	b.model = m
	return b
}

// WithThreads sets the maximum number of concurrent workers.
func (b Builder) WithThreads(n int) Builder {
	if n < 1 {
		panic("need at least one thread")
	}

	b.threads = n
	return b
}

// WithMetric sets the metric to minimize.
func (b Builder) WithMetric(m analyzer.Metric) Builder {
	b.metric = m
	return b
}

// WithEvaluator replaces the default analyzer.
func (b Builder) WithEvaluator(e Evaluator) Builder {
	b.evaluator = e
	return b
}

// WithLogger sets the logger. The default logger is used otherwise.
func (b Builder) WithLogger(l *slog.Logger) Builder {
	b.logger = l
	return b
}

// Build creates an optimizer.
func (b Builder) Build() *Optimizer {
	if b.model == nil {
		panic("optimizer needs a model")
	}

	o := &Optimizer{
		model:     b.model.Clone(),
		threads:   b.threads,
		metric:    b.metric,
		evaluator: b.evaluator,
		logger:    b.logger,
	}

	if o.evaluator == nil {
		o.evaluator = analyzer.New()
	}

	if o.logger == nil {
		o.logger = slog.Default()
	}

	return o
}

// Optimizer runs schedule searches on one accelerator.
type Optimizer struct {
	model     *arch.Model
	threads   int
	metric    analyzer.Metric
	evaluator Evaluator
	logger    *slog.Logger
}

// Model returns a copy of the accelerator model.
func (o *Optimizer) Model() *arch.Model {
	return o.model.Clone()
}

// Metric returns the metric being minimized.
func (o *Optimizer) Metric() analyzer.Metric {
	return o.metric
}

// Candidate is an evaluated schedule together with the model state the
// evaluation produced.
type Candidate struct {
	Model  *arch.Model
	Table  *schedule.Table
	Report *analyzer.Report
}

// Cost returns the cost of the candidate under the metric.
func (c *Candidate) Cost(m analyzer.Metric) float64 {
	return c.Report.Cost(m)
}

// Result is the outcome of a search for one layer.
type Result struct {
	Layer  layer.Layer
	Metric analyzer.Metric
	Best   *Candidate

	// PerDataflow holds the best candidate of every dataflow assignment that
	// produced a valid schedule.
	PerDataflow []*Candidate

	Evaluated uint64
}

// Cost returns the cost of the best candidate.
func (r *Result) Cost() float64 {
	return r.Best.Cost(r.Metric)
}

func (o *Optimizer) better(a, b *Candidate) bool {
	ca, cb := a.Cost(o.metric), b.Cost(o.metric)
	if ca != cb {
		return ca < cb
	}

	return a.Table.Compare(b.Table) < 0
}

// Evaluate evaluates a given schedule, which is the direct-evaluation mode.
// The table's dataflow tags are applied to the model.
func (o *Optimizer) Evaluate(t *schedule.Table) *Candidate {
	m := o.model.Clone()
	for i := 0; i < t.Len(); i++ {
		if t.Kind(i) == arch.Temporal {
			m.SetDataflow(i, t.Dataflow(i))
		}
	}

	tc := t.Clone()

	return &Candidate{
		Model:  m,
		Table:  tc,
		Report: o.evaluator.Evaluate(m, tc),
	}
}

// assignments returns every legal combination of dataflows. Levels that do
// not explore keep their configured dataflow; exploring levels try each
// stationary operand they do not bypass.
func (o *Optimizer) assignments() [][]arch.Dataflow {
	base := make([]arch.Dataflow, o.model.Len())
	var exploring []int
	for i := 0; i < o.model.Len(); i++ {
		if o.model.Kind(i) != arch.Temporal {
			continue
		}

		base[i] = o.model.Dataflow(i)
		if o.model.Level(i).Buffer.ExploreDataflow {
			exploring = append(exploring, i)
		}
	}

	out := [][]arch.Dataflow{base}
	for _, i := range exploring {
		var options []arch.Dataflow
		for _, df := range arch.Dataflows {
			st, _ := df.Stationary()
			if !o.model.Bypass(i, st) {
				options = append(options, df)
			}
		}

		var next [][]arch.Dataflow
		for _, a := range out {
			for _, df := range options {
				c := make([]arch.Dataflow, len(a))
				copy(c, a)
				c[i] = df
				next = append(next, c)
			}
		}
		out = next
	}

	return out
}

// prepare returns a model and a baseline table with the dataflows applied.
func (o *Optimizer) prepare(
	l layer.Layer,
	dataflows []arch.Dataflow,
) (*arch.Model, *schedule.Table) {
	m := o.model.Clone()
	for i, df := range dataflows {
		if m.Kind(i) == arch.Temporal {
			m.SetDataflow(i, df)
		}
	}

	t := schedule.New(m)
	t.LoadLayer(l)

	return m, t
}

func (o *Optimizer) trace(msg string, args ...any) {
	o.logger.Log(context.Background(), LevelTrace, msg, args...)
}

func dataflowNames(t *schedule.Table) []string {
	var names []string
	for i := 0; i < t.Len(); i++ {
		if t.Kind(i) == arch.Temporal {
			names = append(names, t.Name(i)+"="+t.Dataflow(i).Name())
		}
	}

	return names
}

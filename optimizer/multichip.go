package optimizer

import (
	"math"
	"slices"

	"github.com/pkg/errors"
	"github.com/sarchlab/dnnmap/analyzer"
	"github.com/sarchlab/dnnmap/arch"
	"github.com/sarchlab/dnnmap/layer"
)

// ChipOption is the best schedule of one layer when it may use a given number
// of chips.
type ChipOption struct {
	Chips     int // chips the schedule actually occupies
	Candidate *Candidate

	// InputTile is the number of input words the on-chip level next to DRAM
	// holds, and InputFills how many times the tile is fetched from DRAM.
	InputTile  uint64
	InputFills uint64
}

// ChipAssignment binds a layer to the option it runs with.
type ChipAssignment struct {
	Layer  layer.Layer
	Option ChipOption
}

// ChipPlan is a partition of the chips among layers that run side by side.
type ChipPlan struct {
	Metric      analyzer.Metric
	Assignments []ChipAssignment
	Chips       int

	// Energy adds up over the layers, minus the credit for DRAM input reads
	// that sibling layers share. Cycle is the slowest layer.
	Energy       float64
	Cycle        float64
	CreditEnergy float64
}

// Cost returns the plan's cost under its metric.
func (p *ChipPlan) Cost() float64 {
	switch p.Metric {
	case analyzer.Energy:
		return p.Energy
	case analyzer.Cycle:
		return p.Cycle
	case analyzer.EDP:
		return p.Energy * p.Cycle
	default:
		panic("invalid metric")
	}
}

// PartitionChips splits the chips of the accelerator among layers that run
// concurrently. Every layer is searched once per chip budget, and every
// combination of options that fits on the accelerator is scored. Layers that
// read the same input at the same tile granularity only pay for the DRAM
// reads once.
func (o *Optimizer) PartitionChips(layers []layer.Layer) (*ChipPlan, error) {
	total := o.model.TotalChips()
	if len(layers) == 0 {
		return nil, errors.New("no layer to place")
	}

	if len(layers) > total {
		return nil, errors.Errorf("%d layers do not fit on %d chips",
			len(layers), total)
	}

	options := make([][]ChipOption, len(layers))
	for i, l := range layers {
		opts, err := o.chipOptions(l, total-len(layers)+1)
		if err != nil {
			return nil, err
		}

		options[i] = opts
	}

	plan := o.combine(layers, options, total)
	if plan == nil {
		return nil, errors.Wrap(ErrNoValidSchedule, "no chip partition fits")
	}

	o.logger.Info("chip partition found",
		"layers", len(layers),
		"chips", plan.Chips,
		"metric", o.metric.Name(),
		"cost", plan.Cost())

	return plan, nil
}

// chipOptions searches the layer under every budget from 1 to limit chips.
// Budgets that end up on the same number of chips keep the cheaper schedule.
func (o *Optimizer) chipOptions(l layer.Layer, limit int) ([]ChipOption, error) {
	byChips := make(map[int]ChipOption)

	for budget := 1; budget <= limit; budget++ {
		m := o.model.Clone()
		m.LimitChips(budget)

		sub := *o
		sub.model = m

		res, err := sub.BottomUp(l)
		if errors.Is(err, ErrNoValidSchedule) {
			o.logger.Debug("no schedule under chip budget",
				"layer", l.Name,
				"budget", budget)
			continue
		}

		if err != nil {
			return nil, err
		}

		opt := describeOption(res.Best)
		prev, ok := byChips[opt.Chips]
		if !ok || o.better(opt.Candidate, prev.Candidate) {
			byChips[opt.Chips] = opt
		}
	}

	if len(byChips) == 0 {
		return nil, errors.Wrapf(ErrNoValidSchedule, "layer %s", l.Name)
	}

	out := make([]ChipOption, 0, len(byChips))
	for _, opt := range byChips {
		out = append(out, opt)
	}

	slices.SortFunc(out, func(a, b ChipOption) int {
		return a.Chips - b.Chips
	})

	return out, nil
}

func describeOption(c *Candidate) ChipOption {
	opt := ChipOption{Chips: 1, Candidate: c}

	m := c.Model
	for i := 0; i < m.Len(); i++ {
		if m.Kind(i) != arch.Spatial {
			continue
		}

		if lvl := m.Level(i); lvl.Array.Tier == arch.TierChip {
			opt.Chips *= lvl.Array.ActiveCount()
		}
	}

	for i := c.Table.NearestTemporalAbove(m.DRAM()); i >= 0; i = c.Table.NearestTemporalAbove(i) {
		if m.Bypass(i, arch.Input) {
			continue
		}

		opt.InputTile = m.AllocatedSize(i, arch.Input, arch.TowardCompute)
		opt.InputFills = m.AccessCount(i, arch.Input, arch.Write, arch.TowardCompute)

		break
	}

	return opt
}

// combine walks every assignment of options to layers whose chips fit in the
// budget and returns the cheapest plan. Ties go to the assignment that uses
// fewer chips on the earlier layers.
func (o *Optimizer) combine(
	layers []layer.Layer,
	options [][]ChipOption,
	total int,
) *ChipPlan {
	var (
		best   *ChipPlan
		chosen = make([]ChipOption, len(layers))
		walk   func(i, used int)
	)

	walk = func(i, used int) {
		if i == len(layers) {
			plan := o.score(layers, chosen)
			if best == nil || plan.Cost() < best.Cost() {
				best = plan
			}

			return
		}

		// Each remaining layer needs at least one chip.
		left := total - used - (len(layers) - i - 1)
		for _, opt := range options[i] {
			if opt.Chips > left {
				break
			}

			chosen[i] = opt
			walk(i+1, used+opt.Chips)
		}
	}

	walk(0, 0)

	return best
}

func (o *Optimizer) score(layers []layer.Layer, chosen []ChipOption) *ChipPlan {
	plan := &ChipPlan{
		Metric:      o.metric,
		Assignments: make([]ChipAssignment, len(layers)),
	}

	for i, opt := range chosen {
		plan.Assignments[i] = ChipAssignment{Layer: layers[i], Option: opt}
		plan.Chips += opt.Chips

		rep := opt.Candidate.Report
		plan.Energy += rep.TotalEnergy
		plan.Cycle = math.Max(plan.Cycle, rep.TotalCycle)
	}

	plan.CreditEnergy = o.sharedInputCredit(plan.Assignments)
	plan.Energy -= plan.CreditEnergy

	return plan
}

type inputKey struct {
	shape layer.Shape
	tile  uint64
	fills uint64
}

// sharedInputCredit returns the DRAM read energy saved when several layers
// consume the same input feature map in identical tiles: only the first of
// them fetches it.
func (o *Optimizer) sharedInputCredit(as []ChipAssignment) float64 {
	lvl := o.model.Level(o.model.DRAM())
	unit := lvl.Buffer.UnitEnergy[arch.Input]

	seen := make(map[inputKey]bool)
	credit := 0.0
	for _, a := range as {
		if a.Option.InputTile == 0 {
			continue
		}

		k := inputKey{
			shape: a.Layer.InputShape(a.Layer.Extents()),
			tile:  a.Option.InputTile,
			fills: a.Option.InputFills,
		}

		if seen[k] {
			credit += float64(k.tile) * float64(k.fills) * unit
			continue
		}

		seen[k] = true
	}

	return credit
}

package optimizer

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sarchlab/dnnmap/analyzer"
	"github.com/sarchlab/dnnmap/layer"
)

// Mode selects the search strategy.
type Mode int

const (
	BottomUpMode Mode = iota
	BruteForceMode
)

// Name returns the name of the mode.
func (m Mode) Name() string {
	switch m {
	case BottomUpMode:
		return "bottomup"
	case BruteForceMode:
		return "bruteforce"
	default:
		panic(fmt.Sprintf("invalid mode %d", m))
	}
}

func (m Mode) String() string {
	return m.Name()
}

// ParseMode converts a name to a mode.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "bottomup":
		return BottomUpMode, nil
	case "bruteforce":
		return BruteForceMode, nil
	default:
		return 0, errors.Errorf("unknown search mode %q", name)
	}
}

// Search runs the search selected by mode on one layer.
func (o *Optimizer) Search(l layer.Layer, mode Mode) (*Result, error) {
	switch mode {
	case BottomUpMode:
		return o.BottomUp(l)
	case BruteForceMode:
		return o.BruteForce(l)
	default:
		panic(fmt.Sprintf("invalid mode %d", mode))
	}
}

// NetworkResult holds the winners of every layer of a network, in order.
type NetworkResult struct {
	Network *layer.Network
	Metric  analyzer.Metric
	Layers  []*Result

	Energy float64
	Cycle  float64
}

// SearchNetwork searches the layers of a network one after the other. Each
// winner after the first is evaluated again with its predecessor's winner as
// the source of cross-layer reuse, so the reported totals include the DRAM
// reads the previous output tile saves. The credit needs an analyzer; with
// any other Evaluator the winners are reported as that evaluator scored them.
func (o *Optimizer) SearchNetwork(n *layer.Network, mode Mode) (*NetworkResult, error) {
	out := &NetworkResult{Network: n, Metric: o.metric}

	var prev *Result
	for _, l := range n.Layers() {
		res, err := o.Search(l, mode)
		if err != nil {
			return out, errors.Wrapf(err, "network %s", n.Name())
		}

		if prev != nil {
			o.applyReuse(prev, res)
		}

		out.Layers = append(out.Layers, res)
		out.Energy += res.Best.Report.TotalEnergy
		out.Cycle += res.Best.Report.TotalCycle

		prev = res
	}

	o.logger.Info("network search finished",
		"network", n.Name(),
		"layers", n.Len(),
		"energy", out.Energy,
		"cycle", out.Cycle)

	return out, nil
}

func (o *Optimizer) applyReuse(prev, cur *Result) {
	base, ok := o.evaluator.(*analyzer.Analyzer)
	if !ok {
		return
	}

	a := base.WithPrevious(prev.Layer, prev.Best.Table)

	m := cur.Best.Model.Clone()
	t := cur.Best.Table.Clone()
	rep := a.Evaluate(m, t)
	if !rep.Valid {
		return
	}

	if rep.ReuseCredit.Volume > 0 {
		o.logger.Debug("cross-layer reuse credited",
			"layer", cur.Layer.Name,
			"previous", prev.Layer.Name,
			"volume", rep.ReuseCredit.Volume,
			"energy", rep.ReuseCredit.Energy)
	}

	cur.Best = &Candidate{Model: m, Table: t, Report: rep}
}

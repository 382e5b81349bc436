package analyzer

import (
	"math"

	"github.com/sarchlab/dnnmap/arch"
	"github.com/sarchlab/dnnmap/schedule"
)

// creditReuse removes the cost of DRAM input reads that the previous layer's
// output tile already provides. The overlap is the 4-D intersection of the
// previous output tile and the current input tile held by the on-chip level
// that exchanges inputs with DRAM.
func (a *Analyzer) creditReuse(m *arch.Model, t *schedule.Table, r *Report) {
	dram := t.DRAM()
	cur := child(m, t, dram, arch.Input)
	prev := a.prev.table.NearestTemporalAbove(a.prev.table.DRAM())
	if cur < 0 || prev < 0 {
		return
	}

	in := t.Layer().InputShape(cumulative(t)[cur])
	out := a.prev.layer.OutputShape(cumulative(a.prev.table)[prev])

	volume := in.Intersect(out).Volume()
	if volume == 0 {
		return
	}

	lvl := m.Level(dram)
	buf := &lvl.Buffer

	r.ReuseCredit = Credit{
		Volume: volume,
		Energy: float64(volume) * buf.UnitEnergy[arch.Input],
		Cycle:  math.Ceil(float64(volume)/buf.Bandwidth) * buf.UnitCycle[arch.Input],
	}

	r.DynamicEnergy -= r.ReuseCredit.Energy
	r.TotalEnergy -= r.ReuseCredit.Energy
	r.TotalCycle = math.Max(r.MACCycle, r.TotalCycle-r.ReuseCredit.Cycle)
}

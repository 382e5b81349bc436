package analyzer

import (
	"fmt"
	"math"

	"github.com/sarchlab/dnnmap/arch"
	"github.com/sarchlab/dnnmap/schedule"
)

// Estimate fills the cost fields of the report from the propagated state.
//
// Buffer energy is charged per word moved and multiplied by the active
// replicas of the level. MAC energy does not depend on the parallelism while
// MAC cycles do. Buffers with one port per data type overlap their transfers;
// unified buffers serialize them. The layer takes as long as its slowest
// level.
func (a *Analyzer) Estimate(m *arch.Model, t *schedule.Table, r *Report) {
	for i := 0; i < t.Len(); i++ {
		if t.Kind(i) != arch.Temporal {
			continue
		}

		r.Levels[i].Energy, r.Levels[i].Cycle = bufferCost(m, i)
		r.Accesses[i] = readVolume(m, i)
	}

	r.MACs = t.Layer().MACs()
	r.ActiveMACs = activeMACs(m)
	if r.ActiveMACs == 0 {
		panic(fmt.Sprintf("no active MAC in schedule %s", t))
	}

	mac := m.MAC()
	r.MACEnergy = float64(r.MACs) * mac.UnitEnergy
	r.MACCycle = float64(r.MACs) * mac.UnitCycle / float64(r.ActiveMACs)

	r.DynamicEnergy = r.MACEnergy
	r.TotalCycle = r.MACCycle
	for _, lc := range r.Levels {
		r.DynamicEnergy += lc.Energy
		r.TotalCycle = math.Max(r.TotalCycle, lc.Cycle)
	}

	period := m.ClockTime() * r.TotalCycle
	r.StaticEnergy = mac.UnitStaticPower * float64(m.TotalMACs()) * period
	for i := 0; i < t.Len(); i++ {
		if t.Kind(i) != arch.Temporal {
			continue
		}

		lvl := m.Level(i)
		power := 0.0
		for _, dt := range arch.DataTypes {
			power += lvl.Buffer.UnitStaticPower[dt]
		}

		r.Levels[i].StaticEnergy = power * float64(m.Replicas(i, false)) * period
		r.StaticEnergy += r.Levels[i].StaticEnergy
	}

	r.TotalEnergy = r.DynamicEnergy + r.StaticEnergy
}

func bufferCost(m *arch.Model, i int) (energy, cycle float64) {
	lvl := m.Level(i)
	buf := &lvl.Buffer

	var perType [arch.NumDataTypes]float64
	for _, dt := range arch.DataTypes {
		for _, dir := range []arch.Direction{arch.TowardDRAM, arch.TowardCompute} {
			size := buf.AllocatedSize[dir][dt]
			if size == 0 {
				continue
			}

			transfer := math.Ceil(float64(size) / buf.Bandwidth)
			for _, op := range []arch.Operation{arch.Read, arch.Write} {
				count := float64(buf.AccessCount[dir][op][dt])
				energy += float64(size) * count * buf.UnitEnergy[dt]
				perType[dt] += transfer * count * buf.UnitCycle[dt]
			}
		}
	}

	for _, c := range perType {
		if buf.Separated {
			cycle = math.Max(cycle, c)
		} else {
			cycle += c
		}
	}

	energy *= float64(m.Replicas(i, true))

	return energy, cycle
}

func readVolume(m *arch.Model, i int) [arch.NumDataTypes]uint64 {
	var out [arch.NumDataTypes]uint64
	for _, dt := range arch.DataTypes {
		out[dt] = m.AllocatedSize(i, dt, arch.TowardCompute) *
			m.AccessCount(i, dt, arch.Read, arch.TowardCompute)
	}

	return out
}

func activeMACs(m *arch.Model) int {
	n := 1
	for i := 0; i < m.Len(); i++ {
		if m.Kind(i) == arch.Spatial {
			a := m.Active(i)
			n *= a[0] * a[1]
		}
	}

	return n
}

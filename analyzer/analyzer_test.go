package analyzer_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/dnnmap/analyzer"
	"github.com/sarchlab/dnnmap/arch"
	"github.com/sarchlab/dnnmap/layer"
	"github.com/sarchlab/dnnmap/loop"
	"github.com/sarchlab/dnnmap/schedule"
)

func buffer(name string, bytes uint64, bw float64) arch.TemporalSpec {
	return arch.TemporalSpec{
		Name:       name,
		Capacity:   [arch.NumDataTypes]uint64{bytes},
		Bandwidth:  bw,
		Precision:  16,
		UnitEnergy: [arch.NumDataTypes]float64{1, 1, 1},
		UnitCycle:  [arch.NumDataTypes]float64{1, 1, 1},
	}
}

func dram() arch.TemporalSpec {
	return buffer("DRAM", 0, 4)
}

func newBuilder() arch.Builder {
	return arch.NewBuilder().
		WithFreq(1 * sim.GHz).
		WithMAC(arch.MACSpec{UnitEnergy: 0.5, UnitCycle: 1})
}

func build(b arch.Builder) *arch.Model {
	m, err := b.Build()
	Expect(err).NotTo(HaveOccurred())

	return m
}

func table(m *arch.Model, l layer.Layer, rows ...loop.Degrees) *schedule.Table {
	t := schedule.New(m)
	t.LoadLayer(l)
	if len(rows) > 0 {
		t.UpdateRows(0, t.DRAM(), rows)
	}

	return t
}

func degrees(kv map[loop.Param]int) loop.Degrees {
	d := loop.Ones()
	for p, v := range kv {
		d[p] = v
	}

	return d
}

func issueTypes(r *analyzer.Report) []analyzer.IssueType {
	var out []analyzer.IssueType
	for _, i := range r.Issues {
		out = append(out, i.Type)
	}

	return out
}

var _ = Describe("Analyzer", func() {
	var a *analyzer.Analyzer

	BeforeEach(func() {
		a = analyzer.New()
	})

	Context("with DRAM only", func() {
		var (
			m *arch.Model
			l layer.Layer
		)

		BeforeEach(func() {
			m = build(newBuilder().AddTemporal(dram()))
			l = layer.Layer{
				Name: "pw",
				K:    2, B: 1, P: 2, Q: 2, C: 3, R: 1, S: 1, G: 1,
				Stride: 1,
			}
		})

		It("should read every operand once per MAC", func() {
			r := a.Evaluate(m, table(m, l))

			Expect(r.Valid).To(BeTrue())
			for _, dt := range arch.DataTypes {
				Expect(r.Accesses[0][dt]).To(Equal(l.MACs()))
			}
		})

		It("should add up energy and cycles", func() {
			r := a.Evaluate(m, table(m, l))

			// Inputs 12x2, weights 6x4, outputs 8x3 read and 8x3 written.
			Expect(r.Levels[0].Energy).To(Equal(96.0))
			Expect(r.MACEnergy).To(Equal(12.0))
			Expect(r.TotalEnergy).To(Equal(108.0))

			// A unified buffer serializes 3x2 + 2x4 + 2x3 + 2x3 transfers.
			Expect(r.Levels[0].Cycle).To(Equal(26.0))
			Expect(r.MACCycle).To(Equal(24.0))
			Expect(r.TotalCycle).To(Equal(26.0))
			Expect(r.Cost(analyzer.EDP)).To(Equal(108.0 * 26))
		})

		It("should take the slowest type of a separated buffer", func() {
			d := dram()
			d.Separated = true
			m = build(newBuilder().AddTemporal(d))

			r := a.Evaluate(m, table(m, l))

			Expect(r.Levels[0].Cycle).To(Equal(12.0))
			Expect(r.TotalCycle).To(Equal(24.0))
		})
	})

	Context("with a register under DRAM", func() {
		var (
			spec arch.TemporalSpec
			l    layer.Layer
		)

		BeforeEach(func() {
			spec = buffer("Register", 64, 1)
			l = layer.Layer{
				Name: "pw",
				K:    4, B: 2, P: 3, Q: 3, C: 1, R: 1, S: 1, G: 1,
				Stride: 1,
			}
		})

		evaluate := func(df arch.Dataflow) (*arch.Model, *analyzer.Report) {
			d := dram()
			d.Dataflow = df
			m := build(newBuilder().AddTemporal(spec).AddTemporal(d))

			return m, a.Evaluate(m, table(m, l))
		}

		It("should refetch the weight on every DRAM iteration", func() {
			m, r := evaluate(arch.NoDataflow)

			Expect(r.Valid).To(BeTrue())
			Expect(m.AccessCount(0, arch.Weight, arch.Write, arch.TowardCompute)).
				To(Equal(uint64(72)))
		})

		It("should keep the weight while DRAM is weight stationary", func() {
			m, r := evaluate(arch.WeightStationary)

			Expect(r.Valid).To(BeTrue())
			Expect(m.AccessCount(0, arch.Weight, arch.Write, arch.TowardCompute)).
				To(Equal(uint64(4)))
			Expect(m.AccessCount(0, arch.Weight, arch.Read, arch.TowardCompute)).
				To(Equal(uint64(4)))
		})

		It("should reject tiles that do not fit", func() {
			spec.Capacity[0] = 8
			m := build(newBuilder().AddTemporal(spec).AddTemporal(dram()))

			t := table(m, l,
				degrees(map[loop.Param]int{loop.K: 4}),
				degrees(map[loop.Param]int{loop.B: 2, loop.P: 3, loop.Q: 3}))
			r := a.Evaluate(m, t)

			Expect(r.Valid).To(BeFalse())
			Expect(issueTypes(r)).To(ConsistOf(analyzer.IssueCapacity))
			Expect(r.Issues[0].Name).To(Equal("Register"))
			Expect(r.Cost(analyzer.Energy)).To(Equal(math.Inf(1)))
			Expect(r.Cost(analyzer.Cycle)).To(Equal(math.Inf(1)))
			Expect(r.SpanCost(analyzer.Energy, []int{0})).To(Equal(math.Inf(1)))
		})

		It("should check each operand of a separated buffer on its own", func() {
			spec.Separated = true
			spec.Capacity = [arch.NumDataTypes]uint64{2, 16, 2}
			m := build(newBuilder().AddTemporal(spec).AddTemporal(dram()))

			t := table(m, l,
				degrees(map[loop.Param]int{loop.K: 4}),
				degrees(map[loop.Param]int{loop.B: 2, loop.P: 3, loop.Q: 3}))
			r := a.Evaluate(m, t)

			// Four outputs do not fit in one word.
			Expect(issueTypes(r)).To(ConsistOf(analyzer.IssueCapacity))
			Expect(r.Issues[0].Message).To(ContainSubstring("OUTPUT"))
		})

		It("should enforce pinned degrees", func() {
			spec.Pinned[loop.K] = 2
			m := build(newBuilder().AddTemporal(spec).AddTemporal(dram()))

			r := a.Evaluate(m, table(m, l))

			Expect(issueTypes(r)).To(ConsistOf(analyzer.IssueMapping))

			t := table(m, l,
				degrees(map[loop.Param]int{loop.K: 2}),
				degrees(map[loop.Param]int{loop.K: 2, loop.B: 2, loop.P: 3, loop.Q: 3}))
			Expect(a.Evaluate(m, t).Valid).To(BeTrue())
		})

		It("should reject a table that does not cover the layer", func() {
			m := build(newBuilder().AddTemporal(spec).AddTemporal(dram()))

			t := table(m, l,
				degrees(map[loop.Param]int{loop.K: 2}),
				degrees(map[loop.Param]int{loop.B: 2, loop.P: 3, loop.Q: 3}))
			r := a.Evaluate(m, t)

			Expect(issueTypes(r)).To(ContainElement(analyzer.IssueMapping))
			Expect(r.Issues[0].String()).To(HavePrefix("[MAPPING]"))
		})

		It("should panic when the table does not match the model", func() {
			m := build(newBuilder().AddTemporal(dram()))
			other := build(newBuilder().AddTemporal(spec).AddTemporal(dram()))

			Expect(func() { a.Evaluate(m, table(other, l)) }).To(Panic())
		})
	})

	Context("with a bypassing register", func() {
		It("should stream the input through from the next level", func() {
			reg := buffer("Register", 64, 1)
			reg.Bypass = []arch.DataType{arch.Input}
			m := build(newBuilder().
				AddTemporal(reg).
				AddTemporal(buffer("GlobalBuffer", 1024, 4)).
				AddTemporal(dram()))

			l := layer.Layer{
				Name: "pw",
				K:    2, B: 1, P: 2, Q: 1, C: 1, R: 1, S: 1, G: 1,
				Stride: 1,
			}
			t := table(m, l,
				degrees(map[loop.Param]int{loop.K: 2}),
				degrees(map[loop.Param]int{loop.P: 2}),
				loop.Ones())

			r := a.Evaluate(m, t)

			Expect(r.Valid).To(BeTrue())
			Expect(m.AllocatedSize(0, arch.Input, arch.TowardCompute)).To(BeZero())
			Expect(m.AccessCount(0, arch.Input, arch.Read, arch.TowardCompute)).To(BeZero())
			Expect(r.Accesses[1][arch.Input]).To(Equal(l.MACs()))
		})
	})

	Context("with a register and a global buffer", func() {
		var (
			m *arch.Model
			l layer.Layer
		)

		BeforeEach(func() {
			m = build(newBuilder().
				AddTemporal(buffer("Register", 64, 1)).
				AddTemporal(buffer("GlobalBuffer", 1024, 4)).
				AddTemporal(dram()))

			l = layer.Layer{
				Name: "fc",
				K:    2, B: 1, P: 2, Q: 1, C: 1, R: 1, S: 1, G: 1,
				Stride: 1,
			}
		})

		It("should send exactly the words the next level receives", func() {
			t := table(m, l,
				loop.Ones(),
				degrees(map[loop.Param]int{loop.P: 2}),
				degrees(map[loop.Param]int{loop.K: 2}))

			r := a.Evaluate(m, t)

			Expect(r.Valid).To(BeTrue())
			for _, dt := range arch.DataTypes {
				for i := 1; i < m.Len(); i++ {
					received := m.AllocatedSize(i-1, dt, arch.TowardCompute) *
						m.AccessCount(i-1, dt, arch.Write, arch.TowardCompute)
					Expect(r.Accesses[i][dt]).To(Equal(received), "%s at %s", dt, m.LevelName(i))
				}
			}

			// The input tile stays in the global buffer across K but the
			// register still takes one word per MAC.
			Expect(m.AccessCount(1, arch.Input, arch.Write, arch.TowardCompute)).
				To(Equal(uint64(1)))
			Expect(r.Accesses[1][arch.Input]).To(Equal(uint64(4)))
			Expect(r.Accesses[0][arch.Input]).To(Equal(l.MACs()))
		})

		It("should read a resident tile once for its consumer", func() {
			t := table(m, l,
				degrees(map[loop.Param]int{loop.P: 2}),
				degrees(map[loop.Param]int{loop.K: 2}),
				loop.Ones())

			a.Evaluate(m, t)

			Expect(m.AccessCount(0, arch.Input, arch.Write, arch.TowardCompute)).
				To(Equal(uint64(1)))
			Expect(m.AccessCount(1, arch.Input, arch.Read, arch.TowardCompute)).
				To(Equal(uint64(1)))
		})
	})

	Context("with a PE array", func() {
		var (
			m *arch.Model
			l layer.Layer
		)

		BeforeEach(func() {
			m = build(newBuilder().
				AddTemporal(buffer("Register", 64, 1)).
				AddSpatial(arch.SpatialSpec{Name: "PEArray", DimX: 4, DimY: 4, Tier: arch.TierPE}).
				AddTemporal(dram()))

			l = layer.Layer{
				Name: "fc",
				K:    4, B: 1, P: 1, Q: 1, C: 1, R: 1, S: 1, G: 1,
				Stride: 1,
			}
		})

		It("should charge every active replica", func() {
			t := table(m, l,
				loop.Ones(),
				degrees(map[loop.Param]int{loop.K: 4}),
				loop.Ones())

			r := a.Evaluate(m, t)

			Expect(r.Valid).To(BeTrue())
			Expect(m.Active(1)).To(Equal([2]int{4, 1}))
			Expect(r.ActiveMACs).To(Equal(4))
			Expect(r.Levels[0].Energy).To(Equal(32.0))
			Expect(r.Levels[2].Energy).To(Equal(13.0))
			Expect(r.MACCycle).To(Equal(1.0))
			Expect(r.TotalCycle).To(Equal(8.0))
			Expect(r.TotalEnergy).To(Equal(47.0))
		})

		It("should charge static power of every physical replica", func() {
			reg := buffer("Register", 64, 1)
			reg.UnitStaticPower = [arch.NumDataTypes]float64{0.1, 0, 0}
			m = build(newBuilder().
				WithMAC(arch.MACSpec{UnitEnergy: 0.5, UnitCycle: 1, UnitStaticPower: 0.1}).
				AddTemporal(reg).
				AddSpatial(arch.SpatialSpec{Name: "PEArray", DimX: 4, DimY: 4, Tier: arch.TierPE}).
				AddTemporal(dram()))

			t := table(m, l,
				loop.Ones(),
				degrees(map[loop.Param]int{loop.K: 4}),
				loop.Ones())

			r := a.Evaluate(m, t)

			// 16 MACs and 16 registers at 0.1 mW for 8 ns.
			Expect(r.StaticEnergy).To(BeNumerically("~", 25.6, 1e-9))
			Expect(r.TotalEnergy).To(BeNumerically("~", 47+25.6, 1e-9))
		})

		It("should fold the unrolled loops onto the array", func() {
			l.K = 8
			t := table(m, l,
				loop.Ones(),
				degrees(map[loop.Param]int{loop.K: 8}),
				loop.Ones())

			a.PropagateActive(m, t)

			Expect(m.Active(1)).To(Equal([2]int{4, 2}))
		})

		It("should reject unrolling beyond the array", func() {
			l.K = 32
			t := table(m, l,
				loop.Ones(),
				degrees(map[loop.Param]int{loop.K: 32}),
				loop.Ones())

			r := a.Evaluate(m, t)

			Expect(r.Valid).To(BeFalse())
			Expect(issueTypes(r)).To(ConsistOf(analyzer.IssueSpatial))
		})

		It("should follow placement constraints", func() {
			m = build(newBuilder().
				AddTemporal(buffer("Register", 64, 1)).
				AddSpatial(arch.SpatialSpec{
					Name: "PEArray", DimX: 4, DimY: 4,
					MapX: []loop.Param{loop.K},
					MapY: []loop.Param{loop.C},
				}).
				AddTemporal(dram()))

			l.C, l.P = 2, 2
			t := table(m, l,
				loop.Ones(),
				degrees(map[loop.Param]int{loop.K: 2, loop.C: 2, loop.P: 2}),
				degrees(map[loop.Param]int{loop.K: 2}))

			r := a.Evaluate(m, t)

			Expect(m.Active(1)).To(Equal([2]int{2, 2}))
			Expect(issueTypes(r)).To(ConsistOf(analyzer.IssueSpatial))
			Expect(r.Issues[0].Message).To(ContainSubstring("P"))
		})

		It("should overwrite the state of an earlier evaluation", func() {
			big := table(m, l,
				loop.Ones(),
				degrees(map[loop.Param]int{loop.K: 4}),
				loop.Ones())
			small := table(m, l)

			first := a.Evaluate(m, small)
			a.Evaluate(m, big)
			again := a.Evaluate(m, small)

			Expect(again).To(Equal(first))
			Expect(m.Active(1)).To(Equal([2]int{1, 1}))
		})
	})

	Context("with a chip budget", func() {
		It("should reject schedules that use too many chips", func() {
			m := build(newBuilder().
				AddTemporal(buffer("GlobalBuffer", 1024, 4)).
				AddSpatial(arch.SpatialSpec{Name: "Chips", DimX: 2, DimY: 1, Tier: arch.TierChip}).
				AddTemporal(dram()))
			l := layer.Layer{
				Name: "fc",
				K:    2, B: 1, P: 1, Q: 1, C: 1, R: 1, S: 1, G: 1,
				Stride: 1,
			}
			t := table(m, l,
				loop.Ones(),
				degrees(map[loop.Param]int{loop.K: 2}),
				loop.Ones())

			Expect(a.Evaluate(m, t).Valid).To(BeTrue())

			m.LimitChips(1)
			r := a.Evaluate(m, t)

			Expect(r.Valid).To(BeFalse())
			Expect(r.Issues[0].Level).To(Equal(-1))
			Expect(r.Issues[0].String()).To(Equal("[SPATIAL] 2 chips used, 1 available"))
		})
	})

	Context("with a previous layer", func() {
		It("should credit the overlap of the previous output", func() {
			m := build(newBuilder().
				AddTemporal(buffer("GlobalBuffer", 1024, 4)).
				AddTemporal(dram()))
			l := layer.Layer{
				Name: "pw",
				K:    4, B: 1, P: 4, Q: 4, C: 4, R: 1, S: 1, G: 1,
				Stride: 1,
			}

			prev := layer.Layer{
				Name: "prev",
				K:    4, B: 1, P: 4, Q: 4, C: 4, R: 1, S: 1, G: 1,
				Stride: 1,
			}
			pt := table(m, prev,
				degrees(map[loop.Param]int{loop.P: 2, loop.Q: 2}),
				degrees(map[loop.Param]int{loop.K: 4, loop.P: 2, loop.Q: 2, loop.C: 4}))

			t := table(m, l,
				degrees(map[loop.Param]int{loop.P: 4, loop.Q: 4, loop.C: 4}),
				degrees(map[loop.Param]int{loop.K: 4}))

			plain := a.Evaluate(m.Clone(), t)
			credited := analyzer.New().WithPrevious(prev, pt).Evaluate(m.Clone(), t)

			// Output tile 1x2x2x1 against input tile 1x4x4x4.
			Expect(credited.ReuseCredit.Volume).To(Equal(uint64(4)))
			Expect(credited.ReuseCredit.Energy).To(Equal(4.0))
			Expect(credited.ReuseCredit.Cycle).To(Equal(1.0))
			Expect(credited.TotalEnergy).To(Equal(plain.TotalEnergy - 4))
			Expect(plain.ReuseCredit.Volume).To(BeZero())
		})
	})
})

var _ = Describe("Metric", func() {
	DescribeTable("should parse names",
		func(name string, m analyzer.Metric) {
			got, err := analyzer.ParseMetric(name)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(m))
		},
		Entry("energy", "energy", analyzer.Energy),
		Entry("cycle", "Cycle", analyzer.Cycle),
		Entry("latency", "latency", analyzer.Cycle),
		Entry("edp", "EDP", analyzer.EDP),
	)

	It("should reject unknown names", func() {
		_, err := analyzer.ParseMetric("area")
		Expect(err).To(HaveOccurred())
	})

	It("should combine span costs", func() {
		r := analyzer.NewReport(3)
		r.Levels[0] = analyzer.LevelCost{Energy: 2, Cycle: 5}
		r.Levels[1] = analyzer.LevelCost{Energy: 3, Cycle: 7}
		r.Levels[2] = analyzer.LevelCost{Energy: 100, Cycle: 100}

		span := []int{0, 1}
		Expect(r.SpanCost(analyzer.Energy, span)).To(Equal(5.0))
		Expect(r.SpanCost(analyzer.Cycle, span)).To(Equal(7.0))
		Expect(r.SpanCost(analyzer.EDP, span)).To(Equal(35.0))
	})
})

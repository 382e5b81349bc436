package schedule

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/dnnmap/arch"
	"github.com/sarchlab/dnnmap/layer"
	"github.com/sarchlab/dnnmap/loop"
)

func level(name string, bytes uint64, df arch.Dataflow) arch.TemporalSpec {
	return arch.TemporalSpec{
		Name:      name,
		Capacity:  [arch.NumDataTypes]uint64{bytes},
		Dataflow:  df,
		Bandwidth: 1,
		Precision: 16,
	}
}

var _ = Describe("Table", func() {
	var (
		m *arch.Model
		l layer.Layer
		t *Table
	)

	BeforeEach(func() {
		var err error
		m, err = arch.NewBuilder().
			AddTemporal(level("Register", 64, arch.WeightStationary)).
			AddSpatial(arch.SpatialSpec{Name: "PEArray", DimX: 4, DimY: 4}).
			AddVirtual("Bus").
			AddTemporal(level("GlobalBuffer", 4096, arch.NoDataflow)).
			AddTemporal(level("DRAM", 0, arch.NoDataflow)).
			Build()
		Expect(err).NotTo(HaveOccurred())

		l = layer.Layer{
			Name: "conv",
			K:    8, B: 1, P: 4, Q: 4, C: 4, R: 3, S: 3, G: 1,
			Stride: 1,
		}

		t = New(m)
		t.LoadLayer(l)
	})

	It("should tag the rows from the model", func() {
		Expect(t.Len()).To(Equal(5))
		Expect(t.DRAM()).To(Equal(4))
		Expect(t.Row(0)).To(Equal(Row{
			Name: "Register", Kind: arch.Temporal, Dataflow: arch.WeightStationary,
		}))
		Expect(t.Kind(2)).To(Equal(arch.Virtual))
		Expect(t.Name(3)).To(Equal("GlobalBuffer"))
	})

	It("should put the whole layer in DRAM", func() {
		Expect(t.Degrees(4)).To(Equal(l.Extents()))
		for i := 0; i < 4; i++ {
			Expect(t.Degrees(i)).To(Equal(loop.Ones()))
		}
		Expect(t.ColumnsIntact()).To(BeTrue())
		Expect(t.Layer()).To(Equal(l))
	})

	It("should keep column products when rows are split", func() {
		t.UpdateRows(0, 4, []loop.Degrees{
			{1, 1, 1, 1, 1, 3, 3, 1},
			{2, 1, 2, 2, 1, 1, 1, 1},
			{2, 1, 2, 1, 2, 1, 1, 1},
			{2, 1, 1, 2, 2, 1, 1, 1},
		})

		Expect(t.ColumnsIntact()).To(BeTrue())
		Expect(t.Degrees(2)).To(Equal(loop.Ones()))
		Expect(t.ColumnProduct(loop.K, 0, 4)).To(Equal(8))
		Expect(t.ColumnProduct(loop.K, 0, 1)).To(Equal(2))
		Expect(t.Degree(3, loop.C)).To(Equal(2))
	})

	It("should detect broken columns", func() {
		d := t.Degrees(4)
		d[loop.K] = 4
		t.UpdateRow(4, d)

		Expect(t.ColumnsIntact()).To(BeFalse())
	})

	It("should leave virtual rows alone", func() {
		d := loop.Ones()
		d[loop.K] = 2
		t.UpdateRow(2, d)

		Expect(t.Degrees(2)).To(Equal(loop.Ones()))
	})

	It("should panic on a length mismatch", func() {
		Expect(func() {
			t.UpdateRows(0, 4, []loop.Degrees{loop.Ones()})
		}).To(Panic())
	})

	It("should panic on a non-positive degree", func() {
		d := loop.Ones()
		d[loop.B] = 0

		Expect(func() { t.UpdateRow(0, d) }).To(Panic())
	})

	It("should panic out of range", func() {
		Expect(func() { t.Degrees(5) }).To(Panic())
		Expect(func() { t.Degrees(-1) }).To(Panic())
	})

	It("should find the nearest temporal rows", func() {
		Expect(t.NearestTemporalAbove(4)).To(Equal(3))
		Expect(t.NearestTemporalAbove(3)).To(Equal(0))
		Expect(t.NearestTemporalAbove(0)).To(Equal(-1))
		Expect(t.NearestTemporalBelow(0)).To(Equal(3))
		Expect(t.NearestTemporalBelow(4)).To(Equal(-1))
	})

	It("should list the non-virtual rows", func() {
		Expect(t.NonVirtual(0, 4)).To(Equal([]int{0, 1, 3, 4}))
		Expect(t.NonVirtual(2, 2)).To(BeEmpty())
	})

	It("should multiply correlations over temporal rows", func() {
		t.UpdateRows(0, 4, []loop.Degrees{
			{1, 1, 1, 1, 1, 3, 3, 1},
			{8, 1, 1, 1, 1, 1, 1, 1},
			{1, 1, 2, 2, 1, 1, 1, 1},
			{1, 1, 2, 2, 4, 1, 1, 1},
		})

		Expect(t.CorrelationProduct(3, loop.OI)).To(Equal(16))
		Expect(t.CorrelationProduct(4, loop.OI)).To(Equal(4))
		// Spatial rows do not count.
		Expect(t.CorrelationProduct(0, loop.WO)).To(Equal(1))
		Expect(t.CorrelationProduct(0, loop.IW)).To(Equal(36))
	})

	It("should retag temporal rows only", func() {
		t.SetDataflow(3, arch.OutputStationary)
		Expect(t.Dataflow(3)).To(Equal(arch.OutputStationary))

		Expect(func() { t.SetDataflow(1, arch.InputStationary) }).To(Panic())
	})

	It("should clone without aliasing", func() {
		c := t.Clone()
		Expect(c.Equal(t)).To(BeTrue())
		Expect(c.Compare(t)).To(Equal(0))

		d := loop.Ones()
		d[loop.R] = 3
		c.UpdateRow(0, d)

		Expect(c.Equal(t)).To(BeFalse())
		Expect(t.Degrees(0)).To(Equal(loop.Ones()))
	})

	It("should order tables by dataflow and then by cells", func() {
		a := t.Clone()
		b := t.Clone()

		d := loop.Ones()
		d[loop.K] = 2
		b.UpdateRow(0, d)
		Expect(a.Compare(b)).To(Equal(-1))
		Expect(b.Compare(a)).To(Equal(1))

		a.SetDataflow(3, arch.OutputStationary)
		Expect(a.Compare(b)).To(Equal(1))
	})

	It("should print non-virtual rows", func() {
		Expect(t.String()).To(Equal(
			"Register[1,1,1,1,1,1,1,1] | PEArray[1,1,1,1,1,1,1,1] | " +
				"GlobalBuffer[1,1,1,1,1,1,1,1] | DRAM[8,1,4,4,4,3,3,1]"))
	})
})

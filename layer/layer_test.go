package layer

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/dnnmap/loop"
)

var _ = Describe("Layer", func() {
	var l Layer

	BeforeEach(func() {
		l = Layer{
			Name: "conv",
			K:    64, B: 1, P: 56, Q: 56, C: 64, R: 3, S: 3, G: 1,
			Stride: 1,
		}
	})

	It("should accept a legal layer", func() {
		Expect(l.Validate()).To(Succeed())
	})

	DescribeTable("should reject illegal parameters",
		func(mutate func(*Layer)) {
			mutate(&l)
			Expect(l.Validate()).NotTo(Succeed())
		},
		Entry("zero K", func(l *Layer) { l.K = 0 }),
		Entry("negative S", func(l *Layer) { l.S = -1 }),
		Entry("zero stride", func(l *Layer) { l.Stride = 0 }),
		Entry("C not divisible by G", func(l *Layer) { l.G = 3 }),
	)

	It("should divide channels by groups", func() {
		l.G = 4
		l.Grouped = true

		d := l.Extents()

		Expect(d[loop.K]).To(Equal(16))
		Expect(d[loop.C]).To(Equal(16))
		Expect(d[loop.G]).To(Equal(4))
	})

	It("should count MACs", func() {
		Expect(l.MACs()).To(Equal(uint64(64 * 56 * 56 * 64 * 9)))

		l.G = 64
		Expect(l.MACs()).To(Equal(uint64(56 * 56 * 64 * 9)))
	})

	It("should compute the input halo", func() {
		l.Stride = 2
		d := loop.Ones()
		d[loop.P], d[loop.Q], d[loop.C] = 4, 2, 8

		Expect(l.InputShape(d)).To(Equal(Shape{B: 1, H: 7, W: 3, C: 8}))
	})

	It("should intersect shapes", func() {
		a := Shape{B: 1, H: 4, W: 8, C: 16}
		b := Shape{B: 2, H: 6, W: 3, C: 16}

		Expect(a.Intersect(b).Volume()).To(Equal(uint64(1 * 4 * 3 * 16)))
	})
})

var _ = Describe("Network", func() {
	var layers []Layer

	BeforeEach(func() {
		layers = []Layer{
			{Name: "a", K: 8, B: 1, P: 4, Q: 4, C: 8, R: 1, S: 1, G: 1, Stride: 1},
			{Name: "b", K: 8, B: 1, P: 4, Q: 4, C: 8, R: 3, S: 3, G: 8, Stride: 1},
		}
	})

	It("should keep the layers in order", func() {
		n, err := NewNetwork("net", layers)

		Expect(err).NotTo(HaveOccurred())
		Expect(n.Name()).To(Equal("net"))
		Expect(n.Len()).To(Equal(2))
		Expect(n.Layer(1).Name).To(Equal("b"))

		l, ok := n.ByName("a")
		Expect(ok).To(BeTrue())
		Expect(l.K).To(Equal(8))

		_, ok = n.ByName("c")
		Expect(ok).To(BeFalse())
	})

	It("should not alias the caller's slice", func() {
		n, err := NewNetwork("net", layers)
		Expect(err).NotTo(HaveOccurred())

		layers[0].K = 1
		n.Layers()[1].K = 1

		Expect(n.Layer(0).K).To(Equal(8))
		Expect(n.Layer(1).K).To(Equal(8))
	})

	It("should reject duplicate names", func() {
		layers[1].Name = "a"

		_, err := NewNetwork("net", layers)

		Expect(err).To(HaveOccurred())
	})

	It("should reject invalid layers", func() {
		layers[1].P = 0

		_, err := NewNetwork("net", layers)

		Expect(err).To(HaveOccurred())
	})
})

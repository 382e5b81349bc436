// Package layer provides the catalogue of DNN layers that are mapped onto an
// accelerator.
package layer

import (
	"fmt"

	"github.com/sarchlab/dnnmap/loop"
)

// Layer is a convolution described by its loop-nest parameters. K and C are
// the total channel counts; Extents divides them by G.
type Layer struct {
	Name    string
	K, B    int
	P, Q    int
	C, R, S int
	G       int
	Stride  int
	Grouped bool
}

// Validate checks that the parameters describe a legal convolution.
func (l Layer) Validate() error {
	vals := [loop.NumParams]int{l.K, l.B, l.P, l.Q, l.C, l.R, l.S, l.G}
	for i, v := range vals {
		if v <= 0 {
			return fmt.Errorf("layer %s: %s must be positive, got %d",
				l.Name, loop.Param(i), v)
		}
	}

	if l.Stride <= 0 {
		return fmt.Errorf("layer %s: stride must be positive, got %d", l.Name, l.Stride)
	}

	if l.C%l.G != 0 || l.K%l.G != 0 {
		return fmt.Errorf("layer %s: C (%d) and K (%d) must be divisible by G (%d)",
			l.Name, l.C, l.K, l.G)
	}

	return nil
}

// Extents returns the loop bounds in table column order, with the channel
// counts given per group.
func (l Layer) Extents() loop.Degrees {
	return loop.Degrees{
		loop.K: l.K / l.G,
		loop.B: l.B,
		loop.P: l.P,
		loop.Q: l.Q,
		loop.C: l.C / l.G,
		loop.R: l.R,
		loop.S: l.S,
		loop.G: l.G,
	}
}

// MACs returns the number of multiply-accumulate operations of the layer.
func (l Layer) MACs() uint64 {
	n := uint64(1)
	for _, e := range l.Extents() {
		n *= uint64(e)
	}

	return n
}

// Shape is a 4-D feature map footprint.
type Shape struct {
	B, H, W, C int
}

// Volume returns the number of elements.
func (s Shape) Volume() uint64 {
	return uint64(s.B) * uint64(s.H) * uint64(s.W) * uint64(s.C)
}

// Intersect returns the element-wise minimum of two shapes.
func (s Shape) Intersect(o Shape) Shape {
	return Shape{
		B: min(s.B, o.B),
		H: min(s.H, o.H),
		W: min(s.W, o.W),
		C: min(s.C, o.C),
	}
}

// InputShape returns the input feature map footprint of a tile with the given
// degrees.
func (l Layer) InputShape(d loop.Degrees) Shape {
	return Shape{
		B: d[loop.B],
		H: (d[loop.P]-1)*l.Stride + d[loop.R],
		W: (d[loop.Q]-1)*l.Stride + d[loop.S],
		C: d[loop.C] * d[loop.G],
	}
}

// OutputShape returns the output feature map footprint of a tile with the
// given degrees.
func (l Layer) OutputShape(d loop.Degrees) Shape {
	return Shape{
		B: d[loop.B],
		H: d[loop.P],
		W: d[loop.Q],
		C: d[loop.K] * d[loop.G],
	}
}

func (l Layer) String() string {
	return fmt.Sprintf("%s(K=%d B=%d P=%d Q=%d C=%d R=%d S=%d G=%d stride=%d)",
		l.Name, l.K, l.B, l.P, l.Q, l.C, l.R, l.S, l.G, l.Stride)
}

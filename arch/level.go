package arch

import "github.com/sarchlab/dnnmap/loop"

// Buffer is the payload of a temporal level. The last two fields are derived
// by the analyzer on every evaluation and are zeroed by Model.Reset.
type Buffer struct {
	// Capacity in bytes. A unified buffer only uses Capacity[0]. A zero
	// capacity means the buffer is unbounded (DRAM).
	Capacity  [NumDataTypes]uint64
	Separated bool

	Dataflow        Dataflow
	DefaultDataflow Dataflow
	ExploreDataflow bool

	Bypass    [NumDataTypes]bool
	Bandwidth float64 // words per cycle
	Precision int     // bits per word

	UnitEnergy      [NumDataTypes]float64 // pJ per word
	UnitCycle       [NumDataTypes]float64
	UnitStaticPower [NumDataTypes]float64 // mW

	// Pinned holds the mapping constraint of the level. A zero entry leaves
	// the degree free.
	Pinned loop.Degrees

	AllocatedSize [2][NumDataTypes]uint64
	AccessCount   [2][2][NumDataTypes]uint64
}

// Words returns the number of words the capacity of the given type holds.
// Unbounded buffers return 0.
func (b Buffer) Words(t DataType) uint64 {
	idx := 0
	if b.Separated {
		idx = int(t)
	}

	return b.Capacity[idx] * 8 / uint64(b.Precision)
}

// Unbounded tells if the buffer has no capacity limit.
func (b Buffer) Unbounded() bool {
	return b.Capacity == [NumDataTypes]uint64{}
}

// Array is the payload of a spatial level.
type Array struct {
	DimX, DimY int
	Tier       Tier
	Radix      int

	// When Constrained is set, only the parameters marked in MapX may be
	// unrolled along X and only the ones in MapY along Y.
	Constrained bool
	MapX, MapY  [loop.NumParams]bool

	Active [2]int
}

// Size returns the number of physical components.
func (a Array) Size() int {
	return a.DimX * a.DimY
}

// ActiveCount returns the number of utilized components.
func (a Array) ActiveCount() int {
	return a.Active[0] * a.Active[1]
}

// A Level is one tier of the compute/memory hierarchy. Only the payload that
// matches Kind is meaningful.
type Level struct {
	Name   string
	Kind   Kind
	Buffer Buffer
	Array  Array
}

// IsTemporal tells if the level is a physical buffer.
func (l *Level) IsTemporal() bool {
	return l.Kind == Temporal
}

// IsSpatial tells if the level is a physical spatial array.
func (l *Level) IsSpatial() bool {
	return l.Kind == Spatial
}

func (l *Level) clearDerived() {
	l.Buffer.AllocatedSize = [2][NumDataTypes]uint64{}
	l.Buffer.AccessCount = [2][2][NumDataTypes]uint64{}
	l.Array.Active = [2]int{}
}

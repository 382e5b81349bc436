package arch

import (
	"github.com/pkg/errors"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/dnnmap/loop"
)

// TemporalSpec describes a buffer level.
type TemporalSpec struct {
	Name            string
	Capacity        [NumDataTypes]uint64
	Separated       bool
	Dataflow        Dataflow
	ExploreDataflow bool
	Bypass          []DataType
	Bandwidth       float64
	Precision       int
	UnitEnergy      [NumDataTypes]float64
	UnitCycle       [NumDataTypes]float64
	UnitStaticPower [NumDataTypes]float64
	Pinned          loop.Degrees
}

// SpatialSpec describes a replicated array level.
type SpatialSpec struct {
	Name       string
	DimX, DimY int
	Tier       Tier
	Radix      int
	MapX, MapY []loop.Param
}

// Builder can build accelerator models.
type Builder struct {
	name   string
	freq   sim.Freq
	mac    MACSpec
	levels []Level
}

// NewBuilder returns a builder with a 1 GHz clock and no levels.
func NewBuilder() Builder {
	return Builder{
		name: "Accelerator",
		freq: 1 * sim.GHz,
	}
}

// WithName sets the name of the accelerator.
func (b Builder) WithName(name string) Builder {
	b.name = name
	return b
}

// WithFreq sets the clock frequency.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithMAC sets the description of the MAC units.
func (b Builder) WithMAC(mac MACSpec) Builder {
	b.mac = mac
	return b
}

// AddTemporal appends a buffer level. A buffer with a total capacity of one
// word slot is added as a virtual level.
func (b Builder) AddTemporal(spec TemporalSpec) Builder {
	l := Level{Name: spec.Name, Kind: Temporal}
	l.Buffer = Buffer{
		Capacity:        spec.Capacity,
		Separated:       spec.Separated,
		Dataflow:        spec.Dataflow,
		DefaultDataflow: spec.Dataflow,
		ExploreDataflow: spec.ExploreDataflow,
		Bandwidth:       spec.Bandwidth,
		Precision:       spec.Precision,
		UnitEnergy:      spec.UnitEnergy,
		UnitCycle:       spec.UnitCycle,
		UnitStaticPower: spec.UnitStaticPower,
		Pinned:          spec.Pinned,
	}

	for _, t := range spec.Bypass {
		l.Buffer.Bypass[t] = true
	}

	if trivialCapacity(spec) {
		l.Kind = Virtual
	}

	return b.add(l)
}

func trivialCapacity(spec TemporalSpec) bool {
	var total uint64
	for _, c := range spec.Capacity {
		total += c
	}

	return total == 1
}

// AddSpatial appends an array level. A 1x1 array is added as a virtual
// level.
func (b Builder) AddSpatial(spec SpatialSpec) Builder {
	l := Level{Name: spec.Name, Kind: Spatial}
	l.Array = Array{
		DimX:  spec.DimX,
		DimY:  spec.DimY,
		Tier:  spec.Tier,
		Radix: spec.Radix,
	}

	if len(spec.MapX) > 0 || len(spec.MapY) > 0 {
		l.Array.Constrained = true
		for _, p := range spec.MapX {
			l.Array.MapX[p] = true
		}
		for _, p := range spec.MapY {
			l.Array.MapY[p] = true
		}
	}

	if spec.DimX*spec.DimY == 1 {
		l.Kind = Virtual
	}

	return b.add(l)
}

// AddVirtual appends a zero-cost placeholder level.
func (b Builder) AddVirtual(name string) Builder {
	return b.add(Level{Name: name, Kind: Virtual})
}

func (b Builder) add(l Level) Builder {
	levels := make([]Level, len(b.levels), len(b.levels)+1)
	copy(levels, b.levels)
	b.levels = append(levels, l)

	return b
}

// Build validates the description and creates the model.
func (b Builder) Build() (*Model, error) {
	if b.freq <= 0 {
		return nil, errors.Errorf("accelerator %s: frequency must be positive", b.name)
	}

	if len(b.levels) == 0 {
		return nil, errors.Errorf("accelerator %s: no levels", b.name)
	}

	last := b.levels[len(b.levels)-1]
	if last.Kind != Temporal {
		return nil, errors.Errorf(
			"accelerator %s: the last level %s must be a temporal DRAM level",
			b.name, last.Name)
	}

	names := make(map[string]bool)
	for i := range b.levels {
		l := &b.levels[i]
		if l.Name == "" {
			return nil, errors.Errorf("accelerator %s: level %d has no name", b.name, i)
		}

		if names[l.Name] {
			return nil, errors.Errorf("accelerator %s: duplicate level name %s", b.name, l.Name)
		}
		names[l.Name] = true

		var err error
		switch l.Kind {
		case Temporal:
			err = checkBuffer(l, i == len(b.levels)-1)
		case Spatial:
			err = checkArray(l)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "accelerator %s", b.name)
		}
	}

	m := &Model{
		name:   b.name,
		freq:   b.freq,
		mac:    b.mac,
		levels: make([]Level, len(b.levels)),
	}
	copy(m.levels, b.levels)

	return m, nil
}

func checkBuffer(l *Level, isDRAM bool) error {
	buf := &l.Buffer

	if buf.Bandwidth <= 0 {
		return errors.Errorf("level %s: bandwidth must be positive", l.Name)
	}

	if buf.Precision <= 0 {
		return errors.Errorf("level %s: bitwidth must be positive", l.Name)
	}

	if st, ok := buf.Dataflow.Stationary(); ok && buf.Bypass[st] {
		return errors.Errorf("level %s: stationary operand %s is bypassed", l.Name, st)
	}

	for _, t := range DataTypes {
		if isDRAM && buf.Bypass[t] {
			return errors.Errorf("level %s: DRAM cannot bypass %s", l.Name, t)
		}
	}

	if isDRAM && buf.ExploreDataflow {
		return errors.Errorf("level %s: DRAM cannot explore dataflows", l.Name)
	}

	if !isDRAM && buf.Unbounded() {
		return errors.Errorf("level %s: only DRAM may have an unbounded capacity", l.Name)
	}

	for _, p := range loop.Params {
		if buf.Pinned[p] < 0 {
			return errors.Errorf("level %s: negative pinned degree for %s", l.Name, p)
		}
	}

	return nil
}

func checkArray(l *Level) error {
	a := &l.Array
	if a.DimX <= 0 || a.DimY <= 0 {
		return errors.Errorf("level %s: spatial dimensions must be positive", l.Name)
	}

	for _, p := range loop.Params {
		if a.MapX[p] && a.MapY[p] {
			return errors.Errorf("level %s: %s is mapped on both X and Y", l.Name, p)
		}
	}

	return nil
}

// Package arch models the compute/memory hierarchy of a DNN accelerator.
//
// Levels are ordered from the one nearest to the MAC units (index 0) to DRAM
// (the last index). Each level is a tagged value, so a Model can be copied
// cheaply and handed to another goroutine without aliasing.
package arch

import (
	"fmt"

	"github.com/sarchlab/akita/v4/sim"
)

// MACSpec describes a single multiply-accumulate unit.
type MACSpec struct {
	UnitEnergy      float64 // pJ per operation
	UnitStaticPower float64 // mW
	UnitCycle       float64
}

// Model is an accelerator instance. The static description is fixed at build
// time while the allocated sizes, access counts and active counts are derived
// state overwritten by every evaluation.
type Model struct {
	name      string
	freq      sim.Freq
	mac       MACSpec
	levels    []Level
	chipLimit int
}

// Name returns the name of the accelerator.
func (m *Model) Name() string {
	return m.name
}

// Freq returns the clock frequency of the accelerator.
func (m *Model) Freq() sim.Freq {
	return m.freq
}

// MAC returns the description of the MAC units.
func (m *Model) MAC() MACSpec {
	return m.mac
}

// Len returns the number of levels, virtual ones included.
func (m *Model) Len() int {
	return len(m.levels)
}

// DRAM returns the index of the terminal DRAM level.
func (m *Model) DRAM() int {
	return len(m.levels) - 1
}

// Level returns a copy of the level at the given index.
func (m *Model) Level(i int) Level {
	return *m.at(i)
}

// Kind returns the kind of the level at the given index.
func (m *Model) Kind(i int) Kind {
	return m.at(i).Kind
}

// LevelName returns the name of the level at the given index.
func (m *Model) LevelName(i int) string {
	return m.at(i).Name
}

// Index returns the index of the level with the given name, or -1.
func (m *Model) Index(name string) int {
	for i := range m.levels {
		if m.levels[i].Name == name {
			return i
		}
	}

	return -1
}

func (m *Model) at(i int) *Level {
	if i < 0 || i >= len(m.levels) {
		panic(fmt.Sprintf("level index %d out of range [0, %d)", i, len(m.levels)))
	}

	return &m.levels[i]
}

func (m *Model) temporal(i int) *Buffer {
	l := m.at(i)
	if l.Kind != Temporal {
		panic(fmt.Sprintf("level %d (%s) is not temporal", i, l.Name))
	}

	return &l.Buffer
}

func (m *Model) spatial(i int) *Array {
	l := m.at(i)
	if l.Kind != Spatial {
		panic(fmt.Sprintf("level %d (%s) is not spatial", i, l.Name))
	}

	return &l.Array
}

// Size returns the capacity, in bytes, of a temporal level.
func (m *Model) Size(i int) [NumDataTypes]uint64 {
	return m.temporal(i).Capacity
}

// Separated tells if a temporal level has one buffer per data type.
func (m *Model) Separated(i int) bool {
	return m.temporal(i).Separated
}

// Dims returns the physical dimensions of a spatial level.
func (m *Model) Dims(i int) [2]int {
	a := m.spatial(i)
	return [2]int{a.DimX, a.DimY}
}

// Bypass tells if a temporal level does not store the data type.
func (m *Model) Bypass(i int, t DataType) bool {
	return m.temporal(i).Bypass[t]
}

// Dataflow returns the current dataflow of a temporal level.
func (m *Model) Dataflow(i int) Dataflow {
	return m.temporal(i).Dataflow
}

// SetDataflow changes the dataflow of a temporal level.
func (m *Model) SetDataflow(i int, df Dataflow) {
	b := m.temporal(i)
	if st, ok := df.Stationary(); ok && b.Bypass[st] {
		panic(fmt.Sprintf("level %s bypasses its stationary operand %s",
			m.levels[i].Name, st))
	}

	b.Dataflow = df
}

// Bandwidth returns the words per cycle of a temporal level.
func (m *Model) Bandwidth(i int) float64 {
	return m.temporal(i).Bandwidth
}

// Precision returns the bits per word of a temporal level.
func (m *Model) Precision(i int) int {
	return m.temporal(i).Precision
}

// UpdateAllocatedSize overwrites the allocated size of one data type.
func (m *Model) UpdateAllocatedSize(
	i int,
	t DataType,
	size uint64,
	dir Direction,
) {
	m.temporal(i).AllocatedSize[dir][t] = size
}

// AllocatedSize returns the allocated size of one data type.
func (m *Model) AllocatedSize(i int, t DataType, dir Direction) uint64 {
	return m.temporal(i).AllocatedSize[dir][t]
}

// UpdateAccessCount overwrites the access count of one data type.
func (m *Model) UpdateAccessCount(
	i int,
	t DataType,
	op Operation,
	count uint64,
	dir Direction,
) {
	m.temporal(i).AccessCount[dir][op][t] = count
}

// AccessCount returns the access count of one data type.
func (m *Model) AccessCount(
	i int,
	t DataType,
	op Operation,
	dir Direction,
) uint64 {
	return m.temporal(i).AccessCount[dir][op][t]
}

// UpdateActive records how many components of a spatial level are used.
// The analyzer is in charge of checking the value against the dimensions.
func (m *Model) UpdateActive(i int, active [2]int) {
	m.spatial(i).Active = active
}

// Active returns the utilized components of a spatial level.
func (m *Model) Active(i int) [2]int {
	return m.spatial(i).Active
}

// Reset restores the configured dataflows and zeroes all derived state.
func (m *Model) Reset() {
	for i := range m.levels {
		l := &m.levels[i]
		l.clearDerived()
		if l.Kind == Temporal {
			l.Buffer.Dataflow = l.Buffer.DefaultDataflow
		}
	}
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	c := *m
	c.levels = make([]Level, len(m.levels))
	copy(c.levels, m.levels)

	return &c
}

// LimitChips restricts the number of chips a schedule may use. A value of 0
// removes the limit.
func (m *Model) LimitChips(n int) {
	m.chipLimit = n
}

// ChipLimit returns the chip budget, which is TotalChips when no limit is set.
func (m *Model) ChipLimit() int {
	if m.chipLimit > 0 {
		return m.chipLimit
	}

	return m.TotalChips()
}

// TotalMACs returns the number of physical MAC units.
func (m *Model) TotalMACs() int {
	return m.physicalAtOrAbove(TierMAC)
}

// TotalPEs returns the number of physical processing elements.
func (m *Model) TotalPEs() int {
	return m.physicalAtOrAbove(TierPE)
}

// TotalChips returns the number of physical chips.
func (m *Model) TotalChips() int {
	return m.physicalAtOrAbove(TierChip)
}

func (m *Model) physicalAtOrAbove(tier Tier) int {
	n := 1
	for i := range m.levels {
		l := &m.levels[i]
		if l.Kind == Spatial && l.Array.Tier >= tier {
			n *= l.Array.Size()
		}
	}

	return n
}

// Replicas returns how many copies of a level exist, which is the product of
// the spatial levels placed between the level and DRAM. When active is set,
// the utilized component counts are used instead of the physical ones.
func (m *Model) Replicas(i int, active bool) int {
	m.at(i)

	n := 1
	for j := i + 1; j < len(m.levels); j++ {
		l := &m.levels[j]
		if l.Kind != Spatial {
			continue
		}

		if active {
			n *= l.Array.ActiveCount()
		} else {
			n *= l.Array.Size()
		}
	}

	return n
}

// ClockTime returns the clock period in nanoseconds.
func (m *Model) ClockTime() float64 {
	return 1000 / m.freqMHz()
}

func (m *Model) freqMHz() float64 {
	return float64(m.freq) / float64(sim.MHz)
}

// TheoreticalPeakPower returns the power, in mW, of every buffer and MAC
// performing one access per cycle plus the static power of every physical
// replica.
func (m *Model) TheoreticalPeakPower() float64 {
	f := m.freqMHz()

	dynamic := m.mac.UnitEnergy * f
	static := m.mac.UnitStaticPower * float64(m.TotalMACs())

	for i := range m.levels {
		l := &m.levels[i]
		if l.Kind != Temporal {
			continue
		}

		replicas := float64(m.Replicas(i, false))
		for _, t := range DataTypes {
			dynamic += l.Buffer.UnitEnergy[t] * f
			static += l.Buffer.UnitStaticPower[t] * replicas
		}
	}

	return dynamic/1000 + static
}

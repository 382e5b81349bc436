package arch

import (
	"fmt"
	"strings"

	"github.com/sarchlab/dnnmap/loop"
)

// Kind defines the role of a level in the hierarchy.
type Kind int

const (
	Temporal Kind = iota
	Spatial
	Virtual
)

// Name returns the name of the kind.
func (k Kind) Name() string {
	switch k {
	case Temporal:
		return "TEMPORAL"
	case Spatial:
		return "SPATIAL"
	case Virtual:
		return "VIRTUAL"
	default:
		panic("invalid kind")
	}
}

func (k Kind) String() string {
	return k.Name()
}

// DataType is one of the three operands of a convolution.
type DataType int

const (
	Input DataType = iota
	Weight
	Output
)

// NumDataTypes is the number of operands.
const NumDataTypes = 3

// DataTypes lists all operands in index order.
var DataTypes = [NumDataTypes]DataType{Input, Weight, Output}

// Name returns the name of the data type.
func (t DataType) Name() string {
	switch t {
	case Input:
		return "INPUT"
	case Weight:
		return "WEIGHT"
	case Output:
		return "OUTPUT"
	default:
		panic("invalid data type")
	}
}

func (t DataType) String() string {
	return t.Name()
}

// Irrelevant returns the correlation whose parameters do not index the
// operand. Iterating those parameters reuses the same data.
func (t DataType) Irrelevant() loop.Correlation {
	switch t {
	case Input:
		return loop.WO
	case Weight:
		return loop.OI
	case Output:
		return loop.IW
	default:
		panic("invalid data type")
	}
}

// Relevant returns the correlations whose parameters index the operand.
func (t DataType) Relevant() []loop.Correlation {
	irr := t.Irrelevant()
	out := make([]loop.Correlation, 0, loop.NumCorrelations-1)
	for c := loop.Correlation(0); c < loop.NumCorrelations; c++ {
		if c != irr {
			out = append(out, c)
		}
	}

	return out
}

// ParseDataType converts a name such as "input" or "W" into a DataType.
func ParseDataType(name string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "input", "i", "ifmap":
		return Input, nil
	case "weight", "w", "filter":
		return Weight, nil
	case "output", "o", "ofmap", "psum":
		return Output, nil
	default:
		return 0, fmt.Errorf("unknown data type %q", name)
	}
}

// Dataflow names the operand that a buffer keeps resident across its inner
// loop iterations.
type Dataflow int

const (
	NoDataflow Dataflow = iota
	InputStationary
	WeightStationary
	OutputStationary
)

// Dataflows lists the stationary dataflows in index order.
var Dataflows = [3]Dataflow{InputStationary, WeightStationary, OutputStationary}

// Name returns the name of the dataflow.
func (d Dataflow) Name() string {
	switch d {
	case NoDataflow:
		return "NONE"
	case InputStationary:
		return "IS"
	case WeightStationary:
		return "WS"
	case OutputStationary:
		return "OS"
	default:
		panic("invalid dataflow")
	}
}

func (d Dataflow) String() string {
	return d.Name()
}

// Stationary returns the operand kept resident by the dataflow.
func (d Dataflow) Stationary() (DataType, bool) {
	switch d {
	case InputStationary:
		return Input, true
	case WeightStationary:
		return Weight, true
	case OutputStationary:
		return Output, true
	default:
		return 0, false
	}
}

// DataflowFor returns the dataflow that keeps the given operand resident.
func DataflowFor(t DataType) Dataflow {
	return Dataflows[t]
}

// ParseDataflow converts a config value into a Dataflow. The value "auto"
// returns NoDataflow and explore set to true.
func ParseDataflow(name string) (df Dataflow, explore bool, err error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return NoDataflow, false, nil
	case "auto", "any":
		return NoDataflow, true, nil
	case "is", "input", "input_stationary":
		return InputStationary, false, nil
	case "ws", "weight", "weight_stationary":
		return WeightStationary, false, nil
	case "os", "output", "output_stationary":
		return OutputStationary, false, nil
	default:
		return 0, false, fmt.Errorf("unknown dataflow %q", name)
	}
}

// Direction selects the side of a level that data flows toward.
type Direction int

const (
	TowardDRAM Direction = iota
	TowardCompute
)

// Name returns the name of the direction.
func (d Direction) Name() string {
	switch d {
	case TowardDRAM:
		return "TOWARD_DRAM"
	case TowardCompute:
		return "TOWARD_COMPUTE"
	default:
		panic("invalid direction")
	}
}

func (d Direction) String() string {
	return d.Name()
}

// Operation is a buffer access type.
type Operation int

const (
	Read Operation = iota
	Write
)

// Name returns the name of the operation.
func (o Operation) Name() string {
	switch o {
	case Read:
		return "READ"
	case Write:
		return "WRITE"
	default:
		panic("invalid operation")
	}
}

func (o Operation) String() string {
	return o.Name()
}

// Tier tells which physical replica a spatial level multiplies.
type Tier int

const (
	TierMAC Tier = iota
	TierPE
	TierChip
)

// Name returns the name of the tier.
func (t Tier) Name() string {
	switch t {
	case TierMAC:
		return "MAC"
	case TierPE:
		return "PE"
	case TierChip:
		return "CHIP"
	default:
		panic("invalid tier")
	}
}

func (t Tier) String() string {
	return t.Name()
}

// ParseTier converts a config value into a Tier.
func ParseTier(name string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mac", "lane", "":
		return TierMAC, nil
	case "pe":
		return TierPE, nil
	case "chip", "chiplet":
		return TierChip, nil
	default:
		return 0, fmt.Errorf("unknown spatial tier %q", name)
	}
}

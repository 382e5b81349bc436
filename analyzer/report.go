package analyzer

import (
	"fmt"
	"math"
	"strings"

	"github.com/sarchlab/dnnmap/arch"
)

// Metric selects the scalar that a search minimizes.
type Metric int

const (
	Energy Metric = iota
	Cycle
	EDP
)

// Name returns the name of the metric.
func (m Metric) Name() string {
	switch m {
	case Energy:
		return "energy"
	case Cycle:
		return "cycle"
	case EDP:
		return "edp"
	default:
		panic("invalid metric")
	}
}

func (m Metric) String() string {
	return m.Name()
}

// ParseMetric converts a name into a Metric.
func ParseMetric(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "energy", "":
		return Energy, nil
	case "cycle", "cycles", "latency":
		return Cycle, nil
	case "edp":
		return EDP, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", name)
	}
}

// LevelCost is the contribution of one level.
type LevelCost struct {
	Energy       float64 // pJ, all active replicas
	Cycle        float64
	StaticEnergy float64 // pJ, all physical replicas
}

// Credit is the cost removed by cross-layer reuse at the DRAM boundary.
type Credit struct {
	Volume uint64
	Energy float64
	Cycle  float64
}

// Report is the outcome of one evaluation. It is rebuilt from scratch for
// every schedule.
type Report struct {
	Valid  bool
	Issues []Issue

	Levels []LevelCost

	// Accesses holds, per level and data type, the number of words read out
	// of the level toward compute.
	Accesses [][arch.NumDataTypes]uint64

	MACs       uint64
	ActiveMACs int
	MACEnergy  float64
	MACCycle   float64

	DynamicEnergy float64
	StaticEnergy  float64
	TotalEnergy   float64
	TotalCycle    float64

	ReuseCredit Credit
}

func newReport(levels int) *Report {
	return &Report{
		Valid:    true,
		Levels:   make([]LevelCost, levels),
		Accesses: make([][arch.NumDataTypes]uint64, levels),
	}
}

func (r *Report) invalidate() {
	r.Valid = false
	r.TotalEnergy = math.Inf(1)
	r.TotalCycle = math.Inf(1)
}

// Cost returns the scalar of the given metric. Invalid reports cost +Inf.
func (r *Report) Cost(m Metric) float64 {
	if !r.Valid {
		return math.Inf(1)
	}

	switch m {
	case Energy:
		return r.TotalEnergy
	case Cycle:
		return r.TotalCycle
	case EDP:
		return r.TotalEnergy * r.TotalCycle
	default:
		panic("invalid metric")
	}
}

// SpanCost returns the cost restricted to the given levels. Energy adds up,
// cycles overlap, and EDP multiplies the two.
func (r *Report) SpanCost(m Metric, levels []int) float64 {
	if !r.Valid {
		return math.Inf(1)
	}

	energy, cycle := 0.0, 0.0
	for _, i := range levels {
		energy += r.Levels[i].Energy
		cycle = math.Max(cycle, r.Levels[i].Cycle)
	}

	switch m {
	case Energy:
		return energy
	case Cycle:
		return cycle
	case EDP:
		return energy * cycle
	default:
		panic("invalid metric")
	}
}

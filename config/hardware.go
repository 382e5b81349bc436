package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sarchlab/dnnmap/arch"
	"github.com/sarchlab/dnnmap/loop"
)

type hardwareFile struct {
	Name         string      `yaml:"name"`
	FrequencyMHz float64     `yaml:"frequency_mhz"`
	MAC          macFile     `yaml:"mac"`
	Levels       []levelFile `yaml:"levels"`
}

type macFile struct {
	UnitEnergy      float64 `yaml:"unit_energy"`
	UnitStaticPower float64 `yaml:"unit_static_power"`
	UnitCycle       float64 `yaml:"unit_cycle"`
}

type levelFile struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	Capacity     *float64  `yaml:"capacity"`
	CapacityKB   *float64  `yaml:"capacity_kb"`
	CapacityMB   *float64  `yaml:"capacity_mb"`
	Capacities   []float64 `yaml:"capacities"`
	CapacitiesKB []float64 `yaml:"capacities_kb"`

	Dataflow        string    `yaml:"dataflow"`
	Bitwidth        int       `yaml:"bitwidth"`
	Bandwidth       float64   `yaml:"bandwidth"`
	UnitEnergy      []float64 `yaml:"unit_energy"`
	UnitCycle       []float64 `yaml:"unit_cycle"`
	UnitStaticPower []float64 `yaml:"unit_static_power"`
	Bypass          []string  `yaml:"bypass"`
	Constraint      string    `yaml:"constraint"`

	SizeX int      `yaml:"size_x"`
	SizeY int      `yaml:"size_y"`
	Tier  string   `yaml:"tier"`
	Radix int      `yaml:"radix"`
	MapX  []string `yaml:"map_x"`
	MapY  []string `yaml:"map_y"`
}

// LoadHardware reads an accelerator description file.
func LoadHardware(path string) (*arch.Model, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	m, err := ParseHardware(data)
	if err != nil {
		return nil, errors.Wrapf(err, "hardware file %s", path)
	}

	return m, nil
}

// ParseHardware builds an accelerator from a YAML description. Levels are
// listed from the one nearest to the MAC units to DRAM.
func ParseHardware(data []byte) (*arch.Model, error) {
	var f hardwareFile
	if err := decode(data, &f); err != nil {
		return nil, err
	}

	if f.FrequencyMHz <= 0 {
		return nil, errors.New("frequency_mhz must be positive")
	}

	b := arch.NewBuilder().
		WithFreq(sim.Freq(f.FrequencyMHz) * sim.MHz).
		WithMAC(arch.MACSpec{
			UnitEnergy:      f.MAC.UnitEnergy,
			UnitStaticPower: f.MAC.UnitStaticPower,
			UnitCycle:       orOne(f.MAC.UnitCycle),
		})

	if f.Name != "" {
		b = b.WithName(f.Name)
	}

	for i, lf := range f.Levels {
		var err error
		b, err = addLevel(b, lf)
		if err != nil {
			return nil, errors.Wrapf(err, "level %d (%s)", i, lf.Name)
		}
	}

	return b.Build()
}

func addLevel(b arch.Builder, lf levelFile) (arch.Builder, error) {
	switch strings.ToLower(lf.Type) {
	case "temporal", "buffer", "memory":
		spec, err := temporalSpec(lf)
		if err != nil {
			return b, err
		}

		return b.AddTemporal(spec), nil
	case "spatial", "array":
		spec, err := spatialSpec(lf)
		if err != nil {
			return b, err
		}

		return b.AddSpatial(spec), nil
	case "virtual":
		return b.AddVirtual(lf.Name), nil
	default:
		return b, errors.Errorf("unknown level type %q", lf.Type)
	}
}

func temporalSpec(lf levelFile) (arch.TemporalSpec, error) {
	spec := arch.TemporalSpec{
		Name:      lf.Name,
		Bandwidth: lf.Bandwidth,
		Precision: lf.Bitwidth,
	}

	if spec.Precision == 0 {
		spec.Precision = 16
	}

	var err error
	spec.Capacity, spec.Separated, err = capacity(lf)
	if err != nil {
		return spec, err
	}

	spec.Dataflow, spec.ExploreDataflow, err = arch.ParseDataflow(lf.Dataflow)
	if err != nil {
		return spec, err
	}

	if spec.UnitEnergy, err = triple("unit_energy", lf.UnitEnergy, 0); err != nil {
		return spec, err
	}

	if spec.UnitCycle, err = triple("unit_cycle", lf.UnitCycle, 1); err != nil {
		return spec, err
	}

	spec.UnitStaticPower, err = triple("unit_static_power", lf.UnitStaticPower, 0)
	if err != nil {
		return spec, err
	}

	for _, name := range lf.Bypass {
		t, err := arch.ParseDataType(name)
		if err != nil {
			return spec, err
		}

		spec.Bypass = append(spec.Bypass, t)
	}

	spec.Pinned, err = ParseConstraint(lf.Constraint)

	return spec, err
}

// capacity returns the capacity in bytes. A single value describes a
// unified buffer and three values a separated one.
func capacity(lf levelFile) ([arch.NumDataTypes]uint64, bool, error) {
	var out [arch.NumDataTypes]uint64

	set := 0
	var single float64
	for _, c := range []struct {
		v     *float64
		scale float64
	}{
		{lf.Capacity, 1},
		{lf.CapacityKB, 1024},
		{lf.CapacityMB, 1024 * 1024},
	} {
		if c.v != nil {
			set++
			single = *c.v * c.scale
		}
	}

	var list []float64
	scale := 1.0
	if lf.Capacities != nil {
		set++
		list = lf.Capacities
	}
	if lf.CapacitiesKB != nil {
		set++
		list, scale = lf.CapacitiesKB, 1024
	}

	switch {
	case set > 1:
		return out, false, errors.New("more than one capacity field")
	case list != nil:
		if len(list) != arch.NumDataTypes {
			return out, false, errors.Errorf(
				"capacities need %d values, got %d", arch.NumDataTypes, len(list))
		}

		for i, v := range list {
			if v < 0 {
				return out, false, errors.New("capacity must not be negative")
			}
			out[i] = uint64(v * scale)
		}

		return out, true, nil
	default:
		if single < 0 {
			return out, false, errors.New("capacity must not be negative")
		}
		out[0] = uint64(single)

		return out, false, nil
	}
}

// triple reads a per-data-type field. An omitted field takes the default for
// every type.
func triple(name string, vals []float64, def float64) ([arch.NumDataTypes]float64, error) {
	out := [arch.NumDataTypes]float64{def, def, def}
	if vals == nil {
		return out, nil
	}

	if len(vals) != arch.NumDataTypes {
		return out, errors.Errorf("%s needs %d values, got %d",
			name, arch.NumDataTypes, len(vals))
	}

	copy(out[:], vals)

	return out, nil
}

func spatialSpec(lf levelFile) (arch.SpatialSpec, error) {
	spec := arch.SpatialSpec{
		Name:  lf.Name,
		DimX:  lf.SizeX,
		DimY:  lf.SizeY,
		Radix: lf.Radix,
	}

	if spec.DimY == 0 {
		spec.DimY = 1
	}

	var err error
	if spec.Tier, err = arch.ParseTier(lf.Tier); err != nil {
		return spec, err
	}

	if spec.MapX, err = params(lf.MapX); err != nil {
		return spec, err
	}

	spec.MapY, err = params(lf.MapY)

	return spec, err
}

func params(names []string) ([]loop.Param, error) {
	var out []loop.Param
	for _, n := range names {
		p, err := loop.ParseParam(n)
		if err != nil {
			return nil, err
		}

		out = append(out, p)
	}

	return out, nil
}

// ParseConstraint reads a mapping constraint such as "K:4, C:1". Each entry
// pins the degree of one parameter at the level.
func ParseConstraint(s string) (loop.Degrees, error) {
	var pinned loop.Degrees
	if strings.TrimSpace(s) == "" {
		return pinned, nil
	}

	for _, entry := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(entry, ":")
		if !ok {
			return pinned, errors.Errorf("constraint %q is not PARAM:VALUE", entry)
		}

		p, err := loop.ParseParam(name)
		if err != nil {
			return pinned, err
		}

		v, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return pinned, errors.Wrapf(err, "constraint %q", entry)
		}

		if v <= 0 {
			return pinned, errors.Errorf("constraint %q must be positive", entry)
		}

		pinned[p] = v
	}

	return pinned, nil
}

func orOne(v float64) float64 {
	if v == 0 {
		return 1
	}

	return v
}

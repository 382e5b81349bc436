package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sarchlab/dnnmap/arch"
	"github.com/sarchlab/dnnmap/layer"
	"github.com/sarchlab/dnnmap/loop"
	"github.com/sarchlab/dnnmap/schedule"
	"gopkg.in/yaml.v3"
)

type scheduleFile struct {
	Layer string    `yaml:"layer,omitempty"`
	Rows  []rowFile `yaml:"rows"`
}

type rowFile struct {
	Level    string `yaml:"level"`
	Degrees  string `yaml:"degrees"`
	Dataflow string `yaml:"dataflow,omitempty"`
}

// LoadSchedule reads a schedule file for a layer on an accelerator.
func LoadSchedule(path string, m *arch.Model, l layer.Layer) (*schedule.Table, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	t, err := ParseSchedule(data, m, l)
	if err != nil {
		return nil, errors.Wrapf(err, "schedule file %s", path)
	}

	return t, nil
}

// ParseSchedule builds a table from a list of named rows. Rows that are not
// listed keep degree 1, except DRAM which takes whatever extent the listed
// rows leave.
func ParseSchedule(data []byte, m *arch.Model, l layer.Layer) (*schedule.Table, error) {
	var f scheduleFile
	if err := decode(data, &f); err != nil {
		return nil, err
	}

	t := schedule.New(m)
	t.LoadLayer(l)
	t.UpdateRow(t.DRAM(), loop.Ones())

	dramListed := false
	listed := make(map[int]bool)
	for _, rf := range f.Rows {
		i := m.Index(rf.Level)
		if i < 0 {
			return nil, errors.Errorf("unknown level %q", rf.Level)
		}

		if listed[i] {
			return nil, errors.Errorf("level %s listed twice", rf.Level)
		}
		listed[i] = true

		if t.Kind(i) == arch.Virtual {
			return nil, errors.Errorf("level %s is virtual", rf.Level)
		}

		d, err := ParseDegrees(rf.Degrees)
		if err != nil {
			return nil, errors.Wrapf(err, "level %s", rf.Level)
		}
		t.UpdateRow(i, d)

		if err := applyDataflow(m, t, i, rf.Dataflow); err != nil {
			return nil, errors.Wrapf(err, "level %s", rf.Level)
		}

		if i == t.DRAM() {
			dramListed = true
		}
	}

	if !dramListed {
		if err := fillDRAM(t); err != nil {
			return nil, err
		}
	}

	if !t.ColumnsIntact() {
		return nil, errors.Errorf("degrees %s do not multiply to the extents %s of %s",
			t, t.Extents(), l.Name)
	}

	return t, nil
}

func applyDataflow(m *arch.Model, t *schedule.Table, i int, name string) error {
	if name == "" {
		return nil
	}

	if t.Kind(i) != arch.Temporal {
		return errors.New("only temporal levels have a dataflow")
	}

	df, explore, err := arch.ParseDataflow(name)
	if err != nil {
		return err
	}

	if explore {
		return errors.New("a schedule needs a fixed dataflow")
	}

	if st, ok := df.Stationary(); ok && m.Bypass(i, st) {
		return errors.Errorf("stationary operand %s is bypassed", st)
	}

	t.SetDataflow(i, df)

	return nil
}

// fillDRAM gives DRAM the quotient of the extents by the listed rows.
func fillDRAM(t *schedule.Table) error {
	ext := t.Extents()

	var d loop.Degrees
	for _, p := range loop.Params {
		above := 1
		if t.DRAM() > 0 {
			above = t.ColumnProduct(p, 0, t.DRAM()-1)
		}

		if ext[p]%above != 0 {
			return errors.Errorf("%s degrees multiply to %d, which does not divide %d",
				p, above, ext[p])
		}

		d[p] = ext[p] / above
	}

	t.UpdateRow(t.DRAM(), d)

	return nil
}

// ParseDegrees reads eight comma-separated positive degrees in K, B, P, Q,
// C, R, S, G order.
func ParseDegrees(s string) (loop.Degrees, error) {
	var d loop.Degrees

	parts := strings.Split(s, ",")
	if len(parts) != loop.NumParams {
		return d, errors.Errorf("need %d degrees, got %d in %q",
			loop.NumParams, len(parts), s)
	}

	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return d, errors.Wrapf(err, "degree %s", loop.Param(i))
		}

		if v <= 0 {
			return d, errors.Errorf("degree %s must be positive, got %d", loop.Param(i), v)
		}

		d[i] = v
	}

	return d, nil
}

// MarshalSchedule encodes a table in the schedule file format. Every
// non-virtual row is listed, so the file does not depend on the defaults of
// the loader.
func MarshalSchedule(t *schedule.Table) ([]byte, error) {
	f := scheduleFile{Layer: t.Layer().Name}
	for i := 0; i < t.Len(); i++ {
		if t.Kind(i) == arch.Virtual {
			continue
		}

		rf := rowFile{Level: t.Name(i), Degrees: t.Degrees(i).String()}
		if t.Kind(i) == arch.Temporal && t.Dataflow(i) != arch.NoDataflow {
			rf.Dataflow = strings.ToLower(t.Dataflow(i).Name())
		}

		f.Rows = append(f.Rows, rf)
	}

	out, err := yaml.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, "cannot encode schedule")
	}

	return out, nil
}

// SaveSchedule writes a table to a schedule file.
func SaveSchedule(path string, t *schedule.Table) error {
	data, err := MarshalSchedule(t)
	if err != nil {
		return err
	}

	return errors.Wrapf(os.WriteFile(path, data, 0o644), "cannot write %s", path)
}

package analyzer

import (
	"fmt"

	"github.com/sarchlab/dnnmap/arch"
	"github.com/sarchlab/dnnmap/loop"
	"github.com/sarchlab/dnnmap/schedule"
)

// IssueType categorizes validation issues.
type IssueType string

const (
	IssueCapacity IssueType = "CAPACITY" // Tile does not fit in a buffer
	IssueSpatial  IssueType = "SPATIAL"  // Unrolling exceeds an array
	IssueMapping  IssueType = "MAPPING"  // Degrees break a constraint or the layer extents
)

// Issue represents a single reason a schedule is invalid.
type Issue struct {
	Type    IssueType
	Level   int // -1 if not applicable
	Name    string
	Message string
}

func (i Issue) String() string {
	if i.Level < 0 {
		return fmt.Sprintf("[%s] %s", i.Type, i.Message)
	}

	return fmt.Sprintf("[%s] %s: %s", i.Type, i.Name, i.Message)
}

// Validate checks the propagated state against the physical limits of the
// model. It never panics on an invalid schedule; the returned issues are
// empty when the schedule is valid.
func (a *Analyzer) Validate(m *arch.Model, t *schedule.Table) []Issue {
	var issues []Issue

	if !t.ColumnsIntact() {
		issues = append(issues, Issue{
			Type:    IssueMapping,
			Level:   -1,
			Message: "column products do not match the layer extents",
		})
	}

	chips := 1
	for i := 0; i < t.Len(); i++ {
		switch t.Kind(i) {
		case arch.Temporal:
			issues = append(issues, checkBuffer(m, t, i)...)
		case arch.Spatial:
			issues = append(issues, checkArray(m, t, i)...)

			lvl := m.Level(i)
			if lvl.Array.Tier == arch.TierChip {
				chips *= lvl.Array.ActiveCount()
			}
		}
	}

	if chips > m.ChipLimit() {
		issues = append(issues, Issue{
			Type:    IssueSpatial,
			Level:   -1,
			Message: fmt.Sprintf("%d chips used, %d available", chips, m.ChipLimit()),
		})
	}

	return issues
}

func checkBuffer(m *arch.Model, t *schedule.Table, i int) []Issue {
	var issues []Issue

	lvl := m.Level(i)
	buf := &lvl.Buffer
	d := t.Degrees(i)

	for _, p := range loop.Params {
		if buf.Pinned[p] > 0 && d[p] != buf.Pinned[p] {
			issues = append(issues, Issue{
				Type:  IssueMapping,
				Level: i,
				Name:  lvl.Name,
				Message: fmt.Sprintf("%s degree %d violates the pinned value %d",
					p, d[p], buf.Pinned[p]),
			})
		}
	}

	if buf.Unbounded() {
		return issues
	}

	if buf.Separated {
		for _, dt := range arch.DataTypes {
			if buf.Bypass[dt] {
				continue
			}

			size := buf.AllocatedSize[arch.TowardCompute][dt]
			if size > buf.Words(dt) {
				issues = append(issues, Issue{
					Type:  IssueCapacity,
					Level: i,
					Name:  lvl.Name,
					Message: fmt.Sprintf("%s tile of %d words exceeds %d words",
						dt, size, buf.Words(dt)),
				})
			}
		}

		return issues
	}

	var total uint64
	for _, dt := range arch.DataTypes {
		if !buf.Bypass[dt] {
			total += buf.AllocatedSize[arch.TowardCompute][dt]
		}
	}

	if total > buf.Words(arch.Input) {
		issues = append(issues, Issue{
			Type:  IssueCapacity,
			Level: i,
			Name:  lvl.Name,
			Message: fmt.Sprintf("tiles of %d words exceed %d words",
				total, buf.Words(arch.Input)),
		})
	}

	return issues
}

func checkArray(m *arch.Model, t *schedule.Table, i int) []Issue {
	var issues []Issue

	lvl := m.Level(i)
	arr := &lvl.Array

	if arr.Active[0] > arr.DimX || arr.Active[1] > arr.DimY {
		issues = append(issues, Issue{
			Type:  IssueSpatial,
			Level: i,
			Name:  lvl.Name,
			Message: fmt.Sprintf("active %dx%d exceeds %dx%d",
				arr.Active[0], arr.Active[1], arr.DimX, arr.DimY),
		})
	}

	if !arr.Constrained {
		return issues
	}

	d := t.Degrees(i)
	for _, p := range loop.Params {
		if d[p] > 1 && !arr.MapX[p] && !arr.MapY[p] {
			issues = append(issues, Issue{
				Type:    IssueSpatial,
				Level:   i,
				Name:    lvl.Name,
				Message: fmt.Sprintf("%s cannot be unrolled here", p),
			})
		}
	}

	return issues
}

// Package schedule defines the scheduling table, the tiling-degree matrix
// that describes how the loops of one layer are split across the levels of an
// accelerator.
//
// Row 0 is the level nearest to the MAC units and the last row is DRAM. In
// this package "above" means toward compute (a smaller row index) and "below"
// means toward DRAM (a larger row index).
package schedule

import (
	"fmt"
	"strings"

	"github.com/sarchlab/dnnmap/arch"
	"github.com/sarchlab/dnnmap/layer"
	"github.com/sarchlab/dnnmap/loop"
)

// Row tags one table row with the level it describes.
type Row struct {
	Name     string
	Kind     arch.Kind
	Dataflow arch.Dataflow
}

// Table is a value type: Clone copies the flat cell slice, so a cloned table
// never aliases its origin.
type Table struct {
	rows    []Row
	cells   []int
	extents loop.Degrees
	layer   layer.Layer
}

// New creates a table with one row per level of the model. All degrees start
// at 1.
func New(m *arch.Model) *Table {
	t := &Table{
		rows:  make([]Row, m.Len()),
		cells: make([]int, m.Len()*loop.NumParams),
	}

	for i := 0; i < m.Len(); i++ {
		t.rows[i] = Row{
			Name: m.LevelName(i),
			Kind: m.Kind(i),
		}

		if t.rows[i].Kind == arch.Temporal {
			t.rows[i].Dataflow = m.Dataflow(i)
		}
	}

	for i := range t.cells {
		t.cells[i] = 1
	}

	return t
}

// LoadLayer resets the table to the untiled baseline of the layer: every row
// has degree 1 except DRAM, which holds the full extents.
func (t *Table) LoadLayer(l layer.Layer) {
	t.layer = l
	t.extents = l.Extents()

	for i := range t.cells {
		t.cells[i] = 1
	}

	t.setRow(t.DRAM(), t.extents)
}

// Layer returns the layer loaded into the table.
func (t *Table) Layer() layer.Layer {
	return t.layer
}

// Extents returns the loop bounds of the loaded layer.
func (t *Table) Extents() loop.Degrees {
	return t.extents
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// DRAM returns the index of the DRAM row.
func (t *Table) DRAM() int {
	return len(t.rows) - 1
}

// Row returns the tag of a row.
func (t *Table) Row(i int) Row {
	t.check(i)
	return t.rows[i]
}

// Kind returns the kind of a row.
func (t *Table) Kind(i int) arch.Kind {
	t.check(i)
	return t.rows[i].Kind
}

// Name returns the level name of a row.
func (t *Table) Name(i int) string {
	t.check(i)
	return t.rows[i].Name
}

// Dataflow returns the dataflow tag of a row.
func (t *Table) Dataflow(i int) arch.Dataflow {
	t.check(i)
	return t.rows[i].Dataflow
}

// SetDataflow changes the dataflow tag of a temporal row.
func (t *Table) SetDataflow(i int, df arch.Dataflow) {
	t.check(i)
	if t.rows[i].Kind != arch.Temporal {
		panic(fmt.Sprintf("row %d (%s) is not temporal", i, t.rows[i].Name))
	}

	t.rows[i].Dataflow = df
}

// Degree returns one cell.
func (t *Table) Degree(i int, p loop.Param) int {
	t.check(i)
	return t.cells[i*loop.NumParams+int(p)]
}

// Degrees returns the degrees of a row.
func (t *Table) Degrees(i int) loop.Degrees {
	t.check(i)

	var d loop.Degrees
	copy(d[:], t.cells[i*loop.NumParams:(i+1)*loop.NumParams])

	return d
}

func (t *Table) setRow(i int, d loop.Degrees) {
	copy(t.cells[i*loop.NumParams:(i+1)*loop.NumParams], d[:])
}

// UpdateRow overwrites the degrees of a row. Virtual rows are left untouched.
func (t *Table) UpdateRow(i int, d loop.Degrees) {
	t.check(i)
	if t.rows[i].Kind == arch.Virtual {
		return
	}

	for _, v := range d {
		if v <= 0 {
			panic(fmt.Sprintf("non-positive degree in %v for row %s", d, t.rows[i].Name))
		}
	}

	t.setRow(i, d)
}

// UpdateRows overwrites the non-virtual rows in the inclusive range
// [first, last], consuming one entry of list per non-virtual row.
func (t *Table) UpdateRows(first, last int, list []loop.Degrees) {
	rows := t.NonVirtual(first, last)
	if len(rows) != len(list) {
		panic(fmt.Sprintf("%d degree vectors for %d non-virtual rows in [%d, %d]",
			len(list), len(rows), first, last))
	}

	for k, i := range rows {
		t.UpdateRow(i, list[k])
	}
}

// NonVirtual returns the indices of the non-virtual rows in [first, last].
func (t *Table) NonVirtual(first, last int) []int {
	t.check(first)
	t.check(last)

	var rows []int
	for i := first; i <= last; i++ {
		if t.rows[i].Kind != arch.Virtual {
			rows = append(rows, i)
		}
	}

	return rows
}

// NearestTemporalAbove returns the first temporal row strictly above pos, or
// -1 when there is none.
func (t *Table) NearestTemporalAbove(pos int) int {
	t.check(pos)

	for i := pos - 1; i >= 0; i-- {
		if t.rows[i].Kind == arch.Temporal {
			return i
		}
	}

	return -1
}

// NearestTemporalBelow returns the first temporal row strictly below pos, or
// -1 when there is none.
func (t *Table) NearestTemporalBelow(pos int) int {
	t.check(pos)

	for i := pos + 1; i < len(t.rows); i++ {
		if t.rows[i].Kind == arch.Temporal {
			return i
		}
	}

	return -1
}

// ColumnProduct multiplies the degrees of one parameter over the inclusive
// row range [first, last].
func (t *Table) ColumnProduct(p loop.Param, first, last int) int {
	t.check(first)
	t.check(last)

	prod := 1
	for i := first; i <= last; i++ {
		prod *= t.cells[i*loop.NumParams+int(p)]
	}

	return prod
}

// CorrelationProduct multiplies the degrees of the correlation's parameters
// over the temporal rows from pos down to DRAM.
func (t *Table) CorrelationProduct(pos int, c loop.Correlation) int {
	t.check(pos)

	prod := 1
	for i := pos; i < len(t.rows); i++ {
		if t.rows[i].Kind != arch.Temporal {
			continue
		}

		for _, p := range c.Params() {
			prod *= t.cells[i*loop.NumParams+int(p)]
		}
	}

	return prod
}

// ColumnsIntact tells if every column multiplies to the layer extent.
func (t *Table) ColumnsIntact() bool {
	for _, p := range loop.Params {
		if t.ColumnProduct(p, 0, t.DRAM()) != t.extents[p] {
			return false
		}
	}

	return true
}

// Equal compares all cells and dataflow tags.
func (t *Table) Equal(o *Table) bool {
	if len(t.cells) != len(o.cells) {
		return false
	}

	for i := range t.rows {
		if t.rows[i] != o.rows[i] {
			return false
		}
	}

	for i := range t.cells {
		if t.cells[i] != o.cells[i] {
			return false
		}
	}

	return true
}

// Compare orders tables lexicographically by dataflow tags and then by cells.
// It returns -1, 0 or 1.
func (t *Table) Compare(o *Table) int {
	for i := 0; i < len(t.rows) && i < len(o.rows); i++ {
		if d := int(t.rows[i].Dataflow) - int(o.rows[i].Dataflow); d != 0 {
			return sign(d)
		}
	}

	for i := 0; i < len(t.cells) && i < len(o.cells); i++ {
		if d := t.cells[i] - o.cells[i]; d != 0 {
			return sign(d)
		}
	}

	return sign(len(t.cells) - len(o.cells))
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	c := &Table{
		rows:    make([]Row, len(t.rows)),
		cells:   make([]int, len(t.cells)),
		extents: t.extents,
		layer:   t.layer,
	}
	copy(c.rows, t.rows)
	copy(c.cells, t.cells)

	return c
}

func (t *Table) check(i int) {
	if i < 0 || i >= len(t.rows) {
		panic(fmt.Sprintf("row index %d out of range [0, %d)", i, len(t.rows)))
	}
}

func (t *Table) String() string {
	var sb strings.Builder
	for i, r := range t.rows {
		if r.Kind == arch.Virtual {
			continue
		}

		if sb.Len() > 0 {
			sb.WriteString(" | ")
		}
		fmt.Fprintf(&sb, "%s[%s]", r.Name, t.Degrees(i))
	}

	return sb.String()
}

// Package report renders schedules, cost reports and search results as
// tables.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/sarchlab/dnnmap/analyzer"
	"github.com/sarchlab/dnnmap/arch"
	"github.com/sarchlab/dnnmap/loop"
	"github.com/sarchlab/dnnmap/optimizer"
	"github.com/sarchlab/dnnmap/schedule"
)

// Format selects how tables are rendered.
type Format int

const (
	Text Format = iota
	CSV
	Markdown
)

// Name returns the name of the format.
func (f Format) Name() string {
	switch f {
	case Text:
		return "text"
	case CSV:
		return "csv"
	case Markdown:
		return "markdown"
	default:
		panic("invalid format")
	}
}

func (f Format) String() string {
	return f.Name()
}

// ParseFormat converts a name into a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "text", "":
		return Text, nil
	case "csv":
		return CSV, nil
	case "markdown", "md":
		return Markdown, nil
	default:
		return 0, fmt.Errorf("unknown format %q", name)
	}
}

// Printer writes tables to a writer.
type Printer struct {
	w      io.Writer
	format Format
}

// NewPrinter creates a printer that renders in the given format.
func NewPrinter(w io.Writer, f Format) *Printer {
	return &Printer{w: w, format: f}
}

func (p *Printer) newTable(title string) table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)

	// CSV has no title row.
	if p.format != CSV {
		tw.SetTitle(title)
	}

	return tw
}

func (p *Printer) render(tw table.Writer) {
	var out string
	switch p.format {
	case CSV:
		out = tw.RenderCSV()
	case Markdown:
		out = tw.RenderMarkdown()
	default:
		out = tw.Render()
	}

	fmt.Fprintln(p.w, out)
	fmt.Fprintln(p.w)
}

// Schedule writes one line per level with its degrees and dataflow.
func (p *Printer) Schedule(t *schedule.Table) {
	tw := p.newTable(fmt.Sprintf("Schedule of %s", t.Layer().Name))

	header := table.Row{"Level", "Kind", "Dataflow"}
	for _, param := range loop.Params {
		header = append(header, param.Name())
	}
	tw.AppendHeader(header)

	for i := 0; i < t.Len(); i++ {
		row := table.Row{t.Name(i), t.Kind(i).Name(), dataflowCell(t, i)}
		for _, d := range t.Degrees(i) {
			row = append(row, d)
		}
		tw.AppendRow(row)
	}

	footer := table.Row{"Extents", "", ""}
	for _, e := range t.Extents() {
		footer = append(footer, e)
	}
	tw.AppendFooter(footer)

	p.render(tw)
}

func dataflowCell(t *schedule.Table, i int) string {
	if t.Kind(i) != arch.Temporal {
		return "-"
	}

	return t.Dataflow(i).Name()
}

// Cost writes the per-level breakdown of a report followed by its issues.
func (p *Printer) Cost(m *arch.Model, rep *analyzer.Report) {
	tw := p.newTable("Cost")
	tw.AppendHeader(table.Row{
		"Level", "Energy (pJ)", "Cycle", "Static (pJ)",
		"Input", "Weight", "Output",
	})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})

	for i, lc := range rep.Levels {
		if m.Kind(i) != arch.Temporal {
			continue
		}

		acc := rep.Accesses[i]
		tw.AppendRow(table.Row{
			m.LevelName(i),
			number(lc.Energy), number(lc.Cycle), number(lc.StaticEnergy),
			acc[arch.Input], acc[arch.Weight], acc[arch.Output],
		})
	}

	tw.AppendRow(table.Row{
		"MAC", number(rep.MACEnergy), number(rep.MACCycle), "",
		fmt.Sprintf("%d MACs", rep.MACs),
		fmt.Sprintf("%d active", rep.ActiveMACs), "",
	})

	if rep.ReuseCredit.Volume > 0 {
		tw.AppendRow(table.Row{
			"Reuse credit",
			number(-rep.ReuseCredit.Energy), number(-rep.ReuseCredit.Cycle), "",
			rep.ReuseCredit.Volume, "", "",
		})
	}

	tw.AppendFooter(table.Row{
		"Total", number(rep.TotalEnergy), number(rep.TotalCycle),
		number(rep.StaticEnergy), "", "", "",
	})

	p.render(tw)

	if !rep.Valid {
		p.Issues(rep.Issues)
	}
}

// Issues writes the reasons a schedule is invalid.
func (p *Printer) Issues(issues []analyzer.Issue) {
	tw := p.newTable(fmt.Sprintf("%d issue(s)", len(issues)))
	tw.AppendHeader(table.Row{"Type", "Level", "Message"})

	for _, is := range issues {
		name := is.Name
		if is.Level < 0 {
			name = "-"
		}

		tw.AppendRow(table.Row{string(is.Type), name, is.Message})
	}

	p.render(tw)
}

// Search writes the best schedule of a layer, its cost and the best
// candidate of every dataflow assignment.
func (p *Printer) Search(res *optimizer.Result) {
	fmt.Fprintf(p.w, "Layer %s: best %s %s after %d evaluations\n\n",
		res.Layer, res.Metric, number(res.Cost()), res.Evaluated)

	p.Schedule(res.Best.Table)
	p.Cost(res.Best.Model, res.Best.Report)

	if len(res.PerDataflow) < 2 {
		return
	}

	tw := p.newTable("Best per dataflow")
	tw.AppendHeader(table.Row{"Dataflows", "Energy (pJ)", "Cycle", res.Metric.Name()})

	for _, c := range res.PerDataflow {
		tw.AppendRow(table.Row{
			dataflows(c.Table),
			number(c.Report.TotalEnergy), number(c.Report.TotalCycle),
			number(c.Cost(res.Metric)),
		})
	}

	p.render(tw)
}

func dataflows(t *schedule.Table) string {
	var names []string
	for i := 0; i < t.Len(); i++ {
		if t.Kind(i) == arch.Temporal && i != t.DRAM() {
			names = append(names, t.Name(i)+"="+t.Dataflow(i).Name())
		}
	}

	return strings.Join(names, " ")
}

// ChipPlan writes the chip budget of every layer of a multi-chip plan.
func (p *Printer) ChipPlan(plan *optimizer.ChipPlan) {
	tw := p.newTable(fmt.Sprintf("Chip partition (%d chips)", plan.Chips))
	tw.AppendHeader(table.Row{"Layer", "Chips", "Energy (pJ)", "Cycle", "Input tile"})

	for _, a := range plan.Assignments {
		rep := a.Option.Candidate.Report
		tw.AppendRow(table.Row{
			a.Layer.Name, a.Option.Chips,
			number(rep.TotalEnergy), number(rep.TotalCycle),
			a.Option.InputTile,
		})
	}

	if plan.CreditEnergy > 0 {
		tw.AppendRow(table.Row{"Shared input", "", number(-plan.CreditEnergy), "", ""})
	}

	tw.AppendFooter(table.Row{
		"Total", plan.Chips, number(plan.Energy), number(plan.Cycle), "",
	})

	p.render(tw)
}

// Network writes one line per layer of a network search.
func (p *Printer) Network(res *optimizer.NetworkResult) {
	tw := p.newTable(fmt.Sprintf("Network %s", res.Network.Name()))
	tw.AppendHeader(table.Row{
		"Layer", "Energy (pJ)", "Cycle", "Reuse (words)", "Evaluated",
	})

	for _, r := range res.Layers {
		rep := r.Best.Report
		tw.AppendRow(table.Row{
			r.Layer.Name,
			number(rep.TotalEnergy), number(rep.TotalCycle),
			rep.ReuseCredit.Volume, r.Evaluated,
		})
	}

	tw.AppendFooter(table.Row{
		"Total", number(res.Energy), number(res.Cycle), "", "",
	})

	p.render(tw)
}

func number(v float64) string {
	return fmt.Sprintf("%.4g", v)
}

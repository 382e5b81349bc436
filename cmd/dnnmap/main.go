// Command dnnmap searches the schedule space of DNN layers on an accelerator
// and reports the best schedules with their energy and cycle counts.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/sarchlab/dnnmap/analyzer"
	"github.com/sarchlab/dnnmap/config"
	"github.com/sarchlab/dnnmap/layer"
	"github.com/sarchlab/dnnmap/optimizer"
	"github.com/sarchlab/dnnmap/report"
	"github.com/tebeka/atexit"
)

type options struct {
	hardware  string
	network   string
	layer     string
	schedule  string
	mode      string
	metric    string
	format    string
	threads   int
	partition bool
	out       string
	logPath   string
	trace     bool
}

func parseFlags() options {
	var o options

	flag.StringVar(&o.hardware, "hw", "", "accelerator description (YAML)")
	flag.StringVar(&o.network, "net", "", "network description (YAML)")
	flag.StringVar(&o.layer, "layer", "", "search only the named layer")
	flag.StringVar(&o.schedule, "schedule", "",
		"evaluate this schedule for -layer instead of searching")
	flag.StringVar(&o.mode, "mode", "bottomup", "search mode: bottomup or bruteforce")
	flag.StringVar(&o.metric, "metric", "energy", "metric to minimize: energy, cycle or edp")
	flag.StringVar(&o.format, "format", "text", "output format: text, csv or markdown")
	flag.IntVar(&o.threads, "threads", 1, "number of search workers")
	flag.BoolVar(&o.partition, "partition", false,
		"split the chips of the accelerator among the layers of the network")
	flag.StringVar(&o.out, "out", "", "write the best schedule of -layer to this file")
	flag.StringVar(&o.logPath, "log", "", "write JSON logs to this file instead of stderr")
	flag.BoolVar(&o.trace, "trace", false, "log every evaluated candidate")
	flag.Parse()

	return o
}

func setupLogger(o options) *slog.Logger {
	w := os.Stderr
	if o.logPath != "" {
		f, err := os.Create(o.logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot create log file: %v\n", err)
			atexit.Exit(1)
		}

		atexit.Register(func() {
			f.Sync()
			f.Close()
		})

		w = f
	}

	level := slog.LevelInfo
	if o.trace {
		level = optimizer.LevelTrace
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func main() {
	o := parseFlags()

	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "dnnmap: %v\n", err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func run(o options) error {
	if o.hardware == "" || o.network == "" {
		flag.Usage()
		return fmt.Errorf("-hw and -net are required")
	}

	logger := setupLogger(o)
	slog.SetDefault(logger)

	model, err := config.LoadHardware(o.hardware)
	if err != nil {
		return err
	}

	net, err := config.LoadNetwork(o.network)
	if err != nil {
		return err
	}

	metric, err := analyzer.ParseMetric(o.metric)
	if err != nil {
		return err
	}

	mode, err := optimizer.ParseMode(o.mode)
	if err != nil {
		return err
	}

	format, err := report.ParseFormat(o.format)
	if err != nil {
		return err
	}

	printer := report.NewPrinter(os.Stdout, format)

	logger.Info("accelerator loaded",
		"name", model.Name(),
		"levels", model.Len(),
		"pes", model.TotalPEs(),
		"chips", model.TotalChips(),
		"peak_power", model.TheoreticalPeakPower())

	opt := optimizer.NewBuilder().
		WithModel(model).
		WithThreads(o.threads).
		WithMetric(metric).
		WithLogger(logger).
		Build()

	switch {
	case o.partition:
		plan, err := opt.PartitionChips(net.Layers())
		if err != nil {
			return err
		}

		printer.ChipPlan(plan)

		return nil
	case o.layer != "":
		l, ok := net.ByName(o.layer)
		if !ok {
			return fmt.Errorf("network %s has no layer %q", net.Name(), o.layer)
		}

		return runLayer(o, opt, printer, l, mode)
	default:
		res, err := opt.SearchNetwork(net, mode)
		if err != nil {
			return err
		}

		printer.Network(res)

		return nil
	}
}

func runLayer(
	o options,
	opt *optimizer.Optimizer,
	printer *report.Printer,
	l layer.Layer,
	mode optimizer.Mode,
) error {
	if o.schedule != "" {
		t, err := config.LoadSchedule(o.schedule, opt.Model(), l)
		if err != nil {
			return err
		}

		c := opt.Evaluate(t)
		printer.Schedule(c.Table)
		printer.Cost(c.Model, c.Report)

		return nil
	}

	res, err := opt.Search(l, mode)
	if err != nil {
		return err
	}

	printer.Search(res)

	if o.out != "" {
		return config.SaveSchedule(o.out, res.Best.Table)
	}

	return nil
}

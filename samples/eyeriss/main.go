package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"github.com/sarchlab/dnnmap/analyzer"
	"github.com/sarchlab/dnnmap/config"
	"github.com/sarchlab/dnnmap/optimizer"
	"github.com/sarchlab/dnnmap/report"
	"github.com/tebeka/atexit"
)

//go:embed hw.yaml
var hardware []byte

//go:embed net.yaml
var network []byte

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	model, err := config.ParseHardware(hardware)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	net, err := config.ParseNetwork(network)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	opt := optimizer.NewBuilder().
		WithModel(model).
		WithThreads(4).
		WithMetric(analyzer.EDP).
		Build()

	res, err := opt.SearchNetwork(net, optimizer.BottomUpMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	p := report.NewPrinter(os.Stdout, report.Text)
	for _, r := range res.Layers {
		p.Search(r)
	}
	p.Network(res)

	atexit.Exit(0)
}

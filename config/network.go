package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sarchlab/dnnmap/layer"
)

type networkFile struct {
	Name   string      `yaml:"name"`
	Layers []layerFile `yaml:"layers"`
}

type layerFile struct {
	Name   string `yaml:"name"`
	K      int    `yaml:"k"`
	B      int    `yaml:"b"`
	P      int    `yaml:"p"`
	Q      int    `yaml:"q"`
	C      int    `yaml:"c"`
	R      int    `yaml:"r"`
	S      int    `yaml:"s"`
	G      int    `yaml:"g"`
	Stride int    `yaml:"stride"`
	Type   string `yaml:"type"`
}

// LoadNetwork reads a network description file.
func LoadNetwork(path string) (*layer.Network, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	n, err := ParseNetwork(data)
	if err != nil {
		return nil, errors.Wrapf(err, "network file %s", path)
	}

	return n, nil
}

// ParseNetwork builds a network from a YAML description. B, R, S, G and the
// stride default to 1 when omitted.
func ParseNetwork(data []byte) (*layer.Network, error) {
	var f networkFile
	if err := decode(data, &f); err != nil {
		return nil, err
	}

	if len(f.Layers) == 0 {
		return nil, errors.New("network has no layer")
	}

	layers := make([]layer.Layer, 0, len(f.Layers))
	for i, lf := range f.Layers {
		l, err := toLayer(lf)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d (%s)", i, lf.Name)
		}

		layers = append(layers, l)
	}

	return layer.NewNetwork(f.Name, layers)
}

func toLayer(lf layerFile) (layer.Layer, error) {
	l := layer.Layer{
		Name:   lf.Name,
		K:      lf.K,
		B:      defaultOne(lf.B),
		P:      lf.P,
		Q:      lf.Q,
		C:      lf.C,
		R:      defaultOne(lf.R),
		S:      defaultOne(lf.S),
		G:      defaultOne(lf.G),
		Stride: defaultOne(lf.Stride),
	}

	switch strings.ToLower(lf.Type) {
	case "", "conv", "fc":
	case "group":
		l.Grouped = true
	case "depthwise":
		l.Grouped = true
		l.G = l.C
		if l.K == 0 {
			l.K = l.C
		}
	default:
		return l, errors.Errorf("unknown layer type %q", lf.Type)
	}

	if l.G > 1 {
		l.Grouped = true
	}

	return l, l.Validate()
}

func defaultOne(v int) int {
	if v == 0 {
		return 1
	}

	return v
}

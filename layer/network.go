package layer

import "fmt"

// Network is an ordered, immutable list of layers.
type Network struct {
	name   string
	layers []Layer
}

// NewNetwork validates the layers and creates a network.
func NewNetwork(name string, layers []Layer) (*Network, error) {
	seen := make(map[string]bool)
	for _, l := range layers {
		if err := l.Validate(); err != nil {
			return nil, err
		}

		if seen[l.Name] {
			return nil, fmt.Errorf("network %s: duplicate layer name %s", name, l.Name)
		}
		seen[l.Name] = true
	}

	n := &Network{
		name:   name,
		layers: make([]Layer, len(layers)),
	}
	copy(n.layers, layers)

	return n, nil
}

// Name returns the name of the network.
func (n *Network) Name() string {
	return n.name
}

// Len returns the number of layers.
func (n *Network) Len() int {
	return len(n.layers)
}

// Layer returns the layer at the given index.
func (n *Network) Layer(i int) Layer {
	return n.layers[i]
}

// Layers returns a copy of all layers.
func (n *Network) Layers() []Layer {
	out := make([]Layer, len(n.layers))
	copy(out, n.layers)

	return out
}

// ByName returns the layer with the given name.
func (n *Network) ByName(name string) (Layer, bool) {
	for _, l := range n.layers {
		if l.Name == name {
			return l, true
		}
	}

	return Layer{}, false
}

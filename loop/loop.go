// Package loop defines the loop-nest parameters of a convolution layer and
// the reuse correlations between them.
package loop

import (
	"fmt"
	"strings"
)

// Param identifies one of the eight loop-nest parameters.
type Param int

const (
	K Param = iota // output channels
	B              // batch
	P              // output height
	Q              // output width
	C              // input channels
	R              // filter height
	S              // filter width
	G              // groups
)

// NumParams is the number of loop-nest parameters.
const NumParams = 8

// Params lists all parameters in table column order.
var Params = [NumParams]Param{K, B, P, Q, C, R, S, G}

var paramNames = [NumParams]string{"K", "B", "P", "Q", "C", "R", "S", "G"}

// Name returns the single-letter name of the parameter.
func (p Param) Name() string {
	if p < 0 || int(p) >= NumParams {
		panic(fmt.Sprintf("invalid param %d", int(p)))
	}

	return paramNames[p]
}

func (p Param) String() string {
	return p.Name()
}

// ParseParam converts a parameter name into a Param. It is case insensitive.
func ParseParam(name string) (Param, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	for i, pn := range paramNames {
		if pn == n {
			return Param(i), nil
		}
	}

	return 0, fmt.Errorf("unknown loop parameter %q", name)
}

// Degrees is one tiling-degree value per parameter.
type Degrees [NumParams]int

// Ones returns a degree vector with every entry set to 1.
func Ones() Degrees {
	var d Degrees
	for i := range d {
		d[i] = 1
	}

	return d
}

// Product multiplies all entries.
func (d Degrees) Product() int {
	prod := 1
	for _, v := range d {
		prod *= v
	}

	return prod
}

// ProductOf multiplies the entries of the given parameters.
func (d Degrees) ProductOf(params ...Param) int {
	prod := 1
	for _, p := range params {
		prod *= d[p]
	}

	return prod
}

// Mul returns the element-wise product of two degree vectors.
func (d Degrees) Mul(o Degrees) Degrees {
	var out Degrees
	for i := range d {
		out[i] = d[i] * o[i]
	}

	return out
}

func (d Degrees) String() string {
	parts := make([]string, NumParams)
	for i, v := range d {
		parts[i] = fmt.Sprintf("%d", v)
	}

	return strings.Join(parts, ",")
}

// Correlation is a group of parameters that are shared by the same pair of
// operands. The product of a correlation's degrees determines how often the
// operands that depend on it must be refetched.
type Correlation int

const (
	WO  Correlation = iota // weight-output: K
	OI                     // output-input: B, P, Q
	IW                     // input-weight: C, R, S
	IWO                    // all three: G
)

// NumCorrelations is the number of correlations.
const NumCorrelations = 4

var correlationParams = [NumCorrelations][]Param{
	WO:  {K},
	OI:  {B, P, Q},
	IW:  {C, R, S},
	IWO: {G},
}

// Params returns the parameters that make up the correlation.
func (c Correlation) Params() []Param {
	return correlationParams[c]
}

// Name returns the name of the correlation.
func (c Correlation) Name() string {
	switch c {
	case WO:
		return "WO"
	case OI:
		return "OI"
	case IW:
		return "IW"
	case IWO:
		return "IWO"
	default:
		panic("invalid correlation")
	}
}

func (c Correlation) String() string {
	return c.Name()
}

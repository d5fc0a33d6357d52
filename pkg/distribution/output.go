// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distribution

import (
	"strings"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/pkg/errors"
)

// Arg describes one parameter of a distribution: its name and the number of values per time step the
// projection produces for it.
type Arg struct {
	Name string
	Dim  int
}

// Output is the "distribution output head" of a model: it knows which parameters a distribution family takes,
// how to map raw projections to their valid domain, and how to build the Distribution, optionally rescaled.
type Output interface {
	// Name of the distribution family, as accepted by OutputFromName.
	Name() string

	// Args returns the ordered list of parameters.
	Args() []Arg

	// DomainMap maps the raw projections (already with the last axis of dimension 1 squeezed) to the
	// parameters' valid domain.
	DomainMap(raw Params) Params

	// Distribution builds the distribution from the (domain-mapped) parameters.
	// loc and scale are optional (can be nil), and are broadcast to the shape of the parameters.
	Distribution(params Params, loc, scale *Node) Distribution

	// IsDiscrete returns whether the distribution is over integer counts.
	IsDiscrete() bool
}

// ArgsProj projects x (shaped [..., features]) to the parameters of output's distribution, returned with the
// shape of x minus its last axis.
//
// Each parameter gets its own dense layer, in the scope "proj_<name>".
func ArgsProj(ctx *context.Context, output Output, x *Node) Params {
	raw := make(Params, len(output.Args()))
	for _, arg := range output.Args() {
		proj := layers.Dense(ctx.In("proj_"+arg.Name), x, true, arg.Dim)
		if arg.Dim == 1 {
			proj = Squeeze(proj, -1)
		}
		raw[arg.Name] = proj
	}
	return output.DomainMap(raw)
}

// ParamsToList returns the parameters in the order of output.Args.
func ParamsToList(output Output, params Params) []*Node {
	list := make([]*Node, 0, len(output.Args()))
	for _, arg := range output.Args() {
		list = append(list, params.Get(output.Name(), arg.Name))
	}
	return list
}

// ParamsFromList is the inverse of ParamsToList. It panics if list has fewer elements than output.Args.
func ParamsFromList(output Output, list []*Node) Params {
	args := output.Args()
	if len(list) < len(args) {
		exceptions.Panicf("distribution %s takes %d parameters, got only %d", output.Name(), len(args), len(list))
	}
	params := make(Params, len(args))
	for ii, arg := range args {
		params[arg.Name] = list[ii]
	}
	return params
}

// Output names accepted by OutputFromName.
const (
	GaussianName               = "gaussian"
	StudentTName               = "student_t"
	NegativeBinomialName       = "negative_binomial"
	NegativeBinomialLogitsName = "negative_binomial_logits"
)

// OutputFromName returns the Output for the given distribution family name.
func OutputFromName(name string) (Output, error) {
	switch strings.ToLower(name) {
	case GaussianName, "normal":
		return GaussianOutput{}, nil
	case StudentTName, "studentt":
		return StudentTOutput{}, nil
	case NegativeBinomialName, "negbin":
		return NegativeBinomialOutput{}, nil
	case NegativeBinomialLogitsName:
		return NegativeBinomialLogitsOutput{}, nil
	}
	return nil, errors.Errorf("unknown distribution %q, valid values are %q", name,
		[]string{GaussianName, StudentTName, NegativeBinomialName, NegativeBinomialLogitsName})
}

// positiveEpsilon is added to softplus-mapped parameters that must be strictly positive.
const positiveEpsilon = 1e-6

func positive(x *Node) *Node {
	return AddScalar(Softplus(x), positiveEpsilon)
}

// GaussianOutput produces mu and sigma = softplus(·).
type GaussianOutput struct{}

var _ Output = GaussianOutput{}

func (GaussianOutput) Name() string     { return GaussianName }
func (GaussianOutput) IsDiscrete() bool { return false }
func (GaussianOutput) Args() []Arg      { return []Arg{{"mu", 1}, {"sigma", 1}} }

func (GaussianOutput) DomainMap(raw Params) Params {
	return Params{
		"mu":    raw.Get(GaussianName, "mu"),
		"sigma": positive(raw.Get(GaussianName, "sigma")),
	}
}

func (GaussianOutput) Distribution(params Params, loc, scale *Node) Distribution {
	base := NewGaussian(params)
	if loc == nil && scale == nil {
		return base
	}
	return NewAffineTransformed(base, loc, scale)
}

// StudentTOutput produces mu, sigma = softplus(·) and nu = 2 + softplus(·), so the variance is always defined.
type StudentTOutput struct{}

var _ Output = StudentTOutput{}

func (StudentTOutput) Name() string     { return StudentTName }
func (StudentTOutput) IsDiscrete() bool { return false }
func (StudentTOutput) Args() []Arg      { return []Arg{{"mu", 1}, {"sigma", 1}, {"nu", 1}} }

func (StudentTOutput) DomainMap(raw Params) Params {
	return Params{
		"mu":    raw.Get(StudentTName, "mu"),
		"sigma": positive(raw.Get(StudentTName, "sigma")),
		"nu":    AddScalar(Softplus(raw.Get(StudentTName, "nu")), 2),
	}
}

func (StudentTOutput) Distribution(params Params, loc, scale *Node) Distribution {
	base := NewStudentT(params)
	if loc == nil && scale == nil {
		return base
	}
	return NewAffineTransformed(base, loc, scale)
}

// NegativeBinomialOutput produces mu and alpha, both mapped with softplus.
//
// Since samples must remain integers, it is not rescaled with an affine transformation: instead mu is
// multiplied by the scale. loc is not supported and must be nil.
type NegativeBinomialOutput struct{}

var _ Output = NegativeBinomialOutput{}

func (NegativeBinomialOutput) Name() string     { return NegativeBinomialName }
func (NegativeBinomialOutput) IsDiscrete() bool { return true }
func (NegativeBinomialOutput) Args() []Arg      { return []Arg{{"mu", 1}, {"alpha", 1}} }

func (NegativeBinomialOutput) DomainMap(raw Params) Params {
	return Params{
		"mu":    positive(raw.Get(NegativeBinomialName, "mu")),
		"alpha": positive(raw.Get(NegativeBinomialName, "alpha")),
	}
}

func (NegativeBinomialOutput) Distribution(params Params, loc, scale *Node) Distribution {
	if loc != nil {
		exceptions.Panicf("distribution %s doesn't support a location shift", NegativeBinomialName)
	}
	d := NewNegativeBinomial(params)
	if scale != nil {
		d.Mu = Mul(d.Mu, broadcastLike(scale, d.Mu))
	}
	return d
}

// NegativeBinomialLogitsOutput produces total_count = softplus(·) and unconstrained logits.
//
// Scaling is done by adding log(scale) to the logits, which multiplies the mean by scale.
// loc is not supported and must be nil.
type NegativeBinomialLogitsOutput struct{}

var _ Output = NegativeBinomialLogitsOutput{}

func (NegativeBinomialLogitsOutput) Name() string     { return NegativeBinomialLogitsName }
func (NegativeBinomialLogitsOutput) IsDiscrete() bool { return true }
func (NegativeBinomialLogitsOutput) Args() []Arg {
	return []Arg{{"total_count", 1}, {"logits", 1}}
}

func (NegativeBinomialLogitsOutput) DomainMap(raw Params) Params {
	return Params{
		"total_count": positive(raw.Get(NegativeBinomialLogitsName, "total_count")),
		"logits":      raw.Get(NegativeBinomialLogitsName, "logits"),
	}
}

func (NegativeBinomialLogitsOutput) Distribution(params Params, loc, scale *Node) Distribution {
	if loc != nil {
		exceptions.Panicf("distribution %s doesn't support a location shift", NegativeBinomialLogitsName)
	}
	d := NewNegativeBinomialLogits(params)
	if scale != nil {
		d.Logits = Add(d.Logits, broadcastLike(Log(scale), d.Logits))
	}
	return d
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package distribution implements the output distributions of probabilistic forecasting models, as pure
// functions of graph nodes.
//
// A Distribution is built from a named set of parameters (Params) produced per time step by a model, and
// offers the log-likelihood of observed values (used as loss during training) and sampling (used for
// prediction). Each family has a corresponding Output that projects the model's hidden state into the
// parameters and maps them to their valid domain.
//
// The families are Gaussian, StudentT, NegativeBinomial (parametrized with mu and alpha) and
// NegativeBinomialLogits (parametrized with total_count and logits). AffineTransformed wraps any of them
// with a location and a scale, which is used to undo the scaling of the target values.
//
// The log-likelihood is finite for parameters in their documented valid ranges. Outside of them (e.g.: a
// negative sigma), the result is NaN or ±Inf: invalid values are not silently clipped.
package distribution

import (
	"maps"
	"math"
	"slices"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Distribution over values of the same shape as its parameters.
type Distribution interface {
	// LogProb returns the log-likelihood of x, with the same shape as the parameters.
	LogProb(x *Node) *Node

	// Sample draws numSamples values per parameter, returned shaped [numSamples, <parameters shape>...].
	// If numSamples is 0 the samples axis is omitted and the result has the shape of the parameters.
	//
	// Random values are drawn from the context's random number generator.
	Sample(ctx *context.Context, numSamples int) *Node

	// Mean of the distribution.
	Mean() *Node

	// Variance of the distribution.
	Variance() *Node
}

// Params holds the named parameters of a distribution, e.g. "mu" and "alpha".
type Params map[string]*Node

// Get returns the parameter with the given name, and panics if it is missing.
func (p Params) Get(distributionName, paramName string) *Node {
	param, found := p[paramName]
	if !found || param == nil {
		names := slices.Sorted(maps.Keys(p))
		exceptions.Panicf("distribution %s requires parameter %q, but only got %q", distributionName, paramName, names)
	}
	return param
}

// Gaussian (normal) distribution with mean mu and standard deviation sigma > 0.
type Gaussian struct {
	Mu, Sigma *Node
}

var _ Distribution = (*Gaussian)(nil)

// NewGaussian creates a Gaussian from the parameters "mu" and "sigma". It panics if any of them is missing.
func NewGaussian(params Params) *Gaussian {
	return &Gaussian{
		Mu:    params.Get("Gaussian", "mu"),
		Sigma: params.Get("Gaussian", "sigma"),
	}
}

// LogProb implements Distribution.
func (d *Gaussian) LogProb(x *Node) *Node {
	z := Div(Sub(x, d.Mu), d.Sigma)
	logProb := Neg(Add(MulScalar(Square(z), 0.5), Log(d.Sigma)))
	return AddScalar(logProb, -0.5*math.Log(2*math.Pi))
}

// Sample implements Distribution.
func (d *Gaussian) Sample(ctx *context.Context, numSamples int) *Node {
	mu := expandSamples(d.Mu, numSamples)
	sigma := expandSamples(d.Sigma, numSamples)
	noise := ctx.RandomNormal(mu.Graph(), mu.Shape())
	return Add(mu, Mul(sigma, noise))
}

// Mean implements Distribution.
func (d *Gaussian) Mean() *Node { return d.Mu }

// Variance implements Distribution.
func (d *Gaussian) Variance() *Node { return Square(d.Sigma) }

// StudentT distribution with location mu, scale sigma > 0 and degrees of freedom nu > 0.
type StudentT struct {
	Mu, Sigma, Nu *Node
}

var _ Distribution = (*StudentT)(nil)

// NewStudentT creates a StudentT from the parameters "mu", "sigma" and "nu". It panics if any of them is missing.
func NewStudentT(params Params) *StudentT {
	return &StudentT{
		Mu:    params.Get("StudentT", "mu"),
		Sigma: params.Get("StudentT", "sigma"),
		Nu:    params.Get("StudentT", "nu"),
	}
}

// LogProb implements Distribution.
//
//	log Γ((ν+1)/2) - log Γ(ν/2) - ½·log(πν) - log σ - (ν+1)/2 · log(1 + z²/ν), with z = (x-μ)/σ
func (d *StudentT) LogProb(x *Node) *Node {
	nuPlus1Half := MulScalar(AddScalar(d.Nu, 1), 0.5)
	z := Div(Sub(x, d.Mu), d.Sigma)
	normalization := Sub(LogGamma(nuPlus1Half), LogGamma(MulScalar(d.Nu, 0.5)))
	normalization = Sub(normalization, MulScalar(Log(MulScalar(d.Nu, math.Pi)), 0.5))
	normalization = Sub(normalization, Log(d.Sigma))
	return Sub(normalization, Mul(nuPlus1Half, Log1p(Div(Square(z), d.Nu))))
}

// Sample implements Distribution: μ + σ·Z/sqrt(V/ν), with Z standard normal and V ~ χ²(ν) = 2·Gamma(ν/2, 1).
func (d *StudentT) Sample(ctx *context.Context, numSamples int) *Node {
	mu := expandSamples(d.Mu, numSamples)
	sigma := expandSamples(d.Sigma, numSamples)
	nu := expandSamples(d.Nu, numSamples)
	z := ctx.RandomNormal(mu.Graph(), mu.Shape())
	chi2 := MulScalar(SampleStandardGamma(ctx, MulScalar(nu, 0.5)), 2)
	t := Div(z, Sqrt(Div(chi2, nu)))
	return Add(mu, Mul(sigma, t))
}

// Mean implements Distribution. It is only defined for ν > 1, and NaN otherwise.
func (d *StudentT) Mean() *Node {
	g := d.Mu.Graph()
	nan := Scalar(g, d.Mu.DType(), math.NaN())
	return Where(GreaterThan(d.Nu, OnesLike(d.Nu)), d.Mu, BroadcastToShape(nan, d.Mu.Shape()))
}

// Variance implements Distribution: σ²·ν/(ν-2) for ν > 2, +Inf for 1 < ν <= 2 and NaN otherwise.
func (d *StudentT) Variance() *Node {
	g := d.Nu.Graph()
	dtype := d.Nu.DType()
	two := Scalar(g, dtype, 2)
	safeNu := Where(GreaterThan(d.Nu, two), d.Nu, BroadcastToShape(Scalar(g, dtype, 3), d.Nu.Shape()))
	variance := Mul(Square(d.Sigma), Div(safeNu, AddScalar(safeNu, -2)))
	variance = Where(GreaterThan(d.Nu, two), variance,
		BroadcastToShape(Scalar(g, dtype, math.Inf(1)), variance.Shape()))
	return Where(GreaterThan(d.Nu, OnesLike(d.Nu)), variance,
		BroadcastToShape(Scalar(g, dtype, math.NaN()), variance.Shape()))
}

// NegativeBinomial distribution over counts, parametrized by its mean mu > 0 and shape alpha > 0, with
// variance mu + alpha·mu².
type NegativeBinomial struct {
	Mu, Alpha *Node
}

var _ Distribution = (*NegativeBinomial)(nil)

// NewNegativeBinomial creates a NegativeBinomial from the parameters "mu" and "alpha".
// It panics if any of them is missing.
func NewNegativeBinomial(params Params) *NegativeBinomial {
	return &NegativeBinomial{
		Mu:    params.Get("NegativeBinomial", "mu"),
		Alpha: params.Get("NegativeBinomial", "alpha"),
	}
}

// LogProb implements Distribution. x should hold non-negative integer values.
//
//	x·log(αμ/(1+αμ)) - (1/α)·log(1+αμ) + log Γ(x+1/α) - log Γ(x+1) - log Γ(1/α)
func (d *NegativeBinomial) LogProb(x *Node) *Node {
	alphaInv := Reciprocal(d.Alpha)
	alphaTimesMu := Mul(d.Alpha, d.Mu)
	logOnePlusAlphaMu := Log1p(alphaTimesMu)
	logProb := Mul(x, Sub(Log(alphaTimesMu), logOnePlusAlphaMu))
	logProb = Sub(logProb, Mul(alphaInv, logOnePlusAlphaMu))
	logProb = Add(logProb, LogGamma(Add(x, alphaInv)))
	logProb = Sub(logProb, LogGamma(AddScalar(x, 1)))
	return Sub(logProb, LogGamma(alphaInv))
}

// Sample implements Distribution, as a Gamma-Poisson mixture: λ ~ Gamma(1/α, αμ), x ~ Poisson(λ).
func (d *NegativeBinomial) Sample(ctx *context.Context, numSamples int) *Node {
	mu := expandSamples(d.Mu, numSamples)
	alpha := expandSamples(d.Alpha, numSamples)
	rate := SampleGamma(ctx, Reciprocal(alpha), Mul(alpha, mu))
	return SamplePoisson(ctx, rate)
}

// Mean implements Distribution.
func (d *NegativeBinomial) Mean() *Node { return d.Mu }

// Variance implements Distribution: μ + α·μ².
func (d *NegativeBinomial) Variance() *Node { return Add(d.Mu, Mul(d.Alpha, Square(d.Mu))) }

// NegativeBinomialLogits is the negative binomial distribution parametrized by the number of failures
// total_count > 0 and the log-odds of success logits.
type NegativeBinomialLogits struct {
	TotalCount, Logits *Node
}

var _ Distribution = (*NegativeBinomialLogits)(nil)

// NewNegativeBinomialLogits creates a NegativeBinomialLogits from the parameters "total_count" and "logits".
// It panics if any of them is missing.
func NewNegativeBinomialLogits(params Params) *NegativeBinomialLogits {
	return &NegativeBinomialLogits{
		TotalCount: params.Get("NegativeBinomialLogits", "total_count"),
		Logits:     params.Get("NegativeBinomialLogits", "logits"),
	}
}

// LogProb implements Distribution. x should hold non-negative integer values.
//
//	r·logσ(-l) + x·logσ(l) + log Γ(r+x) - log Γ(x+1) - log Γ(r)
func (d *NegativeBinomialLogits) LogProb(x *Node) *Node {
	r := d.TotalCount
	unnormalized := Add(Mul(r, LogSigmoid(Neg(d.Logits))), Mul(x, LogSigmoid(d.Logits)))
	normalization := Sub(
		Add(LogGamma(AddScalar(x, 1)), LogGamma(r)),
		LogGamma(Add(r, x)))
	return Sub(unnormalized, normalization)
}

// Sample implements Distribution: λ ~ Gamma(r, exp(logits)), x ~ Poisson(λ).
func (d *NegativeBinomialLogits) Sample(ctx *context.Context, numSamples int) *Node {
	r := expandSamples(d.TotalCount, numSamples)
	logits := expandSamples(d.Logits, numSamples)
	rate := SampleGamma(ctx, r, Exp(logits))
	return SamplePoisson(ctx, rate)
}

// Mean implements Distribution.
func (d *NegativeBinomialLogits) Mean() *Node { return Mul(d.TotalCount, Exp(d.Logits)) }

// Variance implements Distribution: mean·(1 + exp(logits)).
func (d *NegativeBinomialLogits) Variance() *Node {
	return Mul(d.Mean(), AddScalar(Exp(d.Logits), 1))
}

// AffineTransformed is the distribution of y = x·scale + loc, where x follows the Base distribution.
type AffineTransformed struct {
	Base Distribution

	// Loc and Scale are broadcast to the shape of the values they are applied to.
	Loc, Scale *Node
}

var _ Distribution = (*AffineTransformed)(nil)

// NewAffineTransformed wraps base with the given loc and scale. Either can be nil, in which case they default
// to 0 and 1 respectively.
func NewAffineTransformed(base Distribution, loc, scale *Node) *AffineTransformed {
	mean := base.Mean()
	if loc == nil {
		loc = ZerosLike(mean)
	}
	if scale == nil {
		scale = OnesLike(mean)
	}
	return &AffineTransformed{Base: base, Loc: loc, Scale: scale}
}

// LogProb implements Distribution: base.LogProb((y-loc)/scale) - log|scale|.
func (d *AffineTransformed) LogProb(y *Node) *Node {
	loc := broadcastLike(d.Loc, y)
	scale := broadcastLike(d.Scale, y)
	x := Div(Sub(y, loc), scale)
	return Sub(d.Base.LogProb(x), Log(Abs(scale)))
}

// Sample implements Distribution.
func (d *AffineTransformed) Sample(ctx *context.Context, numSamples int) *Node {
	sample := d.Base.Sample(ctx, numSamples)
	return Add(Mul(sample, broadcastLike(d.Scale, sample)), broadcastLike(d.Loc, sample))
}

// Mean implements Distribution.
func (d *AffineTransformed) Mean() *Node {
	mean := d.Base.Mean()
	return Add(Mul(mean, broadcastLike(d.Scale, mean)), broadcastLike(d.Loc, mean))
}

// Variance implements Distribution: base variance times scale².
func (d *AffineTransformed) Variance() *Node {
	variance := d.Base.Variance()
	return Mul(variance, Square(broadcastLike(d.Scale, variance)))
}

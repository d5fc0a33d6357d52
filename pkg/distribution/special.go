// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distribution

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// lanczosCoefficients for g=7, n=9.
var lanczosCoefficients = [...]float64{
	0.99999999999980993,
	676.5203681218851,
	-1259.1392167224028,
	771.32342877765313,
	-176.61502916214059,
	12.507343278686905,
	-0.13857109526572012,
	9.9843695780195716e-6,
	1.5056327351493116e-7,
}

const lanczosG = 7.0

// LogGamma returns log(|Γ(x)|) element-wise, using the Lanczos approximation and, for x < 0.5, the reflection
// formula Γ(x)Γ(1-x) = π/sin(πx).
//
// It is differentiable with respect to x. Γ has poles at 0, -1, -2, ..., where it returns +Inf.
func LogGamma(x *Node) *Node {
	g := x.Graph()
	dtype := x.DType()
	reflect := LessThan(x, Scalar(g, dtype, 0.5))

	// Both branches are evaluated with inputs in their safe domain, so the gradient of the
	// branch not taken by Where is never NaN.
	z := Where(reflect, OneMinus(x), x)
	z = AddScalar(z, -1)
	series := AddScalar(ZerosLike(z), lanczosCoefficients[0])
	for ii := 1; ii < len(lanczosCoefficients); ii++ {
		series = Add(series, MulScalar(Reciprocal(AddScalar(z, float64(ii))), lanczosCoefficients[ii]))
	}
	t := AddScalar(z, lanczosG+0.5)
	lg := Add(
		Mul(AddScalar(z, 0.5), Log(t)),
		Sub(Log(series), t))
	lg = AddScalar(lg, 0.5*math.Log(2*math.Pi))

	xr := Where(reflect, x, Scalar(g, dtype, 0.25))
	sinPiX := Abs(Sin(MulScalar(xr, math.Pi)))
	reflected := Sub(Neg(Log(sinPiX)), lg)
	reflected = AddScalar(reflected, math.Log(math.Pi))
	return Where(reflect, reflected, lg)
}

// LogSigmoid returns log(sigmoid(x)) = -softplus(-x).
func LogSigmoid(x *Node) *Node {
	return Neg(Softplus(Neg(x)))
}

// broadcastLike makes x the same shape as ref, first inserting leading axes if x has lower rank, and
// then broadcasting axes of dimension 1.
func broadcastLike(x, ref *Node) *Node {
	if x.Shape().Equal(ref.Shape()) {
		return x
	}
	if x.Rank() < ref.Rank() {
		x = ExpandLeftToRank(x, ref.Rank())
	}
	return BroadcastToDims(x, ref.Shape().Dimensions...)
}

// expandSamples prefixes x with a new axis of dimension numSamples. If numSamples is 0, x is returned unchanged.
func expandSamples(x *Node, numSamples int) *Node {
	if numSamples <= 0 {
		return x
	}
	dims := append([]int{numSamples}, x.Shape().Dimensions...)
	return BroadcastToDims(ExpandAxes(x, 0), dims...)
}

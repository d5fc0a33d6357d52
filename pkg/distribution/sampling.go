// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distribution

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

const (
	// gammaRounds is the number of vectorized Marsaglia-Tsang proposals drawn per value.
	// Each proposal is accepted with probability > 0.95, so failing all of them is negligible.
	gammaRounds = 8

	// poissonRounds is the number of vectorized PTRS proposals drawn per value.
	poissonRounds = 8

	// poissonInversionTerms is the number of terms of the cumulative distribution summed when
	// sampling Poisson by inversion, used for rates below poissonPTRSThreshold.
	poissonInversionTerms = 48

	// poissonPTRSThreshold is the rate from which the transformed rejection (PTRS) sampler is used.
	poissonPTRSThreshold = 10.0
)

// SampleStandardGamma draws one value from Gamma(alpha, 1) for each element of alpha, using the
// Marsaglia-Tsang method with a fixed number of vectorized rounds.
//
// For alpha < 1 it samples Gamma(alpha+1, 1) and multiplies by U^(1/alpha).
func SampleStandardGamma(ctx *context.Context, alpha *Node) *Node {
	g := alpha.Graph()
	shape := alpha.Shape()
	small := LessThan(alpha, OnesLike(alpha))
	boosted := Where(small, AddScalar(alpha, 1), alpha)
	d := AddScalar(boosted, -1.0/3.0)
	c := Reciprocal(Sqrt(MulScalar(d, 9)))

	// If every round is rejected, fall back to d, which is close to the mode.
	result := d
	for range gammaRounds {
		x := ctx.RandomNormal(g, shape)
		u := ctx.RandomUniform(g, shape)
		v := AddScalar(Mul(c, x), 1)
		v = Mul(v, Square(v))
		positive := GreaterThan(v, ZerosLike(v))
		safeV := Where(positive, v, OnesLike(v))
		bound := Add(
			MulScalar(Square(x), 0.5),
			Mul(d, Add(OneMinus(safeV), Log(safeV))))
		accepted := LogicalAnd(positive, LessThan(Log(u), bound))
		result = Where(accepted, Mul(d, safeV), result)
	}

	u := ctx.RandomUniform(g, shape)
	boost := Pow(u, Reciprocal(alpha))
	return Where(small, Mul(result, boost), result)
}

// SampleGamma draws one value from Gamma(shape=alpha, scale=theta) per element. alpha and theta must have the
// same shape.
func SampleGamma(ctx *context.Context, alpha, theta *Node) *Node {
	return Mul(SampleStandardGamma(ctx, alpha), theta)
}

// SamplePoisson draws one value from Poisson(lambda) per element, returned in lambda's dtype.
//
// Rates below 10 are sampled by inverting the cumulative distribution over a fixed number of terms;
// larger rates use Hörmann's transformed rejection with squeeze (PTRS), with a fixed number of vectorized
// rounds and a rounded normal approximation as the fallback.
func SamplePoisson(ctx *context.Context, lambda *Node) *Node {
	g := lambda.Graph()
	dtype := lambda.DType()
	shape := lambda.Shape()
	lambda = Max(lambda, ZerosLike(lambda))

	// Inversion.
	inversion := ZerosLike(lambda)
	{
		u := ctx.RandomUniform(g, shape)
		prob := Exp(Neg(lambda))
		cdf := prob
		for k := 1; k <= poissonInversionTerms; k++ {
			inversion = Add(inversion, ConvertDType(LessThan(cdf, u), dtype))
			prob = Mul(prob, DivScalar(lambda, float64(k)))
			cdf = Add(cdf, prob)
		}
	}

	// PTRS, with the rate clamped to its valid domain.
	lam := Max(lambda, Scalar(g, dtype, poissonPTRSThreshold))
	sqrtLam := Sqrt(lam)
	logLam := Log(lam)
	b := AddScalar(MulScalar(sqrtLam, 2.53), 0.931)
	a := AddScalar(MulScalar(b, 0.02483), -0.059)
	invAlpha := AddScalar(MulScalar(Reciprocal(AddScalar(b, -3.4)), 1.1328), 1.1239)
	vr := AddScalar(MulScalar(Reciprocal(AddScalar(b, -2)), -3.6224), 0.9277)

	ptrs := Floor(AddScalar(Add(lam, Mul(sqrtLam, ctx.RandomNormal(g, shape))), 0.5))
	ptrs = Max(ptrs, ZerosLike(ptrs))
	for range poissonRounds {
		u := AddScalar(ctx.RandomUniform(g, shape), -0.5)
		v := ctx.RandomUniform(g, shape)
		us := OneMinus(AddScalar(Abs(u), 0.5))
		us = Max(us, Scalar(g, dtype, 1e-6))
		k := Floor(AddScalar(Add(Mul(Add(Div(MulScalar(a, 2), us), b), u), lam), 0.43))
		quickAccept := LogicalAnd(
			GreaterOrEqual(us, Scalar(g, dtype, 0.07)),
			LessOrEqual(v, vr))
		reject := LogicalOr(
			LessThan(k, ZerosLike(k)),
			LogicalAnd(LessThan(us, Scalar(g, dtype, 0.013)), GreaterThan(v, us)))
		safeK := Max(k, ZerosLike(k))
		lhs := Sub(
			Add(Log(v), Log(invAlpha)),
			Log(Add(Div(a, Square(us)), b)))
		rhs := Sub(Sub(Mul(safeK, logLam), lam), LogGamma(AddScalar(safeK, 1)))
		accepted := LogicalOr(quickAccept, LogicalAnd(LogicalNot(reject), LessOrEqual(lhs, rhs)))
		ptrs = Where(accepted, safeK, ptrs)
	}
	return Where(LessThan(lambda, Scalar(g, dtype, poissonPTRSThreshold)), inversion, ptrs)
}

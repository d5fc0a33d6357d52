// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package distribution

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// NegativeLogLikelihood returns the per-series weighted negative log-likelihood of target under d.
//
// target and weights are shaped [batchSize, sequenceLength] (the same as the distribution parameters), and
// the result is shaped [batchSize]:
//
//	sum_t(w_t · -logProb(x_t)) / max(sum_t(w_t), 1)
//
// If weights is nil, all positions are weighted 1. Positions with weight 0 (e.g.: missing values) don't
// contribute, even if their log-likelihood is not finite.
func NegativeLogLikelihood(d Distribution, target, weights *Node) *Node {
	nll := Neg(d.LogProb(target))
	if weights == nil {
		return ReduceMean(nll, -1)
	}
	weighted := Where(
		NotEqual(weights, ZerosLike(weights)),
		Mul(nll, weights),
		ZerosLike(nll))
	sumWeights := Max(ReduceSum(weights, -1), OnesLike(ReduceSum(weights, -1)))
	return Div(ReduceSum(weighted, -1), sumWeights)
}

// Loss returns the scalar loss of a batch: the mean over the batch of NegativeLogLikelihood.
func Loss(d Distribution, target, weights *Node) *Node {
	return ReduceAllMean(NegativeLogLikelihood(d, target, weights))
}

// Package crf implements a linear-chain conditional random field over a
// fixed tag set with hard transition constraints.
//
// The field scores a tag sequence as the sum of per-position emission scores
// and pairwise transition scores; disallowed transitions carry -Inf score and
// so never receive likelihood mass nor appear in decoded sequences. There are
// no start/end transition parameters: any tag may begin or end a sequence.
package crf

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// CRF is a linear-chain conditional random field. The transition matrix is
// the only learned parameter; the constraint mask is fixed at construction.
type CRF struct {
	numTags     int
	transitions *mat.Dense
	allowed     [][]bool
}

// TagSequence is one decoded tag sequence with its Viterbi score.
type TagSequence struct {
	Tags  []int
	Score float64
}

// New creates a CRF over numTags tags. Only the (from, to) pairs listed in
// allowed may ever transition; everything else is constrained out. Transition
// scores start at zero and are trained through the matrix returned by
// Transitions.
func New(numTags int, allowed [][2]int) (*CRF, error) {
	if numTags <= 0 {
		return nil, errors.Errorf("numTags must be positive, got %d", numTags)
	}
	mask := make([][]bool, numTags)
	for i := range mask {
		mask[i] = make([]bool, numTags)
	}
	for _, tr := range allowed {
		from, to := tr[0], tr[1]
		if from < 0 || from >= numTags || to < 0 || to >= numTags {
			return nil, errors.Errorf("transition (%d, %d) out of tag range [0, %d)", from, to, numTags)
		}
		mask[from][to] = true
	}
	return &CRF{
		numTags:     numTags,
		transitions: mat.NewDense(numTags, numTags, nil),
		allowed:     mask,
	}, nil
}

// NumTags returns the number of tags the field scores.
func (c *CRF) NumTags() int { return c.numTags }

// Transitions returns the live transition parameter matrix. Optimizers update
// it in place; scores of constrained-out transitions are ignored.
func (c *CRF) Transitions() *mat.Dense { return c.transitions }

// Allowed reports whether the (from, to) transition is legal.
func (c *CRF) Allowed(from, to int) bool { return c.allowed[from][to] }

func (c *CRF) transitionScore(from, to int) float64 {
	if !c.allowed[from][to] {
		return math.Inf(-1)
	}
	return c.transitions.At(from, to)
}

// logSumExp computes log(sum(exp(xs))), ignoring -Inf entries.
func logSumExp(xs []float64) float64 {
	high := math.Inf(-1)
	for _, x := range xs {
		if x > high {
			high = x
		}
	}
	if math.IsInf(high, -1) {
		return high
	}
	var sum float64
	for _, x := range xs {
		if !math.IsInf(x, -1) {
			sum += math.Exp(x - high)
		}
	}
	return high + math.Log(sum)
}

// seqLength returns the number of non-padding positions of a mask row.
// Padding is always on the right, so this is also the sequence's true length.
func seqLength(mask []int) int {
	n := 0
	for _, m := range mask {
		if m != 0 {
			n++
		}
	}
	return n
}

// checkSequence validates the emission/tag/mask alignment of one sequence and
// returns its true length.
func (c *CRF) checkSequence(emissions [][]float64, tags []int, mask []int) (int, error) {
	if len(mask) != len(emissions) {
		return 0, errors.Errorf("mask length %d does not match emissions length %d", len(mask), len(emissions))
	}
	if tags != nil && len(tags) != len(emissions) {
		return 0, errors.Errorf("tags length %d does not match emissions length %d", len(tags), len(emissions))
	}
	for t := range emissions {
		if len(emissions[t]) != c.numTags {
			return 0, errors.Errorf("emissions at position %d have %d scores, want %d", t, len(emissions[t]), c.numTags)
		}
	}
	if tags != nil {
		for t, tag := range tags {
			if tag < 0 || tag >= c.numTags {
				return 0, errors.Errorf("tag %d at position %d out of range [0, %d)", tag, t, c.numTags)
			}
		}
	}
	n := seqLength(mask)
	if n == 0 {
		return 0, errors.New("mask row is entirely padding: no valid start state")
	}
	if n > len(emissions) {
		return 0, errors.Errorf("mask claims %d real positions but only %d emissions given", n, len(emissions))
	}
	return n, nil
}

// forward computes the alpha lattice over the first n positions.
// alpha[t][j] is the log partition over all length-t+1 prefixes ending in j.
func (c *CRF) forward(emissions [][]float64, n int) [][]float64 {
	alpha := make([][]float64, n)
	alpha[0] = make([]float64, c.numTags)
	copy(alpha[0], emissions[0])
	scratch := make([]float64, c.numTags)
	for t := 1; t < n; t++ {
		alpha[t] = make([]float64, c.numTags)
		for j := 0; j < c.numTags; j++ {
			for i := 0; i < c.numTags; i++ {
				scratch[i] = alpha[t-1][i] + c.transitionScore(i, j)
			}
			alpha[t][j] = logSumExp(scratch) + emissions[t][j]
		}
	}
	return alpha
}

// backward computes the beta lattice over the first n positions.
// beta[t][i] is the log partition over all suffixes starting after tag i at t.
func (c *CRF) backward(emissions [][]float64, n int) [][]float64 {
	beta := make([][]float64, n)
	beta[n-1] = make([]float64, c.numTags)
	scratch := make([]float64, c.numTags)
	for t := n - 2; t >= 0; t-- {
		beta[t] = make([]float64, c.numTags)
		for i := 0; i < c.numTags; i++ {
			for j := 0; j < c.numTags; j++ {
				scratch[j] = c.transitionScore(i, j) + emissions[t+1][j] + beta[t+1][j]
			}
			beta[t][i] = logSumExp(scratch)
		}
	}
	return beta
}

// sequenceScore is the unnormalized log score of the gold tag sequence.
// It is -Inf if the sequence crosses a disallowed transition.
func (c *CRF) sequenceScore(emissions [][]float64, tags []int, n int) float64 {
	score := emissions[0][tags[0]]
	for t := 1; t < n; t++ {
		score += c.transitionScore(tags[t-1], tags[t]) + emissions[t][tags[t]]
	}
	return score
}

// NegLogLikelihood returns the summed negative log-likelihood of the gold tag
// sequences over the batch, considering only non-padding positions. A gold
// sequence crossing a disallowed transition has likelihood zero, so its
// contribution is +Inf.
func (c *CRF) NegLogLikelihood(emissions [][][]float64, tags [][]int, mask [][]int) (float64, error) {
	if len(tags) != len(emissions) || len(mask) != len(emissions) {
		return 0, errors.Errorf("batch misaligned: %d emission rows, %d tag rows, %d mask rows",
			len(emissions), len(tags), len(mask))
	}
	var nll float64
	for b := range emissions {
		n, err := c.checkSequence(emissions[b], tags[b], mask[b])
		if err != nil {
			return 0, errors.Wrapf(err, "sequence %d", b)
		}
		alpha := c.forward(emissions[b], n)
		logZ := logSumExp(alpha[n-1])
		nll += logZ - c.sequenceScore(emissions[b], tags[b], n)
	}
	return nll, nil
}

// NegLogLikelihoodGrad returns the batch negative log-likelihood together
// with its gradients: per-position emission gradients (zero on padding) and
// the transition-matrix gradient. Gradients of constrained-out transitions
// are identically zero.
//
// It fails if a gold sequence crosses a disallowed transition, since the loss
// is infinite there and no finite gradient exists.
func (c *CRF) NegLogLikelihoodGrad(emissions [][][]float64, tags [][]int, mask [][]int) (float64, [][][]float64, *mat.Dense, error) {
	if len(tags) != len(emissions) || len(mask) != len(emissions) {
		return 0, nil, nil, errors.Errorf("batch misaligned: %d emission rows, %d tag rows, %d mask rows",
			len(emissions), len(tags), len(mask))
	}
	var nll float64
	dEmissions := make([][][]float64, len(emissions))
	dTransitions := mat.NewDense(c.numTags, c.numTags, nil)

	for b := range emissions {
		n, err := c.checkSequence(emissions[b], tags[b], mask[b])
		if err != nil {
			return 0, nil, nil, errors.Wrapf(err, "sequence %d", b)
		}
		goldScore := c.sequenceScore(emissions[b], tags[b], n)
		if math.IsInf(goldScore, -1) {
			return 0, nil, nil, errors.Errorf("sequence %d: gold tags cross a disallowed transition", b)
		}

		alpha := c.forward(emissions[b], n)
		beta := c.backward(emissions[b], n)
		logZ := logSumExp(alpha[n-1])
		nll += logZ - goldScore

		dEmissions[b] = make([][]float64, len(emissions[b]))
		for t := range emissions[b] {
			dEmissions[b][t] = make([]float64, c.numTags)
		}

		// Unary marginals against the gold one-hot.
		for t := 0; t < n; t++ {
			for j := 0; j < c.numTags; j++ {
				dEmissions[b][t][j] = math.Exp(alpha[t][j] + beta[t][j] - logZ)
			}
			dEmissions[b][t][tags[b][t]] -= 1
		}

		// Pairwise marginals against the gold transition counts.
		for t := 0; t < n-1; t++ {
			for i := 0; i < c.numTags; i++ {
				for j := 0; j < c.numTags; j++ {
					if !c.allowed[i][j] {
						continue
					}
					p := math.Exp(alpha[t][i] + c.transitions.At(i, j) + emissions[b][t+1][j] + beta[t+1][j] - logZ)
					dTransitions.Set(i, j, dTransitions.At(i, j)+p)
				}
			}
			if c.allowed[tags[b][t]][tags[b][t+1]] {
				dTransitions.Set(tags[b][t], tags[b][t+1], dTransitions.At(tags[b][t], tags[b][t+1])-1)
			}
		}
	}
	return nll, dEmissions, dTransitions, nil
}

// ViterbiTags decodes the most probable tag sequence of every batch row under
// the transition constraints, restricted to non-padding positions. Decoding
// is deterministic: ties break toward the lower tag id.
func (c *CRF) ViterbiTags(emissions [][][]float64, mask [][]int) ([]TagSequence, error) {
	if len(mask) != len(emissions) {
		return nil, errors.Errorf("batch misaligned: %d emission rows, %d mask rows", len(emissions), len(mask))
	}
	decoded := make([]TagSequence, len(emissions))
	for b := range emissions {
		n, err := c.checkSequence(emissions[b], nil, mask[b])
		if err != nil {
			return nil, errors.Wrapf(err, "sequence %d", b)
		}
		seq, err := c.viterbi(emissions[b], n)
		if err != nil {
			return nil, errors.Wrapf(err, "sequence %d", b)
		}
		decoded[b] = seq
	}
	return decoded, nil
}

func (c *CRF) viterbi(emissions [][]float64, n int) (TagSequence, error) {
	dp := make([][]float64, n)
	backpointers := make([][]int, n)
	for t := range dp {
		dp[t] = make([]float64, c.numTags)
		backpointers[t] = make([]int, c.numTags)
	}
	copy(dp[0], emissions[0])

	for t := 1; t < n; t++ {
		for j := 0; j < c.numTags; j++ {
			best := math.Inf(-1)
			bestPrev := 0
			for i := 0; i < c.numTags; i++ {
				score := dp[t-1][i] + c.transitionScore(i, j)
				if score > best {
					best = score
					bestPrev = i
				}
			}
			dp[t][j] = best + emissions[t][j]
			backpointers[t][j] = bestPrev
		}
	}

	bestScore := math.Inf(-1)
	bestTag := 0
	for j := 0; j < c.numTags; j++ {
		if dp[n-1][j] > bestScore {
			bestScore = dp[n-1][j]
			bestTag = j
		}
	}
	if math.IsInf(bestScore, -1) {
		return TagSequence{}, errors.New("no tag path satisfies the transition constraints")
	}

	tags := make([]int, n)
	tags[n-1] = bestTag
	for t := n - 2; t >= 0; t-- {
		bestTag = backpointers[t+1][bestTag]
		tags[t] = bestTag
	}
	return TagSequence{Tags: tags, Score: bestScore}, nil
}

// Package head implements the structured-prediction head of the argument
// tagger: a linear projection from encoder hidden states to per-tag scores,
// followed by a transition-constrained linear-chain CRF.
//
// The head exposes a loss mode (CRF negative log-likelihood, optionally
// combined with a class-weighted cross-entropy over non-padding tokens) and a
// decode mode (constrained Viterbi). Loss calls accumulate analytic gradients
// for the projection and the CRF transitions, to be applied by an optimizer.
package head

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/argmining/crf"
	"github.com/gomlx/argmining/labels"
)

// Head projects hidden states to tag scores and scores tag sequences with a
// constrained CRF.
type Head struct {
	hiddenSize int
	numTags    int

	weight *mat.Dense // [hiddenSize x numTags]
	bias   *mat.Dense // [1 x numTags]
	field  *crf.CRF

	// classWeights, when non-nil, enables the additional cross-entropy loss
	// term; entry k weights tokens whose gold tag is k.
	classWeights []float64

	gradWeight      *mat.Dense
	gradBias        *mat.Dense
	gradTransitions *mat.Dense
}

// New creates a head for the given encoder hidden width and tag scheme. The
// projection is initialized with small random weights drawn from rng.
func New(hiddenSize int, scheme *labels.Scheme, rng *rand.Rand) (*Head, error) {
	if hiddenSize <= 0 {
		return nil, errors.Errorf("hiddenSize must be positive, got %d", hiddenSize)
	}
	numTags := scheme.NumTags()
	allowed := make([][2]int, 0, numTags*numTags)
	for _, tr := range scheme.AllowedTransitions() {
		allowed = append(allowed, [2]int{int(tr.From), int(tr.To)})
	}
	field, err := crf.New(numTags, allowed)
	if err != nil {
		return nil, err
	}

	weight := mat.NewDense(hiddenSize, numTags, nil)
	scale := 1.0 / math.Sqrt(float64(hiddenSize))
	for i := 0; i < hiddenSize; i++ {
		for j := 0; j < numTags; j++ {
			weight.Set(i, j, rng.NormFloat64()*scale)
		}
	}

	return &Head{
		hiddenSize:      hiddenSize,
		numTags:         numTags,
		weight:          weight,
		bias:            mat.NewDense(1, numTags, nil),
		field:           field,
		gradWeight:      mat.NewDense(hiddenSize, numTags, nil),
		gradBias:        mat.NewDense(1, numTags, nil),
		gradTransitions: mat.NewDense(numTags, numTags, nil),
	}, nil
}

// WithClassWeights enables the cross-entropy loss term with one weight per
// tag id. It returns the head for chaining.
func (h *Head) WithClassWeights(weights []float64) *Head {
	h.classWeights = weights
	return h
}

// CRF returns the underlying conditional random field.
func (h *Head) CRF() *crf.CRF { return h.field }

// NumTags returns the size of the tag scores the head produces.
func (h *Head) NumTags() int { return h.numTags }

// HiddenSize returns the expected encoder hidden width.
func (h *Head) HiddenSize() int { return h.hiddenSize }

// Params returns the trainable parameter matrices: projection weight,
// projection bias, CRF transitions. Order matches Grads.
func (h *Head) Params() []*mat.Dense {
	return []*mat.Dense{h.weight, h.bias, h.field.Transitions()}
}

// Grads returns the accumulated gradient matrices, aligned with Params.
func (h *Head) Grads() []*mat.Dense {
	return []*mat.Dense{h.gradWeight, h.gradBias, h.gradTransitions}
}

// ZeroGrads clears all accumulated gradients.
func (h *Head) ZeroGrads() {
	h.gradWeight.Zero()
	h.gradBias.Zero()
	h.gradTransitions.Zero()
}

// project computes per-tag scores for every position of every sequence.
func (h *Head) project(hidden [][][]float64) ([][][]float64, error) {
	logits := make([][][]float64, len(hidden))
	for b := range hidden {
		logits[b] = make([][]float64, len(hidden[b]))
		for t := range hidden[b] {
			hv := hidden[b][t]
			if len(hv) != h.hiddenSize {
				return nil, errors.Errorf("hidden state at (%d, %d) has width %d, want %d", b, t, len(hv), h.hiddenSize)
			}
			row := make([]float64, h.numTags)
			for k := 0; k < h.numTags; k++ {
				sum := h.bias.At(0, k)
				for i, x := range hv {
					sum += x * h.weight.At(i, k)
				}
				row[k] = sum
			}
			logits[b][t] = row
		}
	}
	return logits, nil
}

func checkBatch(hidden [][][]float64, padMask [][]int, tags [][]int) error {
	if len(padMask) != len(hidden) {
		return errors.Errorf("batch misaligned: %d hidden rows, %d mask rows", len(hidden), len(padMask))
	}
	if tags != nil && len(tags) != len(hidden) {
		return errors.Errorf("batch misaligned: %d hidden rows, %d tag rows", len(hidden), len(tags))
	}
	for b := range hidden {
		if len(padMask[b]) != len(hidden[b]) {
			return errors.Errorf("sequence %d: %d hidden states, %d mask entries", b, len(hidden[b]), len(padMask[b]))
		}
		if tags != nil && len(tags[b]) != len(hidden[b]) {
			return errors.Errorf("sequence %d: %d hidden states, %d tags", b, len(hidden[b]), len(tags[b]))
		}
	}
	return nil
}

// Loss computes the training loss of one batch and accumulates parameter
// gradients, both scaled by scale (the gradient-accumulation divisor).
//
// The loss is the CRF negative log-likelihood; with class weights configured,
// a class-weighted cross-entropy summed over non-padding tokens is added to
// it. The pad mask marks real positions with non-zero entries.
func (h *Head) Loss(hidden [][][]float64, padMask [][]int, tags [][]int, scale float64) (float64, error) {
	if err := checkBatch(hidden, padMask, tags); err != nil {
		return 0, err
	}
	logits, err := h.project(hidden)
	if err != nil {
		return 0, err
	}

	nll, dLogits, dTransitions, err := h.field.NegLogLikelihoodGrad(logits, tags, padMask)
	if err != nil {
		return 0, err
	}
	loss := nll

	if h.classWeights != nil {
		if len(h.classWeights) != h.numTags {
			return 0, errors.Errorf("have %d class weights for %d tags", len(h.classWeights), h.numTags)
		}
		ce, err := h.crossEntropy(logits, padMask, tags, dLogits)
		if err != nil {
			return 0, err
		}
		loss += ce
	}

	h.accumulate(hidden, dLogits, dTransitions, scale)
	return loss * scale, nil
}

// crossEntropy adds the per-token weighted cross-entropy over non-padding
// positions to dLogits and returns its value.
func (h *Head) crossEntropy(logits [][][]float64, padMask [][]int, tags [][]int, dLogits [][][]float64) (float64, error) {
	var total float64
	probs := make([]float64, h.numTags)
	for b := range logits {
		for t := range logits[b] {
			if padMask[b][t] == 0 {
				continue
			}
			row := logits[b][t]
			high := math.Inf(-1)
			for _, x := range row {
				if x > high {
					high = x
				}
			}
			var z float64
			for k, x := range row {
				probs[k] = math.Exp(x - high)
				z += probs[k]
			}
			gold := tags[b][t]
			w := h.classWeights[gold]
			total += -w * (row[gold] - high - math.Log(z))
			for k := range probs {
				p := probs[k] / z
				g := w * p
				if k == gold {
					g -= w
				}
				dLogits[b][t][k] += g
			}
		}
	}
	return total, nil
}

// accumulate backpropagates dLogits through the linear projection.
func (h *Head) accumulate(hidden [][][]float64, dLogits [][][]float64, dTransitions *mat.Dense, scale float64) {
	for b := range hidden {
		for t := range hidden[b] {
			hv := hidden[b][t]
			dl := dLogits[b][t]
			for k := 0; k < h.numTags; k++ {
				g := dl[k] * scale
				if g == 0 {
					continue
				}
				h.gradBias.Set(0, k, h.gradBias.At(0, k)+g)
				for i, x := range hv {
					h.gradWeight.Set(i, k, h.gradWeight.At(i, k)+g*x)
				}
			}
		}
	}
	var scaled mat.Dense
	scaled.Scale(scale, dTransitions)
	h.gradTransitions.Add(h.gradTransitions, &scaled)
}

// Decode returns the Viterbi-decoded tag sequence and score of every batch
// row, restricted to non-padding positions.
func (h *Head) Decode(hidden [][][]float64, padMask [][]int) ([]crf.TagSequence, error) {
	if err := checkBatch(hidden, padMask, nil); err != nil {
		return nil, err
	}
	logits, err := h.project(hidden)
	if err != nil {
		return nil, err
	}
	return h.field.ViterbiTags(logits, padMask)
}

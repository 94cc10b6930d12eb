// Package train orchestrates training and evaluation of the argument tagger:
// it drives comment-wise batches through the encoder and the structured
// prediction head, accumulating gradients and agreement metrics.
package train

import (
	"math"

	"github.com/pkg/errors"
)

// Config holds the run parameters. It is built once at start-up and treated
// as immutable afterwards.
type Config struct {
	// MaxLen truncates every comment to this many tokens.
	MaxLen int
	// BatchSize is the number of comments per training batch.
	BatchSize int
	// NormBatchSize divides every loss before gradients are accumulated. It
	// is the token budget of a full thread-level batch, kept fixed across
	// batch-size experiments so runs stay comparable.
	NormBatchSize float64
	// AccumulateOver is the number of batches per optimizer step.
	AccumulateOver int
	// LearningRate of the Adam optimizer.
	LearningRate float64
	// MajorClaims selects the 7-tag scheme over the 5-tag one.
	MajorClaims bool
	// ClassWeights, when non-nil, enables the weighted cross-entropy loss
	// term, one weight per tag id.
	ClassWeights []float64
	// UseMaskedSignal feeds the masked-token indicator to the encoder as
	// its token-type input. Off, the indicator is computed but unused,
	// matching the historical pipeline.
	UseMaskedSignal bool
	// KeepRemainder emits the final short comment batch instead of dropping
	// it.
	KeepRemainder bool
}

// DefaultConfig returns the parameters of the reference experiments.
func DefaultConfig() Config {
	return Config{
		MaxLen:         512,
		BatchSize:      8,
		NormBatchSize:  512 * 8,
		AccumulateOver: 4,
		LearningRate:   2e-5,
	}
}

// DefaultClassWeights returns the log-scaled inverse-frequency class weights
// of the 5-tag scheme, estimated on the training corpus.
func DefaultClassWeights() []float64 {
	counts := []float64{3.3102, 61.4809, 3.6832, 49.6827, 2.5639}
	weights := make([]float64, len(counts))
	for i, c := range counts {
		weights[i] = math.Log(c)
	}
	return weights
}

func (cfg Config) validate() error {
	if cfg.MaxLen <= 0 {
		return errors.Errorf("MaxLen must be positive, got %d", cfg.MaxLen)
	}
	if cfg.BatchSize <= 0 {
		return errors.Errorf("BatchSize must be positive, got %d", cfg.BatchSize)
	}
	if cfg.NormBatchSize <= 0 {
		return errors.Errorf("NormBatchSize must be positive, got %v", cfg.NormBatchSize)
	}
	if cfg.AccumulateOver <= 0 {
		return errors.Errorf("AccumulateOver must be positive, got %d", cfg.AccumulateOver)
	}
	if cfg.LearningRate <= 0 {
		return errors.Errorf("LearningRate must be positive, got %v", cfg.LearningRate)
	}
	return nil
}

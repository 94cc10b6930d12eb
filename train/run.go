package train

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/argmining/encoder"
	"github.com/gomlx/argmining/head"
	"github.com/gomlx/argmining/labels"
	"github.com/gomlx/argmining/threads"
	"github.com/gomlx/argmining/tokens"
)

// Metric accumulates (prediction, reference) tag-name batches and produces an
// aggregate agreement statistic on demand.
type Metric interface {
	AddBatch(predictions, references [][]string) error
	Compute() (float64, error)
}

// Run binds everything one training run needs: tokenizer, encoder, head,
// optimizer, tag scheme and parameters. It replaces ambient shared state so
// independent runs can coexist in one process.
type Run struct {
	ID        uuid.UUID
	Tokenizer *tokens.ThreadTokenizer
	Encoder   encoder.Encoder
	Head      *head.Head
	Optimizer *Adam
	Scheme    *labels.Scheme
	Config    Config
}

// NewRun wires a run from its parts and creates the optimizer over the
// head's parameters.
func NewRun(tok *tokens.ThreadTokenizer, enc encoder.Encoder, h *head.Head, scheme *labels.Scheme, cfg Config) (*Run, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if enc.HiddenSize() != h.HiddenSize() {
		return nil, errors.Errorf("encoder hidden size %d does not match head hidden size %d",
			enc.HiddenSize(), h.HiddenSize())
	}
	if h.NumTags() != scheme.NumTags() {
		return nil, errors.Errorf("head scores %d tags but scheme has %d", h.NumTags(), scheme.NumTags())
	}
	opt, err := NewAdam(h.Params(), h.Grads(), cfg.LearningRate)
	if err != nil {
		return nil, err
	}
	return &Run{
		ID:        uuid.New(),
		Tokenizer: tok,
		Encoder:   enc,
		Head:      h,
		Optimizer: opt,
		Scheme:    scheme,
		Config:    cfg,
	}, nil
}

func (r *Run) batchOptions() threads.BatchOptions {
	return threads.BatchOptions{
		MaxLen:        r.Config.MaxLen,
		BatchSize:     r.Config.BatchSize,
		UserMarkers:   r.Tokenizer.UserMarkerIDs(),
		EOSID:         r.Tokenizer.EOSID(),
		TokenPadID:    r.Tokenizer.PadID(),
		LabelPadID:    r.Scheme.PadLabel(),
		KeepRemainder: r.Config.KeepRemainder,
	}
}

// forward derives the pad mask and the masked-token indicator of one batch
// and runs the encoder. The pad mask marks positions holding real tokens;
// the indicator marks positions the masked stream flagged with the mask id,
// and is fed to the encoder only when configured as the secondary signal.
func (r *Run) forward(batch threads.Batch) ([][][]float64, [][]int, error) {
	padID, maskID := r.Tokenizer.PadID(), r.Tokenizer.MaskID()
	padMask := make([][]int, len(batch.Tokens))
	indicator := make([][]int, len(batch.Tokens))
	for i, row := range batch.Tokens {
		padMask[i] = make([]int, len(row))
		indicator[i] = make([]int, len(row))
		for j, tok := range row {
			if tok != padID {
				padMask[i][j] = 1
			}
			if batch.Masks[i][j] == maskID {
				indicator[i][j] = 1
			}
		}
	}
	var tokenTypes [][]int
	if r.Config.UseMaskedSignal {
		tokenTypes = indicator
	}
	hidden, err := r.Encoder.EncodeBatch(batch.Tokens, padMask, tokenTypes)
	if err != nil {
		return nil, nil, errors.Wrap(err, "encoder forward pass")
	}
	return hidden, padMask, nil
}

// Train runs one epoch over the thread-level source: comment-wise batching,
// loss computation, gradient accumulation and optimizer stepping every
// AccumulateOver batches, with a final step flushing any partial
// accumulation.
func (r *Run) Train(src func(yield func(threads.ThreadBatch, error) bool)) error {
	r.Optimizer.ZeroGrad()
	scale := 1.0 / r.Config.NormBatchSize

	i := 0
	for batch, err := range threads.CommentBatches(src, r.batchOptions()) {
		if err != nil {
			return err
		}
		hidden, padMask, err := r.forward(batch)
		if err != nil {
			return err
		}
		loss, err := r.Head.Loss(hidden, padMask, batch.Labels, scale)
		if err != nil {
			return err
		}
		klog.V(1).Infof("Run %s: batch %d loss %.6f", r.ID, i, loss)

		if i%r.Config.AccumulateOver == r.Config.AccumulateOver-1 {
			r.Optimizer.Step()
			r.Optimizer.ZeroGrad()
		}
		i++
	}

	r.Optimizer.Step()
	return nil
}

// Evaluate decodes every comment-wise batch of the source, truncates
// predictions and references to each sequence's true length, maps tag ids to
// names and feeds them to the metric. It returns the metric's aggregate over
// the full pass.
func (r *Run) Evaluate(src func(yield func(threads.ThreadBatch, error) bool), metric Metric) (float64, error) {
	for batch, err := range threads.CommentBatches(src, r.batchOptions()) {
		if err != nil {
			return 0, err
		}
		hidden, padMask, err := r.forward(batch)
		if err != nil {
			return 0, err
		}
		decoded, err := r.Head.Decode(hidden, padMask)
		if err != nil {
			return 0, err
		}

		predictions := make([][]string, len(decoded))
		references := make([][]string, len(decoded))
		for i, seq := range decoded {
			n := len(seq.Tags) // decode stops at the true length
			predictions[i] = make([]string, n)
			references[i] = make([]string, n)
			for j := 0; j < n; j++ {
				if predictions[i][j], err = r.Scheme.Name(seq.Tags[j]); err != nil {
					return 0, errors.Wrapf(err, "prediction %d", i)
				}
				if references[i][j], err = r.Scheme.Name(batch.Labels[i][j]); err != nil {
					return 0, errors.Wrapf(err, "reference %d", i)
				}
			}
		}
		if err := metric.AddBatch(predictions, references); err != nil {
			return 0, err
		}
	}

	aggregate, err := metric.Compute()
	if err != nil {
		return 0, err
	}
	klog.V(1).Infof("Run %s: agreement %.4f", r.ID, aggregate)
	return aggregate, nil
}

package threads

import (
	"github.com/pkg/errors"
)

// ThreadBatch is one thread-level batch as produced by a dataset source.
//
// Each field is indexed [replica][thread][position]; the leading replica axis
// is a leftover of sharded data loading and must hold exactly one entry. The
// Tokens, Masked and Labels streams of a thread are aligned 1:1 by position.
// Extra carries whatever fourth field the source format defines; it is not
// used by the comment-wise pipeline.
type ThreadBatch struct {
	Tokens [][][]int
	Masked [][][]int
	Labels [][][]int
	Extra  [][][]int
}

// Batch is a rectangular comment-wise batch: parallel token, mask and label
// sequences, one row per comment, all padded to a common length.
type Batch struct {
	Tokens [][]int
	Masks  [][]int
	Labels [][]int
}

// Size returns the number of comments in the batch.
func (b Batch) Size() int { return len(b.Tokens) }

// BatchOptions configures the comment-wise batch iterator.
type BatchOptions struct {
	// MaxLen is the length at which every comment is truncated.
	MaxLen int
	// BatchSize is the number of comments per emitted batch.
	BatchSize int
	// UserMarkers are the token ids marking a speaker change; each one starts
	// a new comment.
	UserMarkers []int
	// EOSID terminates a thread; scanning stops after it.
	EOSID int
	// TokenPadID pads token and mask sequences.
	TokenPadID int
	// LabelPadID pads label sequences.
	LabelPadID int
	// KeepRemainder emits a final short batch for the comments left in the
	// buffer when the source is exhausted. The default drops them, matching
	// the historical pipeline behavior.
	KeepRemainder bool
}

func (opts BatchOptions) validate() error {
	if opts.MaxLen <= 0 {
		return errors.Errorf("MaxLen must be positive, got %d", opts.MaxLen)
	}
	if opts.BatchSize <= 0 {
		return errors.Errorf("BatchSize must be positive, got %d", opts.BatchSize)
	}
	return nil
}

// squeezeReplica removes the leading replica axis of a thread-level field.
func squeezeReplica(x [][][]int) ([][]int, error) {
	if len(x) != 1 {
		return nil, errors.Errorf("expected a singleton replica axis, got length %d", len(x))
	}
	return x[0], nil
}

// CommentBatches returns an iterator over fixed-size comment-wise batches
// built from the given thread-level batches.
//
// Every thread is split into comments on the user-marker ids, and the
// same-length prefix of its mask and label streams is sliced off for each
// comment, so the three streams stay aligned without re-scanning for
// markers. Comments accumulate across threads; each time BatchSize comments
// are buffered one batch is emitted, with every sequence truncated to MaxLen
// and padded to the batch maximum. The source is consumed exactly once.
//
// Unless KeepRemainder is set, comments still buffered when the source ends
// are dropped.
func CommentBatches(src func(yield func(ThreadBatch, error) bool), opts BatchOptions) func(yield func(Batch, error) bool) {
	return func(yield func(Batch, error) bool) {
		if err := opts.validate(); err != nil {
			yield(Batch{}, err)
			return
		}

		var bufTokens, bufMasks, bufLabels [][]int
		emit := func() (Batch, error) {
			truncate := func(seqs [][]int) [][]int {
				out := make([][]int, len(seqs))
				for i, s := range seqs {
					if len(s) > opts.MaxLen {
						s = s[:opts.MaxLen]
					}
					out[i] = s
				}
				return out
			}
			tokens, err := PadBatch(truncate(bufTokens), opts.TokenPadID)
			if err != nil {
				return Batch{}, err
			}
			masks, err := PadBatch(truncate(bufMasks), opts.TokenPadID)
			if err != nil {
				return Batch{}, err
			}
			y, err := PadBatch(truncate(bufLabels), opts.LabelPadID)
			if err != nil {
				return Batch{}, err
			}
			bufTokens, bufMasks, bufLabels = nil, nil, nil
			return Batch{Tokens: tokens, Masks: masks, Labels: y}, nil
		}

		for tb, err := range src {
			if err != nil {
				yield(Batch{}, err)
				return
			}
			tokens, err := squeezeReplica(tb.Tokens)
			if err != nil {
				yield(Batch{}, errors.Wrap(err, "tokens"))
				return
			}
			masked, err := squeezeReplica(tb.Masked)
			if err != nil {
				yield(Batch{}, errors.Wrap(err, "masked"))
				return
			}
			threadLabels, err := squeezeReplica(tb.Labels)
			if err != nil {
				yield(Batch{}, errors.Wrap(err, "labels"))
				return
			}
			if len(masked) != len(tokens) || len(threadLabels) != len(tokens) {
				yield(Batch{}, errors.Errorf(
					"thread batch misaligned: %d token threads, %d masked threads, %d label threads",
					len(tokens), len(masked), len(threadLabels)))
				return
			}

			for ti, thread := range tokens {
				maskRest, labelRest := masked[ti], threadLabels[ti]
				for _, comment := range SplitEncoding(thread, opts.UserMarkers, opts.EOSID) {
					n := len(comment)
					if n > len(maskRest) || n > len(labelRest) {
						yield(Batch{}, errors.Errorf(
							"thread %d: comment of %d tokens exceeds remaining mask (%d) or label (%d) stream",
							ti, n, len(maskRest), len(labelRest)))
						return
					}
					bufTokens = append(bufTokens, comment)
					bufMasks = append(bufMasks, maskRest[:n])
					bufLabels = append(bufLabels, labelRest[:n])
					maskRest, labelRest = maskRest[n:], labelRest[n:]

					if len(bufTokens) == opts.BatchSize {
						batch, err := emit()
						if err != nil {
							yield(Batch{}, err)
							return
						}
						if !yield(batch, nil) {
							return
						}
					}
				}
			}
		}

		if opts.KeepRemainder && len(bufTokens) > 0 {
			batch, err := emit()
			if err != nil {
				yield(Batch{}, err)
				return
			}
			yield(batch, nil)
		}
	}
}

// Package dataset reads tokenized discussion threads from parquet shards and
// serves them as thread-level batches for the comment-wise pipeline.
//
// Each parquet row is one flattened thread with aligned token, masked-token
// and label streams. Batches are wrapped in the singleton replica axis the
// thread-batch format carries.
package dataset

import (
	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/argmining/threads"
)

// ThreadRecord is one flattened tokenized thread as stored in the corpus
// parquet shards.
type ThreadRecord struct {
	ThreadID string  `parquet:"thread_id"`
	Tokens   []int32 `parquet:"tokens,list"`
	Masked   []int32 `parquet:"masked,list"`
	Labels   []int32 `parquet:"labels,list"`
}

func (r ThreadRecord) validate() error {
	if len(r.Masked) != len(r.Tokens) || len(r.Labels) != len(r.Tokens) {
		return errors.Errorf("thread %q misaligned: %d tokens, %d masked, %d labels",
			r.ThreadID, len(r.Tokens), len(r.Masked), len(r.Labels))
	}
	return nil
}

func toInts(xs []int32) []int {
	out := make([]int, len(xs))
	for i, x := range xs {
		out[i] = int(x)
	}
	return out
}

// ReadThreads reads all thread records of one parquet shard.
func ReadThreads(path string) ([]ThreadRecord, error) {
	records, err := parquet.ReadFile[ThreadRecord](path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read parquet shard %q", path)
	}
	for _, r := range records {
		if err := r.validate(); err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("Read %d threads from %q", len(records), path)
	return records, nil
}

// WriteThreads writes thread records to a parquet shard, mostly useful for
// corpus preparation and tests.
func WriteThreads(path string, records []ThreadRecord) error {
	for _, r := range records {
		if err := r.validate(); err != nil {
			return err
		}
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return errors.Wrapf(err, "failed to write parquet shard %q", path)
	}
	return nil
}

// ThreadBatches returns an iterator over thread-level batches of up to
// threadsPerBatch threads each, read from the given parquet shard. The last
// batch may be shorter. Each batch carries the singleton replica axis the
// comment-wise pipeline expects.
func ThreadBatches(path string, threadsPerBatch int) func(yield func(threads.ThreadBatch, error) bool) {
	return func(yield func(threads.ThreadBatch, error) bool) {
		if threadsPerBatch <= 0 {
			yield(threads.ThreadBatch{}, errors.Errorf("threadsPerBatch must be positive, got %d", threadsPerBatch))
			return
		}
		records, err := ReadThreads(path)
		if err != nil {
			yield(threads.ThreadBatch{}, err)
			return
		}
		for start := 0; start < len(records); start += threadsPerBatch {
			end := start + threadsPerBatch
			if end > len(records) {
				end = len(records)
			}
			chunk := records[start:end]
			tb := threads.ThreadBatch{
				Tokens: [][][]int{make([][]int, len(chunk))},
				Masked: [][][]int{make([][]int, len(chunk))},
				Labels: [][][]int{make([][]int, len(chunk))},
			}
			for i, r := range chunk {
				tb.Tokens[0][i] = toInts(r.Tokens)
				tb.Masked[0][i] = toInts(r.Masked)
				tb.Labels[0][i] = toInts(r.Labels)
			}
			if !yield(tb, nil) {
				return
			}
		}
	}
}

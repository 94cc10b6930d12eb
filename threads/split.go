// Package threads converts flattened multi-comment discussion threads into
// padded per-comment batches of aligned (token, mask, label) sequences.
package threads

import (
	"github.com/pkg/errors"
)

// SplitEncoding splits a flattened tokenized thread into one sub-sequence per
// comment.
//
// A new sub-sequence starts immediately before each occurrence of an id in
// splitOn; the matched id itself is kept as the first element of the new
// sub-sequence. Scanning stops immediately after the first occurrence of
// eosID, which is kept in the last sub-sequence.
//
// If the input contains no split id and no eosID the whole input is returned
// as a single sub-sequence. Empty input yields a single empty sub-sequence.
func SplitEncoding(ids []int, splitOn []int, eosID int) [][]int {
	splitSet := make(map[int]bool, len(splitOn))
	for _, id := range splitOn {
		splitSet[id] = true
	}

	splitted := [][]int{nil}
	for _, id := range ids {
		if splitSet[id] {
			splitted = append(splitted, nil)
		}
		last := len(splitted) - 1
		splitted[last] = append(splitted[last], id)
		if id == eosID {
			break
		}
	}
	return splitted
}

// PadBatch right-pads every sequence with padID to the length of the longest
// sequence in the batch. It returns an error on an empty batch, for which no
// maximum length is defined. Sequences already at the maximum length are
// returned as copies, unchanged in value.
func PadBatch(seqs [][]int, padID int) ([][]int, error) {
	if len(seqs) == 0 {
		return nil, errors.New("cannot pad an empty batch")
	}
	maxLen := 0
	for _, s := range seqs {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	padded := make([][]int, len(seqs))
	for i, s := range seqs {
		p := make([]int, maxLen)
		copy(p, s)
		for j := len(s); j < maxLen; j++ {
			p[j] = padID
		}
		padded[i] = p
	}
	return padded, nil
}

// Package encoder defines the contract of the transformer encoder consumed
// by the tagger: a black box mapping rectangular token batches to per-token
// hidden states.
package encoder

// Encoder maps a padded token batch, its attention mask and an optional
// secondary token-type signal to per-token hidden states, indexed
// [sequence][position][hidden]. All input rows of one call must have the same
// length, and the output preserves the batch and sequence dimensions.
type Encoder interface {
	// HiddenSize returns the width of the hidden states the encoder emits.
	HiddenSize() int

	// EncodeBatch runs the forward pass. tokenTypes may be nil, in which
	// case an all-zero token-type row is assumed.
	EncodeBatch(tokens, attentionMask, tokenTypes [][]int) ([][][]float64, error)
}

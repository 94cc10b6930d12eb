// Package tokens adapts a HuggingFace tokenizer to threaded-discussion
// encodings: it resolves the ids of the special speaker-marker tokens that
// delimit comments inside a flattened thread, along with the pad, end-of-
// sequence and mask ids the batching pipeline and the training loop need.
package tokens

import (
	"fmt"

	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/pkg/errors"
)

// UnknownUserMarker is the marker used for comments whose author is not one
// of the enumerated thread participants.
const UnknownUserMarker = "[UNU]"

// UserMarkers returns the speaker-marker token strings for up to maxUsers
// thread participants, plus the unknown-user marker.
func UserMarkers(maxUsers int) []string {
	markers := make([]string, 0, maxUsers+1)
	markers = append(markers, UnknownUserMarker)
	for i := 0; i < maxUsers; i++ {
		markers = append(markers, fmt.Sprintf("[USER%d]", i))
	}
	return markers
}

// ThreadTokenizer wraps an api.Tokenizer with the resolved ids of the
// speaker-marker vocabulary. The underlying tokenizer must already contain
// the markers (they are added_tokens of the corpus tokenizer).
type ThreadTokenizer struct {
	api.Tokenizer

	userMarkerIDs []int
	padID         int
	eosID         int
	maskID        int
}

// NewThreadTokenizer resolves the given marker strings and the pad, eos and
// mask special tokens against tok. It fails if any marker is missing from the
// vocabulary or does not tokenize to a single id.
func NewThreadTokenizer(tok api.Tokenizer, markers []string) (*ThreadTokenizer, error) {
	padID, err := tok.SpecialTokenID(api.TokPad)
	if err != nil {
		return nil, errors.Wrap(err, "tokenizer has no pad token")
	}
	eosID, err := tok.SpecialTokenID(api.TokEndOfSentence)
	if err != nil {
		return nil, errors.Wrap(err, "tokenizer has no end-of-sequence token")
	}
	maskID, err := tok.SpecialTokenID(api.TokMask)
	if err != nil {
		return nil, errors.Wrap(err, "tokenizer has no mask token")
	}

	// Ids to strip from marker encodings: tokenizers typically bracket every
	// encoding with bos/cls and eos/sep.
	wrapper := make(map[int]bool)
	for _, special := range []api.SpecialToken{api.TokBeginningOfSentence, api.TokEndOfSentence, api.TokClassification} {
		if id, err := tok.SpecialTokenID(special); err == nil {
			wrapper[id] = true
		}
	}

	unkID := -1
	if id, err := tok.SpecialTokenID(api.TokUnknown); err == nil {
		unkID = id
	}

	tt := &ThreadTokenizer{
		Tokenizer: tok,
		padID:     padID,
		eosID:     eosID,
		maskID:    maskID,
	}
	for _, marker := range markers {
		var ids []int
		for _, id := range tok.Encode(marker) {
			if !wrapper[id] {
				ids = append(ids, id)
			}
		}
		if len(ids) != 1 || ids[0] == unkID {
			return nil, errors.Errorf("marker %q is not a single token of the vocabulary", marker)
		}
		tt.userMarkerIDs = append(tt.userMarkerIDs, ids[0])
	}
	return tt, nil
}

// UserMarkerIDs returns the ids of the speaker-marker tokens, in the order
// the markers were given.
func (t *ThreadTokenizer) UserMarkerIDs() []int { return t.userMarkerIDs }

// PadID returns the padding token id.
func (t *ThreadTokenizer) PadID() int { return t.padID }

// EOSID returns the end-of-sequence token id terminating a thread.
func (t *ThreadTokenizer) EOSID() int { return t.eosID }

// MaskID returns the mask token id of the secondary masked-thread stream.
func (t *ThreadTokenizer) MaskID() int { return t.maskID }

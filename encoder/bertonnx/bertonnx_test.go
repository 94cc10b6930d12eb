package bertonnx

import (
	"os"
	"testing"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncodeBatch runs a real forward pass; it downloads the model, so it
// only runs when ARGMINING_NETWORK_TESTS is set.
func TestEncodeBatch(t *testing.T) {
	if os.Getenv("ARGMINING_NETWORK_TESTS") == "" {
		t.Skip("Requires network access; set ARGMINING_NETWORK_TESTS to run")
	}

	repo := hub.New("dslim/bert-base-NER").WithAuth(os.Getenv("HF_TOKEN"))
	enc, err := New(repo)
	require.NoError(t, err)
	defer enc.Finalize()

	tokens := [][]int{{101, 7592, 2088, 102}}
	mask := [][]int{{1, 1, 1, 1}}
	states, err := enc.EncodeBatch(tokens, mask, nil)
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Len(t, states[0], 4)
	assert.Len(t, states[0][0], enc.HiddenSize())
}

func TestEncodeBatchValidation(t *testing.T) {
	e := &Encoder{hiddenSize: DefaultHiddenSize}

	_, err := e.EncodeBatch(nil, nil, nil)
	assert.Error(t, err)

	// Ragged rows are rejected before touching the backend.
	_, err = e.EncodeBatch([][]int{{1, 2}, {3}}, [][]int{{1, 1}, {1}}, nil)
	assert.Error(t, err)

	_, err = e.EncodeBatch([][]int{{1, 2}}, [][]int{{1}}, nil)
	assert.Error(t, err)
}

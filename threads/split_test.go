package threads

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sent = 100 // speaker-change marker
	eos  = 102
)

func TestSplitEncoding(t *testing.T) {
	tests := []struct {
		name    string
		input   []int
		splitOn []int
		want    [][]int
	}{
		{
			name:    "marker then terminator",
			input:   []int{1, sent, 2, 3, eos, 4},
			splitOn: []int{sent},
			want:    [][]int{{1}, {sent, 2, 3, eos}},
		},
		{
			name:    "no marker no terminator",
			input:   []int{1, 2, 3},
			splitOn: []int{sent},
			want:    [][]int{{1, 2, 3}},
		},
		{
			name:    "terminator before any marker",
			input:   []int{1, 2, eos, sent, 3},
			splitOn: []int{sent},
			want:    [][]int{{1, 2, eos}},
		},
		{
			name:    "leading marker leaves an empty first sub-sequence",
			input:   []int{sent, 1, 2},
			splitOn: []int{sent},
			want:    [][]int{nil, {sent, 1, 2}},
		},
		{
			name:    "several markers",
			input:   []int{1, sent, 2, 101, 3, eos},
			splitOn: []int{sent, 101},
			want:    [][]int{{1}, {sent, 2}, {101, 3, eos}},
		},
		{
			name:    "empty input",
			input:   nil,
			splitOn: []int{sent},
			want:    [][]int{nil},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SplitEncoding(tc.input, tc.splitOn, eos))
		})
	}
}

func TestSplitEncodingConcatenationInvariant(t *testing.T) {
	input := []int{7, sent, 8, 9, sent, sent, 10, eos, 11, 12}
	got := SplitEncoding(input, []int{sent}, eos)

	var flat []int
	for _, sub := range got {
		flat = append(flat, sub...)
	}
	// Everything up to and including the first terminator is reconstructed.
	assert.Equal(t, []int{7, sent, 8, 9, sent, sent, 10, eos}, flat)
}

func TestPadBatch(t *testing.T) {
	got, err := PadBatch([][]int{{1, 2}, {1, 2, 3}, {1}}, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 2, 0}, {1, 2, 3}, {1, 0, 0}}, got)
}

func TestPadBatchIdempotent(t *testing.T) {
	uniform := [][]int{{1, 2, 3}, {4, 5, 6}}
	got, err := PadBatch(uniform, 9)
	require.NoError(t, err)
	assert.Equal(t, uniform, got)

	again, err := PadBatch(got, 9)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestPadBatchEmpty(t *testing.T) {
	_, err := PadBatch(nil, 0)
	assert.Error(t, err)
}

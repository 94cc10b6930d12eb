package dataset

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []ThreadRecord {
	return []ThreadRecord{
		{ThreadID: "t1", Tokens: []int32{1, 2, 3}, Masked: []int32{0, 1, 0}, Labels: []int32{0, 1, 2}},
		{ThreadID: "t2", Tokens: []int32{4, 5}, Masked: []int32{1, 0}, Labels: []int32{0, 0}},
		{ThreadID: "t3", Tokens: []int32{6}, Masked: []int32{0}, Labels: []int32{3}},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.parquet")
	require.NoError(t, WriteThreads(path, sampleRecords()))

	got, err := ReadThreads(path)
	require.NoError(t, err)
	assert.Equal(t, sampleRecords(), got)
}

func TestWriteThreadsMisaligned(t *testing.T) {
	bad := []ThreadRecord{{ThreadID: "x", Tokens: []int32{1, 2}, Masked: []int32{1}, Labels: []int32{0, 0}}}
	err := WriteThreads(filepath.Join(t.TempDir(), "bad.parquet"), bad)
	assert.Error(t, err)
}

func TestThreadBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.parquet")
	require.NoError(t, WriteThreads(path, sampleRecords()))

	var sizes []int
	for tb, err := range ThreadBatches(path, 2) {
		require.NoError(t, err)
		require.Len(t, tb.Tokens, 1, "replica axis must be singleton")
		sizes = append(sizes, len(tb.Tokens[0]))
		for i := range tb.Tokens[0] {
			assert.Equal(t, len(tb.Tokens[0][i]), len(tb.Masked[0][i]))
			assert.Equal(t, len(tb.Tokens[0][i]), len(tb.Labels[0][i]))
		}
	}
	assert.Equal(t, []int{2, 1}, sizes)
}

func TestThreadBatchesMissingFile(t *testing.T) {
	var err error
	for _, e := range ThreadBatches(filepath.Join(t.TempDir(), "nope.parquet"), 2) {
		err = e
		break
	}
	assert.Error(t, err)
}

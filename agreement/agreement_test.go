package agreement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerfectAgreement(t *testing.T) {
	a := New()
	seq := []string{"O", "O", "O", "O", "O"}
	require.NoError(t, a.AddBatch([][]string{seq}, [][]string{seq}))

	alpha, err := a.Compute()
	require.NoError(t, err)
	assert.Equal(t, 1.0, alpha)
	assert.Equal(t, 5, a.Units())
}

func TestPerfectAgreementMultipleCategories(t *testing.T) {
	a := New()
	seq := []string{"O", "B-C", "I-C", "O", "B-P"}
	require.NoError(t, a.AddBatch([][]string{seq}, [][]string{seq}))

	alpha, err := a.Compute()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, alpha, 1e-12)
}

func TestKnownAlphaValue(t *testing.T) {
	// Units (A,A), (A,B), (B,B): coincidences o[A][A]=2, o[A][B]=o[B][A]=1,
	// o[B][B]=2; n=6; alpha = 1 - 5*2/18 = 4/9.
	a := New()
	require.NoError(t, a.AddBatch(
		[][]string{{"A", "A", "B"}},
		[][]string{{"A", "B", "B"}},
	))
	alpha, err := a.Compute()
	require.NoError(t, err)
	assert.InDelta(t, 4.0/9.0, alpha, 1e-12)
}

func TestSystematicDisagreementIsNegative(t *testing.T) {
	a := New()
	preds := make([]string, 40)
	refs := make([]string, 40)
	for i := range preds {
		preds[i], refs[i] = "B-C", "O"
	}
	require.NoError(t, a.AddBatch([][]string{preds}, [][]string{refs}))

	alpha, err := a.Compute()
	require.NoError(t, err)
	assert.Less(t, alpha, 0.0)
}

func TestAccumulatesAcrossBatches(t *testing.T) {
	a := New()
	require.NoError(t, a.AddBatch([][]string{{"O", "O"}}, [][]string{{"O", "O"}}))
	require.NoError(t, a.AddBatch([][]string{{"B-C"}}, [][]string{{"O"}}))
	assert.Equal(t, 3, a.Units())

	alpha, err := a.Compute()
	require.NoError(t, err)
	assert.Less(t, alpha, 1.0)
}

func TestErrors(t *testing.T) {
	a := New()
	_, err := a.Compute()
	assert.Error(t, err, "computing with no units is a caller bug")

	err = a.AddBatch([][]string{{"O"}}, [][]string{{"O"}, {"O"}})
	assert.Error(t, err)

	err = a.AddBatch([][]string{{"O", "O"}}, [][]string{{"O"}})
	assert.Error(t, err)
}

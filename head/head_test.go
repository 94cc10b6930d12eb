package head

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/argmining/labels"
)

const hiddenSize = 6

func newTestHead(t *testing.T, weighted bool) *Head {
	t.Helper()
	h, err := New(hiddenSize, labels.NewScheme(false), rand.New(rand.NewSource(11)))
	require.NoError(t, err)
	if weighted {
		h.WithClassWeights([]float64{1.2, 4.1, 1.3, 3.9, 0.9})
	}
	return h
}

func testBatch(rng *rand.Rand, batchSize, seqLen int) ([][][]float64, [][]int, [][]int) {
	hidden := make([][][]float64, batchSize)
	padMask := make([][]int, batchSize)
	tags := make([][]int, batchSize)
	gold := []int{0, 1, 2, 0, 3, 4, 0, 0, 1, 2}
	for b := range hidden {
		hidden[b] = make([][]float64, seqLen)
		padMask[b] = make([]int, seqLen)
		tags[b] = make([]int, seqLen)
		for pos := range hidden[b] {
			hidden[b][pos] = make([]float64, hiddenSize)
			for i := range hidden[b][pos] {
				hidden[b][pos][i] = rng.NormFloat64()
			}
			padMask[b][pos] = 1
			tags[b][pos] = gold[pos%len(gold)]
		}
	}
	return hidden, padMask, tags
}

func TestLossFiniteAndScaled(t *testing.T) {
	h := newTestHead(t, true)
	hidden, padMask, tags := testBatch(rand.New(rand.NewSource(2)), 3, 7)

	full, err := h.Loss(hidden, padMask, tags, 1.0)
	require.NoError(t, err)
	h.ZeroGrads()

	half, err := h.Loss(hidden, padMask, tags, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, full*0.5, half, 1e-9)
}

func TestLossWeightedIsLarger(t *testing.T) {
	// The cross-entropy term is non-negative, so the combined loss can only
	// grow relative to the bare negative log-likelihood.
	plain := newTestHead(t, false)
	weighted := newTestHead(t, true)
	hidden, padMask, tags := testBatch(rand.New(rand.NewSource(5)), 2, 6)

	lossPlain, err := plain.Loss(hidden, padMask, tags, 1.0)
	require.NoError(t, err)
	lossWeighted, err := weighted.Loss(hidden, padMask, tags, 1.0)
	require.NoError(t, err)
	assert.Greater(t, lossWeighted, lossPlain)
}

func TestLossGradFiniteDifferences(t *testing.T) {
	h := newTestHead(t, true)
	hidden, padMask, tags := testBatch(rand.New(rand.NewSource(17)), 2, 5)

	lossAt := func() float64 {
		loss, err := h.Loss(hidden, padMask, tags, 1.0)
		require.NoError(t, err)
		h.ZeroGrads()
		return loss
	}

	_, err := h.Loss(hidden, padMask, tags, 1.0)
	require.NoError(t, err)
	gradW := h.Grads()[0]
	gradB := h.Grads()[1]
	wantW0 := gradW.At(0, 1)
	wantW1 := gradW.At(3, 4)
	wantB := gradB.At(0, 2)
	h.ZeroGrads()

	const eps = 1e-6
	check := func(m interface {
		At(i, j int) float64
		Set(i, j int, v float64)
	}, i, j int, want float64) {
		orig := m.At(i, j)
		m.Set(i, j, orig+eps)
		plus := lossAt()
		m.Set(i, j, orig-eps)
		minus := lossAt()
		m.Set(i, j, orig)
		assert.InDelta(t, (plus-minus)/(2*eps), want, 1e-4)
	}
	check(h.weight, 0, 1, wantW0)
	check(h.weight, 3, 4, wantW1)
	check(h.bias, 0, 2, wantB)
}

func TestLossAccumulatesAcrossCalls(t *testing.T) {
	h := newTestHead(t, false)
	hidden, padMask, tags := testBatch(rand.New(rand.NewSource(23)), 1, 4)

	_, err := h.Loss(hidden, padMask, tags, 1.0)
	require.NoError(t, err)
	once := h.Grads()[0].At(0, 0)
	_, err = h.Loss(hidden, padMask, tags, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, once*2, h.Grads()[0].At(0, 0), 1e-9)

	h.ZeroGrads()
	assert.Zero(t, h.Grads()[0].At(0, 0))
}

func TestLossShapeMismatch(t *testing.T) {
	h := newTestHead(t, false)
	hidden, padMask, tags := testBatch(rand.New(rand.NewSource(29)), 2, 4)

	_, err := h.Loss(hidden, padMask[:1], tags, 1.0)
	assert.Error(t, err)

	badTags := [][]int{tags[0][:3], tags[1]}
	_, err = h.Loss(hidden, padMask, badTags, 1.0)
	assert.Error(t, err)

	hidden[0][1] = hidden[0][1][:hiddenSize-1]
	_, err = h.Loss(hidden, padMask, tags, 1.0)
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	h := newTestHead(t, false)
	hidden, padMask, _ := testBatch(rand.New(rand.NewSource(31)), 3, 8)
	padMask[1][6], padMask[1][7] = 0, 0

	decoded, err := h.Decode(hidden, padMask)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	assert.Len(t, decoded[0].Tags, 8)
	assert.Len(t, decoded[1].Tags, 6, "padding positions are not decoded")
	for _, seq := range decoded {
		for pos := 1; pos < len(seq.Tags); pos++ {
			assert.True(t, h.CRF().Allowed(seq.Tags[pos-1], seq.Tags[pos]))
		}
	}
}

// Package agreement implements Krippendorff's alpha at the nominal level, as
// an accumulator over batches of predicted vs. reference tag-name sequences.
// Each token position is one unit rated by two coders (the model and the
// ground truth).
package agreement

import (
	"github.com/pkg/errors"
)

// Alpha accumulates (prediction, reference) pairs and computes Krippendorff's
// alpha over everything added so far. The zero value is not usable; call New.
type Alpha struct {
	// coincidence[a][b] counts, for every unit, the ordered value pairs over
	// its two ratings.
	coincidence map[string]map[string]float64
	units       int
}

// New returns an empty accumulator.
func New() *Alpha {
	return &Alpha{coincidence: make(map[string]map[string]float64)}
}

// AddBatch accumulates one batch of aligned tag-name sequences. Every
// prediction sequence must have the same length as its reference.
func (a *Alpha) AddBatch(predictions, references [][]string) error {
	if len(predictions) != len(references) {
		return errors.Errorf("got %d predictions for %d references", len(predictions), len(references))
	}
	for i := range predictions {
		if len(predictions[i]) != len(references[i]) {
			return errors.Errorf("sample %d: prediction has %d tags, reference %d",
				i, len(predictions[i]), len(references[i]))
		}
		for j := range predictions[i] {
			a.add(predictions[i][j], references[i][j])
			a.add(references[i][j], predictions[i][j])
			a.units++
		}
	}
	return nil
}

func (a *Alpha) add(x, y string) {
	row, ok := a.coincidence[x]
	if !ok {
		row = make(map[string]float64)
		a.coincidence[x] = row
	}
	row[y]++
}

// Units returns the number of token units accumulated.
func (a *Alpha) Units() int { return a.units }

// Compute returns Krippendorff's alpha for all accumulated units: 1 for
// perfect agreement, 0 for chance-level agreement, negative for systematic
// disagreement. It fails if nothing was accumulated. When only a single
// category was ever observed, expected disagreement is zero and alpha is 1.
func (a *Alpha) Compute() (float64, error) {
	if a.units == 0 {
		return 0, errors.New("no units accumulated")
	}

	totals := make(map[string]float64, len(a.coincidence))
	var n float64
	for c, row := range a.coincidence {
		for _, count := range row {
			totals[c] += count
		}
		n += totals[c]
	}

	var observed float64
	for c, row := range a.coincidence {
		for k, count := range row {
			if c != k {
				observed += count
			}
		}
	}

	var expected float64
	for c, nc := range totals {
		for k, nk := range totals {
			if c != k {
				expected += nc * nk
			}
		}
	}
	if expected == 0 {
		return 1, nil
	}

	// alpha = 1 - (n-1) * sum_{c!=k} o_ck / sum_{c!=k} n_c*n_k
	return 1 - (n-1)*observed/expected, nil
}

package train

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Adam default hyperparameters.
const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// Adam updates a set of dense parameter matrices in place from their paired
// gradient matrices, with bias-corrected first and second moment estimates.
type Adam struct {
	lr     float64
	step   int
	params []*mat.Dense
	grads  []*mat.Dense
	m, v   []*mat.Dense
}

// NewAdam creates an optimizer over the given parameters and their aligned
// gradient matrices.
func NewAdam(params, grads []*mat.Dense, lr float64) (*Adam, error) {
	if len(params) != len(grads) {
		return nil, errors.Errorf("got %d parameter matrices but %d gradient matrices", len(params), len(grads))
	}
	a := &Adam{lr: lr, params: params, grads: grads}
	for i, p := range params {
		pr, pc := p.Dims()
		gr, gc := grads[i].Dims()
		if pr != gr || pc != gc {
			return nil, errors.Errorf("parameter %d is %dx%d but its gradient is %dx%d", i, pr, pc, gr, gc)
		}
		a.m = append(a.m, mat.NewDense(pr, pc, nil))
		a.v = append(a.v, mat.NewDense(pr, pc, nil))
	}
	return a, nil
}

// Steps returns how many optimizer steps have been taken.
func (a *Adam) Steps() int { return a.step }

// Step applies one Adam update from the current gradients. Gradients are left
// untouched; call ZeroGrad to clear them.
func (a *Adam) Step() {
	a.step++
	bc1 := 1 - math.Pow(adamBeta1, float64(a.step))
	bc2 := 1 - math.Pow(adamBeta2, float64(a.step))
	for pi, p := range a.params {
		rows, cols := p.Dims()
		g, m, v := a.grads[pi], a.m[pi], a.v[pi]
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				gij := g.At(i, j)
				mij := adamBeta1*m.At(i, j) + (1-adamBeta1)*gij
				vij := adamBeta2*v.At(i, j) + (1-adamBeta2)*gij*gij
				m.Set(i, j, mij)
				v.Set(i, j, vij)
				update := a.lr * (mij / bc1) / (math.Sqrt(vij/bc2) + adamEps)
				p.Set(i, j, p.At(i, j)-update)
			}
		}
	}
}

// ZeroGrad clears all gradient matrices.
func (a *Adam) ZeroGrad() {
	for _, g := range a.grads {
		g.Zero()
	}
}

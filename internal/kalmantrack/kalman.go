// Package kalmantrack implements the per-corner Kalman filter: a
// constant-velocity state [x, y, vx, vy] with a 2-D position
// measurement.
//
// Built directly on gonum.org/v1/gonum/mat (see DESIGN.md for why
// github.com/llm-inferno/kalman-filter was not wired: its interface
// is not retained anywhere in the available source). gonum/mat is
// already the numerical backbone of internal/geom.
package kalmantrack

import (
	"gonum.org/v1/gonum/mat"
)

// CornerFilter tracks one 2-D point with a constant-velocity model:
// state transition F advances position by velocity each step, process
// noise Q = 0.03*I, measurement noise R = 0.1*I, and measurement
// matrix H projecting [x,y,vx,vy] -> [x,y].
type CornerFilter struct {
	x *mat.VecDense // state: [x, y, vx, vy]
	p *mat.Dense    // 4x4 covariance
}

const (
	processNoise     = 0.03
	measurementNoise = 0.1
)

// NewCornerFilter initializes the filter with the warm-start state
// equal to the first measurement and zero velocity, post-covariance
// identity.
func NewCornerFilter(x0, y0 float64) *CornerFilter {
	return &CornerFilter{
		x: mat.NewVecDense(4, []float64{x0, y0, 0, 0}),
		p: identity(4),
	}
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func transitionMatrix() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 1, 0,
		0, 1, 0, 1,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

func measurementMatrix() *mat.Dense {
	return mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})
}

// Predict advances the state by one constant-velocity step and
// inflates the covariance by the process noise, returning the
// predicted (x, y).
func (f *CornerFilter) Predict() (float64, float64) {
	fm := transitionMatrix()
	var xNext mat.VecDense
	xNext.MulVec(fm, f.x)
	f.x = &xNext

	var fp, fpft mat.Dense
	fp.Mul(fm, f.p)
	fpft.Mul(&fp, fm.T())
	q := identity(4)
	q.Scale(processNoise, q)
	fpft.Add(&fpft, q)
	f.p = &fpft

	return f.x.AtVec(0), f.x.AtVec(1)
}

// Correct applies a (x, y) position measurement via the standard
// Kalman gain update and returns the corrected (x, y).
func (f *CornerFilter) Correct(mx, my float64) (float64, float64) {
	h := measurementMatrix()
	z := mat.NewVecDense(2, []float64{mx, my})

	var hx mat.VecDense
	hx.MulVec(h, f.x)
	var y mat.VecDense
	y.SubVec(z, &hx)

	var hp, s mat.Dense
	hp.Mul(h, f.p)
	s.Mul(&hp, h.T())
	r := identity(2)
	r.Scale(measurementNoise, r)
	s.Add(&s, r)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return f.x.AtVec(0), f.x.AtVec(1)
	}

	var pht mat.Dense
	pht.Mul(f.p, h.T())
	var k mat.Dense
	k.Mul(&pht, &sInv)

	var ky mat.VecDense
	ky.MulVec(&k, &y)
	var xNext mat.VecDense
	xNext.AddVec(f.x, &ky)
	f.x = &xNext

	var kh mat.Dense
	kh.Mul(&k, h)
	ident := identity(4)
	var imkh mat.Dense
	imkh.Sub(ident, &kh)
	var pNext mat.Dense
	pNext.Mul(&imkh, f.p)
	f.p = &pNext

	return f.x.AtVec(0), f.x.AtVec(1)
}

// State returns the current position estimate without advancing the
// filter.
func (f *CornerFilter) State() (float64, float64) {
	return f.x.AtVec(0), f.x.AtVec(1)
}

package autograd

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Matrix is a weight matrix stored as rows of parameter vectors.
// Shape is (Nout, Nin).
type Matrix struct {
	Rows []*Vec
	Nout int
	Nin  int
}

// NewMatrix returns an (nout, nin) matrix with N(0, std²) entries drawn from rng.
func NewMatrix(nout, nin int, std float64, rng *rand.Rand) *Matrix {
	rows := make([]*Vec, nout)
	for i := 0; i < nout; i++ {
		d := make([]float64, nin)
		for j := range d {
			d[j] = rng.NormFloat64() * std
		}
		rows[i] = NewVec(d)
	}
	return &Matrix{Rows: rows, Nout: nout, Nin: nin}
}

// NewMatrixConst returns an (nout, nin) matrix filled with c.
func NewMatrixConst(nout, nin int, c float64) *Matrix {
	rows := make([]*Vec, nout)
	for i := 0; i < nout; i++ {
		d := make([]float64, nin)
		for j := range d {
			d[j] = c
		}
		rows[i] = NewVec(d)
	}
	return &Matrix{Rows: rows, Nout: nout, Nin: nin}
}

// Row returns row i. The returned Vec is the parameter itself, so gradients
// flowing into it accumulate on the matrix.
func (m *Matrix) Row(i int) *Vec {
	return m.Rows[i]
}

// MatVec computes m @ x.
func (m *Matrix) MatVec(x *Vec) *Vec {
	nout, nin := m.Nout, len(x.Data)
	d := make([]float64, nout)
	for i := 0; i < nout; i++ {
		row := m.Rows[i].Data
		sum := 0.0
		for j := 0; j < nin; j++ {
			sum += row[j] * x.Data[j]
		}
		d[i] = sum
	}

	out := NewVec(d)
	kids := make([]Node, nout+1)
	for i := 0; i < nout; i++ {
		kids[i] = m.Rows[i]
	}
	kids[nout] = x
	out.kids = kids
	rows := m.Rows
	out.backFn = func() {
		for i := 0; i < nout; i++ {
			g := out.Grad[i]
			if g == 0 {
				continue
			}
			for j := 0; j < nin; j++ {
				rows[i].Grad[j] += g * x.Data[j]
				x.Grad[j] += g * rows[i].Data[j]
			}
		}
	}
	return out
}

// Params returns the row vectors for the optimizer.
func (m *Matrix) Params() []*Vec {
	return m.Rows
}

// Snapshot returns a deep copy of the matrix values.
func (m *Matrix) Snapshot() [][]float64 {
	out := make([][]float64, len(m.Rows))
	for i, r := range m.Rows {
		out[i] = r.Values()
	}
	return out
}

// Restore overwrites the matrix values from data, which must match the
// matrix shape exactly.
func (m *Matrix) Restore(data [][]float64) error {
	if len(data) != m.Nout {
		return fmt.Errorf("restore matrix: got %d rows, want %d", len(data), m.Nout)
	}
	for i, row := range data {
		if len(row) != m.Nin {
			return fmt.Errorf("restore matrix: row %d has %d columns, want %d", i, len(row), m.Nin)
		}
	}
	for i, row := range data {
		copy(m.Rows[i].Data, row)
	}
	return nil
}

// Linear is an affine projection y = W x + b.
type Linear struct {
	W *Matrix
	B *Matrix // single row
}

// NewLinear returns a Linear layer mapping nin inputs to nout outputs.
func NewLinear(nout, nin int, std float64, rng *rand.Rand) *Linear {
	return &Linear{
		W: NewMatrix(nout, nin, std, rng),
		B: NewMatrixConst(1, nout, 0),
	}
}

// Forward applies the projection.
func (l *Linear) Forward(x *Vec) *Vec {
	return l.W.MatVec(x).Add(l.B.Row(0))
}

// Params returns weight and bias rows.
func (l *Linear) Params() []*Vec {
	out := append([]*Vec{}, l.W.Params()...)
	return append(out, l.B.Params()...)
}

// Named returns the weight and bias as name+".w" and name+".b".
func (l *Linear) Named(name string) []NamedMatrix {
	return []NamedMatrix{{Name: name + ".w", Matrix: l.W}, {Name: name + ".b", Matrix: l.B}}
}

// AdamConfig holds Adam hyperparameters.
type AdamConfig struct {
	Beta1    float64
	Beta2    float64
	Eps      float64
	GradClip float64 // element-wise clip; <= 0 disables
}

// DefaultAdam is the standard Adam configuration.
var DefaultAdam = AdamConfig{
	Beta1:    0.9,
	Beta2:    0.999,
	Eps:      1e-8,
	GradClip: 1.0,
}

// Adam is the Adam optimizer with bias correction.
// Not safe for concurrent use.
type Adam struct {
	cfg AdamConfig
	m   map[*Vec][]float64
	v   map[*Vec][]float64
	t   int
}

// NewAdam creates an optimizer.
func NewAdam(cfg AdamConfig) *Adam {
	return &Adam{
		cfg: cfg,
		m:   make(map[*Vec][]float64),
		v:   make(map[*Vec][]float64),
	}
}

// Steps returns the number of updates applied.
func (a *Adam) Steps() int { return a.t }

// Step applies one update to params with learning rate lr and clears their
// gradients.
func (a *Adam) Step(params []*Vec, lr float64) {
	a.t++
	b1, b2 := a.cfg.Beta1, a.cfg.Beta2
	b1Corr := 1.0 - math.Pow(b1, float64(a.t))
	b2Corr := 1.0 - math.Pow(b2, float64(a.t))

	for _, p := range params {
		mi, ok := a.m[p]
		if !ok {
			mi = make([]float64, len(p.Data))
			a.m[p] = mi
			a.v[p] = make([]float64, len(p.Data))
		}
		vi := a.v[p]
		for j := range p.Data {
			g := p.Grad[j]
			if clip := a.cfg.GradClip; clip > 0 {
				g = math.Max(-clip, math.Min(clip, g))
			}
			mi[j] = b1*mi[j] + (1-b1)*g
			vi[j] = b2*vi[j] + (1-b2)*g*g
			mhat := mi[j] / b1Corr
			vhat := vi[j] / b2Corr
			p.Data[j] -= lr * mhat / (math.Sqrt(vhat) + a.cfg.Eps)
			p.Grad[j] = 0
		}
	}
}

// ZeroGrad clears gradients on params.
func ZeroGrad(params []*Vec) {
	for _, p := range params {
		for j := range p.Grad {
			p.Grad[j] = 0
		}
	}
}

// NamedMatrix pairs a parameter matrix with a stable name used for
// checkpoints.
type NamedMatrix struct {
	Name   string
	Matrix *Matrix
}

// Flatten returns every parameter row of params in order.
func Flatten(params []NamedMatrix) []*Vec {
	var out []*Vec
	for _, p := range params {
		out = append(out, p.Matrix.Params()...)
	}
	return out
}

// Prefix returns params with prefix prepended to every name.
func Prefix(prefix string, params []NamedMatrix) []NamedMatrix {
	out := make([]NamedMatrix, len(params))
	for i, p := range params {
		out[i] = NamedMatrix{Name: prefix + p.Name, Matrix: p.Matrix}
	}
	return out
}

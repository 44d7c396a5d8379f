// Package autograd implements reverse-mode automatic differentiation over
// vectors and scalars.
//
// A forward computation builds a graph of Vec and Scalar nodes; calling
// Backward on the final scalar (usually a loss) accumulates gradients into
// every node reachable from it, including parameter rows held by Matrix.
//
// Nodes are immutable after construction except for their Grad fields.
// Graphs are not safe for concurrent Backward calls, but independent forward
// passes may read the same parameters concurrently.
package autograd

import (
	"math"
)

// Node is anything in the compute graph.
type Node interface {
	children() []Node
	backward()
}

// Vec is a differentiable vector.
type Vec struct {
	Data []float64
	Grad []float64

	kids   []Node
	backFn func()
}

// NewVec wraps data in a leaf Vec. The slice is not copied.
func NewVec(data []float64) *Vec {
	return &Vec{Data: data, Grad: make([]float64, len(data))}
}

// Zeros returns a leaf Vec of n zeros.
func Zeros(n int) *Vec {
	return NewVec(make([]float64, n))
}

// Const returns a leaf Vec holding a copy of data.
func Const(data []float64) *Vec {
	d := make([]float64, len(data))
	copy(d, data)
	return NewVec(d)
}

// Len returns the vector length.
func (v *Vec) Len() int { return len(v.Data) }

func (v *Vec) children() []Node { return v.kids }

func (v *Vec) backward() {
	if v.backFn != nil {
		v.backFn()
	}
}

// Values returns a copy of the vector data.
func (v *Vec) Values() []float64 {
	out := make([]float64, len(v.Data))
	copy(out, v.Data)
	return out
}

// Add returns v + o element-wise.
func (v *Vec) Add(o *Vec) *Vec {
	n := len(v.Data)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = v.Data[i] + o.Data[i]
	}
	out := NewVec(d)
	out.kids = []Node{v, o}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			v.Grad[i] += out.Grad[i]
			o.Grad[i] += out.Grad[i]
		}
	}
	return out
}

// Sub returns v - o element-wise.
func (v *Vec) Sub(o *Vec) *Vec {
	n := len(v.Data)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = v.Data[i] - o.Data[i]
	}
	out := NewVec(d)
	out.kids = []Node{v, o}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			v.Grad[i] += out.Grad[i]
			o.Grad[i] -= out.Grad[i]
		}
	}
	return out
}

// MulVec returns the element-wise product v * o.
func (v *Vec) MulVec(o *Vec) *Vec {
	n := len(v.Data)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = v.Data[i] * o.Data[i]
	}
	out := NewVec(d)
	out.kids = []Node{v, o}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			v.Grad[i] += o.Data[i] * out.Grad[i]
			o.Grad[i] += v.Data[i] * out.Grad[i]
		}
	}
	return out
}

// Scale returns v * s.
func (v *Vec) Scale(s float64) *Vec {
	n := len(v.Data)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = v.Data[i] * s
	}
	out := NewVec(d)
	out.kids = []Node{v}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			v.Grad[i] += s * out.Grad[i]
		}
	}
	return out
}

// ScaleS returns v * s where s is a differentiable scalar.
func (v *Vec) ScaleS(s *Scalar) *Vec {
	n := len(v.Data)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = v.Data[i] * s.Data
	}
	out := NewVec(d)
	out.kids = []Node{v, s}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			v.Grad[i] += s.Data * out.Grad[i]
			s.Grad += v.Data[i] * out.Grad[i]
		}
	}
	return out
}

// AddScalar returns v + s broadcast over every element.
func (v *Vec) AddScalar(s float64) *Vec {
	n := len(v.Data)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = v.Data[i] + s
	}
	out := NewVec(d)
	out.kids = []Node{v}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			v.Grad[i] += out.Grad[i]
		}
	}
	return out
}

// ReLU applies max(0, x) element-wise.
func (v *Vec) ReLU() *Vec {
	n := len(v.Data)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		if v.Data[i] > 0 {
			d[i] = v.Data[i]
		}
	}
	out := NewVec(d)
	out.kids = []Node{v}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			if v.Data[i] > 0 {
				v.Grad[i] += out.Grad[i]
			}
		}
	}
	return out
}

// GELU applies the tanh approximation of the Gaussian error linear unit.
func (v *Vec) GELU() *Vec {
	const c = 0.7978845608028654 // sqrt(2/pi)
	n := len(v.Data)
	d := make([]float64, n)
	th := make([]float64, n)
	for i := 0; i < n; i++ {
		x := v.Data[i]
		th[i] = math.Tanh(c * (x + 0.044715*x*x*x))
		d[i] = 0.5 * x * (1 + th[i])
	}
	out := NewVec(d)
	out.kids = []Node{v}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			x := v.Data[i]
			sech2 := 1 - th[i]*th[i]
			g := 0.5*(1+th[i]) + 0.5*x*sech2*c*(1+3*0.044715*x*x)
			v.Grad[i] += g * out.Grad[i]
		}
	}
	return out
}

// Exp applies e^x element-wise.
func (v *Vec) Exp() *Vec {
	n := len(v.Data)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = math.Exp(v.Data[i])
	}
	out := NewVec(d)
	out.kids = []Node{v}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			v.Grad[i] += d[i] * out.Grad[i]
		}
	}
	return out
}

// Clamp limits every element to [lo, hi]. Gradient flows only through
// elements strictly inside the range.
func (v *Vec) Clamp(lo, hi float64) *Vec {
	n := len(v.Data)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = math.Min(math.Max(v.Data[i], lo), hi)
	}
	out := NewVec(d)
	out.kids = []Node{v}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			if v.Data[i] > lo && v.Data[i] < hi {
				v.Grad[i] += out.Grad[i]
			}
		}
	}
	return out
}

// Dot returns the scalar dot product of v and o.
func (v *Vec) Dot(o *Vec) *Scalar {
	n := len(v.Data)
	val := 0.0
	for i := 0; i < n; i++ {
		val += v.Data[i] * o.Data[i]
	}
	out := &Scalar{Data: val}
	out.kids = []Node{v, o}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			v.Grad[i] += o.Data[i] * out.Grad
			o.Grad[i] += v.Data[i] * out.Grad
		}
	}
	return out
}

// Sum returns the sum of all elements.
func (v *Vec) Sum() *Scalar {
	val := 0.0
	for _, x := range v.Data {
		val += x
	}
	out := &Scalar{Data: val}
	out.kids = []Node{v}
	out.backFn = func() {
		for i := range v.Grad {
			v.Grad[i] += out.Grad
		}
	}
	return out
}

// Element extracts element idx as a Scalar.
func (v *Vec) Element(idx int) *Scalar {
	out := &Scalar{Data: v.Data[idx]}
	out.kids = []Node{v}
	out.backFn = func() {
		v.Grad[idx] += out.Grad
	}
	return out
}

// Slice extracts [start:end).
func (v *Vec) Slice(start, end int) *Vec {
	d := make([]float64, end-start)
	copy(d, v.Data[start:end])
	out := NewVec(d)
	out.kids = []Node{v}
	out.backFn = func() {
		for i, j := 0, start; j < end; i, j = i+1, j+1 {
			v.Grad[j] += out.Grad[i]
		}
	}
	return out
}

// Concat joins vectors end to end.
func Concat(vecs []*Vec) *Vec {
	total := 0
	for _, v := range vecs {
		total += len(v.Data)
	}
	d := make([]float64, 0, total)
	kids := make([]Node, len(vecs))
	for i, v := range vecs {
		d = append(d, v.Data...)
		kids[i] = v
	}
	out := NewVec(d)
	out.kids = kids
	out.backFn = func() {
		offset := 0
		for _, v := range vecs {
			for i := range v.Data {
				v.Grad[i] += out.Grad[offset+i]
			}
			offset += len(v.Data)
		}
	}
	return out
}

// SumVecs adds any number of equal-length vectors in one node.
// Returns a zero leaf of length n when vecs is empty.
func SumVecs(n int, vecs []*Vec) *Vec {
	d := make([]float64, n)
	kids := make([]Node, len(vecs))
	for k, v := range vecs {
		for i := 0; i < n; i++ {
			d[i] += v.Data[i]
		}
		kids[k] = v
	}
	out := NewVec(d)
	if len(vecs) == 0 {
		return out
	}
	out.kids = kids
	out.backFn = func() {
		for _, v := range vecs {
			for i := 0; i < n; i++ {
				v.Grad[i] += out.Grad[i]
			}
		}
	}
	return out
}

// Scalar is a differentiable scalar value.
type Scalar struct {
	Data float64
	Grad float64

	kids   []Node
	backFn func()
}

// NewScalar returns a leaf Scalar.
func NewScalar(data float64) *Scalar {
	return &Scalar{Data: data}
}

func (s *Scalar) children() []Node { return s.kids }

func (s *Scalar) backward() {
	if s.backFn != nil {
		s.backFn()
	}
}

// AddS returns s + o.
func (s *Scalar) AddS(o *Scalar) *Scalar {
	out := &Scalar{Data: s.Data + o.Data}
	out.kids = []Node{s, o}
	out.backFn = func() {
		s.Grad += out.Grad
		o.Grad += out.Grad
	}
	return out
}

// AddF returns s + f.
func (s *Scalar) AddF(f float64) *Scalar {
	out := &Scalar{Data: s.Data + f}
	out.kids = []Node{s}
	out.backFn = func() {
		s.Grad += out.Grad
	}
	return out
}

// MulS returns s * o.
func (s *Scalar) MulS(o *Scalar) *Scalar {
	out := &Scalar{Data: s.Data * o.Data}
	out.kids = []Node{s, o}
	out.backFn = func() {
		s.Grad += o.Data * out.Grad
		o.Grad += s.Data * out.Grad
	}
	return out
}

// MulF returns s * f.
func (s *Scalar) MulF(f float64) *Scalar {
	out := &Scalar{Data: s.Data * f}
	out.kids = []Node{s}
	out.backFn = func() {
		s.Grad += f * out.Grad
	}
	return out
}

// Neg returns -s.
func (s *Scalar) Neg() *Scalar {
	return s.MulF(-1)
}

// Exp returns e^s.
func (s *Scalar) Exp() *Scalar {
	e := math.Exp(s.Data)
	out := &Scalar{Data: e}
	out.kids = []Node{s}
	out.backFn = func() {
		s.Grad += e * out.Grad
	}
	return out
}

// SumScalars adds scalars in a single node. An empty input yields a zero leaf.
func SumScalars(xs []*Scalar) *Scalar {
	out := &Scalar{}
	if len(xs) == 0 {
		return out
	}
	kids := make([]Node, len(xs))
	for i, x := range xs {
		out.Data += x.Data
		kids[i] = x
	}
	out.kids = kids
	out.backFn = func() {
		for _, x := range xs {
			x.Grad += out.Grad
		}
	}
	return out
}

// Backward performs reverse-mode autodiff from root, seeding its gradient
// with 1.
func Backward(root Node) {
	var topo []Node
	visited := make(map[Node]bool)

	var build func(n Node)
	build = func(n Node) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, c := range n.children() {
			build(c)
		}
		topo = append(topo, n)
	}
	build(root)

	switch r := root.(type) {
	case *Scalar:
		r.Grad = 1.0
	case *Vec:
		for i := range r.Grad {
			r.Grad[i] = 1.0
		}
	}

	for i := len(topo) - 1; i >= 0; i-- {
		topo[i].backward()
	}
}

package autograd

import (
	"math"
)

const normEps = 1e-5

// RMSNorm normalizes x by its root mean square.
func RMSNorm(x *Vec) *Vec {
	n := len(x.Data)
	ms := 0.0
	for _, v := range x.Data {
		ms += v * v
	}
	ms /= float64(n)
	scale := 1.0 / math.Sqrt(ms+normEps)

	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = x.Data[i] * scale
	}
	out := NewVec(d)
	out.kids = []Node{x}
	out.backFn = func() {
		// d/dx_i [x_i * s] where s = (ms+eps)^-1/2 and ms depends on all x.
		cross := 0.0
		for j := 0; j < n; j++ {
			cross += out.Grad[j] * x.Data[j]
		}
		dsdms := -0.5 * math.Pow(ms+normEps, -1.5)
		for i := 0; i < n; i++ {
			x.Grad[i] += scale*out.Grad[i] + cross*dsdms*(2.0*x.Data[i]/float64(n))
		}
	}
	return out
}

// Softmax converts logits into probabilities, one Scalar per input.
func Softmax(logits []*Scalar) []*Scalar {
	n := len(logits)
	maxVal := logits[0].Data
	for _, s := range logits[1:] {
		if s.Data > maxVal {
			maxVal = s.Data
		}
	}
	probs := make([]float64, n)
	total := 0.0
	for i := 0; i < n; i++ {
		probs[i] = math.Exp(logits[i].Data - maxVal)
		total += probs[i]
	}
	for i := range probs {
		probs[i] /= total
	}

	kids := make([]Node, n)
	for i := range logits {
		kids[i] = logits[i]
	}
	out := make([]*Scalar, n)
	for i := 0; i < n; i++ {
		ii := i
		sv := &Scalar{Data: probs[i], kids: kids}
		sv.backFn = func() {
			g := out[ii].Grad
			for j := 0; j < n; j++ {
				if j == ii {
					logits[j].Grad += g * probs[ii] * (1.0 - probs[ii])
				} else {
					logits[j].Grad -= g * probs[ii] * probs[j]
				}
			}
		}
		out[i] = sv
	}
	return out
}

// AttentionWeightedSum computes sum_t(weights[t] * values[t]).
func AttentionWeightedSum(weights []*Scalar, values []*Vec) *Vec {
	dim := len(values[0].Data)
	T := len(weights)
	d := make([]float64, dim)
	for t := 0; t < T; t++ {
		w := weights[t].Data
		for j := 0; j < dim; j++ {
			d[j] += w * values[t].Data[j]
		}
	}

	out := NewVec(d)
	kids := make([]Node, 0, 2*T)
	for _, w := range weights {
		kids = append(kids, w)
	}
	for _, v := range values {
		kids = append(kids, v)
	}
	out.kids = kids
	out.backFn = func() {
		for t := 0; t < T; t++ {
			for j := 0; j < dim; j++ {
				weights[t].Grad += values[t].Data[j] * out.Grad[j]
				values[t].Grad[j] += weights[t].Data * out.Grad[j]
			}
		}
	}
	return out
}

// LogSumExp returns log(sum(exp(xs))) computed stably.
func LogSumExp(xs []*Scalar) *Scalar {
	maxVal := math.Inf(-1)
	for _, x := range xs {
		if x.Data > maxVal {
			maxVal = x.Data
		}
	}
	total := 0.0
	for _, x := range xs {
		total += math.Exp(x.Data - maxVal)
	}
	val := maxVal + math.Log(total)

	kids := make([]Node, len(xs))
	for i, x := range xs {
		kids[i] = x
	}
	out := &Scalar{Data: val, kids: kids}
	out.backFn = func() {
		for _, x := range xs {
			x.Grad += math.Exp(x.Data-val) * out.Grad
		}
	}
	return out
}

// Scalars splits a Vec into one Scalar per element.
func Scalars(v *Vec) []*Scalar {
	out := make([]*Scalar, len(v.Data))
	for i := range v.Data {
		out[i] = v.Element(i)
	}
	return out
}

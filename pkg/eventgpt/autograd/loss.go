package autograd

import (
	"math"
)

const halfLog2Pi = 0.9189385332046727 // 0.5 * log(2*pi)

// CrossEntropy returns -log(softmax(logits)[target]).
func CrossEntropy(logits *Vec, target int) *Scalar {
	n := len(logits.Data)
	maxVal := logits.Data[0]
	for _, v := range logits.Data[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	expSum := 0.0
	for i := 0; i < n; i++ {
		expSum += math.Exp(logits.Data[i] - maxVal)
	}
	lse := math.Log(expSum) + maxVal

	out := &Scalar{Data: lse - logits.Data[target]}
	out.kids = []Node{logits}
	out.backFn = func() {
		for i := 0; i < n; i++ {
			p := math.Exp(logits.Data[i] - lse)
			if i == target {
				p -= 1
			}
			logits.Grad[i] += p * out.Grad
		}
	}
	return out
}

// BCEWithLogits returns the summed binary cross-entropy of sigmoid(logits)
// against targets over the elements where mask is true.
func BCEWithLogits(logits *Vec, targets []float64, mask []bool) *Scalar {
	val := 0.0
	for i, z := range logits.Data {
		if !mask[i] {
			continue
		}
		// softplus(z) - y*z is the stable form of -[y log s + (1-y) log(1-s)].
		val += softplus(z) - targets[i]*z
	}
	out := &Scalar{Data: val}
	out.kids = []Node{logits}
	out.backFn = func() {
		for i, z := range logits.Data {
			if !mask[i] {
				continue
			}
			logits.Grad[i] += (sigmoid(z) - targets[i]) * out.Grad
		}
	}
	return out
}

// GaussianNLL returns the summed Gaussian negative log-likelihood of x under
// N(mean, exp(logVar)) over the elements where mask is true.
func GaussianNLL(mean, logVar *Vec, x []float64, mask []bool) *Scalar {
	val := 0.0
	for i := range mean.Data {
		if !mask[i] {
			continue
		}
		diff := x[i] - mean.Data[i]
		val += halfLog2Pi + 0.5*logVar.Data[i] + 0.5*diff*diff*math.Exp(-logVar.Data[i])
	}
	out := &Scalar{Data: val}
	out.kids = []Node{mean, logVar}
	out.backFn = func() {
		for i := range mean.Data {
			if !mask[i] {
				continue
			}
			diff := x[i] - mean.Data[i]
			prec := math.Exp(-logVar.Data[i])
			mean.Grad[i] += -diff * prec * out.Grad
			logVar.Grad[i] += 0.5 * (1 - diff*diff*prec) * out.Grad
		}
	}
	return out
}

// GaussianLogProb returns log N(x | mean, exp(logVar)) for scalar parameters.
func GaussianLogProb(mean, logVar *Scalar, x float64) *Scalar {
	diff := x - mean.Data
	prec := math.Exp(-logVar.Data)
	out := &Scalar{Data: -halfLog2Pi - 0.5*logVar.Data - 0.5*diff*diff*prec}
	out.kids = []Node{mean, logVar}
	out.backFn = func() {
		mean.Grad += diff * prec * out.Grad
		logVar.Grad += -0.5 * (1 - diff*diff*prec) * out.Grad
	}
	return out
}

// LogNormalNLL returns -log p(x) for a log-normal with location mu and
// log scale logSigma. x must be strictly positive.
func LogNormalNLL(mu, logSigma *Scalar, x float64) *Scalar {
	lx := math.Log(x)
	z := (lx - mu.Data) * math.Exp(-logSigma.Data)
	out := &Scalar{Data: lx + logSigma.Data + halfLog2Pi + 0.5*z*z}
	out.kids = []Node{mu, logSigma}
	out.backFn = func() {
		mu.Grad += -z * math.Exp(-logSigma.Data) * out.Grad
		logSigma.Grad += (1 - z*z) * out.Grad
	}
	return out
}

// ExponentialNLL returns -log p(x) for an exponential with rate exp(logRate).
func ExponentialNLL(logRate *Scalar, x float64) *Scalar {
	rate := math.Exp(logRate.Data)
	out := &Scalar{Data: -logRate.Data + rate*x}
	out.kids = []Node{logRate}
	out.backFn = func() {
		logRate.Grad += (-1 + rate*x) * out.Grad
	}
	return out
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func softplus(z float64) float64 {
	if z > 30 {
		return z
	}
	return math.Log1p(math.Exp(z))
}

// Sigmoid is the logistic function on a plain float.
func Sigmoid(z float64) float64 { return sigmoid(z) }

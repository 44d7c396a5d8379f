package heads_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/eventgpt/pkg/eventgpt/autograd"
	egerrors "github.com/randalmurphal/eventgpt/pkg/eventgpt/errors"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/event"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/heads"
	"github.com/randalmurphal/eventgpt/pkg/eventgpt/schema"
)

const hidden = 6

func hiddenVec(seed uint64) *autograd.Vec {
	rng := rand.New(rand.NewPCG(seed, 17))
	d := make([]float64, hidden)
	for i := range d {
		d[i] = rng.NormFloat64()
	}
	return autograd.NewVec(d)
}

func newHead(t *testing.T, spec schema.MeasurementSpec) heads.Head {
	t.Helper()
	cfg := heads.DefaultConfig(hidden)
	cfg.InitStd = 0.5
	h, err := heads.New(spec, cfg, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	return h
}

func TestNew_Dispatch(t *testing.T) {
	tests := []struct {
		spec schema.MeasurementSpec
		want any
	}{
		{schema.MeasurementSpec{Name: "dx", Kind: schema.SingleCategorical, VocabSize: 4}, &heads.Categorical{}},
		{schema.MeasurementSpec{Name: "labs", Kind: schema.MultiCategorical, VocabSize: 3}, &heads.Bernoulli{}},
		{schema.MeasurementSpec{Name: "hr", Kind: schema.Regression, ValueDim: 1, Family: schema.FamilyGaussian}, &heads.Gaussian{}},
		{schema.MeasurementSpec{Name: "bp", Kind: schema.MultivariateRegression, ValueDim: 2, Family: schema.FamilyGaussianMixture, Components: 3}, &heads.GaussianMixture{}},
		{schema.MeasurementSpec{Name: "gap", Kind: schema.TimeToEvent}, &heads.LogNormal{}},
		{schema.MeasurementSpec{Name: "gap", Kind: schema.TimeToEvent, Family: schema.FamilyExponential}, &heads.Exponential{}},
	}
	for _, tt := range tests {
		t.Run(tt.spec.Name+"/"+tt.spec.Kind.String(), func(t *testing.T) {
			d, err := newHead(t, tt.spec).Distribution(hiddenVec(3))
			require.NoError(t, err)
			assert.IsType(t, tt.want, d)
			assert.Equal(t, tt.spec.Name, d.Measurement())
		})
	}
}

func TestNew_Rejects(t *testing.T) {
	cfg := heads.DefaultConfig(hidden)
	rng := rand.New(rand.NewPCG(1, 1))

	_, err := heads.New(schema.MeasurementSpec{Name: "age", Kind: schema.FunctionalTimeDependent, Function: schema.FunctionAge}, cfg, rng)
	assert.ErrorIs(t, err, egerrors.ErrConfiguration)

	_, err = heads.New(schema.MeasurementSpec{Name: "gap", Kind: schema.TimeToEvent, Family: schema.FamilyGaussian}, cfg, rng)
	var idp *egerrors.InvalidDistributionParameterError
	require.ErrorAs(t, err, &idp)
	assert.Equal(t, "family", idp.Parameter)
}

func TestRegisterTimeFamily(t *testing.T) {
	heads.RegisterTimeFamily("test_fixed", func(spec schema.MeasurementSpec, cfg heads.Config, rng *rand.Rand) heads.Head {
		return fixedGapHead{spec: spec}
	})

	support, ok := schema.FamilySupport(schema.TimeToEvent, "test_fixed")
	require.True(t, ok)
	assert.Equal(t, schema.PositiveSupport, support)

	h := newHead(t, schema.MeasurementSpec{Name: "gap", Kind: schema.TimeToEvent, Family: "test_fixed"})
	d, err := h.Distribution(hiddenVec(1))
	require.NoError(t, err)
	assert.InDelta(t, 5.0, d.Mode().Float(), 1e-9)
}

type fixedGapHead struct{ spec schema.MeasurementSpec }

func (h fixedGapHead) Spec() schema.MeasurementSpec   { return h.spec }
func (h fixedGapHead) Params() []autograd.NamedMatrix { return nil }
func (h fixedGapHead) Distribution(*autograd.Vec) (heads.Distribution, error) {
	mu := autograd.NewScalar(math.Log(5))
	return &heads.LogNormal{Mu: mu, LogSigma: autograd.NewScalar(-3)}, nil
}

func TestTimeToEvent_SamplesArePositive(t *testing.T) {
	src := rand.NewPCG(5, 6)
	dists := []heads.Distribution{
		&heads.LogNormal{Mu: autograd.NewScalar(-800), LogSigma: autograd.NewScalar(1)},
		&heads.LogNormal{Mu: autograd.NewScalar(0), LogSigma: autograd.NewScalar(5)},
		&heads.Exponential{LogRate: autograd.NewScalar(700)},
		&heads.Exponential{LogRate: autograd.NewScalar(-5)},
	}
	for _, d := range dists {
		for i := 0; i < 500; i++ {
			x := d.Sample(src, heads.Policy{}).Float()
			require.Greater(t, x, 0.0)
			require.False(t, math.IsInf(x, 0))
		}
		assert.Greater(t, d.Mode().Float(), 0.0)
	}
}

func TestTimeToEvent_RejectsNonPositive(t *testing.T) {
	d := &heads.LogNormal{Mu: autograd.NewScalar(0), LogSigma: autograd.NewScalar(0)}
	for _, v := range []event.Value{event.Scalar(0), event.Scalar(-1), event.Missing()} {
		ll, observed := d.LogLikelihood(v)
		assert.False(t, observed)
		assert.Zero(t, ll.Data)
	}
	ll, observed := d.LogLikelihood(event.Scalar(1))
	require.True(t, observed)
	assert.InDelta(t, -0.5*math.Log(2*math.Pi), ll.Data, 1e-12)
}

func TestGaussian_MaskedElementsIgnored(t *testing.T) {
	d := &heads.Gaussian{
		Mean:   autograd.NewVec([]float64{0, 1, 2}),
		LogVar: autograd.NewVec([]float64{0, 0, 0}),
	}
	mask := []bool{true, false, true}
	a, ok := d.LogLikelihood(event.Vector([]float64{0.5, 100, 2}, mask))
	require.True(t, ok)
	b, _ := d.LogLikelihood(event.Vector([]float64{0.5, -7, 2}, mask))
	assert.Equal(t, a.Data, b.Data)

	want := 2*(-0.5*math.Log(2*math.Pi)) - 0.5*0.25
	assert.InDelta(t, want, a.Data, 1e-12)

	_, ok = d.LogLikelihood(event.Vector([]float64{1, 2, 3}, []bool{false, false, false}))
	assert.False(t, ok)
}

func TestGaussianMixture_LogLikelihood(t *testing.T) {
	d := newHead(t, schema.MeasurementSpec{Name: "bp", Kind: schema.Regression, Family: schema.FamilyGaussianMixture, Components: 2})
	dist, err := d.Distribution(hiddenVec(8))
	require.NoError(t, err)
	m := dist.(*heads.GaussianMixture)

	x := 0.3
	lse := math.Log(math.Exp(m.Logits.Data[0]) + math.Exp(m.Logits.Data[1]))
	want := 0.0
	for c := 0; c < 2; c++ {
		pi := math.Exp(m.Logits.Data[c] - lse)
		v := math.Exp(m.LogVar.Data[c])
		diff := x - m.Mean.Data[c]
		want += pi * math.Exp(-diff*diff/(2*v)) / math.Sqrt(2*math.Pi*v)
	}
	ll, ok := m.LogLikelihood(event.Scalar(x))
	require.True(t, ok)
	assert.InDelta(t, math.Log(want), ll.Data, 1e-9)

	autograd.Backward(ll)
	nonzero := false
	for _, p := range autograd.Flatten(d.Params()) {
		for _, g := range p.Grad {
			nonzero = nonzero || g != 0
		}
	}
	assert.True(t, nonzero)
}

func TestBernoulli_PartialObservation(t *testing.T) {
	d := &heads.Bernoulli{Logits: autograd.NewVec([]float64{0, 0, 0})}
	ll, ok := d.LogLikelihood(event.PartialLabels(3, map[int]bool{1: true}))
	require.True(t, ok)
	assert.InDelta(t, math.Log(0.5), ll.Data, 1e-12)

	_, ok = d.LogLikelihood(event.PartialLabels(3, nil))
	assert.False(t, ok)
}

func TestCategorical_ProbsTopK(t *testing.T) {
	d := &heads.Categorical{Logits: autograd.NewVec([]float64{1, 3, 2, 0})}
	p := d.Probs(1, 2)
	assert.Zero(t, p[0])
	assert.Zero(t, p[3])
	assert.InDelta(t, 1.0, p[1]+p[2], 1e-12)
	assert.Greater(t, p[1], p[2])

	cold := d.Probs(0.01, 0)
	assert.InDelta(t, 1.0, cold[1], 1e-9)

	for i := 0; i < 50; i++ {
		c := d.Sample(rand.NewPCG(uint64(i), 0), heads.Policy{TopK: 1}).Index()
		assert.Equal(t, 1, c)
	}
}

func TestCategorical_VanishingTemperature(t *testing.T) {
	d := &heads.Categorical{Logits: autograd.NewVec([]float64{0.5, 3, -2, 1})}

	p := d.Probs(1e-320, 0)
	assert.Equal(t, []float64{0, 1, 0, 0}, p)
	assert.Equal(t, []float64{0, 1, 0, 0}, d.Probs(1e-320, 2))

	for i := 0; i < 20; i++ {
		src := rand.NewPCG(uint64(i), 3)
		assert.Equal(t, 1, d.Sample(src, heads.Policy{Temperature: 1e-320}).Index())

		c := d.Sample(src, heads.Policy{Temperature: math.NaN()}).Index()
		assert.GreaterOrEqual(t, c, 0, "NaN temperature is read as 1")
		assert.Less(t, c, 4)
	}

	b := &heads.Bernoulli{Logits: autograd.NewVec([]float64{2, -1, 0.5})}
	assert.Equal(t, b.Mode(), b.Sample(rand.NewPCG(1, 1), heads.Policy{Temperature: 1e-320}))
}

func TestDeterministicDecoding(t *testing.T) {
	specs := []schema.MeasurementSpec{
		{Name: "dx", Kind: schema.SingleCategorical, VocabSize: 5},
		{Name: "labs", Kind: schema.MultiCategorical, VocabSize: 4},
		{Name: "bp", Kind: schema.MultivariateRegression, ValueDim: 2},
		{Name: "gap", Kind: schema.TimeToEvent},
	}
	for _, spec := range specs {
		h := newHead(t, spec)
		d, err := h.Distribution(hiddenVec(4))
		require.NoError(t, err)
		a := d.Sample(rand.NewPCG(1, 1), heads.Policy{Deterministic: true})
		b := d.Sample(rand.NewPCG(2, 2), heads.Policy{Deterministic: true})
		assert.Equal(t, a, b, spec.Name)
		assert.Equal(t, d.Mode(), a, spec.Name)
	}

	cat := &heads.Categorical{Logits: autograd.NewVec([]float64{0.1, 2, -1})}
	assert.Equal(t, 1, cat.Mode().Index())
	ln := &heads.LogNormal{Mu: autograd.NewScalar(math.Log(30)), LogSigma: autograd.NewScalar(2)}
	assert.InDelta(t, 30.0, ln.Mode().Float(), 1e-9)
}

func TestSample_SameSeedSameDraws(t *testing.T) {
	h := newHead(t, schema.MeasurementSpec{Name: "labs", Kind: schema.MultiCategorical, VocabSize: 6})
	d, err := h.Distribution(hiddenVec(2))
	require.NoError(t, err)
	for seed := uint64(0); seed < 5; seed++ {
		a := d.Sample(rand.NewPCG(seed, 9), heads.Policy{Temperature: 1.5})
		b := d.Sample(rand.NewPCG(seed, 9), heads.Policy{Temperature: 1.5})
		assert.Equal(t, a, b)
	}
}

func TestDistribution_NonFiniteParameters(t *testing.T) {
	bad := autograd.NewVec([]float64{1, math.NaN(), 0, 0, 0, 0})
	for _, spec := range []schema.MeasurementSpec{
		{Name: "dx", Kind: schema.SingleCategorical, VocabSize: 3},
		{Name: "hr", Kind: schema.Regression},
		{Name: "gap", Kind: schema.TimeToEvent},
	} {
		_, err := newHead(t, spec).Distribution(bad)
		var idp *egerrors.InvalidDistributionParameterError
		require.ErrorAs(t, err, &idp, spec.Name)
		assert.Equal(t, spec.Name, idp.Measurement)
		assert.True(t, egerrors.IsRetryable(err))
	}

	d := &heads.Gaussian{Mean: autograd.NewVec([]float64{math.Inf(1)}), LogVar: autograd.NewVec([]float64{0})}
	assert.ErrorIs(t, d.Validate(), egerrors.ErrInvalidDistributionParameter)
}

func TestGaussian_LogVarClamped(t *testing.T) {
	spec := schema.MeasurementSpec{Name: "hr", Kind: schema.Regression}
	cfg := heads.Config{HiddenSize: hidden, LogVarMin: -1, LogVarMax: 1, InitStd: 50}
	h, err := heads.New(spec, cfg, rand.New(rand.NewPCG(4, 4)))
	require.NoError(t, err)
	d, err := h.Distribution(hiddenVec(6))
	require.NoError(t, err)
	lv := d.(*heads.Gaussian).LogVar.Data[0]
	assert.GreaterOrEqual(t, lv, -1.0)
	assert.LessOrEqual(t, lv, 1.0)
}

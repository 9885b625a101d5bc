package model

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/satindergrewal/tonelab/internal/errs"
)

// Adam defaults.
const (
	DefaultLearningRate = 1e-3
	adamBeta1           = 0.9
	adamBeta2           = 0.999
	adamEps             = 1e-8
)

// Autoencoder is a fully connected autoencoder over fixed-size mel patches:
// flatten, Linear(flat, latent), ReLU, Linear(latent, flat), unflatten.
// Patches are flattened row by row (mel band major).
type Autoencoder struct {
	NMels  int
	SeqLen int
	Latent int

	W1 *mat.Dense    // Latent x flat
	B1 *mat.VecDense // Latent
	W2 *mat.Dense    // flat x Latent
	B2 *mat.VecDense // flat

	opt *adam
}

// NewAutoencoder creates an autoencoder with weights drawn uniformly from
// ±1/sqrt(fan_in), seeded so runs are reproducible.
func NewAutoencoder(nMels, seqLen, latent int, seed uint64) (*Autoencoder, error) {
	if nMels <= 0 || seqLen <= 0 || latent <= 0 {
		return nil, fmt.Errorf("autoencoder dims %dx%d latent %d: %w", nMels, seqLen, latent, errs.ErrInvalidArgument)
	}
	flat := nMels * seqLen
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	uniform := func(n, fanIn int) []float64 {
		bound := 1 / math.Sqrt(float64(fanIn))
		d := make([]float64, n)
		for i := range d {
			d[i] = (rng.Float64()*2 - 1) * bound
		}
		return d
	}
	return &Autoencoder{
		NMels:  nMels,
		SeqLen: seqLen,
		Latent: latent,
		W1:     mat.NewDense(latent, flat, uniform(latent*flat, flat)),
		B1:     mat.NewVecDense(latent, uniform(latent, flat)),
		W2:     mat.NewDense(flat, latent, uniform(flat*latent, latent)),
		B2:     mat.NewVecDense(flat, uniform(flat, latent)),
	}, nil
}

// Flat is the length of a flattened patch.
func (a *Autoencoder) Flat() int { return a.NMels * a.SeqLen }

// batchMatrix stacks patches as rows of a batch x flat matrix.
func (a *Autoencoder) batchMatrix(batch []*mat.Dense) (*mat.Dense, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("empty batch: %w", errs.ErrInvalidArgument)
	}
	x := mat.NewDense(len(batch), a.Flat(), nil)
	for b, p := range batch {
		r, c := p.Dims()
		if r != a.NMels || c != a.SeqLen {
			return nil, fmt.Errorf("patch %d is %dx%d, want %dx%d: %w", b, r, c, a.NMels, a.SeqLen, errs.ErrInvalidArgument)
		}
		row := x.RawRowView(b)
		for i := range r {
			copy(row[i*c:(i+1)*c], p.RawRowView(i))
		}
	}
	return x, nil
}

func addRowVec(m *mat.Dense, v *mat.VecDense) {
	r, _ := m.Dims()
	data := v.RawVector().Data
	for i := range r {
		row := m.RawRowView(i)
		for j := range row {
			row[j] += data[j]
		}
	}
}

// forward returns the pre-activation, the latent code and the output.
func (a *Autoencoder) forward(x *mat.Dense) (z, h, y *mat.Dense) {
	z = new(mat.Dense)
	z.Mul(x, a.W1.T())
	addRowVec(z, a.B1)
	h = new(mat.Dense)
	h.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, z)
	y = new(mat.Dense)
	y.Mul(h, a.W2.T())
	addRowVec(y, a.B2)
	return z, h, y
}

// Encode returns the latent code of one patch.
func (a *Autoencoder) Encode(patch *mat.Dense) ([]float64, error) {
	x, err := a.batchMatrix([]*mat.Dense{patch})
	if err != nil {
		return nil, err
	}
	_, h, _ := a.forward(x)
	return append([]float64(nil), h.RawRowView(0)...), nil
}

// Decode maps a latent code to a NMels x SeqLen patch.
func (a *Autoencoder) Decode(code []float64) (*mat.Dense, error) {
	if len(code) != a.Latent {
		return nil, fmt.Errorf("latent code has %d values, want %d: %w", len(code), a.Latent, errs.ErrInvalidArgument)
	}
	y := mat.NewVecDense(a.Flat(), nil)
	y.MulVec(a.W2, mat.NewVecDense(a.Latent, append([]float64(nil), code...)))
	y.AddVec(y, a.B2)
	return mat.NewDense(a.NMels, a.SeqLen, y.RawVector().Data), nil
}

// Reconstruct runs one patch through the encoder and decoder.
func (a *Autoencoder) Reconstruct(patch *mat.Dense) (*mat.Dense, error) {
	x, err := a.batchMatrix([]*mat.Dense{patch})
	if err != nil {
		return nil, err
	}
	_, _, y := a.forward(x)
	return mat.NewDense(a.NMels, a.SeqLen, append([]float64(nil), y.RawRowView(0)...)), nil
}

// Loss is the mean squared reconstruction error over batch.
func (a *Autoencoder) Loss(batch []*mat.Dense) (float64, error) {
	x, err := a.batchMatrix(batch)
	if err != nil {
		return 0, err
	}
	_, _, y := a.forward(x)
	return mse(y, x), nil
}

func mse(y, x *mat.Dense) float64 {
	var d mat.Dense
	d.Sub(y, x)
	r, c := d.Dims()
	n := mat.Norm(&d, 2)
	return n * n / float64(r*c)
}

// TrainBatch takes one Adam step on the MSE of batch and returns the loss
// before the step.
func (a *Autoencoder) TrainBatch(batch []*mat.Dense, lr float64) (float64, error) {
	x, err := a.batchMatrix(batch)
	if err != nil {
		return 0, err
	}
	loss, grads := a.gradients(x)
	if a.opt == nil {
		a.opt = newAdam(a.params())
	}
	a.opt.step(a.params(), grads, lr)
	return loss, nil
}

// gradients returns the loss on x and the gradients in params order.
func (a *Autoencoder) gradients(x *mat.Dense) (float64, [][]float64) {
	z, h, y := a.forward(x)
	loss := mse(y, x)

	rows, flat := x.Dims()
	var dy mat.Dense
	dy.Sub(y, x)
	dy.Scale(2/float64(rows*flat), &dy)

	var dW2 mat.Dense
	dW2.Mul(dy.T(), h)

	var dh mat.Dense
	dh.Mul(&dy, a.W2)
	dh.Apply(func(i, j int, v float64) float64 {
		if z.At(i, j) <= 0 {
			return 0
		}
		return v
	}, &dh)

	var dW1 mat.Dense
	dW1.Mul(dh.T(), x)

	return loss, [][]float64{
		dW1.RawMatrix().Data, colSums(&dh),
		dW2.RawMatrix().Data, colSums(&dy),
	}
}

func colSums(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, c)
	for i := range r {
		for j, v := range m.RawRowView(i) {
			out[j] += v
		}
	}
	return out
}

func (a *Autoencoder) params() [][]float64 {
	return [][]float64{
		a.W1.RawMatrix().Data, a.B1.RawVector().Data,
		a.W2.RawMatrix().Data, a.B2.RawVector().Data,
	}
}

type adam struct {
	t    int
	m, v [][]float64
}

func newAdam(params [][]float64) *adam {
	o := &adam{}
	for _, p := range params {
		o.m = append(o.m, make([]float64, len(p)))
		o.v = append(o.v, make([]float64, len(p)))
	}
	return o
}

func (o *adam) step(params, grads [][]float64, lr float64) {
	o.t++
	c1 := 1 - math.Pow(adamBeta1, float64(o.t))
	c2 := 1 - math.Pow(adamBeta2, float64(o.t))
	for i, p := range params {
		m, v, g := o.m[i], o.v[i], grads[i]
		for j := range p {
			m[j] = adamBeta1*m[j] + (1-adamBeta1)*g[j]
			v[j] = adamBeta2*v[j] + (1-adamBeta2)*g[j]*g[j]
			p[j] -= lr * (m[j] / c1) / (math.Sqrt(v[j]/c2) + adamEps)
		}
	}
}

// TrainOptions controls Train.
type TrainOptions struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Seed         uint64
	OnBatch      func(epoch, batch int, loss float64) // optional progress hook
}

// DefaultTrainOptions: 5 epochs, batches of 8, Adam at 1e-3.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{Epochs: 5, BatchSize: 8, LearningRate: DefaultLearningRate, Seed: 1}
}

// Train fits the autoencoder to data, shuffling every epoch, and returns
// the mean batch loss of each epoch. It stops between batches when ctx is
// cancelled.
func (a *Autoencoder) Train(ctx context.Context, data []*mat.Dense, opts TrainOptions) ([]float64, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("no training data: %w", errs.ErrInvalidArgument)
	}
	if opts.Epochs <= 0 || opts.BatchSize <= 0 || opts.LearningRate <= 0 {
		return nil, fmt.Errorf("train options %+v: %w", opts, errs.ErrInvalidArgument)
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed+1))
	order := make([]int, len(data))
	for i := range order {
		order[i] = i
	}

	losses := make([]float64, 0, opts.Epochs)
	for epoch := range opts.Epochs {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		var total float64
		var batches int
		for start := 0; start < len(order); start += opts.BatchSize {
			if err := ctx.Err(); err != nil {
				return losses, err
			}
			end := min(start+opts.BatchSize, len(order))
			batch := make([]*mat.Dense, 0, end-start)
			for _, idx := range order[start:end] {
				batch = append(batch, data[idx])
			}
			loss, err := a.TrainBatch(batch, opts.LearningRate)
			if err != nil {
				return losses, err
			}
			total += loss
			if opts.OnBatch != nil {
				opts.OnBatch(epoch, batches, loss)
			}
			batches++
		}
		losses = append(losses, total/float64(batches))
	}
	return losses, nil
}

// weightsFile is the gob layout of saved weights.
type weightsFile struct {
	NMels, SeqLen, Latent int
	W1, B1, W2, B2        []float64
}

// Save writes the weights with encoding/gob. Optimizer state is not saved.
func (a *Autoencoder) Save(w io.Writer) error {
	return gob.NewEncoder(w).Encode(weightsFile{
		NMels: a.NMels, SeqLen: a.SeqLen, Latent: a.Latent,
		W1: a.W1.RawMatrix().Data, B1: a.B1.RawVector().Data,
		W2: a.W2.RawMatrix().Data, B2: a.B2.RawVector().Data,
	})
}

// LoadAutoencoder reads weights written by Save.
func LoadAutoencoder(r io.Reader) (*Autoencoder, error) {
	var f weightsFile
	if err := gob.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode weights: %v: %w", err, errs.ErrInvalidArgument)
	}
	flat := f.NMels * f.SeqLen
	if f.NMels <= 0 || f.SeqLen <= 0 || f.Latent <= 0 ||
		len(f.W1) != f.Latent*flat || len(f.B1) != f.Latent ||
		len(f.W2) != flat*f.Latent || len(f.B2) != flat {
		return nil, fmt.Errorf("weights file has inconsistent shapes: %w", errs.ErrInvalidArgument)
	}
	return &Autoencoder{
		NMels: f.NMels, SeqLen: f.SeqLen, Latent: f.Latent,
		W1: mat.NewDense(f.Latent, flat, f.W1),
		B1: mat.NewVecDense(f.Latent, f.B1),
		W2: mat.NewDense(flat, f.Latent, f.W2),
		B2: mat.NewVecDense(flat, f.B2),
	}, nil
}

// SaveFile writes the weights to path.
func (a *Autoencoder) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := a.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadAutoencoderFile reads weights from path.
func LoadAutoencoderFile(path string) (*Autoencoder, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("weights %s: %w", path, errs.ErrNotFound)
		}
		return nil, err
	}
	defer f.Close()
	return LoadAutoencoder(f)
}

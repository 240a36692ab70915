// Package cnn implements the fixed-topology convolutional classifier used on
// spectrogram images: six conv+batchnorm+ReLU blocks forming a downsampling
// pyramid, finished by a biased 1x1 convolution that emits per-class scores.
package cnn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	gorgonia "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Config carries the architecture and optimizer hyperparameters.
type Config struct {
	// NumClasses is the size of the score vector per window.
	NumClasses int `yaml:"num_classes"`
	// InChannels is the number of input image channels (3 for triaxial data).
	InChannels int `yaml:"in_channels"`
	// InitFilters is the filter count of the first block; each of the first
	// five blocks doubles it.
	InitFilters int `yaml:"init_filters"`
	// BatchSize fixes the batch dimension of the compute graph.
	BatchSize int `yaml:"batch_size"`
	// Height and Width are the input image dimensions.
	Height int `yaml:"height"`
	Width  int `yaml:"width"`
	// LearnRate is the Adam learning rate.
	LearnRate float64 `yaml:"learn_rate"`
}

// DefaultConfig returns the experiment defaults: a width-8 pyramid over
// 129x126 triaxial spectrograms, batches of 32, Adam at 1e-3.
func DefaultConfig() Config {
	return Config{
		NumClasses:  5,
		InChannels:  3,
		InitFilters: 8,
		BatchSize:   32,
		Height:      129,
		Width:       126,
		LearnRate:   1e-3,
	}
}

// Validate rejects configurations the graph builder cannot honor.
func (c Config) Validate() error {
	if c.NumClasses < 2 {
		return errors.Errorf("need at least 2 classes, got %d", c.NumClasses)
	}
	if c.InChannels <= 0 || c.InitFilters <= 0 || c.BatchSize <= 0 {
		return errors.Errorf("channels, filters and batch size must be positive")
	}
	if c.Height <= 0 || c.Width <= 0 {
		return errors.Errorf("invalid input size %dx%d", c.Height, c.Width)
	}
	return nil
}

// block describes one conv+batchnorm+ReLU stage of the pyramid.
type block struct {
	kh, kw, stride, pad int
}

// pyramid is the fixed downsampling schedule. On a 129x126 input the spatial
// size walks 64x63, 32x32, 16x16, 8x8, 4x4, 1x1.
var pyramid = []block{
	{kh: 5, kw: 4, stride: 2, pad: 1},
	{kh: 4, kw: 3, stride: 2, pad: 1},
	{kh: 4, kw: 4, stride: 2, pad: 1},
	{kh: 4, kw: 4, stride: 2, pad: 1},
	{kh: 4, kw: 4, stride: 2, pad: 1},
	{kh: 4, kw: 4, stride: 1, pad: 0},
}

// Network holds the compute graph, its learnable weights and the optimizer.
// The batch dimension is fixed at construction; callers that need smaller
// batches pad and trim.
type Network struct {
	cfg Config

	g          *gorgonia.ExprGraph
	input      *gorgonia.Node
	labels     *gorgonia.Node
	probs      *gorgonia.Node
	cost       *gorgonia.Node
	learnables gorgonia.Nodes
	bnOps      []*gorgonia.BatchNormOp

	vm      gorgonia.VM
	solver  gorgonia.Solver
	costVal gorgonia.Value

	labelBuf []float32
}

// New builds the network with Kaiming-normal (fan-out) conv weights drawn
// from rng, unit batchnorm scales and zero batchnorm biases.
//
// Arguments:
//   - cfg: Architecture and optimizer hyperparameters.
//   - rng: Source of the weight initialization. Seeding it fixes the run.
//
// Returns:
//   - *Network: The ready-to-train network.
//   - error: An error if the configuration or the resulting graph is invalid.
func New(cfg Config, rng *rand.Rand) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Network{
		cfg:      cfg,
		g:        gorgonia.NewGraph(),
		labelBuf: make([]float32, cfg.BatchSize*cfg.NumClasses),
	}

	n.input = gorgonia.NewTensor(n.g, tensor.Float32, 4,
		gorgonia.WithShape(cfg.BatchSize, cfg.InChannels, cfg.Height, cfg.Width),
		gorgonia.WithName("input"))
	n.labels = gorgonia.NewMatrix(n.g, tensor.Float32,
		gorgonia.WithShape(cfg.BatchSize, cfg.NumClasses),
		gorgonia.WithName("labels"))

	x := n.input
	h, w := cfg.Height, cfg.Width
	inC := cfg.InChannels
	outC := cfg.InitFilters
	for i, b := range pyramid {
		var err error
		x, err = n.convBlock(x, i, inC, outC, b, rng)
		if err != nil {
			return nil, errors.Wrapf(err, "building block %d", i)
		}
		h = convSize(h, b.kh, b.pad, b.stride)
		w = convSize(w, b.kw, b.pad, b.stride)
		if h <= 0 || w <= 0 {
			return nil, errors.Errorf("input %dx%d collapses at block %d", cfg.Height, cfg.Width, i)
		}
		inC = outC
		if i < len(pyramid)-1 {
			outC *= 2
		}
	}
	if h != 1 || w != 1 {
		return nil, errors.Errorf("pyramid leaves a %dx%d map for input %dx%d, expected 1x1", h, w, cfg.Height, cfg.Width)
	}

	scores, err := n.classifier(x, inC, rng)
	if err != nil {
		return nil, errors.Wrap(err, "building classifier head")
	}

	if err := n.buildLoss(scores); err != nil {
		return nil, errors.Wrap(err, "building loss")
	}

	if _, err := gorgonia.Grad(n.cost, n.learnables...); err != nil {
		return nil, errors.Wrap(err, "building gradient graph")
	}

	n.vm = gorgonia.NewTapeMachine(n.g, gorgonia.BindDualValues(n.learnables...))
	n.solver = gorgonia.NewAdamSolver(
		gorgonia.WithLearnRate(cfg.LearnRate),
		gorgonia.WithBatchSize(float64(cfg.BatchSize)),
	)
	return n, nil
}

// convBlock appends conv -> batchnorm -> ReLU to x.
func (n *Network) convBlock(x *gorgonia.Node, i, inC, outC int, b block, rng *rand.Rand) (*gorgonia.Node, error) {
	w := n.kaimingConv(fmt.Sprintf("w%d", i), outC, inC, b.kh, b.kw, rng)

	c, err := gorgonia.Conv2d(x, w, tensor.Shape{b.kh, b.kw},
		[]int{b.pad, b.pad}, []int{b.stride, b.stride}, []int{1, 1})
	if err != nil {
		return nil, err
	}

	scale := gorgonia.NewTensor(n.g, tensor.Float32, 4,
		gorgonia.WithShape(1, outC, 1, 1),
		gorgonia.WithName(fmt.Sprintf("bn%d_scale", i)),
		gorgonia.WithInit(gorgonia.Ones()))
	bias := gorgonia.NewTensor(n.g, tensor.Float32, 4,
		gorgonia.WithShape(1, outC, 1, 1),
		gorgonia.WithName(fmt.Sprintf("bn%d_bias", i)),
		gorgonia.WithInit(gorgonia.Zeroes()))

	bn, _, _, op, err := gorgonia.BatchNorm(c, scale, bias, 0.9, 1e-5)
	if err != nil {
		return nil, err
	}
	n.bnOps = append(n.bnOps, op)
	n.learnables = append(n.learnables, w, scale, bias)

	return gorgonia.Rectify(bn)
}

// classifier appends the biased 1x1 score convolution and flattens to
// (batch, classes).
func (n *Network) classifier(x *gorgonia.Node, inC int, rng *rand.Rand) (*gorgonia.Node, error) {
	w := n.kaimingConv("w_cls", n.cfg.NumClasses, inC, 1, 1, rng)
	b := gorgonia.NewTensor(n.g, tensor.Float32, 4,
		gorgonia.WithShape(1, n.cfg.NumClasses, 1, 1),
		gorgonia.WithName("b_cls"),
		gorgonia.WithInit(gorgonia.Zeroes()))
	n.learnables = append(n.learnables, w, b)

	c, err := gorgonia.Conv2d(x, w, tensor.Shape{1, 1}, []int{0, 0}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, err
	}
	c, err = gorgonia.BroadcastAdd(c, b, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(c, tensor.Shape{n.cfg.BatchSize, n.cfg.NumClasses})
}

// buildLoss attaches softmax probabilities and the cross-entropy cost.
func (n *Network) buildLoss(scores *gorgonia.Node) error {
	probs, err := gorgonia.SoftMax(scores)
	if err != nil {
		return err
	}
	n.probs = probs

	// Tiny floor keeps the log finite when a class probability underflows.
	floored, err := gorgonia.Add(probs, gorgonia.NewConstant(float32(1e-12)))
	if err != nil {
		return err
	}
	logp, err := gorgonia.Log(floored)
	if err != nil {
		return err
	}
	picked, err := gorgonia.HadamardProd(n.labels, logp)
	if err != nil {
		return err
	}
	perSample, err := gorgonia.Sum(picked, 1)
	if err != nil {
		return err
	}
	mean, err := gorgonia.Mean(perSample)
	if err != nil {
		return err
	}
	n.cost, err = gorgonia.Neg(mean)
	if err != nil {
		return err
	}
	gorgonia.Read(n.cost, &n.costVal)
	return nil
}

// kaimingConv creates a conv weight node with N(0, sqrt(2/fanOut)) entries,
// fanOut = outC*kh*kw.
func (n *Network) kaimingConv(name string, outC, inC, kh, kw int, rng *rand.Rand) *gorgonia.Node {
	std := math.Sqrt(2 / float64(outC*kh*kw))
	backing := make([]float32, outC*inC*kh*kw)
	for i := range backing {
		backing[i] = float32(rng.NormFloat64() * std)
	}
	val := tensor.New(tensor.WithShape(outC, inC, kh, kw), tensor.WithBacking(backing))
	return gorgonia.NewTensor(n.g, tensor.Float32, 4,
		gorgonia.WithValue(val), gorgonia.WithName(name))
}

// convSize is the output extent of a convolution along one axis.
func convSize(in, kernel, pad, stride int) int {
	return (in+2*pad-kernel)/stride + 1
}

// Config returns the construction parameters.
func (n *Network) Config() Config { return n.cfg }

// BatchSize returns the fixed batch dimension of the graph.
func (n *Network) BatchSize() int { return n.cfg.BatchSize }

// SetTraining switches the batchnorm layers between batch statistics
// (training) and running statistics (inference).
func (n *Network) SetTraining(training bool) {
	for _, op := range n.bnOps {
		if training {
			op.SetTraining()
		} else {
			op.SetTesting()
		}
	}
}

// Step runs one optimizer step on a full batch.
//
// Arguments:
//   - x: Flat batch of images, BatchSize*InChannels*Height*Width values.
//   - y: Class labels, one per batch row.
//
// Returns:
//   - float32: The cross-entropy loss of the batch before the update.
//   - error: An error if shapes mismatch or the graph fails to run.
func (n *Network) Step(x []float32, y []int) (float32, error) {
	if len(y) != n.cfg.BatchSize {
		return 0, errors.Errorf("got %d labels for batch size %d", len(y), n.cfg.BatchSize)
	}
	if err := n.forward(x, y); err != nil {
		return 0, err
	}
	defer n.vm.Reset()

	if err := n.solver.Step(gorgonia.NodesToValueGrads(n.learnables)); err != nil {
		return 0, errors.Wrap(err, "optimizer step")
	}
	return n.costVal.Data().(float32), nil
}

// Predict runs a forward pass and returns the flat (BatchSize, NumClasses)
// softmax probabilities. The optimizer is not stepped.
func (n *Network) Predict(x []float32) ([]float32, error) {
	if err := n.forward(x, nil); err != nil {
		return nil, err
	}
	defer n.vm.Reset()

	data := n.probs.Value().Data().([]float32)
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

// forward binds the inputs and runs the tape machine. A nil label slice
// binds an all-zero target, which leaves the loss meaningless but the
// probabilities valid.
func (n *Network) forward(x []float32, y []int) error {
	want := n.cfg.BatchSize * n.cfg.InChannels * n.cfg.Height * n.cfg.Width
	if len(x) != want {
		return errors.Errorf("got %d input values, want %d", len(x), want)
	}

	xT := tensor.New(
		tensor.WithShape(n.cfg.BatchSize, n.cfg.InChannels, n.cfg.Height, n.cfg.Width),
		tensor.WithBacking(x))
	if err := gorgonia.Let(n.input, xT); err != nil {
		return errors.Wrap(err, "binding input")
	}

	for i := range n.labelBuf {
		n.labelBuf[i] = 0
	}
	for i, cls := range y {
		if cls < 0 || cls >= n.cfg.NumClasses {
			return errors.Errorf("label %d out of range [0, %d)", cls, n.cfg.NumClasses)
		}
		n.labelBuf[i*n.cfg.NumClasses+cls] = 1
	}
	yT := tensor.New(
		tensor.WithShape(n.cfg.BatchSize, n.cfg.NumClasses),
		tensor.WithBacking(n.labelBuf))
	if err := gorgonia.Let(n.labels, yT); err != nil {
		return errors.Wrap(err, "binding labels")
	}

	return errors.Wrap(n.vm.RunAll(), "running graph")
}

// Close releases the tape machine.
func (n *Network) Close() error {
	return n.vm.Close()
}

// Package hmm smooths frame-level classifier output with a first-order
// Hidden Markov Model. The model is fit from softmax probabilities and
// ground-truth labels, and decoding runs log-space Viterbi over the
// classifier's argmax sequence.
package hmm

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// logGuard keeps log() finite on zero-probability entries.
const logGuard = 1e-16

// Model holds the fitted HMM parameters. States and observations share the
// activity class alphabet.
type Model struct {
	// States is the number of hidden states (activity classes).
	States int
	// Prior holds the empirical class frequencies.
	Prior []float64
	// Emission maps hidden state i to the mean predicted probability of
	// observing class j, row i column j.
	Emission *mat.Dense
	// Transition holds the empirical frequency of the i->j state change,
	// row i column j.
	Transition *mat.Dense
}

// Fit estimates prior, emission and transition matrices from a sequence of
// softmax outputs and the true labels it was scored against.
//
// Arguments:
//   - probs: (len(labels) x states) matrix of per-frame class probabilities,
//     in temporal order.
//   - labels: Ground-truth class per frame, same order.
//   - states: Number of activity classes.
//
// Returns:
//   - *Model: The fitted model.
//   - error: An error if the inputs are empty or inconsistently sized.
func Fit(probs *mat.Dense, labels []int, states int) (*Model, error) {
	n := len(labels)
	if n == 0 {
		return nil, errors.New("cannot fit an HMM on an empty sequence")
	}
	r, c := probs.Dims()
	if r != n || c != states {
		return nil, errors.Errorf("probability matrix is %dx%d, want %dx%d", r, c, n, states)
	}

	counts := make([]float64, states)
	for _, y := range labels {
		if y < 0 || y >= states {
			return nil, errors.Errorf("label %d out of range [0, %d)", y, states)
		}
		counts[y]++
	}

	prior := make([]float64, states)
	for i, ct := range counts {
		prior[i] = ct / float64(n)
	}

	// Emission row i is the mean predicted distribution over frames whose
	// true class is i. Classes absent from the sequence keep a zero row;
	// the decoder's log guard handles them.
	emission := mat.NewDense(states, states, nil)
	for t, y := range labels {
		for j := 0; j < states; j++ {
			emission.Set(y, j, emission.At(y, j)+probs.At(t, j))
		}
	}
	for i := 0; i < states; i++ {
		if counts[i] == 0 {
			continue
		}
		for j := 0; j < states; j++ {
			emission.Set(i, j, emission.At(i, j)/counts[i])
		}
	}

	transition := mat.NewDense(states, states, nil)
	from := make([]float64, states)
	for t := 0; t+1 < n; t++ {
		transition.Set(labels[t], labels[t+1], transition.At(labels[t], labels[t+1])+1)
		from[labels[t]]++
	}
	for i := 0; i < states; i++ {
		if from[i] == 0 {
			continue
		}
		for j := 0; j < states; j++ {
			transition.Set(i, j, transition.At(i, j)/from[i])
		}
	}

	return &Model{
		States:     states,
		Prior:      prior,
		Emission:   emission,
		Transition: transition,
	}, nil
}

// Viterbi decodes the most likely hidden state sequence behind the observed
// class predictions. Decoding happens in log space with a small guard so
// zero-probability entries stay finite rather than poisoning the trellis.
//
// Arguments:
//   - obs: Predicted class per frame, in temporal order.
//
// Returns:
//   - []int: The smoothed class sequence, same length as obs.
func (m *Model) Viterbi(obs []int) []int {
	if len(obs) == 0 {
		return nil
	}

	n := len(obs)
	delta := mat.NewDense(n, m.States, nil)
	back := make([][]int, n)

	for s := 0; s < m.States; s++ {
		delta.Set(0, s, math.Log(m.Prior[s]+logGuard)+math.Log(m.Emission.At(s, obs[0])+logGuard))
	}

	for t := 1; t < n; t++ {
		back[t] = make([]int, m.States)
		for s := 0; s < m.States; s++ {
			best := math.Inf(-1)
			bestK := 0
			for k := 0; k < m.States; k++ {
				v := delta.At(t-1, k) + math.Log(m.Transition.At(k, s)+logGuard)
				if v > best {
					best = v
					bestK = k
				}
			}
			delta.Set(t, s, best+math.Log(m.Emission.At(s, obs[t])+logGuard))
			back[t][s] = bestK
		}
	}

	path := make([]int, n)
	best := math.Inf(-1)
	for s := 0; s < m.States; s++ {
		if v := delta.At(n-1, s); v > best {
			best = v
			path[n-1] = s
		}
	}
	for t := n - 1; t > 0; t-- {
		path[t-1] = back[t][path[t]]
	}
	return path
}

// Smooth is Viterbi applied to the argmax predictions derived from a
// probability matrix, a convenience for callers holding raw softmax output.
func (m *Model) Smooth(probs *mat.Dense) []int {
	n, _ := probs.Dims()
	obs := make([]int, n)
	for t := 0; t < n; t++ {
		obs[t] = argmaxRow(probs, t, m.States)
	}
	return m.Viterbi(obs)
}

func argmaxRow(probs *mat.Dense, row, cols int) int {
	best := math.Inf(-1)
	arg := 0
	for j := 0; j < cols; j++ {
		if v := probs.At(row, j); v > best {
			best = v
			arg = j
		}
	}
	return arg
}

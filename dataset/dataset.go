// Package dataset loads the pre-extracted accelerometer windows and label
// metadata used by the spectrogram experiment.
//
// The raw signal lives in a NumPy .npy file shaped (N, channels, samples)
// with float32 values. Labels and participant ids live in a companion .npz
// archive under the "y" and "pid" entries.
package dataset

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
	"github.com/sbinet/npyio/npz"
)

// DefaultClassNames are the activity classes of the Capture24 label scheme,
// indexed by class id.
var DefaultClassNames = []string{"sleep", "sedentary", "tasks-light", "walking", "moderate"}

// Dataset is an in-memory view of the experiment data.
type Dataset struct {
	// X holds the raw triaxial windows in row-major (N, Channels, Samples)
	// order.
	X []float32
	// Y holds the activity class per window.
	Y []int
	// PID holds the participant id per window.
	PID []int

	// N is the number of windows.
	N int
	// Channels is the number of signal axes per window.
	Channels int
	// Samples is the number of readings per window and channel.
	Samples int
}

// Load reads the raw windows from rawPath and the label metadata from
// metaPath.
//
// Arguments:
//   - rawPath: Path to the .npy file holding the (N, channels, samples) signal.
//   - metaPath: Path to the .npz archive holding the "y" and "pid" entries.
//
// Returns:
//   - *Dataset: The loaded dataset.
//   - error: An error if either file is missing, malformed, or inconsistent.
func Load(rawPath, metaPath string) (*Dataset, error) {
	ds, err := loadRaw(rawPath)
	if err != nil {
		return nil, errors.Wrapf(err, "loading raw windows from %s", rawPath)
	}

	y, pid, err := loadMeta(metaPath)
	if err != nil {
		return nil, errors.Wrapf(err, "loading label metadata from %s", metaPath)
	}
	if len(y) != ds.N {
		return nil, errors.Errorf("label count %d does not match window count %d", len(y), ds.N)
	}
	if len(pid) != ds.N {
		return nil, errors.Errorf("participant id count %d does not match window count %d", len(pid), ds.N)
	}

	ds.Y = y
	ds.PID = pid
	return ds, nil
}

// loadRaw parses the signal array and validates its shape.
func loadRaw(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "parsing npy header")
	}

	shape := r.Header.Descr.Shape
	if len(shape) != 3 {
		return nil, errors.Errorf("expected a 3-dimensional signal array, got shape %v", shape)
	}

	var data []float32
	if err := r.Read(&data); err != nil {
		return nil, errors.Wrap(err, "reading npy payload")
	}
	if want := shape[0] * shape[1] * shape[2]; len(data) != want {
		return nil, errors.Errorf("payload holds %d values, header claims %d", len(data), want)
	}

	return &Dataset{
		X:        data,
		N:        shape[0],
		Channels: shape[1],
		Samples:  shape[2],
	}, nil
}

// loadMeta parses the labels and participant ids out of the npz archive.
func loadMeta(path string) (y, pid []int, err error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening npz archive")
	}
	defer r.Close()

	y, err = readIntEntry(r, "y")
	if err != nil {
		return nil, nil, err
	}
	pid, err = readIntEntry(r, "pid")
	if err != nil {
		return nil, nil, err
	}
	return y, pid, nil
}

// readIntEntry reads an integer vector from the archive, accepting the entry
// name with or without the .npy suffix numpy.savez uses internally.
func readIntEntry(r *npz.Reader, name string) ([]int, error) {
	var raw []int64
	if err := r.Read(name+".npy", &raw); err != nil {
		if err2 := r.Read(name, &raw); err2 != nil {
			return nil, errors.Wrapf(err, "reading %q entry", name)
		}
	}

	out := make([]int, len(raw))
	for i, v := range raw {
		out[i] = int(v)
	}
	return out, nil
}

// Window returns the raw samples of window i, all channels concatenated.
func (d *Dataset) Window(i int) []float32 {
	stride := d.Channels * d.Samples
	return d.X[i*stride : (i+1)*stride]
}

// ChannelOf returns the samples of a single channel of window i.
func (d *Dataset) ChannelOf(i, ch int) []float32 {
	base := (i*d.Channels + ch) * d.Samples
	return d.X[base : base+d.Samples]
}

// LabelsAt gathers the labels of the given window indices.
func (d *Dataset) LabelsAt(idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = d.Y[j]
	}
	return out
}

// ParticipantsAt gathers the participant ids of the given window indices.
func (d *Dataset) ParticipantsAt(idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = d.PID[j]
	}
	return out
}

// NumClasses returns one more than the largest class id present.
func (d *Dataset) NumClasses() int {
	max := -1
	for _, v := range d.Y {
		if v > max {
			max = v
		}
	}
	return max + 1
}

// SplitByParticipant partitions the window indices into a training and a test
// split. A window lands in the test split exactly when its participant id is
// listed in testPIDs. The split is grouped by participant, never random, so
// no participant contributes to both splits.
//
// Arguments:
//   - testPIDs: Participant ids to hold out for testing.
//
// Returns:
//   - train: Indices of training windows, in dataset order.
//   - test: Indices of held-out windows, in dataset order.
func (d *Dataset) SplitByParticipant(testPIDs []int) (train, test []int) {
	held := make(map[int]bool, len(testPIDs))
	for _, p := range testPIDs {
		held[p] = true
	}

	for i, p := range d.PID {
		if held[p] {
			test = append(test, i)
		} else {
			train = append(train, i)
		}
	}
	return train, test
}

package spectrogram

import (
	"os"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// Store is a memory-mapped array of spectrogram images shaped
// (N, Channels, FreqBins, TimeBins) in float32. Staging the images in a
// mapped file keeps peak memory bounded no matter how large the dataset is:
// the kernel pages tiles in and out as batches are gathered.
type Store struct {
	f    *os.File
	m    mmap.MMap
	vals []float32

	n, c, h, w int
	path       string
	temp       bool
}

// NewStore creates a writable store backed by the file at path. An empty
// path stages into a temporary file that is removed on Close.
//
// Arguments:
//   - path: Backing file path, or "" for an unlinked temporary file.
//   - n, c, h, w: Array dimensions (windows, channels, freq bins, time bins).
//
// Returns:
//   - *Store: The mapped store, zero-filled.
//   - error: An error if the file cannot be created, sized, or mapped.
func NewStore(path string, n, c, h, w int) (*Store, error) {
	if n <= 0 || c <= 0 || h <= 0 || w <= 0 {
		return nil, errors.Errorf("invalid store dimensions (%d, %d, %d, %d)", n, c, h, w)
	}

	var (
		f    *os.File
		err  error
		temp bool
	)
	if path == "" {
		f, err = os.CreateTemp("", "spectrogram-*.dat")
		temp = true
	} else {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	}
	if err != nil {
		return nil, errors.Wrap(err, "creating staging file")
	}

	size := int64(n) * int64(c) * int64(h) * int64(w) * 4
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "sizing staging file")
	}

	return mapStore(f, n, c, h, w, temp)
}

// OpenStore maps an existing staging file read-write. It fails unless the
// file size matches the expected dimensions exactly, which is the reuse check
// that lets repeated runs skip spectrogram generation.
func OpenStore(path string, n, c, h, w int) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "opening staging file")
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "inspecting staging file")
	}
	want := int64(n) * int64(c) * int64(h) * int64(w) * 4
	if info.Size() != want {
		f.Close()
		return nil, errors.Errorf("staging file holds %d bytes, expected %d", info.Size(), want)
	}

	return mapStore(f, n, c, h, w, false)
}

func mapStore(f *os.File, n, c, h, w int, temp bool) (*Store, error) {
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mapping staging file")
	}

	return &Store{
		f:    f,
		m:    m,
		vals: unsafe.Slice((*float32)(unsafe.Pointer(&m[0])), len(m)/4),
		n:    n,
		c:    c,
		h:    h,
		w:    w,
		path: f.Name(),
		temp: temp,
	}, nil
}

// Dims returns the array dimensions.
func (s *Store) Dims() (n, c, h, w int) {
	return s.n, s.c, s.h, s.w
}

// Len returns the number of windows in the store.
func (s *Store) Len() int { return s.n }

// WindowSize returns the number of float32 values per window image.
func (s *Store) WindowSize() int { return s.c * s.h * s.w }

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Window returns the image of window i, channels concatenated. The slice
// aliases the mapping; callers must not retain it past Close.
func (s *Store) Window(i int) []float32 {
	stride := s.WindowSize()
	return s.vals[i*stride : (i+1)*stride]
}

// Channel returns one channel plane of window i as a (FreqBins, TimeBins)
// row-major slice.
func (s *Store) Channel(i, ch int) []float32 {
	plane := s.h * s.w
	base := (i*s.c + ch) * plane
	return s.vals[base : base+plane]
}

// Gather copies the images of the listed windows into dst back to back.
// dst must hold len(idx)*WindowSize() values.
func (s *Store) Gather(idx []int, dst []float32) error {
	stride := s.WindowSize()
	if len(dst) < len(idx)*stride {
		return errors.Errorf("gather destination holds %d values, need %d", len(dst), len(idx)*stride)
	}
	for i, j := range idx {
		copy(dst[i*stride:(i+1)*stride], s.Window(j))
	}
	return nil
}

// Flush forces dirty pages out to the backing file.
func (s *Store) Flush() error {
	return errors.Wrap(s.m.Flush(), "flushing staging file")
}

// Close unmaps and closes the backing file, deleting it if it was temporary.
func (s *Store) Close() error {
	s.vals = nil
	if err := s.m.Unmap(); err != nil {
		s.f.Close()
		return errors.Wrap(err, "unmapping staging file")
	}
	if err := s.f.Close(); err != nil {
		return errors.Wrap(err, "closing staging file")
	}
	if s.temp {
		return os.Remove(s.path)
	}
	return nil
}

package spectrogram

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreReadWrite(t *testing.T) {
	store, err := NewStore("", 3, 2, 4, 5)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, 3, store.Len())
	assert.Equal(t, 2*4*5, store.WindowSize())

	// Write through one view, read through another.
	ch := store.Channel(1, 1)
	for i := range ch {
		ch[i] = float32(i)
	}
	win := store.Window(1)
	assert.Equal(t, float32(0), win[4*5], "channel 1 starts after channel 0's plane")
	assert.Equal(t, float32(19), win[2*4*5-1])
}

func TestStoreGather(t *testing.T) {
	store, err := NewStore("", 4, 1, 2, 2)
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 4; i++ {
		w := store.Window(i)
		for j := range w {
			w[j] = float32(i)
		}
	}

	dst := make([]float32, 2*store.WindowSize())
	require.NoError(t, store.Gather([]int{3, 1}, dst))
	assert.Equal(t, []float32{3, 3, 3, 3, 1, 1, 1, 1}, dst)

	assert.Error(t, store.Gather([]int{0, 1, 2}, dst), "short destination must be rejected")
}

func TestStoreTempFileRemovedOnClose(t *testing.T) {
	store, err := NewStore("", 1, 1, 1, 1)
	require.NoError(t, err)
	path := store.Path()

	require.NoError(t, store.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "temporary staging file must be deleted")
}

func TestOpenStoreChecksSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staged.dat")

	store, err := NewStore(path, 2, 1, 2, 2)
	require.NoError(t, err)
	store.Window(0)[0] = 42
	require.NoError(t, store.Flush())
	require.NoError(t, store.Close())

	// Right dimensions map the file back in with content intact.
	reopened, err := OpenStore(path, 2, 1, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, float32(42), reopened.Window(0)[0])
	require.NoError(t, reopened.Close())

	// Wrong dimensions are a size mismatch.
	_, err = OpenStore(path, 3, 1, 2, 2)
	assert.Error(t, err)

	_, err = OpenStore(filepath.Join(t.TempDir(), "missing.dat"), 1, 1, 1, 1)
	assert.Error(t, err)
}

func TestNewStoreRejectsBadDims(t *testing.T) {
	_, err := NewStore("", 0, 1, 1, 1)
	assert.Error(t, err)
}

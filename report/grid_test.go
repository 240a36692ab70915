package report

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/har-ai/go-har/spectrogram"
)

// gridStore stages four tiny windows with distinguishable content.
func gridStore(t *testing.T) *spectrogram.Store {
	t.Helper()

	store, err := spectrogram.NewStore("", 4, 2, 6, 5)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	for i := 0; i < 4; i++ {
		w := store.Window(i)
		for j := range w {
			w[j] = float32(i*len(w) + j)
		}
	}
	return store
}

func decodeGrid(t *testing.T, path string) image.Image {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	img, err := png.Decode(f)
	require.NoError(t, err, "output must be a decodable PNG")
	return img
}

func TestSaveSpectrogramGrid(t *testing.T) {
	store := gridStore(t)
	path := filepath.Join(t.TempDir(), "grid.png")

	labels := []int{0, 1, 0, 1}
	require.NoError(t, SaveSpectrogramGrid(path, store, labels, nil, 2, 2))

	img := decodeGrid(t, path)
	assert.Equal(t, 2*128, img.Bounds().Dx(), "two columns of tiles, no label margin")
	assert.Equal(t, 2*128, img.Bounds().Dy(), "one row per class")
}

func TestSaveSpectrogramGridRowLabels(t *testing.T) {
	store := gridStore(t)
	path := filepath.Join(t.TempDir(), "grid.png")

	labels := []int{0, 1, 0, 1}
	names := []string{"sleep", "walking"}
	require.NoError(t, SaveSpectrogramGrid(path, store, labels, names, 2, 2))

	img := decodeGrid(t, path)
	assert.Equal(t, gridLabelWidth+2*128, img.Bounds().Dx(), "label margin precedes the tiles")
	assert.Equal(t, 2*128, img.Bounds().Dy())

	// Each row band of the margin must contain text pixels on the white
	// background.
	for row := range names {
		inked := 0
		for y := row * gridCell; y < (row+1)*gridCell; y++ {
			for x := 0; x < gridLabelWidth; x++ {
				r, g, b, _ := img.At(x, y).RGBA()
				if r < 0xffff || g < 0xffff || b < 0xffff {
					inked++
				}
			}
		}
		assert.Greater(t, inked, 0, "row %d has its name drawn", row)
	}

	// The margin background itself stays white.
	r, g, b, _ := img.At(gridLabelWidth-1, 0).RGBA()
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), 255})
}

func TestSaveSpectrogramGridValidation(t *testing.T) {
	store := gridStore(t)
	path := filepath.Join(t.TempDir(), "grid.png")

	err := SaveSpectrogramGrid(path, store, []int{0}, nil, 2, 2)
	assert.Error(t, err, "label count must match the store")

	err = SaveSpectrogramGrid(path, store, []int{0, 1, 0, 1}, nil, 0, 2)
	assert.Error(t, err, "an empty grid is rejected")

	err = SaveSpectrogramGrid(path, store, []int{0, 1, 0, 1}, []string{"sleep"}, 2, 2)
	assert.Error(t, err, "name count must match the class count")
}

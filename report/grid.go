package report

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/plot/palette/moreland"

	"github.com/har-ai/go-har/spectrogram"
)

const (
	// gridCell is the rendered size of one spectrogram tile in pixels.
	gridCell = 128
	// gridLabelWidth is the left margin reserved for class names.
	gridLabelWidth = 96
	// gridLabelPad is the text inset from the left edge.
	gridLabelPad = 8
)

// SaveSpectrogramGrid renders a grid of example spectrograms, one row per
// class and perClass columns, and writes it to path as a PNG. When names is
// non-nil each row is labeled with its class name in a left margin. Only
// the first channel of each window is drawn, through a diverging blue-red
// colormap normalized per tile.
//
// Arguments:
//   - path: Output PNG path.
//   - store: Staged spectrogram images.
//   - labels: Class label per window, aligned with the store.
//   - names: Class name per row, or nil for an unlabeled grid.
//   - numClasses: Number of rows.
//   - perClass: Number of example columns per class.
//
// Returns:
//   - error: An error if no examples exist or writing fails.
func SaveSpectrogramGrid(path string, store *spectrogram.Store, labels []int, names []string, numClasses, perClass int) error {
	if store.Len() != len(labels) {
		return errors.Errorf("store holds %d windows, got %d labels", store.Len(), len(labels))
	}
	if numClasses <= 0 || perClass <= 0 {
		return errors.Errorf("invalid grid %dx%d", numClasses, perClass)
	}
	if names != nil && len(names) != numClasses {
		return errors.Errorf("got %d class names for %d classes", len(names), numClasses)
	}

	margin := 0
	if names != nil {
		margin = gridLabelWidth
	}

	_, _, h, w := store.Dims()
	canvas := image.NewRGBA(image.Rect(0, 0, margin+perClass*gridCell, numClasses*gridCell))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	for cls := 0; cls < numClasses; cls++ {
		col := 0
		for i := 0; i < len(labels) && col < perClass; i++ {
			if labels[i] != cls {
				continue
			}

			tile, err := renderTile(store.Channel(i, 0), h, w)
			if err != nil {
				return errors.Wrapf(err, "rendering window %d", i)
			}
			scaled := resize.Resize(gridCell, gridCell, tile, resize.Bilinear)

			origin := image.Pt(margin+col*gridCell, cls*gridCell)
			draw.Draw(canvas, image.Rectangle{Min: origin, Max: origin.Add(image.Pt(gridCell, gridCell))},
				scaled, image.Point{}, draw.Src)
			col++
		}
	}

	if names != nil {
		drawRowLabels(canvas, names)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()
	return errors.Wrapf(png.Encode(f, canvas), "encoding %s", path)
}

// drawRowLabels prints one class name per row, vertically centered in the
// left margin.
func drawRowLabels(canvas *image.RGBA, names []string) {
	face := basicfont.Face7x13
	d := font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.Black),
		Face: face,
	}
	for row, name := range names {
		d.Dot = fixed.P(gridLabelPad, row*gridCell+gridCell/2+face.Ascent/2)
		d.DrawString(name)
	}
}

// renderTile maps one (h, w) log-magnitude plane through the colormap,
// normalized to the tile's own value range.
func renderTile(plane []float32, h, w int) (image.Image, error) {
	min, max := plane[0], plane[0]
	for _, v := range plane {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		max = min + 1
	}

	cm := moreland.SmoothBlueRed()
	cm.SetMin(float64(min))
	cm.SetMax(float64(max))

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c, err := cm.At(float64(plane[y*w+x]))
			if err != nil {
				return nil, err
			}
			img.Set(x, y, c)
		}
	}
	return img, nil
}

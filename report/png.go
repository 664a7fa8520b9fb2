package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/tsawler/go-mmsa/training"
)

var (
	trainColor = color.RGBA{R: 0xFF, G: 0x6B, B: 0x6B, A: 0xFF}
	validColor = color.RGBA{R: 0x4E, G: 0xCD, B: 0xC4, A: 0xFF}
	testColor  = color.RGBA{R: 0x5F, G: 0x27, B: 0xCD, A: 0xFF}
	lrColor    = color.RGBA{R: 0xFF, G: 0x9F, B: 0x43, A: 0xFF}
)

// WriteCurves renders the loss and key-eval curves of a history to a PNG
// file at path.
func WriteCurves(h *training.History, keyEval, path string) error {
	c, err := FromHistory(h, keyEval)
	if err != nil {
		return err
	}
	return c.WritePNG(path)
}

// WritePNG renders two stacked panels: the per-split losses on top and the
// key-eval metric below. When the key-eval metric is the loss itself the
// lower panel shows the learning rate instead, if one was recorded.
func (c *Curves) WritePNG(path string) error {
	if c.Len() == 0 {
		return ErrNoEpochs
	}

	top, err := c.lossPlot()
	if err != nil {
		return err
	}
	bottom, err := c.lowerPlot()
	if err != nil {
		return err
	}

	plots := [][]*plot.Plot{{top}}
	if bottom != nil {
		plots = append(plots, []*plot.Plot{bottom})
	}

	img := vgimg.New(8*vg.Inch, vg.Length(3*len(plots))*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      len(plots),
		Cols:      1,
		PadY:      vg.Points(12),
		PadTop:    vg.Points(4),
		PadBottom: vg.Points(4),
		PadLeft:   vg.Points(4),
		PadRight:  vg.Points(8),
	}
	canvases := plot.Align(plots, tiles, dc)
	for i := range plots {
		plots[i][0].Draw(canvases[i][0])
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating plot directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating plot file: %w", err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("error writing plot: %w", err)
	}
	return f.Close()
}

func (c *Curves) lossPlot() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Loss per epoch"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"
	p.Add(plotter.NewGrid())

	series := []struct {
		name string
		ys   []float64
		col  color.Color
	}{
		{"train", c.TrainLoss, trainColor},
		{"valid", c.ValidLoss, validColor},
		{"test", c.TestLoss, testColor},
	}
	for _, s := range series {
		if err := c.addLine(p, s.name, s.ys, s.col); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (c *Curves) lowerPlot() (*plot.Plot, error) {
	p := plot.New()
	p.X.Label.Text = "epoch"
	p.Add(plotter.NewGrid())

	if c.KeyEval != "Loss" {
		p.Title.Text = c.KeyEval + " per epoch"
		p.Y.Label.Text = c.KeyEval
		if err := c.addLine(p, "valid", c.ValidKey, validColor); err != nil {
			return nil, err
		}
		if err := c.addLine(p, "test", c.TestKey, testColor); err != nil {
			return nil, err
		}
		return p, nil
	}

	if len(c.LearningRate) != c.Len() {
		return nil, nil
	}
	p.Title.Text = "Learning rate per epoch"
	p.Y.Label.Text = "learning rate"
	if err := c.addLine(p, "lr", c.LearningRate, lrColor); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Curves) addLine(p *plot.Plot, name string, ys []float64, col color.Color) error {
	xys := make(plotter.XYs, len(ys))
	for i, y := range ys {
		xys[i].X = float64(c.Epochs[i])
		xys[i].Y = y
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return fmt.Errorf("error plotting %s: %w", name, err)
	}
	line.Color = col
	line.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add(name, line)
	return nil
}

// Package preview renders heightmaps for inspection: an interactive HTML
// chart and a static PNG heat map.
package preview

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/OCharnyshevich/geoterrain/pkg/terrain/heightmap"
)

// maxPoints bounds the side of the HTML chart grid; larger heightmaps are
// sampled with a stride.
const maxPoints = 96

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// HTML writes an ECharts page plotting h as a coloured scatter grid,
// north up.
func HTML(w io.Writer, title string, h *heightmap.Heightmap) error {
	if err := h.Validate(); err != nil {
		return err
	}

	stride := (h.Width + maxPoints - 1) / maxPoints
	data := make([]opts.ScatterData, 0, (h.Width/stride+1)*(h.Width/stride+1))
	for row := 0; row < h.Width; row += stride {
		for col := 0; col < h.Width; col += stride {
			data = append(data, opts.ScatterData{Value: []interface{}{col, row, h.At(row, col)}})
		}
	}

	st := h.Stats()
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("width=%d stride=%d min=%.4f max=%.4f", h.Width, stride, st.Min, st.Max)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "column (east)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "row (north)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Dimension:  "2",
			Min:        float32(st.Min),
			Max:        float32(st.Max),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("height", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 900 / (h.Width/stride + 1)}))

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

// grid adapts a heightmap to plotter.GridXYZ with column c on X and row r
// on Y.
type grid struct{ h *heightmap.Heightmap }

func (g grid) Dims() (c, r int)   { return g.h.Width, g.h.Width }
func (g grid) Z(c, r int) float64 { return g.h.At(r, c) }
func (g grid) X(c int) float64    { return float64(c) }
func (g grid) Y(r int) float64    { return float64(r) }

// PNG writes a size×size heat map of h.
func PNG(w io.Writer, title string, h *heightmap.Heightmap, size vg.Length) error {
	if err := h.Validate(); err != nil {
		return err
	}
	if h.Width < 2 {
		return fmt.Errorf("%w: heat map needs width >= 2", heightmap.ErrInvalidGeometry)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "column (east)"
	p.Y.Label.Text = "row (north)"

	hm := plotter.NewHeatMap(grid{h}, palette.Heat(32, 1))
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	wt, err := p.WriterTo(size, size, "png")
	if err != nil {
		return fmt.Errorf("create png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

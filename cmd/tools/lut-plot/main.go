// Command lut-plot checks an undulator lookup table file and renders the gap
// and phase curves of every harmonic as PNG images.
//
// Usage:
//
//	lut-plot -table config/id.lut -out plots/lut
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/undulator/internal/lut"
)

var (
	tablePath = flag.String("table", "config/id.lut", "Lookup table file")
	outDir    = flag.String("out", "lut-plots", "Directory for the PNG files")
	samples   = flag.Int("samples", 100, "Interpolated points per curve")
	checkOnly = flag.Bool("check", false, "Only parse and summarise the tables")
)

func main() {
	flag.Parse()

	tables, err := lut.ParseFile(*tablePath)
	if err != nil {
		log.Fatalf("failed to load %s: %v", *tablePath, err)
	}
	summarise(os.Stdout, tables)
	if *checkOnly {
		return
	}

	files, err := render(tables, *outDir, *samples)
	if err != nil {
		log.Fatalf("failed to plot: %v", err)
	}
	for _, f := range files {
		log.Printf("wrote %s", f)
	}
}

// curve is one polarization of one harmonic.
type curve struct {
	label string
	pol   lut.Polarization
	table *lut.Table
}

func curves(l *lut.LookUpTable) []curve {
	var out []curve
	for _, m := range l.Modes() {
		if m == lut.ModeLinearArbitrary {
			continue
		}
		t, _ := l.Table(m)
		out = append(out, curve{label: m.String(), pol: lut.Polarization{Mode: m}, table: t})
	}
	for _, a := range l.Angles() {
		t, _ := l.AngleTable(a)
		pol := lut.LinearAngle(a)
		out = append(out, curve{label: pol.String(), pol: pol, table: t})
	}
	return out
}

func summarise(w io.Writer, tables map[int]*lut.LookUpTable) {
	for _, h := range lut.Harmonics(tables) {
		fmt.Fprintf(w, "harmonic %d\n", h)
		for _, c := range curves(tables[h]) {
			lo, hi := c.table.Domain()
			fmt.Fprintf(w, "  %-6s %3d entries, %g to %g eV\n", c.label, len(c.table.Entries()), lo, hi)
		}
	}
}

// render writes one gap and one phase plot per harmonic and returns the
// file names.
func render(tables map[int]*lut.LookUpTable, dir string, n int) ([]string, error) {
	if n < 2 {
		return nil, fmt.Errorf("need at least 2 samples per curve, got %d", n)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	var files []string
	for _, h := range lut.Harmonics(tables) {
		pGap := plot.New()
		pGap.Title.Text = fmt.Sprintf("Harmonic %d - Gap", h)
		pGap.X.Label.Text = "Energy (eV)"
		pGap.Y.Label.Text = "Gap (mm)"

		pPhase := plot.New()
		pPhase.Title.Text = fmt.Sprintf("Harmonic %d - Phase", h)
		pPhase.X.Label.Text = "Energy (eV)"
		pPhase.Y.Label.Text = "Phase (mm)"

		l := tables[h]
		for i, c := range curves(l) {
			gapLine, gapNodes, phaseLine, phaseNodes, err := sample(l, c, n)
			if err != nil {
				return files, fmt.Errorf("harmonic %d %s: %w", h, c.label, err)
			}
			col := plotutil.Color(i)
			for _, part := range []struct {
				p     *plot.Plot
				line  plotter.XYs
				nodes plotter.XYs
			}{{pGap, gapLine, gapNodes}, {pPhase, phaseLine, phaseNodes}} {
				line, err := plotter.NewLine(part.line)
				if err != nil {
					return files, err
				}
				line.Color = col
				line.Width = vg.Points(1)
				dots, err := plotter.NewScatter(part.nodes)
				if err != nil {
					return files, err
				}
				dots.Color = col
				part.p.Add(line, dots)
				part.p.Legend.Add(c.label, line)
			}
		}

		for _, p := range []*plot.Plot{pGap, pPhase} {
			p.Legend.Top = true
			p.Legend.Left = false
			p.Legend.XOffs = -10
			p.Legend.YOffs = -10
		}

		gapFile := filepath.Join(dir, fmt.Sprintf("h%d_gap.png", h))
		if err := pGap.Save(10*vg.Inch, 6*vg.Inch, gapFile); err != nil {
			return files, fmt.Errorf("failed to save %s: %w", gapFile, err)
		}
		files = append(files, gapFile)

		phaseFile := filepath.Join(dir, fmt.Sprintf("h%d_phase.png", h))
		if err := pPhase.Save(10*vg.Inch, 6*vg.Inch, phaseFile); err != nil {
			return files, fmt.Errorf("failed to save %s: %w", phaseFile, err)
		}
		files = append(files, phaseFile)
	}
	return files, nil
}

// sample evaluates c through the lookup table across its energy domain and
// collects the calibration nodes.
func sample(l *lut.LookUpTable, c curve, n int) (gapLine, gapNodes, phaseLine, phaseNodes plotter.XYs, err error) {
	lo, hi := c.table.Domain()
	gapLine = make(plotter.XYs, n)
	phaseLine = make(plotter.XYs, n)
	for i := 0; i < n; i++ {
		e := lo + (hi-lo)*float64(i)/float64(n-1)
		gap, phase, err := l.CalculateValues(e, c.pol)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		gapLine[i] = plotter.XY{X: e, Y: gap}
		phaseLine[i] = plotter.XY{X: e, Y: phase}
	}
	for _, en := range c.table.Entries() {
		gapNodes = append(gapNodes, plotter.XY{X: en.Energy, Y: en.First})
		phaseNodes = append(phaseNodes, plotter.XY{X: en.Energy, Y: en.Second})
	}
	return gapLine, gapNodes, phaseLine, phaseNodes, nil
}

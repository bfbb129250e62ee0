package grid

import (
	"slices"
	"sync"

	"github.com/mattn/go-runewidth"
)

// Engine memoises the last layout so hosts can call Compute on every pass
// (resize, re-measure) and only pay for changed inputs. The output depends
// only on the measurement snapshot and the available width.
type Engine struct {
	mu        sync.Mutex
	columns   int
	measured  [][]float64
	available float64
	widths    []float64
	computed  int
}

// Compute measures g with m and lays it out in available.
func (e *Engine) Compute(g Grid, m Measurer, available float64) []float64 {
	return e.ComputeMeasured(g.ColumnCount(), Measure(g, m), available)
}

// ComputeMeasured lays out an already measured snapshot.
func (e *Engine) ComputeMeasured(columns int, measured [][]float64, available float64) []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.widths != nil && columns == e.columns && available == e.available && sameSnapshot(measured, e.measured) {
		return slices.Clone(e.widths)
	}
	e.columns = columns
	e.available = available
	e.measured = cloneSnapshot(measured)
	e.widths = Layout(columns, measured, available)
	e.computed++
	return slices.Clone(e.widths)
}

// Computations returns how many times the layout was actually recomputed.
func (e *Engine) Computations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.computed
}

func sameSnapshot(a, b [][]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !slices.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func cloneSnapshot(s [][]float64) [][]float64 {
	out := make([][]float64, len(s))
	for i, r := range s {
		out[i] = slices.Clone(r)
	}
	return out
}

// RuneWidthMeasurer measures cells in terminal columns. Padding is added to
// both sides of every non-empty cell.
type RuneWidthMeasurer struct {
	Padding int
}

func (m RuneWidthMeasurer) MeasureCell(c Cell) float64 {
	w := runewidth.StringWidth(c.Text)
	if w == 0 {
		return 0
	}
	return float64(w + 2*m.Padding)
}

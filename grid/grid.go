// Package grid computes column geometry for table-like content.
//
// A Grid is rows of cells. Column widths come from a measurement snapshot
// (the natural, unconstrained width of every cell) and the width of the
// container: each column gets its widest cell plus an equal share of any
// leftover space. Columns are never shrunk below their measured width, so a
// grid can be wider than its container; scrolling or clipping that overflow is
// up to the host.
package grid

// Alignment is the horizontal alignment of a cell.
type Alignment int

const (
	AlignNone Alignment = iota
	AlignLeft
	AlignCenter
	AlignRight
)

func (a Alignment) String() string {
	switch a {
	case AlignLeft:
		return "left"
	case AlignCenter:
		return "center"
	case AlignRight:
		return "right"
	default:
		return "none"
	}
}

// Cell is one grid cell. ID is stable across re-renders of the same source.
type Cell struct {
	ID     string
	Align  Alignment
	Text   string
	Filler bool // zero-width padding added by Padded
}

// Row is an ordered sequence of cells.
type Row struct {
	Cells []Cell
}

// Grid is an ordered sequence of rows.
type Grid struct {
	Rows []Row
}

// ColumnCount returns the length of the longest row.
func (g Grid) ColumnCount() int {
	n := 0
	for _, r := range g.Rows {
		if len(r.Cells) > n {
			n = len(r.Cells)
		}
	}
	return n
}

// Padded returns a copy of g in which every row has ColumnCount cells. Short
// rows are filled with zero-width filler cells so column indices line up.
func (g Grid) Padded() Grid {
	cols := g.ColumnCount()
	out := Grid{Rows: make([]Row, len(g.Rows))}
	for i, r := range g.Rows {
		cells := make([]Cell, cols)
		copy(cells, r.Cells)
		for c := len(r.Cells); c < cols; c++ {
			cells[c] = Cell{Filler: true}
		}
		out.Rows[i] = Row{Cells: cells}
	}
	return out
}

// Measurer is the measurement oracle: it returns the natural width of a cell
// laid out without constraints.
type Measurer interface {
	MeasureCell(c Cell) float64
}

// MeasurerFunc adapts a function to Measurer.
type MeasurerFunc func(c Cell) float64

func (f MeasurerFunc) MeasureCell(c Cell) float64 { return f(c) }

// Measure runs m over the padded grid. Filler cells measure 0.
func Measure(g Grid, m Measurer) [][]float64 {
	p := g.Padded()
	out := make([][]float64, len(p.Rows))
	for i, r := range p.Rows {
		row := make([]float64, len(r.Cells))
		for c, cell := range r.Cells {
			if cell.Filler || m == nil {
				continue
			}
			if w := m.MeasureCell(cell); w > 0 {
				row[c] = w
			}
		}
		out[i] = row
	}
	return out
}

// Layout returns the final width of every column.
//
// colWidth[c] is the maximum measured width in column c (missing cells count
// as 0). The leftover max(0, available - sum(colWidth)) is split evenly and
// added to each column. Layout is a pure function of its inputs.
func Layout(columns int, measured [][]float64, available float64) []float64 {
	if columns <= 0 {
		return nil
	}
	widths := make([]float64, columns)
	for _, row := range measured {
		for c := 0; c < columns && c < len(row); c++ {
			if row[c] > widths[c] {
				widths[c] = row[c]
			}
		}
	}
	total := 0.0
	for _, w := range widths {
		total += w
	}
	leftover := available - total
	if leftover < 0 {
		leftover = 0
	}
	slack := leftover / float64(columns)
	for c := range widths {
		widths[c] += slack
	}
	return widths
}

// Overflow reports how far the laid out columns exceed available. It is 0
// when the grid fits.
func Overflow(widths []float64, available float64) float64 {
	total := 0.0
	for _, w := range widths {
		total += w
	}
	if total <= available {
		return 0
	}
	return total - available
}

package grid

// Band is the contiguous row range owned by one rank: rows [Start, Start+Rows()).
type Band struct {
	Start int
	Cols  int
	Cells []Cell
}

// NewBand allocates an all-Empty band.
func NewBand(start, rows, cols int) *Band {
	cells := make([]Cell, rows*cols)
	for i := range cells {
		cells[i] = Empty
	}
	return &Band{Start: start, Cols: cols, Cells: cells}
}

func (b *Band) Rows() int {
	if b.Cols == 0 {
		return 0
	}
	return len(b.Cells) / b.Cols
}

// End is the first absolute row past the band.
func (b *Band) End() int {
	return b.Start + b.Rows()
}

// Row returns local row i aliasing the band.
func (b *Band) Row(i int) []Cell {
	return b.Cells[i*b.Cols : (i+1)*b.Cols]
}

// Top and Bottom alias the band's boundary rows.
func (b *Band) Top() []Cell {
	return b.Row(0)
}

func (b *Band) Bottom() []Cell {
	return b.Row(b.Rows() - 1)
}

// Owns reports whether absolute row r belongs to the band.
func (b *Band) Owns(r int) bool {
	return r >= b.Start && r < b.End()
}

func (b *Band) At(row, col int) Cell {
	return b.Cells[(row-b.Start)*b.Cols+col]
}

func (b *Band) Set(row, col int, c Cell) {
	b.Cells[(row-b.Start)*b.Cols+col] = c
}

func (b *Band) Clone() *Band {
	return &Band{Start: b.Start, Cols: b.Cols, Cells: CloneCells(b.Cells)}
}

// Ghosts are read-only copies of the neighbouring ranks' boundary rows for one
// generation. A nil side means the band touches the grid edge there.
type Ghosts struct {
	Above []Cell
	Below []Cell
}

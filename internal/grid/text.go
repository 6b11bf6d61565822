package grid

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	ErrIO        = errors.New("grid: io failure")
	ErrMalformed = errors.New("grid: malformed grid text")
)

// Parse reads a text grid: one line per row, one character per cell. Short
// lines are padded with Empty since trailing spaces are easy to lose. When
// rows or cols is zero the dimension is inferred from the input.
func Parse(r io.Reader, rows, cols int) (*Grid, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	if rows <= 0 {
		for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
			lines = lines[:len(lines)-1]
		}
		rows = len(lines)
	}
	if cols <= 0 {
		for _, ln := range lines {
			cols = max(cols, len(ln))
		}
	}
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("%w: empty grid", ErrMalformed)
	}
	if len(lines) < rows {
		return nil, fmt.Errorf("%w: got %d rows, want %d", ErrMalformed, len(lines), rows)
	}
	for i, ln := range lines[rows:] {
		if strings.TrimSpace(ln) != "" {
			return nil, fmt.Errorf("%w: unexpected content on line %d past row %d", ErrMalformed, rows+i+1, rows)
		}
	}

	g := New(rows, cols)
	for r := 0; r < rows; r++ {
		ln := lines[r]
		if len(ln) > cols {
			return nil, fmt.Errorf("%w: line %d has %d columns, want %d", ErrMalformed, r+1, len(ln), cols)
		}
		for c := 0; c < len(ln); c++ {
			cell := Cell(ln[c])
			if !cell.Valid() {
				return nil, fmt.Errorf("%w: line %d column %d: %q", ErrMalformed, r+1, c+1, ln[c])
			}
			g.Set(r, c, cell)
		}
	}
	return g, nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// Load reads a grid file.
func Load(path string, rows, cols int) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()
	g, err := Parse(f, rows, cols)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return g, nil
}

// Write emits g in the same format Parse reads.
func Write(w io.Writer, g *Grid) error {
	bw := bufio.NewWriter(w)
	for r := 0; r < g.Rows; r++ {
		if _, err := bw.Write(Bytes(g.Row(r))); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Save writes g to path, replacing any existing file.
func Save(path string, g *Grid) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := Write(f, g); err != nil {
		f.Close()
		return fmt.Errorf("%w: write %s: %v", ErrIO, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrIO, path, err)
	}
	return nil
}

// Lines renders each row as a string.
func (g *Grid) Lines() []string {
	out := make([]string, g.Rows)
	for r := range out {
		out[r] = string(Bytes(g.Row(r)))
	}
	return out
}

func (g *Grid) String() string {
	return strings.Join(g.Lines(), "\n")
}

// MustParse is Parse for literals in tests and templates; it panics on error.
func MustParse(s string) *Grid {
	g, err := Parse(strings.NewReader(s), 0, 0)
	if err != nil {
		panic(err)
	}
	return g
}

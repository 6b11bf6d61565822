// Package render draws snapshots to a terminal.
package render

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/firegrid/internal/census"
	"github.com/danmuck/firegrid/internal/gather"
	"github.com/danmuck/firegrid/internal/grid"
	"github.com/muesli/termenv"
)

// ANSI palette indexes per state.
const (
	treeColor  = "2"
	fireColor  = "3"
	emptyColor = "0"
)

// Terminal redraws each observed snapshot in place, pausing Delay between
// frames.
type Terminal struct {
	out   *termenv.Output
	delay time.Duration

	mu     sync.Mutex
	frames int
}

// NewTerminal writes frames to w. Options such as termenv.WithProfile
// override colour detection.
func NewTerminal(w io.Writer, delay time.Duration, opts ...termenv.OutputOption) *Terminal {
	return &Terminal{out: termenv.NewOutput(w, opts...), delay: delay}
}

func (t *Terminal) Observe(ctx context.Context, snap *gather.Snapshot) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frames == 0 {
		t.out.HideCursor()
		t.out.ClearScreen()
	} else if t.delay > 0 {
		timer := time.NewTimer(t.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	t.out.MoveCursor(1, 1)
	t.frames++

	c := census.Count(snap.Grid)
	header := fmt.Sprintf("generation %d  trees %d  fires %d  empty %d\n", snap.Generation, c.Trees, c.Fires, c.Empty)
	if _, err := io.WriteString(t.out, header+Frame(t.out, snap.Grid)); err != nil {
		return fmt.Errorf("render: write frame: %w", err)
	}
	return nil
}

// Frames is the number of frames drawn so far.
func (t *Terminal) Frames() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// Close restores the cursor.
func (t *Terminal) Close() error {
	t.out.ShowCursor()
	return nil
}

// Frame renders g with one coloured character per cell.
func Frame(o *termenv.Output, g *grid.Grid) string {
	styles := map[grid.Cell]termenv.Style{
		grid.Tree:  o.String().Foreground(o.Color(treeColor)),
		grid.Fire:  o.String().Foreground(o.Color(fireColor)).Bold(),
		grid.Empty: o.String().Foreground(o.Color(emptyColor)),
	}
	var b strings.Builder
	for r := 0; r < g.Rows; r++ {
		row := g.Row(r)
		for start := 0; start < len(row); {
			end := start + 1
			for end < len(row) && row[end] == row[start] {
				end++
			}
			run := string(grid.Bytes(row[start:end]))
			b.WriteString(styles[row[start]].Styled(run))
			start = end
		}
		b.WriteByte('\n')
	}
	return b.String()
}

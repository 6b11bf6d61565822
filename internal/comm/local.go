package comm

import (
	"context"
	"sync/atomic"

	"github.com/danmuck/firegrid/internal/grid"
)

// Local is a rank endpoint inside an in-process world. Ranks are expected to
// run on separate goroutines and share nothing but the world's mailboxes.
type Local struct {
	rank   int
	boxes  []*mailbox
	closed atomic.Bool
}

var _ Comm = (*Local)(nil)

// NewLocalWorld returns one connected endpoint per rank.
func NewLocalWorld(size int) []*Local {
	boxes := make([]*mailbox, size)
	for i := range boxes {
		boxes[i] = newMailbox()
	}
	ranks := make([]*Local, size)
	for i := range ranks {
		ranks[i] = &Local{rank: i, boxes: boxes}
	}
	return ranks
}

func (l *Local) Rank() int {
	return l.rank
}

func (l *Local) Size() int {
	return len(l.boxes)
}

// Isend copies p into dest's mailbox, so the request is complete on return.
func (l *Local) Isend(ctx context.Context, dest int, p Packet) *Request {
	if l.closed.Load() {
		return completed(ErrClosed)
	}
	if err := checkDest(l, dest); err != nil {
		return completed(err)
	}
	if err := ctx.Err(); err != nil {
		return completed(err)
	}
	p.Source = l.rank
	p.Cells = grid.CloneCells(p.Cells)
	l.boxes[dest].deliver(p)
	return completed(nil)
}

func (l *Local) Irecv(ctx context.Context, source int, tag Tag) *RecvRequest {
	if err := checkSource(l, source); err != nil {
		return &RecvRequest{done: closedChan(), err: err}
	}
	return startRecv(ctx, l.boxes[l.rank], source, tag)
}

// Close fails this rank's pending receives and marks it lost to its peers.
func (l *Local) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.boxes[l.rank].close(ErrClosed)
	for i, box := range l.boxes {
		if i != l.rank {
			box.fail(l.rank, ErrPeerLost)
		}
	}
	return nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

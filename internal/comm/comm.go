// Package comm is the point-to-point messaging layer between ranks.
//
// Messages are matched by (source, tag) and are never reordered between one
// sender and one receiver for the same tag. Sends never wait for the
// receiver; receives block until a matching message arrives. There are no
// timeouts: only context cancellation or a lost peer ends a wait.
package comm

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/firegrid/internal/grid"
	"github.com/danmuck/firegrid/internal/protocol"
)

// AnySource matches a message from any rank.
const AnySource = -1

var (
	ErrClosed      = errors.New("comm: closed")
	ErrPeerLost    = errors.New("comm: peer lost")
	ErrInvalidRank = errors.New("comm: invalid rank")
)

// Tag identifies the kind of message so receives can match on it.
type Tag uint32

const (
	// TagRowDown carries a rank's bottom row to the rank below it.
	TagRowDown = Tag(protocol.MessageRowDown)
	// TagRowUp carries a rank's top row to the rank above it.
	TagRowUp   = Tag(protocol.MessageRowUp)
	TagBand    = Tag(protocol.MessageBand)
	TagScatter = Tag(protocol.MessageScatter)
)

func (t Tag) String() string {
	return protocol.MessageType(t).String()
}

// Packet is whole grid rows tagged with where they belong.
type Packet struct {
	Source     int
	Tag        Tag
	Generation uint64
	StartRow   int
	Cols       int
	Cells      []grid.Cell
}

// Rows is the number of whole rows carried.
func (p Packet) Rows() int {
	if p.Cols == 0 {
		return 0
	}
	return len(p.Cells) / p.Cols
}

// Comm is one rank's endpoint.
type Comm interface {
	Rank() int
	Size() int
	// Isend queues p for dest and returns immediately. The sender stamps
	// p.Source. p.Cells must not be modified until the request completes.
	Isend(ctx context.Context, dest int, p Packet) *Request
	// Irecv starts a receive for the next message from source (or AnySource)
	// with tag.
	Irecv(ctx context.Context, source int, tag Tag) *RecvRequest
	Close() error
}

// Recv is a blocking receive.
func Recv(ctx context.Context, c Comm, source int, tag Tag) (Packet, error) {
	return c.Irecv(ctx, source, tag).Wait(ctx)
}

// Send is a blocking send: Isend followed by Wait.
func Send(ctx context.Context, c Comm, dest int, p Packet) error {
	return c.Isend(ctx, dest, p).Wait(ctx)
}

// Request tracks an outstanding send.
type Request struct {
	done chan struct{}
	err  error
}

func newRequest() *Request {
	return &Request{done: make(chan struct{})}
}

func completed(err error) *Request {
	r := newRequest()
	r.complete(err)
	return r
}

func (r *Request) complete(err error) {
	r.err = err
	close(r.done)
}

// Wait blocks until the send buffer may be reused.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecvRequest tracks an outstanding receive.
type RecvRequest struct {
	done chan struct{}
	p    Packet
	err  error
}

func startRecv(ctx context.Context, box *mailbox, source int, tag Tag) *RecvRequest {
	r := &RecvRequest{done: make(chan struct{})}
	go func() {
		r.p, r.err = box.take(ctx, source, tag)
		close(r.done)
	}()
	return r
}

// Wait blocks until the matching message has arrived.
func (r *RecvRequest) Wait(ctx context.Context) (Packet, error) {
	select {
	case <-r.done:
		return r.p, r.err
	case <-ctx.Done():
		return Packet{}, ctx.Err()
	}
}

func checkDest(c Comm, dest int) error {
	if dest < 0 || dest >= c.Size() {
		return invalidRank(dest, c.Size())
	}
	return nil
}

func checkSource(c Comm, source int) error {
	if source != AnySource && (source < 0 || source >= c.Size()) {
		return invalidRank(source, c.Size())
	}
	return nil
}

func invalidRank(rank, size int) error {
	return fmt.Errorf("%w: %d of %d", ErrInvalidRank, rank, size)
}

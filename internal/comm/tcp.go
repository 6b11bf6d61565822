package comm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/firegrid/internal/grid"
	"github.com/danmuck/firegrid/internal/protocol"
	"github.com/danmuck/firegrid/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidMesh = errors.New("comm: invalid mesh config")

const outboxDepth = 64

// MeshConfig describes one rank's place in a TCP mesh. Peers lists every
// rank's listen address, indexed by rank.
type MeshConfig struct {
	ClusterID string
	Rank      int
	Peers     []string
	Session   session.Config
}

func (c MeshConfig) Validate() error {
	if strings.TrimSpace(c.ClusterID) == "" {
		return fmt.Errorf("%w: missing cluster id", ErrInvalidMesh)
	}
	if len(c.Peers) == 0 {
		return fmt.Errorf("%w: no peers", ErrInvalidMesh)
	}
	if c.Rank < 0 || c.Rank >= len(c.Peers) {
		return fmt.Errorf("%w: rank %d outside [0,%d)", ErrInvalidMesh, c.Rank, len(c.Peers))
	}
	return nil
}

// Mesh is a rank endpoint connected to every other rank over TCP. Lower ranks
// accept, higher ranks dial, so each pair shares exactly one connection.
type Mesh struct {
	rank    int
	size    int
	box     *mailbox
	peers   []*peer
	msgID   atomic.Uint64
	closing chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

var _ Comm = (*Mesh)(nil)

type peer struct {
	rank int
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	out  chan outbound
}

type outbound struct {
	msg *protocol.Message
	req *Request
}

// Connect forms the mesh. It takes ownership of ln and closes it once every
// higher rank has connected.
func Connect(ctx context.Context, ln net.Listener, cfg MeshConfig) (*Mesh, error) {
	if err := cfg.Validate(); err != nil {
		ln.Close()
		return nil, err
	}
	cfg.Session = cfg.Session.WithDefaults()
	size := len(cfg.Peers)
	m := &Mesh{
		rank:    cfg.Rank,
		size:    size,
		box:     newMailbox(),
		peers:   make([]*peer, size),
		closing: make(chan struct{}),
	}

	var mu sync.Mutex
	add := func(p *peer) {
		mu.Lock()
		m.peers[p.rank] = p
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	go func() {
		<-gctx.Done()
		ln.Close()
	}()
	g.Go(func() error {
		return m.acceptPeers(ln, cfg, add)
	})
	for j := 0; j < cfg.Rank; j++ {
		g.Go(func() error {
			p, err := dialPeer(gctx, cfg, j)
			if err != nil {
				return err
			}
			add(p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, p := range m.peers {
			if p != nil {
				p.conn.Close()
			}
		}
		return nil, err
	}

	for _, p := range m.peers {
		if p == nil {
			continue
		}
		m.wg.Add(2)
		go m.readLoop(p)
		go m.writeLoop(p)
	}
	log.Info().Int("rank", m.rank).Int("size", size).Msg("comm.Connect mesh ready")
	return m, nil
}

func (m *Mesh) acceptPeers(ln net.Listener, cfg MeshConfig, add func(*peer)) error {
	need := m.size - 1 - m.rank
	seen := make(map[int]bool, need)
	for len(seen) < need {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("comm: accept: %w", err)
		}
		p, err := acceptHandshake(conn, cfg, seen)
		if err != nil {
			log.Warn().Err(err).Int("rank", m.rank).Str("remote", conn.RemoteAddr().String()).Msg("comm.acceptPeers rejected")
			conn.Close()
			continue
		}
		seen[p.rank] = true
		add(p)
	}
	return nil
}

func acceptHandshake(conn net.Conn, cfg MeshConfig, seen map[int]bool) (*peer, error) {
	_ = conn.SetDeadline(time.Now().Add(cfg.Session.HandshakeTimeout))
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	reg, err := session.ReadRegistration(r)
	if err != nil {
		return nil, err
	}
	reason := ""
	switch {
	case reg.ClusterID != cfg.ClusterID:
		reason = fmt.Sprintf("cluster %q, want %q", reg.ClusterID, cfg.ClusterID)
	case reg.Size != len(cfg.Peers):
		reason = fmt.Sprintf("size %d, want %d", reg.Size, len(cfg.Peers))
	case reg.Rank <= cfg.Rank:
		reason = fmt.Sprintf("rank %d must dial lower ranks, not %d", reg.Rank, cfg.Rank)
	case seen[reg.Rank]:
		reason = fmt.Sprintf("rank %d already connected", reg.Rank)
	}
	ack := session.RegistrationAck{
		Status:      session.AckStatusAccepted,
		Rank:        cfg.Rank,
		TimestampMS: uint64(time.Now().UnixMilli()),
	}
	if reason != "" {
		ack.Status = session.AckStatusRejected
		ack.Message = reason
	}
	if err := session.WriteRegistrationAck(w, ack); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	if reason != "" {
		return nil, fmt.Errorf("%w: %s", session.ErrRegistrationRejected, reason)
	}
	_ = conn.SetDeadline(time.Time{})
	return &peer{rank: reg.Rank, conn: conn, r: r, w: w, out: make(chan outbound, outboxDepth)}, nil
}

func dialPeer(ctx context.Context, cfg MeshConfig, target int) (*peer, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(cfg.Rank)))
	d := net.Dialer{Timeout: cfg.Session.ConnectTimeout}
	addr := cfg.Peers[target]
	var lastErr error
	for attempt := 1; attempt <= cfg.Session.MaxConnectAttempts; attempt++ {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			p, err := dialHandshake(conn, cfg, target)
			if err == nil {
				return p, nil
			}
			conn.Close()
			if errors.Is(err, session.ErrRegistrationRejected) {
				return nil, err
			}
		}
		lastErr = err
		log.Debug().Err(err).Int("rank", cfg.Rank).Int("target", target).Int("attempt", attempt).Msg("comm.dialPeer retry")
		if err := session.WaitBackoff(ctx, cfg.Session.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("comm: dial rank %d at %s after %d attempts: %w", target, addr, cfg.Session.MaxConnectAttempts, lastErr)
}

func dialHandshake(conn net.Conn, cfg MeshConfig, target int) (*peer, error) {
	_ = conn.SetDeadline(time.Now().Add(cfg.Session.HandshakeTimeout))
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	reg := session.Registration{ClusterID: cfg.ClusterID, Rank: cfg.Rank, Size: len(cfg.Peers)}
	if err := session.WriteRegistration(w, reg); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	ack, err := session.ReadRegistrationAck(r)
	if err != nil {
		return nil, err
	}
	if err := ack.Err(); err != nil {
		return nil, err
	}
	if ack.Rank != target {
		return nil, fmt.Errorf("%w: %s answered as rank %d, want %d", session.ErrRegistrationRejected, cfg.Peers[target], ack.Rank, target)
	}
	_ = conn.SetDeadline(time.Time{})
	return &peer{rank: target, conn: conn, r: r, w: w, out: make(chan outbound, outboxDepth)}, nil
}

func (m *Mesh) Rank() int {
	return m.rank
}

func (m *Mesh) Size() int {
	return m.size
}

// Isend hands p to the peer's writer. The request completes once the frame
// has been flushed to the connection.
func (m *Mesh) Isend(ctx context.Context, dest int, p Packet) *Request {
	if err := checkDest(m, dest); err != nil {
		return completed(err)
	}
	select {
	case <-m.closing:
		return completed(ErrClosed)
	default:
	}
	p.Source = m.rank
	if dest == m.rank {
		p.Cells = grid.CloneCells(p.Cells)
		m.box.deliver(p)
		return completed(nil)
	}

	rows := protocol.Rows{
		Type:       protocol.MessageType(p.Tag),
		Source:     uint32(m.rank),
		Generation: p.Generation,
		StartRow:   uint32(p.StartRow),
		Cols:       uint32(p.Cols),
		Cells:      grid.Bytes(p.Cells),
	}
	req := newRequest()
	ob := outbound{msg: rows.Message(m.msgID.Add(1)), req: req}
	select {
	case m.peers[dest].out <- ob:
	case <-m.closing:
		req.complete(ErrClosed)
	case <-ctx.Done():
		req.complete(ctx.Err())
	}
	return req
}

func (m *Mesh) Irecv(ctx context.Context, source int, tag Tag) *RecvRequest {
	if err := checkSource(m, source); err != nil {
		return &RecvRequest{done: closedChan(), err: err}
	}
	return startRecv(ctx, m.box, source, tag)
}

func (m *Mesh) readLoop(p *peer) {
	defer m.wg.Done()
	for {
		msg, err := protocol.Decode(p.r)
		if err != nil {
			m.lose(p, err)
			return
		}
		rows, err := protocol.ParseRows(msg)
		if err != nil {
			m.lose(p, err)
			return
		}
		if int(rows.Source) != p.rank {
			m.lose(p, fmt.Errorf("source %d on connection for rank %d", rows.Source, p.rank))
			return
		}
		cells, err := grid.FromBytes(rows.Cells)
		if err != nil {
			m.lose(p, err)
			return
		}
		m.box.deliver(Packet{
			Source:     p.rank,
			Tag:        Tag(rows.Type),
			Generation: rows.Generation,
			StartRow:   int(rows.StartRow),
			Cols:       int(rows.Cols),
			Cells:      cells,
		})
	}
}

func (m *Mesh) lose(p *peer, err error) {
	select {
	case <-m.closing:
		return
	default:
	}
	log.Error().Err(err).Int("rank", m.rank).Int("peer", p.rank).Msg("comm.Mesh peer lost")
	m.box.fail(p.rank, fmt.Errorf("%w: rank %d: %v", ErrPeerLost, p.rank, err))
}

func (m *Mesh) writeLoop(p *peer) {
	defer m.wg.Done()
	for {
		select {
		case ob := <-p.out:
			err := protocol.Encode(p.w, ob.msg)
			if err == nil {
				err = p.w.Flush()
			}
			ob.req.complete(err)
		case <-m.closing:
			for {
				select {
				case ob := <-p.out:
					ob.req.complete(ErrClosed)
				default:
					return
				}
			}
		}
	}
}

// Close tears down every connection and fails pending receives.
func (m *Mesh) Close() error {
	m.once.Do(func() {
		close(m.closing)
		for _, p := range m.peers {
			if p != nil {
				p.conn.Close()
			}
		}
		m.box.close(ErrClosed)
		m.wg.Wait()
	})
	return nil
}

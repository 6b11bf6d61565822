package comm

import (
	"context"
	"sync"
)

type mailKey struct {
	source int
	tag    Tag
}

type queued struct {
	seq uint64
	p   Packet
}

// mailbox holds one rank's unmatched arrivals. Waiters park on wake, which is
// closed and replaced whenever the mailbox changes.
type mailbox struct {
	mu     sync.Mutex
	seq    uint64
	queues map[mailKey][]queued
	lost   map[int]error
	closed error
	wake   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		queues: make(map[mailKey][]queued),
		lost:   make(map[int]error),
		wake:   make(chan struct{}),
	}
}

func (m *mailbox) deliver(p Packet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed != nil {
		return
	}
	m.seq++
	k := mailKey{source: p.Source, tag: p.Tag}
	m.queues[k] = append(m.queues[k], queued{seq: m.seq, p: p})
	m.notifyLocked()
}

// fail marks source as gone. Messages it already delivered stay receivable.
func (m *mailbox) fail(source int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lost[source]; !ok {
		m.lost[source] = err
	}
	m.notifyLocked()
}

func (m *mailbox) close(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed == nil {
		m.closed = err
	}
	m.notifyLocked()
}

func (m *mailbox) notifyLocked() {
	close(m.wake)
	m.wake = make(chan struct{})
}

func (m *mailbox) take(ctx context.Context, source int, tag Tag) (Packet, error) {
	for {
		m.mu.Lock()
		if p, ok := m.popLocked(source, tag); ok {
			m.mu.Unlock()
			return p, nil
		}
		if err := m.errLocked(source); err != nil {
			m.mu.Unlock()
			return Packet{}, err
		}
		wake := m.wake
		m.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return Packet{}, ctx.Err()
		}
	}
}

func (m *mailbox) popLocked(source int, tag Tag) (Packet, bool) {
	k := mailKey{source: source, tag: tag}
	if source == AnySource {
		found := false
		var best queued
		for key, q := range m.queues {
			if key.tag != tag || len(q) == 0 {
				continue
			}
			if !found || q[0].seq < best.seq {
				best, k, found = q[0], key, true
			}
		}
		if !found {
			return Packet{}, false
		}
	}
	q := m.queues[k]
	if len(q) == 0 {
		return Packet{}, false
	}
	head := q[0]
	if len(q) == 1 {
		delete(m.queues, k)
	} else {
		m.queues[k] = q[1:]
	}
	return head.p, true
}

func (m *mailbox) errLocked(source int) error {
	if m.closed != nil {
		return m.closed
	}
	if source == AnySource {
		// a wildcard receive cannot tell which peer it is waiting on
		return nil
	}
	return m.lost[source]
}

// pending counts unmatched arrivals.
func (m *mailbox) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}

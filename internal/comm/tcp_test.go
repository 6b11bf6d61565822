package comm

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/firegrid/internal/protocol/session"
	"github.com/danmuck/firegrid/internal/testutil/testlog"
	"golang.org/x/sync/errgroup"
)

func fastSession() session.Config {
	return session.Config{
		ConnectTimeout:     time.Second,
		HandshakeTimeout:   time.Second,
		MaxConnectAttempts: 5,
		Backoff: session.BackoffConfig{
			InitialDelay: 10 * time.Millisecond,
			Multiplier:   2,
			MaxDelay:     50 * time.Millisecond,
		},
	}
}

func listenMesh(t *testing.T, size int) ([]net.Listener, []string) {
	t.Helper()
	lns := make([]net.Listener, size)
	addrs := make([]string, size)
	for i := range lns {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		lns[i] = ln
		addrs[i] = ln.Addr().String()
	}
	return lns, addrs
}

func connectMesh(t *testing.T, ctx context.Context, size int) []*Mesh {
	t.Helper()
	lns, addrs := listenMesh(t, size)
	meshes := make([]*Mesh, size)
	g, gctx := errgroup.WithContext(ctx)
	for i := range meshes {
		g.Go(func() error {
			m, err := Connect(gctx, lns[i], MeshConfig{
				ClusterID: "test",
				Rank:      i,
				Peers:     addrs,
				Session:   fastSession(),
			})
			meshes[i] = m
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("connect mesh: %v", err)
	}
	t.Cleanup(func() {
		for _, m := range meshes {
			if m != nil {
				m.Close()
			}
		}
	})
	return meshes
}

func TestMeshExchangesRows(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	meshes := connectMesh(t, ctx, 3)

	for gen := uint64(0); gen < 3; gen++ {
		if err := Send(ctx, meshes[0], 1, rowPacket(TagRowDown, gen, 1, "TX T")); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if err := Send(ctx, meshes[2], 1, rowPacket(TagRowUp, 9, 2, "XXXX")); err != nil {
		t.Fatalf("send: %v", err)
	}
	for gen := uint64(0); gen < 3; gen++ {
		p, err := Recv(ctx, meshes[1], 0, TagRowDown)
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if p.Generation != gen || p.Source != 0 || p.StartRow != 1 || p.Cols != 4 {
			t.Fatalf("unexpected packet: %+v", p)
		}
		if string(p.Cells) != "TX T" {
			t.Fatalf("unexpected cells: %q", string(p.Cells))
		}
	}
	p, err := Recv(ctx, meshes[1], 2, TagRowUp)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if p.Generation != 9 || p.Source != 2 {
		t.Fatalf("unexpected packet: %+v", p)
	}
}

func TestMeshSelfSendAndSingleRank(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	meshes := connectMesh(t, ctx, 1)
	if err := Send(ctx, meshes[0], 0, rowPacket(TagBand, 1, 0, "T")); err != nil {
		t.Fatalf("self send: %v", err)
	}
	if p, err := Recv(ctx, meshes[0], 0, TagBand); err != nil || p.Generation != 1 {
		t.Fatalf("self recv: %+v %v", p, err)
	}
}

func TestMeshPeerCloseFailsReceive(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	meshes := connectMesh(t, ctx, 2)

	req := meshes[0].Irecv(ctx, 1, TagRowUp)
	meshes[1].Close()
	if _, err := req.Wait(ctx); !errors.Is(err, ErrPeerLost) {
		t.Fatalf("expected ErrPeerLost, got %v", err)
	}
}

func TestMeshRejectsClusterMismatch(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	lns, addrs := listenMesh(t, 2)
	defer lns[0].Close()

	go func() {
		m, err := Connect(ctx, lns[0], MeshConfig{ClusterID: "alpha", Rank: 0, Peers: addrs, Session: fastSession()})
		if err == nil {
			m.Close()
		}
	}()
	_, err := Connect(ctx, lns[1], MeshConfig{ClusterID: "beta", Rank: 1, Peers: addrs, Session: fastSession()})
	if !errors.Is(err, session.ErrRegistrationRejected) {
		t.Fatalf("expected ErrRegistrationRejected, got %v", err)
	}
}

func TestMeshConfigValidate(t *testing.T) {
	testlog.Start(t)
	bad := []MeshConfig{
		{ClusterID: "", Rank: 0, Peers: []string{"a"}},
		{ClusterID: "c", Rank: 0},
		{ClusterID: "c", Rank: 2, Peers: []string{"a", "b"}},
	}
	for _, cfg := range bad {
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidMesh) {
			t.Fatalf("expected ErrInvalidMesh for %+v, got %v", cfg, err)
		}
	}
}

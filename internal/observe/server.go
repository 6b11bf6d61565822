// Package observe serves the collector's latest snapshot over HTTP.
package observe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/firegrid/internal/census"
	"github.com/danmuck/firegrid/internal/gather"
	"github.com/danmuck/firegrid/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// SnapshotView is the JSON body of GET /snapshot.
type SnapshotView struct {
	Generation uint64        `json:"generation"`
	Rows       int           `json:"rows"`
	Cols       int           `json:"cols"`
	Lines      []string      `json:"lines"`
	Census     census.Counts `json:"census"`
}

// Server is an Observer that keeps the latest snapshot and serves it.
type Server struct {
	ID       string
	Appeared time.Time

	router  *gin.Engine
	history *census.Recorder

	mu     sync.RWMutex
	latest *gather.Snapshot
}

// New builds the router. history may be nil, in which case /census is not
// served.
func New(id string, corsOrigins []string, history *census.Recorder) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{ID: id, Appeared: time.Now(), router: r, history: history}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Observe(_ context.Context, snap *gather.Snapshot) error {
	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()
	return nil
}

func (s *Server) Latest() *gather.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		}
		if snap := s.Latest(); snap != nil {
			body["generation"] = snap.Generation
		}
		c.JSON(http.StatusOK, body)
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/snapshot", func(c *gin.Context) {
		snap := s.Latest()
		if snap == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot yet"})
			return
		}
		c.JSON(http.StatusOK, view(snap))
	})

	s.router.GET("/snapshot.txt", func(c *gin.Context) {
		snap := s.Latest()
		if snap == nil {
			c.String(http.StatusNotFound, "no snapshot yet\n")
			return
		}
		c.String(http.StatusOK, "%s\n", snap.Grid.String())
	})

	if s.history != nil {
		s.router.GET("/census", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"summary": s.history.Summary(),
				"history": s.history.History(),
			})
		})
	}
}

func view(snap *gather.Snapshot) SnapshotView {
	counts := census.Count(snap.Grid)
	counts.Generation = snap.Generation
	return SnapshotView{
		Generation: snap.Generation,
		Rows:       snap.Grid.Rows,
		Cols:       snap.Grid.Cols,
		Lines:      snap.Grid.Lines(),
		Census:     counts,
	}
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Str("service", s.ID).Msg("observe.Serve listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}

package uplink

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mklimuk/envnode/pipeline"
)

// Live keeps the latest reading for polling clients and pushes every new one
// to connected websocket clients.
//
//	GET /readings/latest  latest reading as JSON, 404 before the first one
//	GET /ws               websocket stream of readings
type Live struct {
	config   LiveOpts
	mx       sync.Mutex
	latest   *Payload
	clients  map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
	router   *gin.Engine
}

type LiveOpts struct {
	// WriteTimeout bounds a push to one client; a client that does not drain
	// its socket in time is dropped.
	WriteTimeout time.Duration
}

type LiveOpt func(*LiveOpts)

func WithWriteTimeout(timeout time.Duration) LiveOpt {
	return func(o *LiveOpts) {
		o.WriteTimeout = timeout
	}
}

func NewLive(opts ...LiveOpt) *Live {
	config := LiveOpts{
		WriteTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&config)
	}
	gin.SetMode(gin.ReleaseMode)
	l := &Live{
		config:  config,
		clients: map[*websocket.Conn]struct{}{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		router: gin.New(),
	}
	l.router.Use(gin.Recovery())
	l.router.GET("/readings/latest", l.handleLatest)
	l.router.GET("/ws", l.handleWebSocket)
	return l
}

func (l *Live) Handler() http.Handler {
	return l.router
}

// Serve listens on addr until ctx is done.
func (l *Live) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: l.router, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	slog.Info("live server listening", "addr", addr)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.closeClients()
	err := srv.Shutdown(shutdownCtx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (l *Live) Publish(_ context.Context, r pipeline.Reading) error {
	p := NewPayload(r)
	l.mx.Lock()
	defer l.mx.Unlock()
	l.latest = &p
	for conn := range l.clients {
		err := conn.SetWriteDeadline(time.Now().Add(l.config.WriteTimeout))
		if err == nil {
			err = conn.WriteJSON(p)
		}
		if err != nil {
			slog.Debug("websocket write failed, dropping client", "remote", conn.RemoteAddr(), "error", err)
			_ = conn.Close()
			delete(l.clients, conn)
		}
	}
	return nil
}

// Clients reports the number of connected websocket clients.
func (l *Live) Clients() int {
	l.mx.Lock()
	defer l.mx.Unlock()
	return len(l.clients)
}

func (l *Live) handleLatest(c *gin.Context) {
	l.mx.Lock()
	latest := l.latest
	l.mx.Unlock()
	if latest == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no reading yet"})
		return
	}
	c.JSON(http.StatusOK, latest)
}

func (l *Live) handleWebSocket(c *gin.Context) {
	conn, err := l.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	l.mx.Lock()
	l.clients[conn] = struct{}{}
	l.mx.Unlock()
	slog.Debug("websocket client connected", "remote", conn.RemoteAddr())

	// clients only listen; reading detects the disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	l.mx.Lock()
	if _, ok := l.clients[conn]; ok {
		delete(l.clients, conn)
		_ = conn.Close()
	}
	l.mx.Unlock()
	slog.Debug("websocket client disconnected", "remote", conn.RemoteAddr())
}

func (l *Live) closeClients() {
	l.mx.Lock()
	defer l.mx.Unlock()
	for conn := range l.clients {
		_ = conn.Close()
		delete(l.clients, conn)
	}
}

var _ pipeline.Sink = &Live{}

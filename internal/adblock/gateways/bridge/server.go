package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haukened/rr-adblock/internal/adblock/common/log"
)

// Path is where the websocket endpoint is mounted.
const Path = "/bridge"

// Server carries bridge commands over a websocket: one JSON Command per
// text message in, one JSON Result per text message out. Results may
// arrive out of order; clients match them by id.
type Server struct {
	addr     string
	bridge   *Bridge
	logger   log.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	running bool
	srv     *http.Server
	ln      net.Listener
	conns   map[*websocket.Conn]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewServer creates a websocket server for b on addr.
func NewServer(addr string, b *Bridge, logger log.Logger) *Server {
	return &Server{
		addr:   addr,
		bridge: b,
		logger: log.Named(log.OrNoop(logger), "bridge"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("bridge server already running")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind bridge on %s: %w", s.addr, err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.serveWS)

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.ln = ln
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.running = true

	srv := s.srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(map[string]any{"error": err}, "bridge server stopped")
		}
	}()

	s.logger.Info(map[string]any{
		"transport": "websocket",
		"address":   ln.Addr().String(),
	}, "bridge started")
	return nil
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.srv
	s.cancel()
	for c := range s.conns {
		_ = c.Close()
	}
	s.conns = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(ctx)
	s.logger.Info(map[string]any{"transport": "websocket"}, "bridge stopped")
	return err
}

// Address returns the bound address once started, the configured one
// before.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

func (s *Server) track(c *websocket.Conn) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, false
	}
	s.conns[c] = struct{}{}
	return s.ctx, true
}

func (s *Server) untrack(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(map[string]any{"client": r.RemoteAddr, "error": err}, "websocket upgrade failed")
		return
	}
	ctx, ok := s.track(conn)
	if !ok {
		_ = conn.Close()
		return
	}
	defer func() {
		s.untrack(conn)
		_ = conn.Close()
	}()

	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	send := func(res Result) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(res); err != nil {
			s.logger.Debug(map[string]any{"client": r.RemoteAddr, "error": err}, "write result failed")
		}
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug(map[string]any{"client": r.RemoteAddr, "error": err}, "bridge connection closed")
			}
			break
		}
		var cmd Command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			send(Result{Code: CodeBadRequest, Message: "malformed command: " + err.Error()})
			continue
		}
		s.logger.Debug(map[string]any{"client": r.RemoteAddr, "id": cmd.ID, "method": cmd.Method}, "bridge command")

		wg.Add(1)
		go func(cmd Command) {
			defer wg.Done()
			send(<-s.bridge.Call(ctx, cmd))
		}(cmd)
	}
	wg.Wait()
}

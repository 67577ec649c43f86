package liveserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var (
	streamActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "event_stream_active_connections",
		Help: "Current number of event stream subscribers",
	})

	streamRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "event_stream_rejected_total",
		Help: "Total number of rejected event stream connections",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(streamActiveConnections)
	prometheus.MustRegister(streamRejectedTotal)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Options configures a Server
type Options struct {
	Addr           string
	AllowedOrigins []string
	MaxConnections int

	// Production rejects the "*" origin wildcard
	Production bool

	// RateLimit is new connections per second per remote IP; zero disables it
	RateLimit float64
	RateBurst int
}

// Server upgrades /ws requests and attaches them to the hub
type Server struct {
	hub      *Hub
	opts     Options
	logger   Logger
	upgrader websocket.Upgrader
	connSem  chan struct{}

	ipLimiters sync.Map // remote IP -> *rate.Limiter

	mu  sync.Mutex
	srv *http.Server
}

func NewServer(hub *Hub, opts Options, logger Logger) *Server {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 100
	}
	if opts.RateLimit > 0 && opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	s := &Server{
		hub:     hub,
		opts:    opts,
		logger:  logger,
		connSem: make(chan struct{}, opts.MaxConnections),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler serves /ws and /health
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start listens on opts.Addr until ctx is done
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.srv = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.srv
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("Event stream listening", "addr", s.opts.Addr)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	}
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		streamRejectedTotal.WithLabelValues("missing_origin").Inc()
		s.warn("Rejected stream connection without Origin", "remote_addr", r.RemoteAddr)
		return false
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		streamRejectedTotal.WithLabelValues("invalid_origin").Inc()
		return false
	}
	normalized := parsed.Scheme + "://" + parsed.Host

	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" {
			if s.opts.Production {
				continue
			}
			return true
		}
		if normalized == allowed {
			return true
		}
	}
	streamRejectedTotal.WithLabelValues("invalid_origin").Inc()
	s.warn("Rejected stream connection from unlisted origin", "origin", origin, "remote_addr", r.RemoteAddr)
	return false
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Limits apply before the upgrade allocates anything
	if s.opts.RateLimit > 0 && !s.limiter(remoteIP(r)).Allow() {
		streamRejectedTotal.WithLabelValues("rate_limit").Inc()
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	select {
	case s.connSem <- struct{}{}:
		streamActiveConnections.Inc()
		defer func() {
			<-s.connSem
			streamActiveConnections.Dec()
		}()
	default:
		streamRejectedTotal.WithLabelValues("connection_limit").Inc()
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.warn("Stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := NewClient(uuid.New().String())
	s.hub.Register(client)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		s.readPump(conn, client)
	}()
	wg.Wait()
}

// writePump drains the client queue onto the connection and keeps it alive with pings
func (s *Server) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.warn("Stream write failed", "client_id", client.id, "error", err)
				s.hub.Unregister(client)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.hub.Unregister(client)
				return
			}
		}
	}
}

// readPump only services pongs and close frames; subscribers never send data
func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	defer s.hub.Unregister(client)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.warn("Stream read failed", "client_id", client.id, "error", err)
			}
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"dropped": s.hub.Dropped(),
	})
}

func (s *Server) limiter(ip string) *rate.Limiter {
	if l, ok := s.ipLimiters.Load(ip); ok {
		return l.(*rate.Limiter)
	}
	actual, _ := s.ipLimiters.LoadOrStore(ip, rate.NewLimiter(rate.Limit(s.opts.RateLimit), s.opts.RateBurst))
	return actual.(*rate.Limiter)
}

func (s *Server) warn(msg string, kv ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(msg, kv...)
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

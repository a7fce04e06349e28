package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jastadj/sfmlmud2/pkg/account"
)

// WebServer provides the HTTP and WebSocket gateway alongside the TCP
// game port.
type WebServer struct {
	srv       *Server
	httpSrv   *http.Server
	mux       *http.ServeMux
	auth      *AuthService
	throttle  *throttle
	upgrader  websocket.Upgrader
	stop      chan struct{}
	startTime time.Time
}

// NewWebServer creates a web server for s using the web_* settings of its
// config.
func NewWebServer(s *Server) *WebServer {
	cfg := s.Config
	ws := &WebServer{
		srv:       s,
		mux:       http.NewServeMux(),
		auth:      NewAuthService(s.Accounts, cfg.JWTSecret, cfg.JWTExpiryHours),
		throttle:  newThrottle(cfg.WebRateLimit),
		stop:      make(chan struct{}),
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(cfg.CORSOrigins, r.Header.Get("Origin"))
			},
		},
	}

	handler := http.Handler(ws.mux)
	handler = throttleMiddleware(ws.throttle, ws.auth, handler)
	handler = corsMiddleware(cfg.CORSOrigins, handler)
	ws.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.WebHost, cfg.WebPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ws.mux.HandleFunc("GET /ws", ws.handleWebSocket)
	ws.mux.HandleFunc("POST /api/v1/auth/login", ws.handleAuthLogin)
	ws.mux.HandleFunc("POST /api/v1/auth/refresh", ws.handleAuthRefresh)
	ws.mux.HandleFunc("GET /health", ws.handleHealth)
	ws.mux.Handle("GET /metrics", s.Metrics.Handler())
	ws.registerRESTRoutes()
	return ws
}

// Handler returns the root handler with middleware applied.
func (ws *WebServer) Handler() http.Handler {
	return ws.httpSrv.Handler
}

// Start listens on the web port until Stop is called.
func (ws *WebServer) Start() error {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				ws.throttle.prune(now)
			case <-ws.stop:
				return
			}
		}
	}()

	log.Printf("Web server listening on %s", ws.httpSrv.Addr)
	err := ws.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the web server.
func (ws *WebServer) Stop(ctx context.Context) error {
	close(ws.stop)
	return ws.httpSrv.Shutdown(ctx)
}

type credentials struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (ws *WebServer) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request"}`, http.StatusBadRequest)
		return
	}
	token, err := ws.auth.Login(r.Context(), req.Name, req.Password)
	if err != nil {
		http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]string{"token": token})
}

func (ws *WebServer) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	token, err := ws.auth.RefreshToken(bearerToken(r))
	if err != nil {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]string{"token": token})
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":   "ok",
		"version":  VersionString(),
		"uptime":   ws.srv.Uptime().Round(time.Second).String(),
		"sessions": ws.srv.ConnectionStats(),
		"rooms":    ws.srv.World.RoomCount(),
		"memory":   MemoryStats(),
	})
}

// WSMessage is the JSON message format for WebSocket communication.
type WSMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Command string `json:"command,omitempty"`
}

// handleWebSocket upgrades the request and attaches it as a session. A
// valid token (query param or bearer header) logs the session straight in;
// otherwise it gets the same login prompts as a TCP client.
func (ws *WebServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}

	var preauth *account.Account
	if token != "" {
		claims, err := ws.auth.ValidateToken(token)
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		acct, err := ws.srv.Accounts.Find(r.Context(), claims.AccountName)
		if err != nil {
			http.Error(w, `{"error":"unknown account"}`, http.StatusUnauthorized)
			return
		}
		preauth = acct
	}

	c, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	c.SetReadLimit(int64(ws.srv.Config.MaxInput) * 4)

	conn := &wsConn{
		conn:         c,
		addr:         clientAddr(r),
		max:          ws.srv.Config.MaxInput,
		writeTimeout: time.Duration(ws.srv.Config.WriteTimeoutSec) * time.Second,
	}
	if !ws.srv.Attach(conn, preauth) {
		c.Close()
	}
}

// wsConn adapts a WebSocket to Conn. Each "command" message is one input
// line; output goes out as "text" messages.
type wsConn struct {
	conn         *websocket.Conn
	addr         string
	max          int
	writeTimeout time.Duration

	mu sync.Mutex // serializes writes
}

func (c *wsConn) ReadLine() (string, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.writeJSON(WSMessage{Type: "error", Text: "Invalid JSON message"})
			continue
		}
		if msg.Type != "command" {
			c.writeJSON(WSMessage{Type: "error", Text: "Unknown message type: " + msg.Type})
			continue
		}
		if msg.Command == "" {
			continue
		}
		line := msg.Command
		if c.max > 0 && len(line) > c.max {
			line = line[:c.max]
		}
		return line, nil
	}
}

func (c *wsConn) Write(msg string) error {
	return c.writeJSON(WSMessage{Type: "text", Text: msg})
}

func (c *wsConn) writeJSON(msg WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Close() error             { return c.conn.Close() }
func (c *wsConn) RemoteAddr() string       { return c.addr }
func (c *wsConn) Transport() TransportType { return TransportWebSocket }

package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/jastadj/sfmlmud2/pkg/account"
	"github.com/jastadj/sfmlmud2/pkg/command"
	"github.com/jastadj/sfmlmud2/pkg/world"
)

// Number of already-queued events handled per loop pass before closed
// sessions are swept.
const maxBatch = 64

type eventKind int

const (
	evAccept eventKind = iota
	evInput
	evClosed
	evCall
)

type event struct {
	kind    eventKind
	conn    Conn
	preauth *account.Account
	sess    *Session
	line    string
	err     error
	fn      func()
}

// Server owns the listening socket, the live sessions and the event loop
// that runs every session handler. Handlers never run concurrently.
type Server struct {
	Config   *Config
	World    *world.World
	Accounts *account.Manager
	Commands *command.Registry[*Session]
	Banner   *Banner
	Metrics  *Metrics

	ctx       context.Context
	listener  net.Listener
	web       *WebServer
	events    chan event
	done      chan struct{}
	stopOnce  sync.Once
	startTime time.Time
	modes     [modeCount]func(*Session)
	badNames  map[string]bool

	mu       sync.Mutex
	sessions map[int]*Session
	nextID   int
}

// NewServer assembles a server around an already loaded world and account
// manager and registers the built-in verbs.
func NewServer(cfg *Config, w *world.World, accounts *account.Manager) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		Config:    cfg,
		World:     w,
		Accounts:  accounts,
		Commands:  command.NewRegistry[*Session](),
		Banner:    NewBanner(cfg.WelcomeFile),
		ctx:       context.Background(),
		events:    make(chan event, maxBatch),
		done:      make(chan struct{}),
		startTime: time.Now(),
		badNames:  make(map[string]bool),
		sessions:  make(map[int]*Session),
	}
	s.modes = [modeCount]func(*Session){
		ModeWelcome:  s.welcomeMode,
		ModeLogin:    s.loginMode,
		ModeGameplay: s.gameplayMode,
	}
	s.Metrics = NewMetrics(s)
	s.registerBuiltins()
	return s
}

// Listen binds the game port.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Config.Port))
	if err != nil {
		return fmt.Errorf("listener: %w", err)
	}
	s.listener = ln
	log.Printf("Listening on port %d", ln.Addr().(*net.TCPAddr).Port)
	return nil
}

// Addr returns the bound listener address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the port and runs the event loop until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the event loop on an already bound listener until ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server: Serve called before Listen")
	}
	s.ctx = ctx
	defer s.shutdown()

	go s.acceptLoop(s.listener)

	if s.Config.WatchText {
		if err := s.Banner.Watch(ctx); err != nil {
			log.Printf("WARNING: Could not start text file watcher: %v", err)
		}
	}
	if s.Config.WebEnabled {
		s.web = NewWebServer(s)
		go func() {
			if err := s.web.Start(); err != nil {
				log.Printf("ERROR: web server: %v", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.events:
			s.handle(ev)
			s.drain()
			s.sweep()
		}
	}
}

// drain handles events that are already queued, up to maxBatch.
func (s *Server) drain() {
	for i := 0; i < maxBatch; i++ {
		select {
		case ev := <-s.events:
			s.handle(ev)
		default:
			return
		}
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("Accept error: %v", err)
			continue
		}
		wt := time.Duration(s.Config.WriteTimeoutSec) * time.Second
		if !s.post(event{kind: evAccept, conn: newTCPConn(conn, s.Config.MaxInput, wt, s.msspVars)}) {
			conn.Close()
			return
		}
	}
}

// Attach hands a connection from another transport to the event loop.
// A non-nil preauth account skips the login prompts.
func (s *Server) Attach(conn Conn, preauth *account.Account) bool {
	return s.post(event{kind: evAccept, conn: conn, preauth: preauth})
}

// post queues an event for the loop. It returns false once the server has
// shut down.
func (s *Server) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Call runs fn on the event loop and waits for it to finish, so fn may
// touch session state.
func (s *Server) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	ev := event{kind: evCall, fn: func() { fn(); close(done) }}
	select {
	case s.events <- ev:
	case <-s.done:
		return errors.New("server: stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.done:
		return errors.New("server: stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handle(ev event) {
	switch ev.kind {
	case evAccept:
		s.accept(ev.conn, ev.preauth)
	case evInput:
		if ev.sess.Closed() {
			return
		}
		s.handleInput(ev.sess, ev.line)
	case evClosed:
		if !ev.sess.Closed() {
			log.Printf("[%d] Connection closed: %v", ev.sess.ID, ev.err)
			ev.sess.Disconnect()
		}
	case evCall:
		ev.fn()
	}
}

// accept registers a new session, shows the welcome banner and moves the
// session into login, or straight into the game for a preauthenticated
// connection.
func (s *Server) accept(conn Conn, preauth *account.Account) *Session {
	sess := s.register(conn)
	log.Printf("[%d] New connection from %s (%s)", sess.ID, sess.Addr, conn.Transport())
	s.Metrics.connectionsTotal.WithLabelValues(conn.Transport().String()).Inc()

	s.invoke(sess)
	if preauth != nil {
		sess.Account = preauth
		sess.Name = preauth.Name
		sess.SetMode(ModeGameplay)
	} else {
		sess.SetMode(ModeLogin)
	}
	go s.readLoop(sess)
	return sess
}

func (s *Server) register(conn Conn) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sess := newSession(s, s.nextID, conn)
	s.sessions[sess.ID] = sess
	return sess
}

// readLoop feeds one session's input frames to the event loop until the
// connection fails or is closed.
func (s *Server) readLoop(sess *Session) {
	for {
		line, err := sess.conn.ReadLine()
		if err != nil {
			s.post(event{kind: evClosed, sess: sess, err: err})
			return
		}
		if !s.post(event{kind: evInput, sess: sess, line: line}) {
			return
		}
	}
}

// handleInput stores one frame on the session and runs its mode handler.
func (s *Server) handleInput(sess *Session, frame string) {
	if !sess.receive(frame) {
		log.Printf("[%d] Empty read, disconnecting", sess.ID)
		return
	}
	s.Metrics.bytesRecvTotal.Add(float64(len(frame)))
	s.invoke(sess)
}

func (s *Server) invoke(sess *Session) {
	if sess.Closed() {
		return
	}
	s.modes[sess.Mode()](sess)
}

// sweep removes every session marked closed. Departure notices can mark
// further sessions closed, so it repeats until none are left.
func (s *Server) sweep() {
	for {
		var dead []*Session
		s.mu.Lock()
		for id, sess := range s.sessions {
			if sess.Closed() {
				dead = append(dead, sess)
				delete(s.sessions, id)
			}
		}
		s.mu.Unlock()
		if len(dead) == 0 {
			return
		}
		sort.Slice(dead, func(i, j int) bool { return dead[i].ID < dead[j].ID })
		for _, sess := range dead {
			s.remove(sess)
		}
	}
}

func (s *Server) remove(sess *Session) {
	sess.release()
	s.Metrics.bytesSentTotal.Add(float64(sess.BytesSent()))
	if sess.inGame {
		s.leaveGame(sess)
	}
	log.Printf("[%d] Disconnected (%s)", sess.ID, sess.Name)
}

// Sessions returns a snapshot of the live sessions ordered by id.
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered sessions.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Broadcast sends msg to every session in the game.
func (s *Server) Broadcast(msg string) {
	s.sendMatching(msg, func(x *Session) bool { return x.inGame })
}

// BroadcastToRoom sends msg to every session in the game in room.
func (s *Server) BroadcastToRoom(room world.RoomID, msg string) {
	s.sendMatching(msg, func(x *Session) bool { return x.inGame && x.Room == room })
}

// BroadcastToRoomExcluding is BroadcastToRoom without except.
func (s *Server) BroadcastToRoomExcluding(room world.RoomID, msg string, except *Session) {
	s.sendMatching(msg, func(x *Session) bool { return x != except && x.inGame && x.Room == room })
}

// sendMatching snapshots the registry under its lock and writes outside it.
// A failed write only marks that session closed.
func (s *Server) sendMatching(msg string, match func(*Session) bool) {
	for _, sess := range s.Sessions() {
		if !sess.Closed() && match(sess) {
			sess.Send(msg)
		}
	}
}

// shutdown stops accepting, tells every client, and closes all sessions.
func (s *Server) shutdown() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}
		if s.web != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.web.Stop(ctx)
			cancel()
		}
		for _, sess := range s.Sessions() {
			sess.Send("Server shutting down.\n")
			sess.Disconnect()
		}
		s.ctx = context.Background()
		s.sweep()
		log.Printf("Server stopped")
	})
}

package server

import (
	"log"
	"sync"
	"time"

	"github.com/jastadj/sfmlmud2/pkg/account"
	"github.com/jastadj/sfmlmud2/pkg/command"
	"github.com/jastadj/sfmlmud2/pkg/world"
)

// Mode selects what a session does with its next input line.
type Mode int

const (
	ModeWelcome Mode = iota
	ModeLogin
	ModeGameplay

	modeCount
)

func (m Mode) String() string {
	switch m {
	case ModeWelcome:
		return "welcome"
	case ModeLogin:
		return "login"
	case ModeGameplay:
		return "gameplay"
	}
	return "unknown"
}

// GuestName is a session's name until it logs in.
const GuestName = "guest"

// Number of string and integer scratch registers per session.
const scratchSlots = 3

// Session is one client connection and its per-connection state. All fields
// are owned by the event loop except where noted.
type Session struct {
	ID       int
	Name     string
	Room     world.RoomID
	Str      [scratchSlots]string
	Int      [scratchSlots]int
	Commands *command.List[*Session]
	Account  *account.Account // nil until logged in

	LastInput string
	Addr      string
	ConnTime  time.Time
	LastCmd   time.Time
	CmdCount  int
	BytesRecv int

	srv    *Server
	conn   Conn
	inGame bool

	mu        sync.Mutex // guards the fields below
	mode      Mode
	closed    bool
	released  bool
	bytesSent int
}

func newSession(srv *Server, id int, conn Conn) *Session {
	now := time.Now()
	return &Session{
		ID:       id,
		Name:     GuestName,
		Commands: command.NewList[*Session](),
		Addr:     conn.RemoteAddr(),
		ConnTime: now,
		LastCmd:  now,
		srv:      srv,
		conn:     conn,
		mode:     ModeWelcome,
	}
}

// Mode returns the active mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Transport returns the kind of connection behind the session.
func (s *Session) Transport() TransportType { return s.conn.Transport() }

// SetMode switches the active mode and runs its handler once immediately.
func (s *Session) SetMode(m Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	s.srv.invoke(s)
}

// Send writes msg to the client. Empty messages are ignored; a write error
// disconnects the session.
func (s *Session) Send(msg string) {
	if msg == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err := s.conn.Write(msg); err != nil {
		log.Printf("[%d] write error: %v", s.ID, err)
		s.closed = true
		return
	}
	s.bytesSent += len(msg)
}

// BytesSent returns the number of bytes written so far.
func (s *Session) BytesSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent
}

// Disconnect marks the session for removal at the end of the current
// event batch.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether the session is marked for removal.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// release closes the underlying connection exactly once.
func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if !s.released {
		s.released = true
		s.conn.Close()
	}
}

// ClearScratch resets every scratch register.
func (s *Session) ClearScratch() {
	s.Str = [scratchSlots]string{}
	s.Int = [scratchSlots]int{}
}

// receive stores one input frame as LastInput. A frame holding nothing but
// line terminators disconnects the session and returns false.
func (s *Session) receive(frame string) bool {
	if isEmptyFrame(frame) {
		s.Disconnect()
		return false
	}
	s.BytesRecv += len(frame)
	s.LastCmd = time.Now()
	s.LastInput = sanitizeInput(frame)
	return true
}

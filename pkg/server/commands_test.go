package server

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/jastadj/sfmlmud2/pkg/account"
	"github.com/jastadj/sfmlmud2/pkg/crypt"
	"github.com/jastadj/sfmlmud2/pkg/sqlstore"
	"github.com/jastadj/sfmlmud2/pkg/world"
)

func init() {
	crypt.Cost = bcrypt.MinCost
}

const testBanner = "Welcome to the test MUD\n"

// testEnv holds the shared test infrastructure: a seeded world in a
// temporary SQLite database and a server whose event loop is driven
// directly by the test.
type testEnv struct {
	srv      *Server
	accounts *account.Manager
	world    *world.World
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlstore.Open(filepath.Join(dir, "mud.db"), 5)
	if err != nil {
		t.Fatalf("sqlstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	w := world.New(store)
	if err := w.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.WelcomeFile = filepath.Join(dir, "welcome.txt")
	if err := os.WriteFile(cfg.WelcomeFile, []byte(testBanner), 0o644); err != nil {
		t.Fatal(err)
	}

	accounts := account.NewManager(store)
	srv := NewServer(cfg, w, accounts)
	t.Cleanup(srv.shutdown)
	return &testEnv{srv: srv, accounts: accounts, world: w}
}

// fakeConn records output in a buffer. ReadLine blocks until Close so the
// session's reader goroutine stays idle while the test feeds input.
type fakeConn struct {
	mu     sync.Mutex
	out    strings.Builder
	fail   bool
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (c *fakeConn) ReadLine() (string, error) {
	<-c.closed
	return "", io.EOF
}

func (c *fakeConn) Write(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.out.WriteString(msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string       { return "pipe" }
func (c *fakeConn) Transport() TransportType { return TransportTCP }

// take returns all buffered output and clears the buffer.
func (c *fakeConn) take() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.out.String()
	c.out.Reset()
	return s
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (e *testEnv) connect() (*Session, *fakeConn) {
	conn := newFakeConn()
	return e.srv.accept(conn, nil), conn
}

// send feeds one input line as the event loop would and then sweeps.
func (e *testEnv) send(sess *Session, line string) {
	e.srv.handleInput(sess, line)
	e.srv.sweep()
}

// login creates the account if needed, logs in and discards the output.
func (e *testEnv) login(t *testing.T, name, password string) (*Session, *fakeConn) {
	t.Helper()
	ctx := context.Background()
	exists, err := e.accounts.Exists(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		if _, err := e.accounts.Create(ctx, name, password, 1); err != nil {
			t.Fatalf("Create(%s): %v", name, err)
		}
	}
	sess, conn := e.connect()
	e.send(sess, name)
	e.send(sess, password)
	if sess.Mode() != ModeGameplay {
		t.Fatalf("login %s: mode = %s, output %q", name, sess.Mode(), conn.take())
	}
	conn.take()
	return sess, conn
}

const (
	mainRoomText    = "Main room\nThis is the main room.\n[ west ]\n"
	storageRoomText = "Storage\nDusty shelves line the walls.\n[ east ]\n"
)

// --- Login ---

func TestWelcomeBanner(t *testing.T) {
	env := newTestEnv(t)
	sess, conn := env.connect()

	if got, want := conn.take(), testBanner+msgUserPrompt; got != want {
		t.Errorf("on connect got %q, want %q", got, want)
	}
	if sess.Mode() != ModeLogin {
		t.Errorf("mode = %s, want login", sess.Mode())
	}
	if sess.Name != GuestName {
		t.Errorf("name = %q, want %q", sess.Name, GuestName)
	}
}

func TestLogin_NewUser(t *testing.T) {
	env := newTestEnv(t)
	sess, conn := env.connect()
	conn.take()

	steps := []struct {
		input string
		want  string
	}{
		{"alice", "Create new user 'Alice'?  (y/n)\n"},
		{"y", msgNewPassPrompt},
		{"secret", msgReenterPrompt},
	}
	for _, st := range steps {
		env.send(sess, st.input)
		if got := conn.take(); got != st.want {
			t.Fatalf("after %q got %q, want %q", st.input, got, st.want)
		}
	}

	env.send(sess, "secret")
	out := conn.take()
	if !strings.HasPrefix(out, "Welcome, Alice!\n") {
		t.Errorf("missing welcome: %q", out)
	}
	if !strings.HasSuffix(out, mainRoomText) {
		t.Errorf("missing room: %q", out)
	}
	if sess.Mode() != ModeGameplay || sess.Name != "Alice" {
		t.Errorf("mode=%s name=%q", sess.Mode(), sess.Name)
	}
	if sess.Room != 1 {
		t.Errorf("room = %d, want 1", sess.Room)
	}
	if _, err := env.accounts.Login(context.Background(), "ALICE", "secret"); err != nil {
		t.Errorf("stored account cannot log in: %v", err)
	}
}

func TestLogin_NewUserLongPassword(t *testing.T) {
	env := newTestEnv(t)
	sess, conn := env.connect()
	pw := strings.Repeat("x", 80)
	for _, line := range []string{"bob", "y", pw, pw} {
		env.send(sess, line)
	}
	out := conn.take()
	if strings.Contains(out, msgCreateFailed) {
		t.Fatalf("signup failed: %q", out)
	}
	if sess.Mode() != ModeGameplay || sess.Name != "Bob" {
		t.Errorf("mode=%s name=%q", sess.Mode(), sess.Name)
	}
	if _, err := env.accounts.Login(context.Background(), "bob", pw); err != nil {
		t.Errorf("stored account cannot log in: %v", err)
	}
}

func TestLogin_NewUserDeclined(t *testing.T) {
	env := newTestEnv(t)
	sess, conn := env.connect()
	conn.take()

	env.send(sess, "carol")
	conn.take()
	env.send(sess, "n")
	if got := conn.take(); got != msgUserPrompt {
		t.Errorf("after decline got %q, want %q", got, msgUserPrompt)
	}
	exists, _ := env.accounts.Exists(context.Background(), "carol")
	if exists {
		t.Error("declined account was created")
	}
}

func TestLogin_PasswordMismatch(t *testing.T) {
	env := newTestEnv(t)
	sess, conn := env.connect()
	for _, in := range []string{"dave", "y", "secret"} {
		env.send(sess, in)
	}
	conn.take()

	env.send(sess, "other")
	if got, want := conn.take(), msgPassMismatch+msgReenterPrompt; got != want {
		t.Errorf("mismatch got %q, want %q", got, want)
	}
	env.send(sess, "secret")
	if sess.Mode() != ModeGameplay {
		t.Errorf("mode = %s after matching entry", sess.Mode())
	}
}

func TestLogin_MismatchTooMany(t *testing.T) {
	env := newTestEnv(t)
	sess, conn := env.connect()
	for _, in := range []string{"dave", "y", "secret", "a", "b"} {
		env.send(sess, in)
	}
	conn.take()
	env.send(sess, "c")
	if got := conn.take(); got != msgTooMany {
		t.Errorf("got %q, want %q", got, msgTooMany)
	}
	if !conn.isClosed() || env.srv.Count() != 0 {
		t.Error("session should be closed and removed")
	}
}

func TestLogin_InvalidUsername(t *testing.T) {
	env := newTestEnv(t)
	sess, conn := env.connect()
	conn.take()

	for _, name := range []string{"bob1", "bob smith", "bob_"} {
		env.send(sess, name)
		if got, want := conn.take(), msgInvalidName+msgUserPrompt; got != want {
			t.Errorf("%q: got %q, want %q", name, got, want)
		}
	}
}

func TestLogin_WrongPasswordDisconnects(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.accounts.Create(context.Background(), "bob", "pw", 1); err != nil {
		t.Fatal(err)
	}
	sess, conn := env.connect()
	conn.take()

	env.send(sess, "bob")
	if got := conn.take(); got != msgPassPrompt {
		t.Fatalf("got %q, want password prompt", got)
	}
	for i := 0; i < 2; i++ {
		env.send(sess, "wrong")
		if got, want := conn.take(), msgBadPassword+msgPassPrompt; got != want {
			t.Fatalf("try %d: got %q, want %q", i+1, got, want)
		}
	}
	env.send(sess, "wrong")
	if got, want := conn.take(), msgBadPassword+msgTooMany; got != want {
		t.Errorf("final try: got %q, want %q", got, want)
	}
	if !sess.Closed() || !conn.isClosed() {
		t.Error("session not closed after too many retries")
	}
	if env.srv.Count() != 0 {
		t.Errorf("Count = %d, want 0", env.srv.Count())
	}
}

func TestLogin_RetryThenSuccess(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.accounts.Create(context.Background(), "bob", "pw", 1); err != nil {
		t.Fatal(err)
	}
	sess, conn := env.connect()
	for _, in := range []string{"bob", "x", "y", "pw"} {
		env.send(sess, in)
	}
	if sess.Mode() != ModeGameplay {
		t.Fatalf("mode = %s, output %q", sess.Mode(), conn.take())
	}
	if !strings.Contains(conn.take(), "Welcome, Bob!\n") {
		t.Error("missing welcome")
	}
}

func TestLogin_BadName(t *testing.T) {
	env := newTestEnv(t)
	env.srv.ApplyAliasConfig(&AliasConfig{BadNames: []string{"admin"}})
	sess, conn := env.connect()
	conn.take()

	env.send(sess, "Admin")
	if got, want := conn.take(), msgInvalidName+msgUserPrompt; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestEmptyFrameDisconnects(t *testing.T) {
	env := newTestEnv(t)
	for _, frame := range []string{"", "\r", "\r\n\r\n"} {
		sess, conn := env.connect()
		env.send(sess, frame)
		if !conn.isClosed() {
			t.Errorf("frame %q did not disconnect", frame)
		}
	}
	if env.srv.Count() != 0 {
		t.Errorf("Count = %d, want 0", env.srv.Count())
	}
}

// --- Gameplay ---

func TestLookAndMove(t *testing.T) {
	env := newTestEnv(t)
	sess, conn := env.login(t, "alice", "pw")

	env.send(sess, "look")
	if got := conn.take(); got != mainRoomText {
		t.Errorf("look = %q", got)
	}
	env.send(sess, "look at shelf")
	if got := conn.take(); got != msgLookArgs {
		t.Errorf("look with args = %q", got)
	}

	env.send(sess, "WEST")
	if got := conn.take(); got != storageRoomText {
		t.Errorf("west = %q", got)
	}
	if sess.Room != 2 {
		t.Errorf("room = %d, want 2", sess.Room)
	}

	env.send(sess, "west")
	if got := conn.take(); got != msgNoExit {
		t.Errorf("blocked move = %q", got)
	}
	env.send(sess, "e")
	if got := conn.take(); got != mainRoomText {
		t.Errorf("alias e = %q", got)
	}
	env.send(sess, "north now")
	if got := conn.take(); got != msgMoveArgs {
		t.Errorf("move with args = %q", got)
	}
}

func TestLastRoomRestored(t *testing.T) {
	env := newTestEnv(t)
	sess, _ := env.login(t, "alice", "pw")
	env.send(sess, "w")
	env.send(sess, "quit")

	a, err := env.accounts.Find(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if a.Room != 2 {
		t.Errorf("saved room = %d, want 2", a.Room)
	}

	sess, conn := env.connect()
	env.send(sess, "alice")
	env.send(sess, "pw")
	if out := conn.take(); !strings.HasSuffix(out, storageRoomText) {
		t.Errorf("reconnect shows %q", out)
	}
}

func TestSayAndMoveNotices(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceOut := env.login(t, "alice", "pw")
	bob, bobOut := env.login(t, "bob", "pw")

	if got := aliceOut.take(); got != "Bob has connected.\n" {
		t.Errorf("alice saw %q on bob's login", got)
	}

	env.send(alice, "say hello there")
	if got := aliceOut.take(); got != "You say \"hello there\"\n" {
		t.Errorf("speaker got %q", got)
	}
	if got := bobOut.take(); got != "Alice says \"hello there\"\n" {
		t.Errorf("listener got %q", got)
	}

	env.send(alice, "say")
	if got := aliceOut.take(); got != msgSayWhat {
		t.Errorf("empty say = %q", got)
	}

	env.send(alice, "west")
	aliceOut.take()
	if got := bobOut.take(); got != "Alice left to the west.\n" {
		t.Errorf("departure notice %q", got)
	}

	env.send(bob, "west")
	bobOut.take()
	if got := aliceOut.take(); got != "Bob entered from the east.\n" {
		t.Errorf("arrival notice %q", got)
	}

	env.send(alice, "say psst")
	if got := bobOut.take(); got != "Alice says \"psst\"\n" {
		t.Errorf("same-room say = %q", got)
	}
}

func TestQuitNotifiesRoom(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceOut := env.login(t, "alice", "pw")
	_, bobOut := env.login(t, "bob", "pw")
	aliceOut.take()

	env.send(alice, "quit")
	if got := aliceOut.take(); got != "Goodbye, Alice!\n" {
		t.Errorf("quit = %q", got)
	}
	if !aliceOut.isClosed() {
		t.Error("connection not closed")
	}
	if got := bobOut.take(); got != "Alice has disconnected.\n" {
		t.Errorf("bob saw %q", got)
	}
	if env.srv.Count() != 1 {
		t.Errorf("Count = %d, want 1", env.srv.Count())
	}
}

func TestUnknownCommand(t *testing.T) {
	env := newTestEnv(t)
	sess, conn := env.login(t, "alice", "pw")

	env.send(sess, "dance wildly")
	if got := conn.take(); got != "Huh?\n" {
		t.Errorf("unknown = %q", got)
	}
	for _, line := range []string{"   ", "\x01\x02"} {
		env.send(sess, line)
		if got := conn.take(); got != "Huh?\n" {
			t.Errorf("send(%q) = %q", line, got)
		}
		if conn.isClosed() {
			t.Fatalf("send(%q) closed the session", line)
		}
	}
}

func TestHelp(t *testing.T) {
	env := newTestEnv(t)
	sess, conn := env.login(t, "alice", "pw")

	env.send(sess, "help")
	out := conn.take()
	for _, verb := range []string{"look", "quit", "say", "west"} {
		if !strings.Contains(out, verb) {
			t.Errorf("help list missing %q: %q", verb, out)
		}
	}

	env.send(sess, "help say")
	if got := conn.take(); got != "say: say <message> speaks to the room.\n" {
		t.Errorf("help say = %q", got)
	}
}

func TestWho(t *testing.T) {
	env := newTestEnv(t)
	alice, conn := env.login(t, "alice", "pw")
	env.login(t, "bob", "pw")
	env.connect() // still at the login prompt
	conn.take()

	env.send(alice, "who")
	want := "Players online:\n  Alice\n  Bob\n2 player(s) connected.\n"
	if got := conn.take(); got != want {
		t.Errorf("who = %q, want %q", got, want)
	}
}

func TestConfiguredAlias(t *testing.T) {
	env := newTestEnv(t)
	env.srv.ApplyAliasConfig(&AliasConfig{Aliases: []AliasEntry{
		{Token: "'", Verb: "say"},
		{Token: "l", Verb: "look"},
	}})
	sess, conn := env.login(t, "alice", "pw")

	env.send(sess, "l")
	if got := conn.take(); got != mainRoomText {
		t.Errorf("alias l = %q", got)
	}
	env.send(sess, "' hi")
	if got := conn.take(); got != "You say \"hi\"\n" {
		t.Errorf("alias ' = %q", got)
	}
}

func TestWriteFailureClosesSession(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceOut := env.login(t, "alice", "pw")
	bob, bobOut := env.login(t, "bob", "pw")
	aliceOut.take()

	bobOut.mu.Lock()
	bobOut.fail = true
	bobOut.mu.Unlock()

	env.send(alice, "say anyone?")
	if !bob.Closed() || !bobOut.isClosed() {
		t.Error("failed write did not close the session")
	}
	if got := aliceOut.take(); got != "You say \"anyone?\"\nBob has disconnected.\n" {
		t.Errorf("alice got %q", got)
	}
	if alice.Closed() {
		t.Error("speaker closed by listener's failure")
	}
}

func TestPreauthenticatedSession(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.accounts.Create(context.Background(), "erin", "pw", 2)
	if err != nil {
		t.Fatal(err)
	}
	conn := newFakeConn()
	sess := env.srv.accept(conn, a)

	out := conn.take()
	if !strings.HasPrefix(out, testBanner+"Welcome, Erin!\n") {
		t.Errorf("preauth output %q", out)
	}
	if !strings.HasSuffix(out, storageRoomText) {
		t.Errorf("preauth room %q", out)
	}
	if sess.Mode() != ModeGameplay {
		t.Errorf("mode = %s", sess.Mode())
	}
}

func TestShutdownNotifiesSessions(t *testing.T) {
	env := newTestEnv(t)
	_, conn := env.login(t, "alice", "pw")

	env.srv.shutdown()
	if got := conn.take(); got != "Server shutting down.\n" {
		t.Errorf("got %q", got)
	}
	if !conn.isClosed() || env.srv.Count() != 0 {
		t.Error("sessions not closed on shutdown")
	}
}

func TestMSSPVars(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "alice", "pw")
	vars := env.srv.msspVars()
	if vars["ROOMS"] != "2" || vars["PLAYERS"] != "1" || vars["NAME"] != env.srv.Config.MudName {
		t.Errorf("msspVars = %v", vars)
	}
}

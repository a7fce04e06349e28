package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/jastadj/sfmlmud2/pkg/oob"
)

// TransportType identifies the kind of transport a Session uses.
type TransportType int

const (
	TransportTCP       TransportType = iota // Traditional telnet/TCP
	TransportWebSocket                      // WebSocket (JSON messages)
)

func (t TransportType) String() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportWebSocket:
		return "websocket"
	}
	return "unknown"
}

// Conn is a client transport that exchanges text frames.
type Conn interface {
	// ReadLine blocks for the next input frame with its line terminator
	// removed.
	ReadLine() (string, error)
	Write(msg string) error
	Close() error
	RemoteAddr() string
	Transport() TransportType
}

// tcpConn frames a stream socket into lines of at most max bytes. Bytes past
// the limit are discarded up to the next newline. Telnet commands are
// filtered out of the stream and answered before framing.
type tcpConn struct {
	conn         net.Conn
	r            *bufio.Reader
	max          int
	writeTimeout time.Duration
	offer        sync.Once
	mssp         bool

	mu sync.Mutex // serializes writes
}

// newTCPConn wraps c. A non-nil mssp provider makes the connection offer
// MSSP on its first read and answer MSSP requests.
func newTCPConn(c net.Conn, maxInput int, writeTimeout time.Duration, mssp func() map[string]string) *tcpConn {
	tc := &tcpConn{
		conn:         c,
		max:          maxInput,
		writeTimeout: writeTimeout,
		mssp:         mssp != nil,
	}
	resp := &oob.Responder{Write: tc.writeRaw, MSSP: mssp}
	tc.r = bufio.NewReaderSize(oob.NewFilter(c, resp.Handle), 4096)
	return tc
}

func (c *tcpConn) ReadLine() (string, error) {
	c.offer.Do(func() {
		if c.mssp {
			c.writeRaw(oob.OfferMSSP)
		}
	})
	var buf []byte
	for {
		frag, err := c.r.ReadSlice('\n')
		if room := c.max - len(buf); room > 0 {
			if len(frag) > room {
				frag = frag[:room]
			}
			buf = append(buf, frag...)
		}
		switch {
		case err == nil:
			return trimTerminator(string(buf)), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(buf) > 0:
			return trimTerminator(string(buf)), nil
		default:
			return "", err
		}
	}
}

func (c *tcpConn) Write(msg string) error {
	return c.writeRaw([]byte(msg))
}

func (c *tcpConn) writeRaw(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.conn.Write(b)
	return err
}

func (c *tcpConn) Close() error             { return c.conn.Close() }
func (c *tcpConn) RemoteAddr() string       { return c.conn.RemoteAddr().String() }
func (c *tcpConn) Transport() TransportType { return TransportTCP }

// trimTerminator removes exactly one trailing "\n" or "\r\n".
func trimTerminator(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}

// isEmptyFrame reports whether a frame carried nothing but line terminators.
func isEmptyFrame(s string) bool {
	return strings.Trim(s, "\r\n") == ""
}

// sanitizeInput strips control bytes, then decodes input that is not
// valid UTF-8 as Latin-1.
func sanitizeInput(s string) string {
	s = stripControl(s)
	if utf8.ValidString(s) {
		return s
	}
	out, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		return strings.ToValidUTF8(s, "")
	}
	return out
}

// stripControl removes ASCII control bytes other than tab. It works on
// bytes so Latin-1 input survives for decoding.
func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == '\t' || c >= 32 && c != 127 {
			b.WriteByte(c)
		}
	}
	return b.String()
}

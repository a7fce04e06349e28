package oob

import "io"

// Longest subnegotiation payload kept; the rest is dropped.
const maxSubneg = 1024

// Command is one telnet command received from the client. For WILL, WONT,
// DO and DONT, Option is the option byte. For SB, Option is the option and
// Data the payload.
type Command struct {
	Verb   byte
	Option byte
	Data   []byte
}

type filterState int

const (
	stData filterState = iota
	stIAC
	stOption
	stSub
	stSubIAC
)

// Filter is an io.Reader that removes telnet commands from the stream and
// passes each one to a handler. An escaped IAC IAC yields a literal 0xFF.
// Sequences may be split across reads.
type Filter struct {
	r      io.Reader
	handle func(Command)

	state filterState
	verb  byte
	sub   []byte
}

// NewFilter wraps r. handle may be nil.
func NewFilter(r io.Reader, handle func(Command)) *Filter {
	return &Filter{r: r, handle: handle}
}

// Read fills p with text only. It blocks until at least one text byte or an
// error is available.
func (f *Filter) Read(p []byte) (int, error) {
	for {
		n, err := f.r.Read(p)
		n = f.filter(p[:n])
		if n > 0 || err != nil {
			return n, err
		}
	}
}

// filter compacts b in place and returns the number of text bytes kept.
func (f *Filter) filter(b []byte) int {
	w := 0
	for _, c := range b {
		switch f.state {
		case stData:
			if c == IAC {
				f.state = stIAC
				continue
			}
			b[w] = c
			w++
		case stIAC:
			switch c {
			case IAC:
				b[w] = IAC
				w++
				f.state = stData
			case WILL, WONT, DO, DONT:
				f.verb = c
				f.state = stOption
			case SB:
				f.sub = f.sub[:0]
				f.state = stSub
			default:
				f.emit(Command{Verb: c})
				f.state = stData
			}
		case stOption:
			f.emit(Command{Verb: f.verb, Option: c})
			f.state = stData
		case stSub:
			if c == IAC {
				f.state = stSubIAC
				continue
			}
			if len(f.sub) < maxSubneg {
				f.sub = append(f.sub, c)
			}
		case stSubIAC:
			switch c {
			case SE:
				if len(f.sub) > 0 {
					data := append([]byte(nil), f.sub[1:]...)
					f.emit(Command{Verb: SB, Option: f.sub[0], Data: data})
				}
				f.state = stData
			case IAC:
				if len(f.sub) < maxSubneg {
					f.sub = append(f.sub, IAC)
				}
				f.state = stSub
			default:
				// Malformed; drop the subnegotiation.
				f.state = stData
			}
		}
	}
	return w
}

func (f *Filter) emit(c Command) {
	if f.handle != nil {
		f.handle(c)
	}
}

package oob

import (
	"log"
	"sort"
	"sync"
)

// OfferMSSP announces MSSP support to a client.
var OfferMSSP = []byte{IAC, WILL, TeloptMSSP}

// EncodeMSSP builds an MSSP telnet subnegotiation sequence from key-value pairs.
// Format: IAC SB 70 VAR "key" VAL "value" ... IAC SE
// Keys are written in sorted order.
func EncodeMSSP(data map[string]string) []byte {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{IAC, SB, TeloptMSSP}
	for _, k := range keys {
		buf = append(buf, MSSPVar)
		buf = append(buf, k...)
		buf = append(buf, MSSPVal)
		buf = append(buf, data[k]...)
	}
	return append(buf, IAC, SE)
}

// Responder answers option negotiation for one connection. It agrees to
// MSSP when a provider is set and refuses every other option, answering
// each option at most once so two refusing peers cannot loop.
type Responder struct {
	Write func([]byte) error
	MSSP  func() map[string]string // nil disables MSSP

	mu       sync.Mutex
	answered map[[2]byte]bool
}

// Handle reacts to one command from the client.
func (r *Responder) Handle(c Command) {
	var reply []byte
	switch c.Verb {
	case DO:
		if c.Option == TeloptMSSP && r.MSSP != nil {
			log.Printf("oob: client requested MSSP")
			reply = EncodeMSSP(r.MSSP())
		} else if r.first(WONT, c.Option) {
			reply = []byte{IAC, WONT, c.Option}
		}
	case WILL:
		if r.first(DONT, c.Option) {
			reply = []byte{IAC, DONT, c.Option}
		}
	}
	if reply == nil || r.Write == nil {
		return
	}
	if err := r.Write(reply); err != nil {
		log.Printf("oob: write reply: %v", err)
	}
}

func (r *Responder) first(verb, opt byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.answered == nil {
		r.answered = make(map[[2]byte]bool)
	}
	key := [2]byte{verb, opt}
	if r.answered[key] {
		return false
	}
	r.answered[key] = true
	return true
}

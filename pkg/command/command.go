// Package command holds the verb catalog, per-session command lists, and
// the parser that turns an input line into a handler call.
package command

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// DefaultHelp is used when a verb is registered without help text.
const DefaultHelp = "no_help"

// Messages sent by the dispatcher.
const (
	UnknownMessage = "Huh?\n"
	NotFoundHelp   = "Help topic not found.\n"
)

var (
	ErrInvalidVerb = errors.New("command: invalid verb")
	ErrNilHandler  = errors.New("command: nil handler")
	ErrDuplicate   = errors.New("command: verb or alias already registered")
	ErrUnknownVerb = errors.New("command: unknown verb")
)

// Sender is anything the dispatcher can write feedback to.
type Sender interface {
	Send(msg string)
}

// Handler runs a verb. The return value is advisory.
type Handler[S Sender] func(s S, verb, args string) bool

// Command is a registered verb. Each verb has exactly one Command, shared by
// every list it is granted to.
type Command[S Sender] struct {
	Verb    string
	Help    string
	Handler Handler[S]
}

// Alias is a secondary token for a Command with optional fixed arguments.
type Alias[S Sender] struct {
	Token   string
	Command *Command[S]
	Args    string
}

// Registry is the global verb and alias catalog.
type Registry[S Sender] struct {
	mu       sync.RWMutex
	commands map[string]*Command[S]
	aliases  map[string]*Alias[S]
	order    []string // verbs in registration order
}

// NewRegistry returns an empty registry.
func NewRegistry[S Sender]() *Registry[S] {
	return &Registry[S]{
		commands: make(map[string]*Command[S]),
		aliases:  make(map[string]*Alias[S]),
	}
}

func validToken(tok string) bool {
	return tok != "" && strings.IndexFunc(tok, unicode.IsSpace) < 0
}

// Register adds a verb. The verb is stored lower case and must not collide
// with any verb or alias. Rejections are logged and returned.
func (r *Registry[S]) Register(verb, help string, h Handler[S]) error {
	err := r.register(verb, help, h)
	if err != nil {
		log.Printf("command: WARNING: register %q: %v", verb, err)
	}
	return err
}

func (r *Registry[S]) register(verb, help string, h Handler[S]) error {
	if !validToken(verb) {
		return ErrInvalidVerb
	}
	if h == nil {
		return ErrNilHandler
	}
	if help == "" {
		help = DefaultHelp
	}
	key := strings.ToLower(verb)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken(key) {
		return ErrDuplicate
	}
	r.commands[key] = &Command[S]{Verb: key, Help: help, Handler: h}
	r.order = append(r.order, key)
	return nil
}

// AddAlias binds token to an already registered verb. args, if non-empty,
// is prepended to whatever follows the alias on the input line.
func (r *Registry[S]) AddAlias(token, verb, args string) error {
	err := r.addAlias(token, verb, args)
	if err != nil {
		log.Printf("command: WARNING: alias %q -> %q: %v", token, verb, err)
	}
	return err
}

func (r *Registry[S]) addAlias(token, verb, args string) error {
	if !validToken(token) {
		return ErrInvalidVerb
	}
	key := strings.ToLower(token)

	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.commands[strings.ToLower(verb)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVerb, verb)
	}
	if r.taken(key) {
		return ErrDuplicate
	}
	r.aliases[key] = &Alias[S]{Token: key, Command: cmd, Args: strings.TrimSpace(args)}
	return nil
}

func (r *Registry[S]) taken(key string) bool {
	_, isCmd := r.commands[key]
	_, isAlias := r.aliases[key]
	return isCmd || isAlias
}

// IsCommand reports whether verb is registered.
func (r *Registry[S]) IsCommand(verb string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.commands[strings.ToLower(verb)]
	return ok
}

// IsAlias reports whether token is a registered alias.
func (r *Registry[S]) IsAlias(token string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.aliases[strings.ToLower(token)]
	return ok
}

// Command returns the registered command for verb.
func (r *Registry[S]) Command(verb string) (*Command[S], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[strings.ToLower(verb)]
	return c, ok
}

// Alias returns the registered alias for token.
func (r *Registry[S]) Alias(token string) (*Alias[S], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.aliases[strings.ToLower(token)]
	return a, ok
}

// Verbs returns every registered verb in registration order.
func (r *Registry[S]) Verbs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Grant adds verb to l along with every alias currently bound to it.
func (r *Registry[S]) Grant(l *List[S], verb string) error {
	r.mu.RLock()
	cmd, ok := r.commands[strings.ToLower(verb)]
	var aliases []*Alias[S]
	if ok {
		for _, a := range r.aliases {
			if a.Command == cmd {
				aliases = append(aliases, a)
			}
		}
	}
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVerb, verb)
	}
	sort.Slice(aliases, func(i, j int) bool { return aliases[i].Token < aliases[j].Token })
	l.add(cmd, aliases)
	return nil
}

// Split separates a line into its case-folded head token and the verbatim
// remainder after the first run of whitespace.
func Split(line string) (head, rest string) {
	line = strings.TrimLeftFunc(line, unicode.IsSpace)
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return strings.ToLower(line), ""
	}
	head = strings.ToLower(line[:i])
	rest = strings.TrimLeftFunc(line[i:], unicode.IsSpace)
	return head, rest
}

// Resolve maps a line to the command it invokes in l and the effective
// argument string. Verbs are matched before aliases.
func Resolve[S Sender](l *List[S], line string) (*Command[S], string, bool) {
	head, rest := Split(line)
	if head == "" {
		return nil, "", false
	}
	if cmd, ok := l.command(head); ok {
		return cmd, rest, true
	}
	if a, ok := l.alias(head); ok {
		args := a.Args
		switch {
		case args == "":
			args = rest
		case rest != "":
			args += " " + rest
		}
		return a.Command, args, true
	}
	return nil, "", false
}

// Dispatch parses line against the session's list and runs the handler.
// An unmatched head sends UnknownMessage and returns false.
func Dispatch[S Sender](s S, l *List[S], line string) bool {
	cmd, args, ok := Resolve(l, line)
	if !ok {
		s.Send(UnknownMessage)
		return false
	}
	cmd.Handler(s, cmd.Verb, args)
	return true
}

// Help writes help for topic, or for every verb in l when topic is empty.
func Help[S Sender](s S, l *List[S], topic string) bool {
	topic = strings.ToLower(strings.TrimSpace(topic))
	if topic == "" {
		var b strings.Builder
		b.WriteString("Commands:\n")
		for _, c := range l.Commands() {
			fmt.Fprintf(&b, "  %-10s %s\n", c.Verb, c.Help)
		}
		s.Send(b.String())
		return true
	}
	cmd, ok := l.command(topic)
	if !ok {
		s.Send(NotFoundHelp)
		return false
	}
	s.Send(cmd.Verb + ": " + cmd.Help + "\n")
	return true
}

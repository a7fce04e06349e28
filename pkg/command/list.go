package command

import "sync"

// List is the set of commands and aliases granted to one session. Lists
// only grow.
type List[S Sender] struct {
	mu       sync.RWMutex
	commands []*Command[S]
	aliases  []*Alias[S]
	byVerb   map[string]*Command[S]
	byAlias  map[string]*Alias[S]
}

// NewList returns an empty command list.
func NewList[S Sender]() *List[S] {
	return &List[S]{
		byVerb:  make(map[string]*Command[S]),
		byAlias: make(map[string]*Alias[S]),
	}
}

func (l *List[S]) add(cmd *Command[S], aliases []*Alias[S]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byVerb[cmd.Verb]; !ok {
		l.byVerb[cmd.Verb] = cmd
		l.commands = append(l.commands, cmd)
	}
	for _, a := range aliases {
		if _, ok := l.byAlias[a.Token]; ok {
			continue
		}
		l.byAlias[a.Token] = a
		l.aliases = append(l.aliases, a)
	}
}

func (l *List[S]) command(verb string) (*Command[S], bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.byVerb[verb]
	return c, ok
}

func (l *List[S]) alias(token string) (*Alias[S], bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.byAlias[token]
	return a, ok
}

// HasCommand reports whether verb has been granted.
func (l *List[S]) HasCommand(verb string) bool {
	_, ok := l.command(verb)
	return ok
}

// HasAlias reports whether token has been granted.
func (l *List[S]) HasAlias(token string) bool {
	_, ok := l.alias(token)
	return ok
}

// Commands returns the granted commands in grant order.
func (l *List[S]) Commands() []*Command[S] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*Command[S](nil), l.commands...)
}

// Len returns the number of granted verbs.
func (l *List[S]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.commands)
}

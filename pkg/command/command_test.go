package command

import (
	"errors"
	"strings"
	"testing"
)

type fakeSession struct {
	out strings.Builder
}

func (f *fakeSession) Send(msg string) { f.out.WriteString(msg) }

type call struct {
	verb, args string
}

func newTestRegistry(t *testing.T) (*Registry[*fakeSession], *[]call) {
	t.Helper()
	r := NewRegistry[*fakeSession]()
	var calls []call
	record := func(_ *fakeSession, verb, args string) bool {
		calls = append(calls, call{verb, args})
		return true
	}
	for _, v := range []string{"look", "say", "north", "get"} {
		if err := r.Register(v, v+" help", record); err != nil {
			t.Fatalf("Register(%s): %v", v, err)
		}
	}
	if err := r.AddAlias("n", "north", ""); err != nil {
		t.Fatal(err)
	}
	if err := r.AddAlias("grab", "get", "quickly"); err != nil {
		t.Fatal(err)
	}
	return r, &calls
}

func grantAll(t *testing.T, r *Registry[*fakeSession]) *List[*fakeSession] {
	t.Helper()
	l := NewList[*fakeSession]()
	for _, v := range r.Verbs() {
		if err := r.Grant(l, v); err != nil {
			t.Fatal(err)
		}
	}
	return l
}

func TestSplit(t *testing.T) {
	tests := []struct {
		line, head, rest string
	}{
		{"look", "look", ""},
		{"say hello there", "say", "hello there"},
		{"SAY  two  spaces ", "say", "two  spaces "},
		{"  look", "look", ""},
		{"say\thi", "say", "hi"},
		{"", "", ""},
	}
	for _, tt := range tests {
		head, rest := Split(tt.line)
		if head != tt.head || rest != tt.rest {
			t.Errorf("Split(%q) = %q, %q, want %q, %q", tt.line, head, rest, tt.head, tt.rest)
		}
	}
}

func TestRegisterRules(t *testing.T) {
	r, _ := newTestRegistry(t)
	h := func(*fakeSession, string, string) bool { return true }
	tests := []struct {
		verb string
		h    Handler[*fakeSession]
		want error
	}{
		{"", h, ErrInvalidVerb},
		{"two words", h, ErrInvalidVerb},
		{"quit", nil, ErrNilHandler},
		{"LOOK", h, ErrDuplicate},
		{"n", h, ErrDuplicate},
		{"Quit", h, nil},
	}
	for _, tt := range tests {
		if err := r.Register(tt.verb, "", tt.h); !errors.Is(err, tt.want) {
			t.Errorf("Register(%q) = %v, want %v", tt.verb, err, tt.want)
		}
	}
	c, ok := r.Command("quit")
	if !ok || c.Verb != "quit" || c.Help != DefaultHelp {
		t.Errorf("Command(quit) = %+v, %v", c, ok)
	}
}

func TestAliasRules(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.AddAlias("s", "south", ""); !errors.Is(err, ErrUnknownVerb) {
		t.Errorf("alias to unknown verb = %v", err)
	}
	if err := r.AddAlias("look", "north", ""); !errors.Is(err, ErrDuplicate) {
		t.Errorf("alias shadowing verb = %v", err)
	}
	if err := r.AddAlias("N", "look", ""); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate alias = %v", err)
	}
	if err := r.AddAlias("l k", "look", ""); !errors.Is(err, ErrInvalidVerb) {
		t.Errorf("whitespace alias = %v", err)
	}
	a, ok := r.Alias("n")
	c, _ := r.Command("north")
	if !ok || a.Command != c {
		t.Error("alias does not point at the registered command instance")
	}
}

func TestGrantIncludesAliases(t *testing.T) {
	r, _ := newTestRegistry(t)
	l := NewList[*fakeSession]()
	if err := r.Grant(l, "north"); err != nil {
		t.Fatal(err)
	}
	if !l.HasCommand("north") || !l.HasAlias("n") {
		t.Error("north or n missing after Grant")
	}
	if l.HasCommand("look") || l.HasAlias("grab") {
		t.Error("Grant added unrelated entries")
	}
	r.Grant(l, "north")
	if l.Len() != 1 {
		t.Errorf("Len = %d after regrant", l.Len())
	}
	if err := r.Grant(l, "fly"); !errors.Is(err, ErrUnknownVerb) {
		t.Errorf("Grant(fly) = %v", err)
	}
}

func TestDispatch(t *testing.T) {
	r, calls := newTestRegistry(t)
	l := grantAll(t, r)
	s := &fakeSession{}

	tests := []struct {
		line string
		want call
	}{
		{"look", call{"look", ""}},
		{"say hello there", call{"say", "hello there"}},
		{"LOOK", call{"look", ""}},
		{"grab sword", call{"get", "quickly sword"}},
		{"grab", call{"get", "quickly"}},
	}
	for _, tt := range tests {
		*calls = nil
		if !Dispatch(s, l, tt.line) {
			t.Errorf("Dispatch(%q) = false", tt.line)
			continue
		}
		if len(*calls) != 1 || (*calls)[0] != tt.want {
			t.Errorf("Dispatch(%q) called %v, want %v", tt.line, *calls, tt.want)
		}
	}
	if s.out.Len() != 0 {
		t.Errorf("unexpected output %q", s.out.String())
	}
}

func TestAliasMatchesVerb(t *testing.T) {
	r, calls := newTestRegistry(t)
	l := grantAll(t, r)
	s := &fakeSession{}
	for _, args := range []string{"", "quickly", "a  b"} {
		*calls = nil
		Dispatch(s, l, strings.TrimSpace("north "+args))
		Dispatch(s, l, strings.TrimSpace("n "+args))
		if len(*calls) != 2 || (*calls)[0] != (*calls)[1] {
			t.Errorf("args %q: verb and alias differ: %v", args, *calls)
		}
	}
}

func TestDispatchUnknown(t *testing.T) {
	r, calls := newTestRegistry(t)
	l := NewList[*fakeSession]()
	r.Grant(l, "look")
	s := &fakeSession{}

	if Dispatch(s, l, "dance wildly") {
		t.Error("Dispatch(dance) = true")
	}
	// Registered globally but not granted.
	if Dispatch(s, l, "n") {
		t.Error("ungranted alias dispatched")
	}
	if Dispatch(s, l, "   ") {
		t.Error("blank line dispatched")
	}
	if len(*calls) != 0 {
		t.Errorf("handlers ran: %v", *calls)
	}
	if got := s.out.String(); got != strings.Repeat(UnknownMessage, 3) {
		t.Errorf("output = %q", got)
	}
}

func TestHelp(t *testing.T) {
	r, _ := newTestRegistry(t)
	l := NewList[*fakeSession]()
	r.Grant(l, "look")
	r.Grant(l, "say")

	s := &fakeSession{}
	Help(s, l, "")
	out := s.out.String()
	if !strings.Contains(out, "look") || !strings.Contains(out, "say help") || strings.Contains(out, "north") {
		t.Errorf("Help() = %q", out)
	}

	s = &fakeSession{}
	if !Help(s, l, "SAY") || s.out.String() != "say: say help\n" {
		t.Errorf("Help(say) = %q", s.out.String())
	}

	s = &fakeSession{}
	if Help(s, l, "north") || s.out.String() != NotFoundHelp {
		t.Errorf("Help(north) = %q", s.out.String())
	}
}

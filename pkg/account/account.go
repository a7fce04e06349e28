// Package account validates usernames and manages credentials on top of a
// persistence Store.
package account

import (
	"context"
	"errors"
	"fmt"
	"log"
	"unicode"
	"unicode/utf8"

	"github.com/jastadj/sfmlmud2/pkg/crypt"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	ErrNotFound        = errors.New("account: not found")
	ErrExists          = errors.New("account: already exists")
	ErrBadPassword     = errors.New("account: incorrect password")
	ErrInvalidName     = errors.New("account: invalid username")
	ErrInvalidPassword = errors.New("account: invalid password")
)

// Account is a persisted player login.
type Account struct {
	ID       int64
	Name     string // canonical form, see FormatUsername
	Password string // bcrypt hash, or a legacy value awaiting upgrade
	Room     int    // last known room, 0 if none
}

// Store is the persistence contract for accounts. Name lookups are
// case-insensitive.
type Store interface {
	FindAccount(ctx context.Context, name string) (*Account, error)
	CreateAccount(ctx context.Context, a *Account) error
	SetPassword(ctx context.Context, name, hash string) error
	SaveAccountRoom(ctx context.Context, name string, room int) error
}

// ValidUsername reports whether name is non-empty and made only of ASCII
// letters.
func ValidUsername(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

var lower = cases.Lower(language.Und)

// FormatUsername returns the display form of name: first letter upper
// case, the rest lower case. It is idempotent.
func FormatUsername(name string) string {
	s := lower.String(name)
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// Manager creates and authenticates accounts.
type Manager struct {
	store Store
}

// NewManager returns a Manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Exists reports whether an account with this name exists, ignoring case.
func (m *Manager) Exists(ctx context.Context, name string) (bool, error) {
	_, err := m.store.FindAccount(ctx, FormatUsername(name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		log.Printf("account: ERROR: lookup %q: %v", name, err)
		return false, err
	}
}

// Find returns the account with this name, ignoring case.
func (m *Manager) Find(ctx context.Context, name string) (*Account, error) {
	a, err := m.store.FindAccount(ctx, FormatUsername(name))
	if err != nil && !errors.Is(err, ErrNotFound) {
		log.Printf("account: ERROR: lookup %q: %v", name, err)
	}
	return a, err
}

// Create stores a new account with a hashed password and returns it.
func (m *Manager) Create(ctx context.Context, name, password string, room int) (*Account, error) {
	if !ValidUsername(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if password == "" {
		return nil, ErrInvalidPassword
	}
	exists, err := m.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrExists, FormatUsername(name))
	}
	hash, err := crypt.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("account: hash password: %w", err)
	}
	a := &Account{Name: FormatUsername(name), Password: hash, Room: room}
	if err := m.store.CreateAccount(ctx, a); err != nil {
		if !errors.Is(err, ErrExists) {
			log.Printf("account: ERROR: create %s: %v", a.Name, err)
		}
		return nil, err
	}
	log.Printf("account: created %s (id %d)", a.Name, a.ID)
	return a, nil
}

// Login checks a password. It returns ErrNotFound for an unknown name and
// ErrBadPassword for a wrong password. Legacy credentials are upgraded to
// bcrypt on a successful login.
func (m *Manager) Login(ctx context.Context, name, password string) (*Account, error) {
	a, err := m.store.FindAccount(ctx, FormatUsername(name))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("account: ERROR: lookup %q: %v", name, err)
		}
		return nil, err
	}
	ok, legacy := crypt.Check(password, a.Password)
	if !ok {
		return nil, ErrBadPassword
	}
	if legacy {
		if hash, err := crypt.Hash(password); err == nil {
			if err := m.store.SetPassword(ctx, a.Name, hash); err != nil {
				log.Printf("account: WARNING: upgrade password for %s: %v", a.Name, err)
			} else {
				a.Password = hash
			}
		}
	}
	return a, nil
}

// SaveRoom records the account's last known room.
func (m *Manager) SaveRoom(ctx context.Context, name string, room int) error {
	if err := m.store.SaveAccountRoom(ctx, FormatUsername(name), room); err != nil {
		log.Printf("account: ERROR: save room for %s: %v", name, err)
		return err
	}
	return nil
}

// Package sqlstore persists accounts and rooms in a SQLite database.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jastadj/sfmlmud2/pkg/account"
	"github.com/jastadj/sfmlmud2/pkg/direction"
	"github.com/jastadj/sfmlmud2/pkg/world"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed account and room store.
type Store struct {
	db      *sql.DB
	path    string
	timeout time.Duration

	roomColumns string // "room_id, zone, name, description, exit_north, ..."
	upsertRoom  string
}

var (
	_ account.Store = (*Store)(nil)
	_ world.Store   = (*Store)(nil)
)

// Open opens or creates the database at path, sets WAL mode and busy
// timeout, and creates missing tables.
func Open(path string, timeoutSec int) (*Store, error) {
	if timeoutSec <= 0 {
		timeoutSec = 5
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening %s: %w", path, err)
	}
	// One connection so the pragmas below hold for every statement.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, timeout: time.Duration(timeoutSec) * time.Second}
	s.buildRoomSQL()

	ctx, cancel := s.ctx(context.Background())
	defer cancel()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: setting WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", timeoutSec*1000)); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: setting busy timeout: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) buildRoomSQL() {
	cols := []string{"room_id", "zone", "name", "description"}
	var sets []string
	for _, c := range cols[1:] {
		sets = append(sets, c+" = excluded."+c)
	}
	for _, d := range direction.All() {
		cols = append(cols, d.Column())
		sets = append(sets, d.Column()+" = excluded."+d.Column())
	}
	s.roomColumns = strings.Join(cols, ", ")
	s.upsertRoom = "INSERT INTO rooms (" + s.roomColumns + ") VALUES (?" +
		strings.Repeat(", ?", len(cols)-1) + ") ON CONFLICT(room_id) DO UPDATE SET " +
		strings.Join(sets, ", ")
}

func (s *Store) migrate(ctx context.Context) error {
	var exits strings.Builder
	for _, d := range direction.All() {
		fmt.Fprintf(&exits, ",\n\t%s INTEGER NOT NULL DEFAULT 0", d.Column())
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
	account_id INTEGER PRIMARY KEY,
	account_name TEXT NOT NULL UNIQUE COLLATE NOCASE,
	account_password TEXT NOT NULL,
	current_room INTEGER NOT NULL DEFAULT 0
)`,
		`CREATE TABLE IF NOT EXISTS rooms (
	room_id INTEGER PRIMARY KEY,
	zone TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT` + exits.String() + `
)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the filesystem path of the database.
func (s *Store) Path() string { return s.path }

// Checkpoint forces a WAL checkpoint to flush all writes to the main database file.
func (s *Store) Checkpoint(ctx context.Context) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Snapshot writes a consistent copy of the database to path, which must
// not exist yet.
func (s *Store) Snapshot(ctx context.Context, path string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("sqlstore: snapshot %s: %w", path, err)
	}
	return nil
}

// FindAccount looks an account up by name, ignoring case.
func (s *Store) FindAccount(ctx context.Context, name string) (*account.Account, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var a account.Account
	err := s.db.QueryRowContext(ctx,
		"SELECT account_id, account_name, account_password, current_room FROM accounts WHERE account_name = ?",
		name).Scan(&a.ID, &a.Name, &a.Password, &a.Room)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: find account %q: %w", name, err)
	}
	return &a, nil
}

// CreateAccount inserts a and sets a.ID. A name that differs from an
// existing one only by case fails with account.ErrExists.
func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO accounts (account_name, account_password, current_room) VALUES (?, ?, ?)",
		a.Name, a.Password, a.Room)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", account.ErrExists, a.Name)
		}
		return fmt.Errorf("sqlstore: create account %q: %w", a.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlstore: create account %q: %w", a.Name, err)
	}
	a.ID = id
	return nil
}

// SetPassword replaces an account's stored credential.
func (s *Store) SetPassword(ctx context.Context, name, hash string) error {
	return s.updateAccount(ctx, "UPDATE accounts SET account_password = ? WHERE account_name = ?", hash, name)
}

// SaveAccountRoom records an account's last known room.
func (s *Store) SaveAccountRoom(ctx context.Context, name string, room int) error {
	return s.updateAccount(ctx, "UPDATE accounts SET current_room = ? WHERE account_name = ?", room, name)
}

func (s *Store) updateAccount(ctx context.Context, query string, value any, name string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, query, value, name)
	if err != nil {
		return fmt.Errorf("sqlstore: update account %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", account.ErrNotFound, name)
	}
	return nil
}

// AccountCount returns the number of stored accounts.
func (s *Store) AccountCount(ctx context.Context) (int, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlstore: count accounts: %w", err)
	}
	return n, nil
}

// SaveRooms inserts or updates rooms in a single transaction.
func (s *Store) SaveRooms(ctx context.Context, rooms ...world.Room) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.upsertRoom)
	if err != nil {
		return fmt.Errorf("sqlstore: prepare room upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rooms {
		args := []any{int(r.ID), r.Zone, r.Name, r.Description}
		for _, exit := range r.Exits {
			args = append(args, int(exit))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("sqlstore: save room %d: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit rooms: %w", err)
	}
	return nil
}

// LoadRooms returns every stored room ordered by id.
func (s *Store) LoadRooms(ctx context.Context) ([]world.Room, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, "SELECT "+s.roomColumns+" FROM rooms ORDER BY room_id")
	if err != nil {
		return nil, fmt.Errorf("sqlstore: load rooms: %w", err)
	}
	defer rows.Close()

	var out []world.Room
	for rows.Next() {
		var (
			r    world.Room
			id   int
			desc sql.NullString
			exit [direction.Count]int
		)
		dest := []any{&id, &r.Zone, &r.Name, &desc}
		for i := range exit {
			dest = append(dest, &exit[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("sqlstore: scan room: %w", err)
		}
		r.ID = world.RoomID(id)
		r.Description = desc.String
		for i, e := range exit {
			r.Exits[i] = world.RoomID(e)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: load rooms: %w", err)
	}
	log.Printf("sqlstore: loaded %d rooms from %s", len(out), s.path)
	return out, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

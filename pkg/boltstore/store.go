// Package boltstore persists accounts and rooms in an embedded bbolt
// database. It satisfies the same contracts as the SQLite store.
package boltstore

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jastadj/sfmlmud2/pkg/account"
	"github.com/jastadj/sfmlmud2/pkg/world"
	bbolt "go.etcd.io/bbolt"
)

// Store wraps a bbolt database.
type Store struct {
	bolt *bbolt.DB
}

var (
	_ account.Store = (*Store)(nil)
	_ world.Store   = (*Store)(nil)
)

// Open opens or creates a bbolt database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketAccounts, bucketRooms} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create buckets: %w", err)
	}
	return &Store{bolt: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// FindAccount looks an account up by name, ignoring case.
func (s *Store) FindAccount(ctx context.Context, name string) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var a *account.Account
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAccounts).Get(nameKey(name))
		if data == nil {
			return account.ErrNotFound
		}
		var err error
		a, err = decodeAccount(data)
		if err != nil {
			return fmt.Errorf("boltstore: decode account %q: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CreateAccount stores a new account, assigning a.ID from the bucket
// sequence.
func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		key := nameKey(a.Name)
		if b.Get(key) != nil {
			return fmt.Errorf("%w: %s", account.ErrExists, a.Name)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("boltstore: account sequence: %w", err)
		}
		rec := *a
		rec.ID = int64(seq)
		data, err := encodeAccount(&rec)
		if err != nil {
			return fmt.Errorf("boltstore: encode account %q: %w", a.Name, err)
		}
		if err := b.Put(key, data); err != nil {
			return err
		}
		a.ID = rec.ID
		return nil
	})
}

// SetPassword replaces an account's stored credential.
func (s *Store) SetPassword(ctx context.Context, name, hash string) error {
	return s.updateAccount(ctx, name, func(a *account.Account) { a.Password = hash })
}

// SaveAccountRoom records an account's last known room.
func (s *Store) SaveAccountRoom(ctx context.Context, name string, room int) error {
	return s.updateAccount(ctx, name, func(a *account.Account) { a.Room = room })
}

func (s *Store) updateAccount(ctx context.Context, name string, fn func(*account.Account)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		key := nameKey(name)
		data := b.Get(key)
		if data == nil {
			return fmt.Errorf("%w: %s", account.ErrNotFound, name)
		}
		a, err := decodeAccount(data)
		if err != nil {
			return fmt.Errorf("boltstore: decode account %q: %w", name, err)
		}
		fn(a)
		if data, err = encodeAccount(a); err != nil {
			return fmt.Errorf("boltstore: encode account %q: %w", name, err)
		}
		return b.Put(key, data)
	})
}

// SaveRooms persists rooms in a single bbolt transaction.
func (s *Store) SaveRooms(ctx context.Context, rooms ...world.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRooms)
		for i := range rooms {
			data, err := encodeRoom(&rooms[i])
			if err != nil {
				return fmt.Errorf("boltstore: encode room %d: %w", rooms[i].ID, err)
			}
			if err := b.Put(intToKey(int(rooms[i].ID)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadRooms returns every stored room in id order.
func (s *Store) LoadRooms(ctx context.Context) ([]world.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []world.Room
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRooms).ForEach(func(k, v []byte) error {
			r, err := decodeRoom(v)
			if err != nil {
				return fmt.Errorf("boltstore: decode room %d: %w", keyToInt(k), err)
			}
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	log.Printf("boltstore: loaded %d rooms from %s", len(out), s.Path())
	return out, nil
}

// Backup writes a consistent snapshot of the database to path.
func (s *Store) Backup(path string) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("boltstore: create backup %s: %w", path, err)
		}
		defer f.Close()
		if _, err := tx.WriteTo(f); err != nil {
			return fmt.Errorf("boltstore: write backup: %w", err)
		}
		log.Printf("boltstore: backup written to %s", path)
		return nil
	})
}

// AccountCount returns the number of stored accounts.
func (s *Store) AccountCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketAccounts).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("boltstore: count accounts: %w", err)
	}
	return n, nil
}

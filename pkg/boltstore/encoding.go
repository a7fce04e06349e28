package boltstore

import (
	"bytes"
	"encoding/gob"

	"github.com/jastadj/sfmlmud2/pkg/account"
	"github.com/jastadj/sfmlmud2/pkg/world"
)

// encodeAccount serializes an Account to bytes using gob.
func encodeAccount(a *account.Account) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeAccount(data []byte) (*account.Account, error) {
	var a account.Account
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// encodeRoom serializes a Room to bytes using gob.
func encodeRoom(r *world.Room) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRoom(data []byte) (world.Room, error) {
	var r world.Room
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r)
	return r, err
}

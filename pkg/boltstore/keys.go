package boltstore

import (
	"encoding/binary"
	"strings"
)

// Bucket names.
var (
	bucketAccounts = []byte("accounts")
	bucketRooms    = []byte("rooms")
)

// intToKey converts an int to an 8-byte big-endian key so ForEach walks
// rooms in id order.
func intToKey(n int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

// keyToInt converts an 8-byte big-endian key back to an int.
func keyToInt(b []byte) int {
	return int(binary.BigEndian.Uint64(b))
}

// nameKey is the case-folded account key.
func nameKey(name string) []byte {
	return []byte(strings.ToLower(name))
}

// Package crypt hashes and verifies account passwords.
//
// New credentials are always bcrypt. Older databases may still hold
// traditional DES crypt(3) strings or plaintext passwords; Check accepts
// both and reports that the stored value should be upgraded.
package crypt

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	descrypt "github.com/digitive/crypt"
	"golang.org/x/crypto/bcrypt"
)

// Cost is the bcrypt work factor used by Hash.
var Cost = bcrypt.DefaultCost

// maxBcryptInput is the longest input bcrypt accepts.
const maxBcryptInput = 72

// bcryptKey returns the bytes handed to bcrypt. Passwords longer than
// bcrypt's input limit are reduced to a base64 SHA-256 digest first.
func bcryptKey(password string) []byte {
	if len(password) <= maxBcryptInput {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// Hash returns a bcrypt hash of password. Any length is accepted.
func Hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword(bcryptKey(password), Cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// IsBcrypt reports whether stored looks like a bcrypt hash.
func IsBcrypt(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$")
}

// Check verifies password against a stored credential. legacy is true when
// the match was against a non-bcrypt value and the caller should rehash.
func Check(password, stored string) (ok, legacy bool) {
	if stored == "" {
		return false, false
	}
	if IsBcrypt(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), bcryptKey(password)) == nil, false
	}
	if isDES(stored) && CheckDES(password, stored) {
		return true, true
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1, true
}

// Crypt performs traditional Unix DES crypt(3).
func Crypt(password, salt string) string {
	result, err := descrypt.Crypt(password, salt)
	if err != nil {
		return ""
	}
	return result
}

// CheckDES verifies a password against a DES-encrypted hash.
func CheckDES(password, storedHash string) bool {
	if len(storedHash) < 2 || password == "" {
		return false
	}
	computed := Crypt(password, storedHash[:2])
	return computed != "" && subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

func isDES(s string) bool {
	if len(s) != 13 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '/':
		default:
			return false
		}
	}
	return true
}

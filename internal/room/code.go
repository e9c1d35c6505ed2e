package room

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet deliberately has no lowercase: codes are read aloud and
// typed back, so the join path uppercases its input before lookup.
const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

// NewCode returns a random 6-character field code. ~2 billion values is
// unguessable enough for a short-lived invite; collisions are handled by
// the unique index on insert, not here.
func NewCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

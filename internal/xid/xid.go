// Package xid generates prefixed record ids such as sale-..., bat-..., and
// mov-.... The timestamp component makes same-prefix ids sort by creation
// order, which batch allocation relies on for tie-breaking.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const randomBytes = 8

// New returns "<prefix>-<unix-nanos>-<16 hex chars>".
func New(prefix string) string {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		// Nanosecond timestamp alone is unique enough for a single process.
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// Package idgen provides prefixed, time-ordered id generation.
//
// Ids follow the form <PREFIX>_<unix-millis>_<hex-suffix>, e.g.
// AEGES_1724900000000_a1b2c3d4e5f6. The millisecond component keeps ids
// roughly sortable by creation time; the suffix comes from crypto/rand.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Well-known id prefixes used across the platform.
const (
	PrefixAnalysis    = "AEGES"
	PrefixContainment = "CONT"
	PrefixRecovery    = "REC"
	PrefixEvent       = "EVT"
)

const suffixBytes = 6 // 12 hex chars

// New generates an id with the given prefix.
func New(prefix string) string {
	b := make([]byte, suffixBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), hex.EncodeToString(b))
}

// Hex generates a bare random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Package identifier produces the compact unique identifiers used to name
// certificates and print requests. An identifier is 12 bytes: a 4-byte
// second-resolution timestamp, a 3-byte and a 2-byte process-random value,
// and a 3-byte atomically incremented counter seeded randomly. Uniqueness
// relies on that composition, not on global coordination; two processes
// started in the same second with colliding random values are a documented
// residual risk.
package identifier

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// alphabet is the human-facing symbol set: digits plus uppercase letters with
// B, I, O and S removed because they read as 8, 1, 0 and 5 on a printed card.
const alphabet = "0123456789ACDEFGHJKLMNPQRTUVWXYZ"

const (
	rawLen     = 12
	hexLen     = 24
	encodedLen = 20
)

var (
	// ErrInvalidLength reports an encoded identifier of the wrong length.
	ErrInvalidLength = errors.New("identifier: encoded value must be 20 characters")
	// ErrInvalidCharacter reports a character outside the restricted alphabet.
	ErrInvalidCharacter = errors.New("identifier: character outside restricted alphabet")
	// ErrInvalidTrailer reports a final character other than 0 or 1. The last
	// character carries a single bit, so only the first two alphabet symbols
	// are valid there.
	ErrInvalidTrailer = errors.New("identifier: final character must be 0 or 1")
)

// decodeIndex maps an alphabet byte back to its 5-bit value, or -1.
var decodeIndex = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		idx[alphabet[i]] = int8(i)
	}
	return idx
}()

// Identifier is a 12-byte globally unique value with two encodings: 24-char
// lowercase hex for internal and database use, and a 20-char restricted
// alphabet form for anything a human reads off a physical document.
type Identifier [rawLen]byte

// Generator issues identifiers. It is safe for concurrent use; the counter is
// advanced atomically and the random components are fixed per process.
type Generator struct {
	randHi  [3]byte
	randLo  [2]byte
	counter atomic.Uint32
	second  atomic.Int64
	now     func() time.Time
}

// NewGenerator seeds the process-random components and the counter from
// crypto/rand.
func NewGenerator() (*Generator, error) {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("identifier: seed generator: %w", err)
	}
	g := &Generator{now: time.Now}
	copy(g.randHi[:], seed[0:3])
	copy(g.randLo[:], seed[3:5])
	g.counter.Store(binary.BigEndian.Uint32(seed[4:8]) & 0xFFFFFF)
	return g, nil
}

// Generate returns a fresh identifier. The timestamp component never moves
// backwards within a process even if the wall clock does.
func (g *Generator) Generate() Identifier {
	now := g.now().Unix()
	for {
		last := g.second.Load()
		if now >= last {
			if g.second.CompareAndSwap(last, now) {
				break
			}
			continue
		}
		now = last
		break
	}
	count := g.counter.Add(1) & 0xFFFFFF

	var id Identifier
	binary.BigEndian.PutUint32(id[0:4], uint32(now))
	copy(id[4:7], g.randHi[:])
	copy(id[7:9], g.randLo[:])
	id[9] = byte(count >> 16)
	id[10] = byte(count >> 8)
	id[11] = byte(count)
	return id
}

// Hex returns the 24-character lowercase hex encoding used for internal and
// provider-visible request ids.
func (id Identifier) Hex() string {
	return hex.EncodeToString(id[:])
}

// String returns the 20-character human-facing encoding: nineteen 5-bit
// groups followed by the final single bit.
func (id Identifier) String() string {
	var out [encodedLen]byte
	for group := 0; group < encodedLen-1; group++ {
		var v byte
		for bit := 0; bit < 5; bit++ {
			v = v<<1 | id.bit(group*5+bit)
		}
		out[group] = alphabet[v]
	}
	out[encodedLen-1] = alphabet[id.bit(95)]
	return string(out[:])
}

// Timestamp returns the embedded creation time, second resolution.
func (id Identifier) Timestamp() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(id[0:4])), 0).UTC()
}

// Components returns the four integer components for equality checks and
// tests: timestamp seconds, 3-byte random, 2-byte random and counter.
func (id Identifier) Components() (ts uint32, randHi uint32, randLo uint16, counter uint32) {
	ts = binary.BigEndian.Uint32(id[0:4])
	randHi = uint32(id[4])<<16 | uint32(id[5])<<8 | uint32(id[6])
	randLo = uint16(id[7])<<8 | uint16(id[8])
	counter = uint32(id[9])<<16 | uint32(id[10])<<8 | uint32(id[11])
	return ts, randHi, randLo, counter
}

func (id Identifier) bit(i int) byte {
	return (id[i/8] >> (7 - uint(i%8))) & 1
}

// Parse reconstructs an identifier from its human-facing encoding. It rejects
// wrong lengths, characters outside the alphabet, and a final character whose
// value exceeds the single bit it carries, each with a distinct error.
func Parse(s string) (Identifier, error) {
	var id Identifier
	if len(s) != encodedLen {
		return id, ErrInvalidLength
	}
	for i := 0; i < encodedLen-1; i++ {
		v := decodeIndex[s[i]]
		if v < 0 {
			return id, ErrInvalidCharacter
		}
		for bit := 4; bit >= 0; bit-- {
			setBit(&id, i*5+(4-bit), byte(v>>uint(bit))&1)
		}
	}
	last := decodeIndex[s[encodedLen-1]]
	if last < 0 {
		return id, ErrInvalidCharacter
	}
	if last > 1 {
		return id, ErrInvalidTrailer
	}
	setBit(&id, 95, byte(last))
	return id, nil
}

// ParseHex reconstructs an identifier from its 24-character hex encoding.
func ParseHex(s string) (Identifier, error) {
	var id Identifier
	if len(s) != hexLen {
		return id, ErrInvalidLength
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, ErrInvalidCharacter
	}
	copy(id[:], raw)
	return id, nil
}

func setBit(id *Identifier, i int, v byte) {
	if v != 0 {
		id[i/8] |= 1 << (7 - uint(i%8))
	}
}

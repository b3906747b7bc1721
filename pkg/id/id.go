package id

import (
	"bytes"
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// Size is the byte length of an ID.
const Size = 12

// ID is [6 bytes ms][2 bytes node][4 bytes sequence], big-endian.
type ID [Size]byte

var encoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// String returns the lowercase base32hex form.
func (i ID) String() string { return strings.ToLower(encoding.EncodeToString(i[:])) }

// Time returns the millisecond timestamp embedded in i.
func (i ID) Time() time.Time {
	var b [8]byte
	copy(b[2:], i[:6])
	return time.UnixMilli(int64(binary.BigEndian.Uint64(b[:])))
}

// Compare returns -1, 0 or 1.
func (i ID) Compare(other ID) int { return bytes.Compare(i[:], other[:]) }

// Parse is the inverse of String.
func Parse(s string) (ID, error) {
	var out ID
	b, err := encoding.DecodeString(strings.ToUpper(s))
	if err != nil {
		return out, fmt.Errorf("id: %w", err)
	}
	if len(b) != Size {
		return out, fmt.Errorf("id: %d bytes, want %d", len(b), Size)
	}
	copy(out[:], b)
	return out, nil
}

// NowMs returns current time in milliseconds since Unix epoch.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Generator produces increasing IDs.
type Generator struct {
	mu     sync.Mutex
	node   uint16
	lastMs int64
	seq    uint32
}

// NewGenerator creates a Generator with a random node tag.
func NewGenerator() *Generator {
	var b [2]byte
	_, _ = rand.Read(b[:])
	return &Generator{node: binary.BigEndian.Uint16(b[:])}
}

// Next returns a new ID.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	switch {
	case ms > g.lastMs:
		g.seq = 0
	case g.seq == math.MaxUint32:
		ms = g.lastMs + 1
		g.seq = 0
	default:
		ms = g.lastMs
		g.seq++
	}
	g.lastMs = ms

	var out ID
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(ms))
	copy(out[:6], ts[2:])
	binary.BigEndian.PutUint16(out[6:8], g.node)
	binary.BigEndian.PutUint32(out[8:], g.seq)
	return out
}

var std = NewGenerator()

// New returns the next ID of the package level generator.
func New() ID { return std.Next() }

// Package port implements the port abstraction: the small set of
// operations the engine needs from its host environment — a memory
// allocator, a checksum routine, and a fatal-error hook that never returns.
//
// Microvium additionally abstracts over a "long pointer" type so the same
// engine can address either native RAM or a separate bytecode address
// space on architectures with disjoint memory spaces. This Go port targets
// a single flat process address space, so LongPtr here is just a
// byte-slice view with an offset — the abstraction is kept as a named type
// so call sites read the same as pointer arithmetic would, not because Go
// needs the indirection.
package port

import (
	"github.com/sirupsen/logrus"

	"mvm/mvmerr"
)

// LongPtr is an abstract pointer able to address either RAM (a heap bucket)
// or bytecode image storage. In this build both live in ordinary Go byte
// slices, so a LongPtr is simply one.
type LongPtr struct {
	Bytes  []byte
	Offset int
}

func NewLongPtr(b []byte, offset int) LongPtr { return LongPtr{Bytes: b, Offset: offset} }

// Read1 reads a single byte at the pointer.
func (p LongPtr) Read1() byte { return p.Bytes[p.Offset] }

// Read2 reads a little-endian uint16 at the pointer.1
// ("Little-endian throughout").
func (p LongPtr) Read2() uint16 {
	return uint16(p.Bytes[p.Offset]) | uint16(p.Bytes[p.Offset+1])<<8
}

// Write2 writes a little-endian uint16 at the pointer.
func (p LongPtr) Write2(v uint16) {
	p.Bytes[p.Offset] = byte(v)
	p.Bytes[p.Offset+1] = byte(v >> 8)
}

// Add returns a pointer n bytes further into the same backing slice.
func (p LongPtr) Add(n int) LongPtr { return LongPtr{Bytes: p.Bytes, Offset: p.Offset + n} }

// Sub returns the byte distance from other to p, which must share the same
// backing slice.
func (p LongPtr) Sub(other LongPtr) int { return p.Offset - other.Offset }

// Memcmp compares n bytes starting at p and other, returning <0, 0, >0 like
// C's memcmp.
func Memcmp(p, other LongPtr, n int) int {
	a := p.Bytes[p.Offset : p.Offset+n]
	b := other.Bytes[other.Offset : other.Offset+n]
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return 0
}

// Slice returns the n bytes starting at the pointer.
func (p LongPtr) Slice(n int) []byte { return p.Bytes[p.Offset : p.Offset+n] }

// crc16CCITTTable is the standard CRC-16/CCITT-FALSE table (polynomial
// 0x1021), computed once at init. This checksum has no ready third-party
// Go implementation, so it is the one place this engine reaches for a
// hand-rolled routine over a library.
var crc16CCITTTable [256]uint16

func init() {
	const poly = 0x1021
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		crc16CCITTTable[i] = crc
	}
}

// CRC16 computes the CRC-16/CCITT-FALSE checksum of data (initial value
// 0xFFFF), as required by the bytecode image header of 
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crc16CCITTTable[byte(crc>>8)^b]
	}
	return crc
}

// Config carries the build/host-time knobs needed before an image can be
// restored: float support, the heap size cap, and the stack size. It is
// passed to image.Restore in place of compile-time #defines.
type Config struct {
	// FloatSupport is checked at restore against the bytecode's required
	// feature flags; the NUM_OP paths do not consult it, and float64
	// arithmetic always runs.
	FloatSupport bool
	// MaxHeapSize bounds the total bytes across all heap buckets; adding a
	// bucket that would exceed it triggers a collection first.
	MaxHeapSize int
	// StackSize is the fixed size, in Values, of the activation stack.
	StackSize int
	// BucketSize is the capacity of a freshly allocated heap bucket.
	BucketSize int
	// AllErrorsFatal is carried in the config but not read by the engine:
	// recoverable errors are always returned to the caller, never routed
	// to the fatal hook.
	AllErrorsFatal bool
	// Allocator backs heap bucket storage; defaults to GoAllocator.
	Allocator Allocator
	// Logger receives diagnostic logging; defaults to logrus's standard
	// logger. Normal script execution never logs through this.
	Logger *logrus.Logger
	// Fatal is invoked on unrecoverable errors and must not return. If nil,
	// DefaultFatalHook(Logger) is used.
	Fatal FatalHook
}

// DefaultConfig returns sensible defaults for an embedding host that hasn't
// customized the port.
func DefaultConfig() Config {
	return Config{
		FloatSupport: true,
		MaxHeapSize:  1 << 20,
		StackSize:    2048,
		BucketSize:   4096,
	}
}

func (c *Config) normalize() {
	if c.Allocator == nil {
		c.Allocator = GoAllocator{}
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Fatal == nil {
		c.Fatal = DefaultFatalHook(c.Logger)
	}
	if c.BucketSize == 0 {
		c.BucketSize = 4096
	}
	if c.StackSize == 0 {
		c.StackSize = 2048
	}
	if c.MaxHeapSize == 0 {
		c.MaxHeapSize = 1 << 20
	}
}

// Normalize fills in zero-valued fields of c with defaults and returns the
// normalized config. image.Restore calls this so hosts can pass a
// partially-populated Config.
func Normalize(c Config) Config {
	c.normalize()
	return c
}

// FatalHook is called on unrecoverable errors: resource exhaustion and
// invariant violations. It MUST NOT return — Go has no never-returning
// function type, so every FatalHook is expected to panic, longjmp-style,
// out of the call that triggered it; DefaultFatalHook shows the pattern.
type FatalHook func(code mvmerr.Code)

type fatalPanic struct{ code mvmerr.Code }

// DefaultFatalHook logs the fatal code at error level and panics with a
// sentinel type. interp.VM.Call recovers that sentinel (via Recover) and
// returns it as an error carrying the code; anywhere else it propagates as
// an ordinary panic. A host wanting different behavior (longjmp-style
// unwinding in tests, killing the process immediately, ...) passes its own
// FatalHook in Config.
func DefaultFatalHook(logger *logrus.Logger) FatalHook {
	return func(code mvmerr.Code) {
		logger.WithField("code", code.String()).Error("mvm: fatal error, VM is no longer usable")
		panic(fatalPanic{code: code})
	}
}

// SelfTest is the port-macro self-test run before restore proceeds: it
// verifies the long-pointer abstraction round-trips correctly. On
// architectures with disjoint memory spaces this exercises macros that
// vary by target (native pointer vs. page-relative offset); since this
// port has only one LongPtr representation (a flat byte slice plus
// offset), the round-trip is necessarily exact, but the check is kept as
// a real assertion rather than dropped, so a future alternate LongPtr
// representation is still guarded by it.
func SelfTest() bool {
	buf := []byte{0x12, 0x34}
	p := NewLongPtr(buf, 0)
	q := p.Add(1).Add(-1)
	return q.Offset == p.Offset && q.Read1() == 0x12 && p.Add(1).Read1() == 0x34
}

// Recover turns a fatalPanic propagated by DefaultFatalHook back into a
// returnable error; entry points defer this so a fatal hook that panics
// doesn't escape the package as a bare panic. Hosts supplying a FatalHook
// that itself never returns (os.Exit, longjmp-equivalent) will simply
// never reach this point, which is correct: the VM really is unusable.
func Recover() (code mvmerr.Code, recovered bool) {
	if r := recover(); r != nil {
		if fp, ok := r.(fatalPanic); ok {
			return fp.code, true
		}
		panic(r)
	}
	return 0, false
}

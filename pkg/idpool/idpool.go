// Package idpool generates statistically unique 64-bit identifiers for
// processes, threads and messages.
//
// Every caller draws from a per-drawer ChaCha20 state checked out of a
// lock-free pool. When the pool is empty a fresh state is derived from a
// shared master generator via HKDF-SHA256, so no two drawers ever start
// from the same seed even under concurrent access. IDs 0 and 1 are
// reserved sentinels (see the ipc package) and are never returned; a draw
// that lands on either is retried.
package idpool

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// ReservedNone and ReservedAny are the sentinel IDs the pool never assigns.
// The scheduler and IPC core reserve them for "no message" / "no answer
// expected" and "match any message", respectively.
const (
	ReservedNone uint64 = 0
	ReservedAny  uint64 = 1
)

// drawer is a single checked-out source of randomness. It wraps a ChaCha20
// stream keyed from the master generator; drawing an ID just reads the next
// 8 bytes of keystream.
type drawer struct {
	stream *chacha20.Cipher
}

func (d *drawer) next() uint64 {
	var zero [8]byte
	var out [8]byte
	d.stream.XORKeyStream(out[:], zero[:])
	return binary.LittleEndian.Uint64(out[:])
}

// Pool is a lock-free-checkout pool of random 64-bit ID generators.
//
// Draw is safe for concurrent use by multiple goroutines. There is no
// persistence and no monotonicity guarantee across process restarts or even
// across successive calls: uniqueness is purely statistical, matching the
// "negligible collision probability over the lifetime of the system"
// requirement.
type Pool struct {
	free chan *drawer

	masterMu  sync.Mutex
	masterKey []byte // HKDF pseudorandom key, extracted once at construction
	drawSeq   atomic.Uint64
}

// New creates a pool seeded from a cryptographically secure entropy source.
func New() *Pool {
	entropy := make([]byte, 32)
	if _, err := rand.Read(entropy); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is
		// unavailable, which is unrecoverable for a kernel process.
		panic(fmt.Sprintf("idpool: reading entropy: %v", err))
	}
	return newFromSeed(entropy)
}

// newFromSeed builds a pool from an explicit 32-byte master seed. Exposed to
// tests so ID sequences can be reproduced; production callers should use New.
func newFromSeed(seed []byte) *Pool {
	prk := hkdf.Extract(sha256.New, seed, nil)
	return &Pool{
		free:      make(chan *drawer, 64),
		masterKey: prk,
	}
}

// newDrawer derives a fresh ChaCha20 stream from the master key. Each
// drawer gets a distinct HKDF "info" label (its sequence number) so no two
// concurrently-derived drawers share keystream, even though they share the
// same pseudorandom key.
func (p *Pool) newDrawer() *drawer {
	p.masterMu.Lock()
	seq := p.drawSeq.Add(1)
	info := []byte("wasmkernel/idpool/drawer")
	info = binary.LittleEndian.AppendUint64(info, seq)
	reader := hkdf.Expand(sha256.New, p.masterKey, info)
	p.masterMu.Unlock()

	var key [32]byte
	var nonce [12]byte
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		panic(fmt.Sprintf("idpool: deriving drawer key: %v", err))
	}
	if _, err := io.ReadFull(reader, nonce[:]); err != nil {
		panic(fmt.Sprintf("idpool: deriving drawer nonce: %v", err))
	}

	stream, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		panic(fmt.Sprintf("idpool: constructing cipher: %v", err))
	}
	return &drawer{stream: stream}
}

// checkout pops a free drawer or derives a new one if the pool is empty.
func (p *Pool) checkout() *drawer {
	select {
	case d := <-p.free:
		return d
	default:
		return p.newDrawer()
	}
}

// release returns a drawer to the pool for reuse. If the pool's buffer is
// full the drawer is simply discarded; a fresh one will be derived next time.
func (p *Pool) release(d *drawer) {
	select {
	case p.free <- d:
	default:
	}
}

// Draw returns a new random 64-bit identifier, never 0 or 1.
func (p *Pool) Draw() uint64 {
	d := p.checkout()
	defer p.release(d)

	for {
		id := d.next()
		if id != ReservedNone && id != ReservedAny {
			return id
		}
	}
}

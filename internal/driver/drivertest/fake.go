// Package drivertest provides a scripted in-memory binder driver.
package drivertest

import (
	"errors"
	"slices"
	"sync"

	"github.com/danmuck/binderctl/internal/driver"
	"github.com/danmuck/binderctl/internal/protocol/abi"
	"golang.org/x/sys/unix"
)

// ErrNoInput is returned when a read is requested and nothing is queued.
// A real driver would block; the fake fails the exchange instead.
var ErrNoInput = errors.New("drivertest: no scripted input")

const addrBase uint64 = 0x7000_0000_0000

// Sent is a transaction or reply written by the engine, copied out of the
// pinned buffers at exchange time.
type Sent struct {
	Code    uint32
	Tx      abi.TransactionData
	Data    []byte
	Offsets []uint64
}

// Fake implements driver.Driver. Responder, when set, runs after every
// exchange's writes are processed and may queue the driver's answer.
type Fake struct {
	Responder func(f *Fake, written []abi.Command)

	mu        sync.Mutex
	nextAddr  uint64
	mem       map[uint64][]byte
	reads     [][]byte
	written   []abi.Command
	sent      []Sent
	freed     map[uint64]int
	exchanges int
	eintr     int
	consume   int
}

var _ driver.Driver = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		nextAddr: addrBase,
		mem:      make(map[uint64][]byte),
		freed:    make(map[uint64]int),
		consume:  -1,
	}
}

func (f *Fake) FD() int { return 3 }

// Queue appends a return stream to be delivered by later reads.
func (f *Fake) Queue(stream []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueLocked(stream)
}

func (f *Fake) queueLocked(stream []byte) {
	if len(stream) > 0 {
		f.reads = append(f.reads, slices.Clone(stream))
	}
}

// InjectEINTR makes the next n exchanges fail with EINTR before touching
// any buffer.
func (f *Fake) InjectEINTR(n int) {
	f.mu.Lock()
	f.eintr = n
	f.mu.Unlock()
}

// ConsumeOnly makes the next exchange report n bytes of the write buffer as
// consumed without processing any of it.
func (f *Fake) ConsumeOnly(n int) {
	f.mu.Lock()
	f.consume = n
	f.mu.Unlock()
}

func (f *Fake) WriteRead(write, read []byte) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges++

	if f.eintr > 0 {
		f.eintr--
		return 0, 0, unix.EINTR
	}
	if f.consume >= 0 {
		n := min(f.consume, len(write))
		f.consume = -1
		return n, 0, nil
	}

	var batch []abi.Command
	if len(write) > 0 {
		err := abi.Walk(write, func(c abi.Command) error {
			c.Payload = slices.Clone(c.Payload)
			batch = append(batch, c)
			return f.apply(c)
		})
		if err != nil {
			return 0, 0, err
		}
		f.written = append(f.written, batch...)
	}
	if f.Responder != nil && len(batch) > 0 {
		responder := f.Responder
		f.mu.Unlock()
		responder(f, batch)
		f.mu.Lock()
	}

	if len(read) == 0 {
		return len(write), 0, nil
	}
	if len(f.reads) == 0 {
		return len(write), 0, ErrNoInput
	}
	n := copy(read, f.reads[0])
	if n == len(f.reads[0]) {
		f.reads = f.reads[1:]
	} else {
		f.reads[0] = f.reads[0][n:]
	}
	return len(write), n, nil
}

func (f *Fake) apply(c abi.Command) error {
	switch c.Code {
	case abi.BCTransaction, abi.BCReply:
		var tx abi.TransactionData
		if _, err := tx.UnmarshalBytes(c.Payload); err != nil {
			return err
		}
		s := Sent{Code: c.Code, Tx: tx}
		if data, err := f.resolveLocked(tx.Buffer, tx.DataSize); err == nil {
			s.Data = slices.Clone(data)
		}
		if raw, err := f.resolveLocked(tx.Offsets, tx.OffsetsSize); err == nil {
			s.Offsets, _ = abi.DecodeOffsets(raw)
		}
		f.sent = append(f.sent, s)
	case abi.BCFreeBuffer:
		addr := order.Uint64(c.Payload)
		f.freed[addr]++
	}
	return nil
}

// Pin registers buf at a synthetic address. The fake aliases buf rather
// than copying it, like the kernel reading user memory.
func (f *Fake) Pin(buf []byte) (uint64, func()) {
	if len(buf) == 0 {
		return 0, func() {}
	}
	f.mu.Lock()
	addr := f.allocLocked(buf)
	f.mu.Unlock()
	return addr, func() {
		f.mu.Lock()
		delete(f.mem, addr)
		f.mu.Unlock()
	}
}

// Alloc copies data into fake driver memory and returns its address.
func (f *Fake) Alloc(data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allocLocked(slices.Clone(data))
}

func (f *Fake) allocLocked(buf []byte) uint64 {
	addr := f.nextAddr
	f.mem[addr] = buf
	// keep allocations apart so Region never spans two of them
	f.nextAddr += (uint64(len(buf)) + 0xfff) &^ 0xfff
	f.nextAddr += 0x1000
	return addr
}

func (f *Fake) Region(addr uint64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regionLocked(addr)
}

func (f *Fake) regionLocked(addr uint64) ([]byte, error) {
	for base, buf := range f.mem {
		if addr >= base && addr < base+uint64(len(buf)) {
			return buf[addr-base:], nil
		}
	}
	return nil, driver.ErrNotMapped
}

func (f *Fake) resolveLocked(addr, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	mem, err := f.regionLocked(addr)
	if err != nil {
		return nil, err
	}
	if uint64(len(mem)) < size {
		return nil, driver.ErrNotMapped
	}
	return mem[:size], nil
}

// Written returns every command the engine has written so far.
func (f *Fake) Written() []abi.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.written)
}

// WrittenCodes returns the opcodes of Written.
func (f *Fake) WrittenCodes() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint32, len(f.written))
	for i, c := range f.written {
		out[i] = c.Code
	}
	return out
}

// Sent returns the transactions and replies written so far.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

// Freed reports how many times addr was passed to BC_FREE_BUFFER.
func (f *Fake) Freed(addr uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.freed[addr]
}

// FreeCount is the total number of BC_FREE_BUFFER commands.
func (f *Fake) FreeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.freed {
		n += c
	}
	return n
}

// Exchanges is the number of WriteRead calls, including interrupted ones.
func (f *Fake) Exchanges() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchanges
}

// Pending is the number of queued return chunks not yet read.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reads)
}

package drivertest

import (
	"slices"
	"sync"

	"github.com/danmuck/binderctl/internal/protocol/abi"
)

// Sender identity the bridge stamps on forwarded transactions.
const (
	BridgePID int32  = 4242
	BridgeUID uint32 = 1000
)

// HandleBase offsets handles minted for local objects crossing the bridge.
const HandleBase = 100

// Bridge connects a client fake to a server fake the way the driver joins
// two processes. Client transactions are delivered to the server as
// BR_TRANSACTION, Serve runs the server thread until it has answered, and
// the server's BC_REPLY comes back to the client as BR_REPLY.
//
// Local objects in either direction are rewritten to handles numbered
// HandleBase+id. Handles pass through unchanged, and a client handle
// routes to the server object Route returns.
//
// The bridge keeps the driver's reference counts for client handles. A
// handle delivered in a reply is held by that reply's buffer until the
// client frees it; after that only the client's own BC_INCREFS and
// BC_ACQUIRE keep it valid. A transaction to a handle with no references
// fails with BR_FAILED_REPLY. The owning server hears BR_INCREFS and
// BR_ACQUIRE when one of its objects gains its first client reference and
// BR_RELEASE and BR_DECREFS when it loses the last, ahead of the next
// forwarded transaction.
type Bridge struct {
	Client *Fake
	Server *Fake
	Serve  func() error
	// Route maps a client handle to the server's target and cookie. Nil
	// sends handle 0 to the context manager and HandleBase+id to local
	// object id.
	Route func(handle uint32) (target, cookie uint64)

	mu    sync.Mutex
	refs  map[uint32]*handleRefs
	held  map[uint64][]uint32
	notes []ownerNote
}

type handleRefs struct {
	strong, weak int
	// buffers counts unfreed reply buffers carrying the handle; granted
	// counts references the client was given outside any reply.
	buffers, granted int
}

func (r *handleRefs) total() int { return r.strong + r.weak + r.buffers + r.granted }

type ownerNote struct {
	code uint32
	id   uint64
}

func (b *Bridge) Install() {
	b.mu.Lock()
	if b.refs == nil {
		b.refs = make(map[uint32]*handleRefs)
	}
	if b.held == nil {
		b.held = make(map[uint64][]uint32)
	}
	b.mu.Unlock()

	b.Server.Responder = func(f *Fake, written []abi.Command) {
		for _, c := range written {
			if c.Code == abi.BCReply {
				f.Stream().Cmd(abi.BRTransactionComplete).Queue()
			}
		}
	}

	clientServed := 0
	b.Client.Responder = func(f *Fake, written []abi.Command) {
		sent := f.Sent()
		for _, c := range written {
			switch c.Code {
			case abi.BCIncRefs, abi.BCAcquire, abi.BCRelease, abi.BCDecRefs:
				b.adjust(c.Code, order.Uint32(c.Payload))
			case abi.BCFreeBuffer:
				b.freeBuffer(order.Uint64(c.Payload))
			case abi.BCTransaction:
				for clientServed < len(sent) && sent[clientServed].Code != abi.BCTransaction {
					clientServed++
				}
				if clientServed < len(sent) {
					b.forward(sent[clientServed])
					clientServed++
				}
			}
		}
	}
}

// Grant gives the client a reference to handle that no reply carried, as
// if it had been handed over before the bridge started counting.
func (b *Bridge) Grant(handle uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refLocked(handle).granted++
}

// Refs reports the client's own strong and weak references on handle.
func (b *Bridge) Refs(handle uint32) (strong, weak int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.refs[handle]
	if !ok {
		return 0, 0
	}
	return r.strong, r.weak
}

// Valid reports whether the driver would still resolve handle for the
// client.
func (b *Bridge) Valid(handle uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.validLocked(handle)
}

// DeliverRefs queues the pending owner notifications to the server on
// their own, for a test that wants them without another transaction.
func (b *Bridge) DeliverRefs() {
	s := b.Server.Stream()
	b.appendNotes(s)
	s.Queue()
}

func (b *Bridge) validLocked(handle uint32) bool {
	if handle == 0 {
		return true
	}
	r, ok := b.refs[handle]
	return ok && r.total() > 0
}

// refLocked returns the counts for handle, telling the owner when the
// handle comes into use.
func (b *Bridge) refLocked(handle uint32) *handleRefs {
	r, ok := b.refs[handle]
	if !ok {
		r = &handleRefs{}
		b.refs[handle] = r
	}
	if r.total() == 0 {
		b.noteLocked(handle, abi.BRIncRefs, abi.BRAcquire)
	}
	return r
}

// settleLocked drops handle once nothing references it.
func (b *Bridge) settleLocked(handle uint32) {
	r, ok := b.refs[handle]
	if !ok || r.total() > 0 {
		return
	}
	delete(b.refs, handle)
	b.noteLocked(handle, abi.BRRelease, abi.BRDecRefs)
}

func (b *Bridge) noteLocked(handle uint32, codes ...uint32) {
	_, cookie := b.route(handle)
	if handle == 0 || cookie == 0 {
		return
	}
	for _, code := range codes {
		b.notes = append(b.notes, ownerNote{code: code, id: cookie})
	}
}

func (b *Bridge) appendNotes(s *Stream) {
	b.mu.Lock()
	notes := b.notes
	b.notes = nil
	b.mu.Unlock()
	for _, n := range notes {
		s.PtrCookie(n.code, n.id, n.id)
	}
}

// adjust applies a client reference command. Commands naming a handle the
// client holds no reference to are dropped, as the driver does.
func (b *Bridge) adjust(code, handle uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.validLocked(handle) {
		return
	}
	r := b.refLocked(handle)
	switch code {
	case abi.BCIncRefs:
		r.weak++
	case abi.BCAcquire:
		r.strong++
	case abi.BCRelease:
		if r.strong > 0 {
			r.strong--
		}
	case abi.BCDecRefs:
		if r.weak > 0 {
			r.weak--
		}
	}
	b.settleLocked(handle)
}

func (b *Bridge) freeBuffer(addr uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	handles, ok := b.held[addr]
	if !ok {
		return
	}
	delete(b.held, addr)
	for _, h := range handles {
		if r, ok := b.refs[h]; ok && r.buffers > 0 {
			r.buffers--
		}
		b.settleLocked(h)
	}
}

// hold records the handles a delivered reply buffer references.
func (b *Bridge) hold(addr uint64, data []byte, offsets []uint64) {
	handles := handlesIn(data, offsets)
	if len(handles) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range handles {
		b.refLocked(h).buffers++
	}
	b.held[addr] = handles
}

func (b *Bridge) route(handle uint32) (uint64, uint64) {
	if b.Route != nil {
		return b.Route(handle)
	}
	return defaultRoute(handle)
}

func (b *Bridge) forward(s Sent) {
	handle := s.Tx.Handle()
	if !b.Valid(handle) {
		b.Client.Stream().Cmd(abi.BRFailedReply).Queue()
		return
	}
	target, cookie := b.route(handle)
	before := len(b.Server.Sent())
	in := b.Server.Stream()
	b.appendNotes(in)
	in.Transaction(Txn{
		Target:  target,
		Cookie:  cookie,
		Code:    s.Tx.Code,
		Flags:   s.Tx.Flags,
		PID:     BridgePID,
		UID:     BridgeUID,
		Data:    translate(s.Data, s.Offsets),
		Offsets: s.Offsets,
	}).Queue()

	out := b.Client.Stream().Cmd(abi.BRTransactionComplete)
	if err := b.Serve(); err != nil {
		if s.Tx.Flags&abi.TFOneWay == 0 {
			out.Cmd(abi.BRDeadReply)
		}
		out.Queue()
		return
	}
	if s.Tx.Flags&abi.TFOneWay != 0 {
		out.Queue()
		return
	}
	for _, r := range b.Server.Sent()[before:] {
		if r.Code != abi.BCReply {
			continue
		}
		data := translate(r.Data, r.Offsets)
		out.Reply(Txn{
			Flags:   r.Tx.Flags & abi.TFStatusCode,
			Data:    data,
			Offsets: r.Offsets,
		})
		b.hold(out.Buffers[len(out.Buffers)-1], data, r.Offsets)
		break
	}
	out.Queue()
}

// translate rewrites local object records into handles, as the driver does
// when a reference leaves its owning process.
func translate(data []byte, offsets []uint64) []byte {
	if len(offsets) == 0 {
		return data
	}
	out := slices.Clone(data)
	for _, off := range offsets {
		obj, ok := objectAt(out, off)
		if !ok || obj.Type != abi.TypeBinder || obj.IsNull() {
			continue
		}
		obj.Type = abi.TypeHandle
		obj.Binder = HandleBase + obj.Cookie
		obj.Cookie = 0
		obj.MarshalBytes(out[off:])
	}
	return out
}

func handlesIn(data []byte, offsets []uint64) []uint32 {
	var out []uint32
	for _, off := range offsets {
		obj, ok := objectAt(data, off)
		if ok && obj.Type == abi.TypeHandle && !obj.IsNull() {
			out = append(out, obj.Handle())
		}
	}
	return out
}

func objectAt(data []byte, off uint64) (abi.FlatBinderObject, bool) {
	var obj abi.FlatBinderObject
	if off+abi.SizeofFlatBinderObject > uint64(len(data)) {
		return obj, false
	}
	if _, err := obj.UnmarshalBytes(data[off:]); err != nil {
		return obj, false
	}
	return obj, true
}

func defaultRoute(handle uint32) (uint64, uint64) {
	if handle < HandleBase {
		return 0, 0
	}
	id := uint64(handle - HandleBase)
	return id, id
}

package drivertest

import (
	"encoding/binary"

	"github.com/danmuck/binderctl/internal/protocol/abi"
)

var order = binary.NativeEndian

// Txn describes an inbound transaction or reply. Data and Offsets are
// copied into fake driver memory when the stream is built.
type Txn struct {
	Target  uint64
	Cookie  uint64
	Code    uint32
	Flags   uint32
	PID     int32
	UID     uint32
	Data    []byte
	Offsets []uint64
	SecCtx  string
}

// Stream builds a BR_ return stream against a Fake.
type Stream struct {
	f   *Fake
	buf []byte

	// Buffers lists the data addresses of every transaction and reply in
	// the stream, in order.
	Buffers []uint64
}

func (f *Fake) Stream() *Stream { return &Stream{f: f} }

func (s *Stream) Cmd(code uint32) *Stream {
	s.buf = abi.AppendCommand(s.buf, code, nil)
	return s
}

func (s *Stream) Int32(code uint32, v int32) *Stream {
	s.buf = abi.AppendCommand(s.buf, code, order.AppendUint32(nil, uint32(v)))
	return s
}

func (s *Stream) Uint64(code uint32, v uint64) *Stream {
	s.buf = abi.AppendCommand(s.buf, code, order.AppendUint64(nil, v))
	return s
}

func (s *Stream) PtrCookie(code uint32, ptr, cookie uint64) *Stream {
	rec := abi.PtrCookie{Ptr: ptr, Cookie: cookie}
	payload := make([]byte, abi.SizeofPtrCookie)
	rec.MarshalBytes(payload)
	s.buf = abi.AppendCommand(s.buf, code, payload)
	return s
}

func (s *Stream) PriPtrCookie(code uint32, priority int32, ptr, cookie uint64) *Stream {
	rec := abi.PriPtrCookie{Priority: priority, Ptr: ptr, Cookie: cookie}
	payload := make([]byte, abi.SizeofPriPtrCookie)
	rec.MarshalBytes(payload)
	s.buf = abi.AppendCommand(s.buf, code, payload)
	return s
}

// Transaction appends BR_TRANSACTION, or BR_TRANSACTION_SEC_CTX when the
// Txn carries a security context.
func (s *Stream) Transaction(t Txn) *Stream {
	tx := s.record(t)
	if t.SecCtx == "" {
		s.buf = abi.AppendCommand(s.buf, abi.BRTransaction, tx.Bytes())
		return s
	}
	sec := abi.TransactionDataSecctx{TransactionData: tx}
	sec.Secctx = s.f.Alloc(append([]byte(t.SecCtx), 0))
	payload := make([]byte, abi.SizeofTransactionDataSecctx)
	sec.MarshalBytes(payload)
	s.buf = abi.AppendCommand(s.buf, abi.BRTransactionSecCtx, payload)
	return s
}

// Reply appends BR_REPLY.
func (s *Stream) Reply(t Txn) *Stream {
	tx := s.record(t)
	s.buf = abi.AppendCommand(s.buf, abi.BRReply, tx.Bytes())
	return s
}

// StatusReply appends a BR_REPLY carrying only a TF_STATUS_CODE status.
func (s *Stream) StatusReply(status int32) *Stream {
	return s.Reply(Txn{Flags: abi.TFStatusCode, Data: order.AppendUint32(nil, uint32(status))})
}

func (s *Stream) record(t Txn) abi.TransactionData {
	tx := abi.TransactionData{
		Target:     t.Target,
		Cookie:     t.Cookie,
		Code:       t.Code,
		Flags:      t.Flags,
		SenderPID:  t.PID,
		SenderEUID: t.UID,
		DataSize:   uint64(len(t.Data)),
	}
	// every transaction gets a distinct buffer address even when empty
	data := t.Data
	if len(data) == 0 {
		data = make([]byte, 1)
	}
	tx.Buffer = s.f.Alloc(data)
	if len(t.Offsets) > 0 {
		tx.Offsets = s.f.Alloc(abi.EncodeOffsets(t.Offsets))
		tx.OffsetsSize = uint64(len(t.Offsets) * 8)
	}
	s.Buffers = append(s.Buffers, tx.Buffer)
	return tx
}

func (s *Stream) Bytes() []byte { return s.buf }

// Queue hands the stream to the fake as one read chunk.
func (s *Stream) Queue() *Stream {
	s.f.Queue(s.buf)
	return s
}

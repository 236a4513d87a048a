package abi

import (
	"encoding/binary"
	"errors"
)

var ErrShortRecord = errors.New("abi: short record")

var order = binary.NativeEndian

// Object types carried in FlatBinderObject.Type.
const (
	TypeBinder     uint32 = 's'<<24 | 'b'<<16 | '*'<<8 | 0x85
	TypeWeakBinder uint32 = 'w'<<24 | 'b'<<16 | '*'<<8 | 0x85
	TypeHandle     uint32 = 's'<<24 | 'h'<<16 | '*'<<8 | 0x85
	TypeWeakHandle uint32 = 'w'<<24 | 'h'<<16 | '*'<<8 | 0x85
	TypeFD         uint32 = 'f'<<24 | 'd'<<16 | '*'<<8 | 0x85
)

// FlatBinderObject flags.
const (
	FlatFlagPriorityMask   uint32 = 0xff
	FlatFlagAcceptsFDs     uint32 = 0x100
	FlatFlagTxnSecurityCtx uint32 = 0x1000
)

// WriteReadRecord is struct binder_write_read.
type WriteReadRecord struct {
	WriteSize     uint64
	WriteConsumed uint64
	WriteBuffer   uint64
	ReadSize      uint64
	ReadConsumed  uint64
	ReadBuffer    uint64
}

// TransactionData is struct binder_transaction_data. Target holds either a
// handle in its low 32 bits or a local object pointer.
type TransactionData struct {
	Target      uint64
	Cookie      uint64
	Code        uint32
	Flags       uint32
	SenderPID   int32
	SenderEUID  uint32
	DataSize    uint64
	OffsetsSize uint64
	Buffer      uint64
	Offsets     uint64
}

// Handle returns the target interpreted as a driver handle.
func (t *TransactionData) Handle() uint32 { return uint32(t.Target) }

// SetHandle stores a handle target, clearing the upper pointer bits.
func (t *TransactionData) SetHandle(h uint32) { t.Target = uint64(h) }

func (t *TransactionData) MarshalBytes(dst []byte) []byte {
	order.PutUint64(dst[0:8], t.Target)
	order.PutUint64(dst[8:16], t.Cookie)
	order.PutUint32(dst[16:20], t.Code)
	order.PutUint32(dst[20:24], t.Flags)
	order.PutUint32(dst[24:28], uint32(t.SenderPID))
	order.PutUint32(dst[28:32], t.SenderEUID)
	order.PutUint64(dst[32:40], t.DataSize)
	order.PutUint64(dst[40:48], t.OffsetsSize)
	order.PutUint64(dst[48:56], t.Buffer)
	order.PutUint64(dst[56:64], t.Offsets)
	return dst[SizeofTransactionData:]
}

func (t *TransactionData) UnmarshalBytes(src []byte) ([]byte, error) {
	if len(src) < SizeofTransactionData {
		return src, ErrShortRecord
	}
	t.Target = order.Uint64(src[0:8])
	t.Cookie = order.Uint64(src[8:16])
	t.Code = order.Uint32(src[16:20])
	t.Flags = order.Uint32(src[20:24])
	t.SenderPID = int32(order.Uint32(src[24:28]))
	t.SenderEUID = order.Uint32(src[28:32])
	t.DataSize = order.Uint64(src[32:40])
	t.OffsetsSize = order.Uint64(src[40:48])
	t.Buffer = order.Uint64(src[48:56])
	t.Offsets = order.Uint64(src[56:64])
	return src[SizeofTransactionData:], nil
}

// Bytes encodes t into a fresh buffer.
func (t *TransactionData) Bytes() []byte {
	buf := make([]byte, SizeofTransactionData)
	t.MarshalBytes(buf)
	return buf
}

// TransactionDataSecctx is struct binder_transaction_data_secctx.
type TransactionDataSecctx struct {
	TransactionData
	Secctx uint64
}

func (t *TransactionDataSecctx) MarshalBytes(dst []byte) []byte {
	rest := t.TransactionData.MarshalBytes(dst)
	order.PutUint64(rest[0:8], t.Secctx)
	return rest[8:]
}

func (t *TransactionDataSecctx) UnmarshalBytes(src []byte) ([]byte, error) {
	if len(src) < SizeofTransactionDataSecctx {
		return src, ErrShortRecord
	}
	rest, _ := t.TransactionData.UnmarshalBytes(src)
	t.Secctx = order.Uint64(rest[0:8])
	return rest[8:], nil
}

// FlatBinderObject is struct flat_binder_object. Binder doubles as the
// handle field for handle-typed objects.
type FlatBinderObject struct {
	Type   uint32
	Flags  uint32
	Binder uint64
	Cookie uint64
}

// Handle returns the object interpreted as a driver handle.
func (f *FlatBinderObject) Handle() uint32 { return uint32(f.Binder) }

// IsNull reports whether the record carries no object at all.
func (f *FlatBinderObject) IsNull() bool { return f.Binder == 0 && f.Cookie == 0 }

func (f *FlatBinderObject) MarshalBytes(dst []byte) []byte {
	order.PutUint32(dst[0:4], f.Type)
	order.PutUint32(dst[4:8], f.Flags)
	order.PutUint64(dst[8:16], f.Binder)
	order.PutUint64(dst[16:24], f.Cookie)
	return dst[SizeofFlatBinderObject:]
}

func (f *FlatBinderObject) UnmarshalBytes(src []byte) ([]byte, error) {
	if len(src) < SizeofFlatBinderObject {
		return src, ErrShortRecord
	}
	f.Type = order.Uint32(src[0:4])
	f.Flags = order.Uint32(src[4:8])
	f.Binder = order.Uint64(src[8:16])
	f.Cookie = order.Uint64(src[16:24])
	return src[SizeofFlatBinderObject:], nil
}

// PtrCookie is struct binder_ptr_cookie.
type PtrCookie struct {
	Ptr    uint64
	Cookie uint64
}

func (p *PtrCookie) MarshalBytes(dst []byte) []byte {
	order.PutUint64(dst[0:8], p.Ptr)
	order.PutUint64(dst[8:16], p.Cookie)
	return dst[SizeofPtrCookie:]
}

func (p *PtrCookie) UnmarshalBytes(src []byte) ([]byte, error) {
	if len(src) < SizeofPtrCookie {
		return src, ErrShortRecord
	}
	p.Ptr = order.Uint64(src[0:8])
	p.Cookie = order.Uint64(src[8:16])
	return src[SizeofPtrCookie:], nil
}

// PriPtrCookie is struct binder_pri_ptr_cookie. Four bytes of padding follow
// Priority.
type PriPtrCookie struct {
	Priority int32
	Ptr      uint64
	Cookie   uint64
}

func (p *PriPtrCookie) MarshalBytes(dst []byte) []byte {
	order.PutUint32(dst[0:4], uint32(p.Priority))
	clear(dst[4:8])
	order.PutUint64(dst[8:16], p.Ptr)
	order.PutUint64(dst[16:24], p.Cookie)
	return dst[SizeofPriPtrCookie:]
}

func (p *PriPtrCookie) UnmarshalBytes(src []byte) ([]byte, error) {
	if len(src) < SizeofPriPtrCookie {
		return src, ErrShortRecord
	}
	p.Priority = int32(order.Uint32(src[0:4]))
	p.Ptr = order.Uint64(src[8:16])
	p.Cookie = order.Uint64(src[16:24])
	return src[SizeofPriPtrCookie:], nil
}

// HandleCookie is the packed struct binder_handle_cookie.
type HandleCookie struct {
	Handle uint32
	Cookie uint64
}

func (h *HandleCookie) MarshalBytes(dst []byte) []byte {
	order.PutUint32(dst[0:4], h.Handle)
	order.PutUint64(dst[4:12], h.Cookie)
	return dst[SizeofHandleCookie:]
}

func (h *HandleCookie) UnmarshalBytes(src []byte) ([]byte, error) {
	if len(src) < SizeofHandleCookie {
		return src, ErrShortRecord
	}
	h.Handle = order.Uint32(src[0:4])
	h.Cookie = order.Uint64(src[4:12])
	return src[SizeofHandleCookie:], nil
}

// EncodeOffsets packs an object offset list the way the driver reads it.
func EncodeOffsets(offsets []uint64) []byte {
	buf := make([]byte, len(offsets)*sizeofPtr)
	for i, off := range offsets {
		order.PutUint64(buf[i*sizeofPtr:], off)
	}
	return buf
}

// DecodeOffsets is the inverse of EncodeOffsets.
func DecodeOffsets(buf []byte) ([]uint64, error) {
	if len(buf)%sizeofPtr != 0 {
		return nil, ErrShortRecord
	}
	out := make([]uint64, len(buf)/sizeofPtr)
	for i := range out {
		out[i] = order.Uint64(buf[i*sizeofPtr:])
	}
	return out, nil
}

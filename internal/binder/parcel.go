package binder

import (
	"encoding/binary"
	"math"
	"slices"

	"github.com/danmuck/binderctl/internal/protocol/abi"
)

var order = binary.NativeEndian

func pad4(n int) int { return (n + 3) &^ 3 }

// Parcel is a transaction payload: a byte buffer with a data position and
// the offsets of every object record written into it.
//
// A Parcel either owns its bytes or borrows driver memory. Borrowed parcels
// must be released with Recycle or copied out with Detach.
type Parcel struct {
	data     []byte
	pos      int
	objects  []uint64
	resolver ObjectResolver
	release  func()
}

func NewParcel() *Parcel {
	return &Parcel{}
}

// NewParcelWithResolver returns a Parcel whose object reads resolve through r.
func NewParcelWithResolver(r ObjectResolver) *Parcel {
	return &Parcel{resolver: r}
}

// ParcelFromBytes wraps data without copying. The parcel carries no object
// offsets.
func ParcelFromBytes(data []byte) *Parcel {
	return &Parcel{data: data}
}

// BorrowParcel wraps driver-owned memory. release runs exactly once, on the
// first Recycle or Detach.
func BorrowParcel(data []byte, objects []uint64, r ObjectResolver, release func()) *Parcel {
	return &Parcel{data: data, objects: objects, resolver: r, release: release}
}

func (p *Parcel) SetResolver(r ObjectResolver) { p.resolver = r }
func (p *Parcel) Resolver() ObjectResolver     { return p.resolver }

// IsBorrowed reports whether the parcel still references driver memory.
func (p *Parcel) IsBorrowed() bool { return p.release != nil }

// Recycle drops the contents and returns borrowed memory to the driver.
func (p *Parcel) Recycle() {
	release := p.release
	p.release = nil
	p.data = nil
	p.objects = nil
	p.pos = 0
	if release != nil {
		release()
	}
}

// Detach copies borrowed contents into Go memory and releases the driver
// buffer. Owned parcels are returned unchanged.
func (p *Parcel) Detach() *Parcel {
	if p.release == nil {
		return p
	}
	p.data = slices.Clone(p.data)
	p.objects = slices.Clone(p.objects)
	release := p.release
	p.release = nil
	release()
	return p
}

// Reset empties the parcel for reuse. Borrowed memory is released.
func (p *Parcel) Reset() {
	if p.release != nil {
		p.Recycle()
		return
	}
	p.data = p.data[:0]
	p.objects = p.objects[:0]
	p.pos = 0
}

func (p *Parcel) Bytes() []byte     { return p.data }
func (p *Parcel) Objects() []uint64 { return p.objects }
func (p *Parcel) DataSize() int     { return len(p.data) }
func (p *Parcel) DataPosition() int { return p.pos }
func (p *Parcel) Capacity() int     { return cap(p.data) }

// DataAvail is the number of unread bytes after the data position.
func (p *Parcel) DataAvail() int { return len(p.data) - p.pos }

// SetDataPosition moves the cursor. Positions past the data size are
// rejected so later reads and writes stay in bounds.
func (p *Parcel) SetDataPosition(pos int) error {
	if pos < 0 || pos > len(p.data) {
		return BadValue
	}
	p.pos = pos
	return nil
}

// SetDataSize truncates or zero-extends the data. The cursor is clamped.
func (p *Parcel) SetDataSize(n int) error {
	if n < 0 {
		return BadValue
	}
	if n <= len(p.data) {
		p.data = p.data[:n]
		kept := p.objects[:0]
		for _, off := range p.objects {
			if int(off)+abi.SizeofFlatBinderObject <= n {
				kept = append(kept, off)
			}
		}
		p.objects = kept
	} else {
		p.data = append(p.data, make([]byte, n-len(p.data))...)
	}
	p.pos = min(p.pos, n)
	return nil
}

// slot reserves n bytes at the aligned data position, zero-filling any gap
// and trailing padding, and advances the cursor by the padded size.
func (p *Parcel) slot(n int) []byte {
	start := pad4(p.pos)
	end := start + pad4(n)
	if end > len(p.data) {
		if end > cap(p.data) {
			grown := make([]byte, len(p.data), max(end, 2*cap(p.data)))
			copy(grown, p.data)
			p.data = grown
		}
		p.data = p.data[:end]
	}
	clear(p.data[p.pos:start])
	clear(p.data[start+n : end])
	p.pos = end
	return p.data[start : start+n]
}

// take returns n bytes at the data position and advances by the padded size.
func (p *Parcel) take(n int) ([]byte, error) {
	if n < 0 {
		return nil, BadValue
	}
	padded := pad4(n)
	if padded < n || p.pos+padded > len(p.data) {
		return nil, NotEnoughData
	}
	out := p.data[p.pos : p.pos+n]
	p.pos += padded
	return out, nil
}

// Write appends raw bytes at the data position with no alignment.
func (p *Parcel) Write(b []byte) error {
	end := p.pos + len(b)
	if end > len(p.data) {
		if end > cap(p.data) {
			grown := make([]byte, len(p.data), max(end, 2*cap(p.data)))
			copy(grown, p.data)
			p.data = grown
		}
		p.data = p.data[:end]
	}
	copy(p.data[p.pos:end], b)
	p.pos = end
	return nil
}

// WriteAlignedData appends b and zero-pads to the next 4-byte boundary.
func (p *Parcel) WriteAlignedData(b []byte) error {
	copy(p.slot(len(b)), b)
	return nil
}

// ReadAlignedData returns a view of the next n bytes and skips their padding.
func (p *Parcel) ReadAlignedData(n int) ([]byte, error) {
	return p.take(n)
}

func (p *Parcel) WriteInt32(v int32) error {
	order.PutUint32(p.slot(4), uint32(v))
	return nil
}

func (p *Parcel) WriteUint32(v uint32) error {
	order.PutUint32(p.slot(4), v)
	return nil
}

func (p *Parcel) WriteInt64(v int64) error {
	order.PutUint64(p.slot(8), uint64(v))
	return nil
}

func (p *Parcel) WriteUint64(v uint64) error {
	order.PutUint64(p.slot(8), v)
	return nil
}

func (p *Parcel) WriteFloat32(v float32) error {
	return p.WriteUint32(math.Float32bits(v))
}

func (p *Parcel) WriteFloat64(v float64) error {
	return p.WriteUint64(math.Float64bits(v))
}

func (p *Parcel) WriteBool(v bool) error {
	if v {
		return p.WriteInt32(1)
	}
	return p.WriteInt32(0)
}

func (p *Parcel) WriteInt8(v int8) error     { return p.WriteInt32(int32(v)) }
func (p *Parcel) WriteUint8(v uint8) error   { return p.WriteInt32(int32(v)) }
func (p *Parcel) WriteInt16(v int16) error   { return p.WriteInt32(int32(v)) }
func (p *Parcel) WriteUint16(v uint16) error { return p.WriteUint32(uint32(v)) }

func (p *Parcel) ReadInt32() (int32, error) {
	b, err := p.take(4)
	if err != nil {
		return 0, err
	}
	return int32(order.Uint32(b)), nil
}

func (p *Parcel) ReadUint32() (uint32, error) {
	b, err := p.take(4)
	if err != nil {
		return 0, err
	}
	return order.Uint32(b), nil
}

func (p *Parcel) ReadInt64() (int64, error) {
	b, err := p.take(8)
	if err != nil {
		return 0, err
	}
	return int64(order.Uint64(b)), nil
}

func (p *Parcel) ReadUint64() (uint64, error) {
	b, err := p.take(8)
	if err != nil {
		return 0, err
	}
	return order.Uint64(b), nil
}

func (p *Parcel) ReadFloat32() (float32, error) {
	v, err := p.ReadUint32()
	return math.Float32frombits(v), err
}

func (p *Parcel) ReadFloat64() (float64, error) {
	v, err := p.ReadUint64()
	return math.Float64frombits(v), err
}

func (p *Parcel) ReadBool() (bool, error) {
	v, err := p.ReadInt32()
	return v != 0, err
}

func (p *Parcel) ReadInt8() (int8, error) {
	v, err := p.ReadInt32()
	return int8(v), err
}

func (p *Parcel) ReadUint8() (uint8, error) {
	v, err := p.ReadInt32()
	return uint8(v), err
}

func (p *Parcel) ReadInt16() (int16, error) {
	v, err := p.ReadInt32()
	return int16(v), err
}

func (p *Parcel) ReadUint16() (uint16, error) {
	v, err := p.ReadUint32()
	return uint16(v), err
}

// WriteObject writes a flat object record and records its offset. Null
// records are not tracked, matching what the driver expects.
func (p *Parcel) WriteObject(obj abi.FlatBinderObject) error {
	b := p.slot(abi.SizeofFlatBinderObject)
	obj.MarshalBytes(b)
	if obj.Binder != 0 || obj.Cookie != 0 {
		off := uint64(p.pos - abi.SizeofFlatBinderObject)
		p.objects = append(p.objects, off)
	}
	return nil
}

// ReadObject reads a flat object record. A non-null record must sit at a
// recorded object offset.
func (p *Parcel) ReadObject() (abi.FlatBinderObject, error) {
	start := p.pos
	b, err := p.take(abi.SizeofFlatBinderObject)
	if err != nil {
		return abi.FlatBinderObject{}, err
	}
	var obj abi.FlatBinderObject
	if _, err := obj.UnmarshalBytes(b); err != nil {
		return abi.FlatBinderObject{}, NotEnoughData
	}
	if obj.IsNull() {
		return obj, nil
	}
	if !slices.Contains(p.objects, uint64(start)) {
		p.pos = start
		return abi.FlatBinderObject{}, BadValue
	}
	return obj, nil
}

// AppendFrom copies length bytes starting at start from src into p at the
// data position, along with any object records wholly inside the range.
func (p *Parcel) AppendFrom(src *Parcel, start, length int) error {
	if start < 0 || length < 0 {
		return BadValue
	}
	end := start + length
	if end < start || end > len(src.data) {
		return BadValue
	}
	base := p.pos
	if err := p.Write(src.data[start:end]); err != nil {
		return err
	}
	for _, off := range src.objects {
		o := int(off)
		if o >= start && o+abi.SizeofFlatBinderObject <= end {
			p.objects = append(p.objects, uint64(o-start+base))
		}
	}
	return nil
}

package binder

import "fmt"

// Parcelable is a structured value exchanged by generated stubs.
type Parcelable interface {
	Writable
	Readable
	Descriptor() string
}

// StabilityProvider is implemented by parcelables with a stability stronger
// than StabilityLocal.
type StabilityProvider interface {
	Stability() Stability
}

func stabilityOf(v any) Stability {
	if sp, ok := v.(StabilityProvider); ok {
		return sp.Stability()
	}
	return StabilityLocal
}

// WriteParcelable writes v behind an i32 total size, backpatched once the
// body is known, so older readers can skip fields they do not know.
func WriteParcelable(p *Parcel, v Writable) error {
	start := p.DataPosition()
	if err := p.WriteInt32(0); err != nil {
		return err
	}
	if err := v.WriteToParcel(p); err != nil {
		return err
	}
	end := p.DataPosition()
	if err := p.SetDataPosition(start); err != nil {
		return err
	}
	if err := p.WriteInt32(int32(end - start)); err != nil {
		return err
	}
	return p.SetDataPosition(end)
}

// ReadParcelable reads a size-prefixed body and leaves the cursor after it,
// skipping trailing fields the reader did not consume.
func ReadParcelable(p *Parcel, v Readable) error {
	start := p.DataPosition()
	size, err := p.ReadInt32()
	if err != nil {
		return err
	}
	if size < 4 || int(size) > p.DataSize()-start {
		p.pos = start
		return BadValue
	}
	end := start + int(size)
	body := &Parcel{
		data:     p.data[:end],
		pos:      p.pos,
		objects:  p.objects,
		resolver: p.resolver,
	}
	if err := v.ReadFromParcel(body); err != nil {
		return err
	}
	return p.SetDataPosition(end)
}

// WriteNullableParcelable uses the generic nullable marker around a
// size-prefixed body.
func WriteNullableParcelable(p *Parcel, v Writable) error {
	if v == nil {
		return p.WriteInt32(NullMarker)
	}
	if err := p.WriteInt32(NonNullMarker); err != nil {
		return err
	}
	return WriteParcelable(p, v)
}

// ReadNullableParcelable reports whether a value was present and read into v.
func ReadNullableParcelable(p *Parcel, v Readable) (bool, error) {
	present, err := p.readMarker()
	if err != nil || !present {
		return false, err
	}
	return true, ReadParcelable(p, v)
}

// UnionTagError reports a union tag the reader does not know.
type UnionTagError struct {
	Union string
	Tag   int32
}

func (e *UnionTagError) Error() string {
	return fmt.Sprintf("binder: union %s: unknown tag %d", e.Union, e.Tag)
}

func (e *UnionTagError) Is(target error) bool { return target == BadValue }

// Unions are an i32 tag followed by the active member.

func WriteUnionTag(p *Parcel, tag int32) error {
	return p.WriteInt32(tag)
}

func ReadUnionTag(p *Parcel) (int32, error) {
	return p.ReadInt32()
}

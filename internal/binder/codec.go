package binder

// Writable values encode themselves into a Parcel.
type Writable interface {
	WriteToParcel(p *Parcel) error
}

// Readable values decode themselves in place from a Parcel.
type Readable interface {
	ReadFromParcel(p *Parcel) error
}

// Scalar is the closed set of fixed-width values with a direct wire form.
type Scalar interface {
	int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 | float32 | float64 | bool
}

// Null markers of the generic nullable encoding.
const (
	NullMarker    int32 = 0
	NonNullMarker int32 = 1
)

func WriteScalar[T Scalar](p *Parcel, v T) error {
	switch x := any(v).(type) {
	case int8:
		return p.WriteInt8(x)
	case uint8:
		return p.WriteUint8(x)
	case int16:
		return p.WriteInt16(x)
	case uint16:
		return p.WriteUint16(x)
	case int32:
		return p.WriteInt32(x)
	case uint32:
		return p.WriteUint32(x)
	case int64:
		return p.WriteInt64(x)
	case uint64:
		return p.WriteUint64(x)
	case float32:
		return p.WriteFloat32(x)
	case float64:
		return p.WriteFloat64(x)
	case bool:
		return p.WriteBool(x)
	}
	return BadType
}

func ReadScalar[T Scalar](p *Parcel) (T, error) {
	var zero T
	var (
		v   any
		err error
	)
	switch any(zero).(type) {
	case int8:
		v, err = p.ReadInt8()
	case uint8:
		v, err = p.ReadUint8()
	case int16:
		v, err = p.ReadInt16()
	case uint16:
		v, err = p.ReadUint16()
	case int32:
		v, err = p.ReadInt32()
	case uint32:
		v, err = p.ReadUint32()
	case int64:
		v, err = p.ReadInt64()
	case uint64:
		v, err = p.ReadUint64()
	case float32:
		v, err = p.ReadFloat32()
	case float64:
		v, err = p.ReadFloat64()
	case bool:
		v, err = p.ReadBool()
	default:
		return zero, BadType
	}
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// Enums are written with their backing integer type.

func WriteEnum8[E ~int8](p *Parcel, e E) error   { return p.WriteInt8(int8(e)) }
func WriteEnum32[E ~int32](p *Parcel, e E) error { return p.WriteInt32(int32(e)) }
func WriteEnum64[E ~int64](p *Parcel, e E) error { return p.WriteInt64(int64(e)) }

func ReadEnum8[E ~int8](p *Parcel) (E, error) {
	v, err := p.ReadInt8()
	return E(v), err
}

func ReadEnum32[E ~int32](p *Parcel) (E, error) {
	v, err := p.ReadInt32()
	return E(v), err
}

func ReadEnum64[E ~int64](p *Parcel) (E, error) {
	v, err := p.ReadInt64()
	return E(v), err
}
